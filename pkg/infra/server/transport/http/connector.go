// Package http provides the HTTP connector, serving the mapper of the bound
// engine.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/kart-io/logger"

	apierrors "github.com/kart-io/harbor/pkg/errors"
	"github.com/kart-io/harbor/pkg/infra/lifecycle"
	"github.com/kart-io/harbor/pkg/infra/server"
	options "github.com/kart-io/harbor/pkg/options/server/http"
	"github.com/kart-io/harbor/pkg/response"
)

// Re-export types from options package for convenience
type (
	// Options contains HTTP connector configuration.
	Options = options.Options
	// Option is a function that configures Options.
	Option = options.Option
)

// Re-export option functions
var (
	NewOptions          = options.NewOptions
	WithAddr            = options.WithAddr
	WithShutdownTimeout = options.WithShutdownTimeout
)

// Connector is an HTTP endpoint of a service.
type Connector struct {
	*lifecycle.Machine
	server.ConnectorBase

	opts     *Options
	executor string

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// NewConnector creates an HTTP connector. Requests run on the service
// executor named executor, or on the connection goroutine when it is empty.
func NewConnector(name string, opts *Options, executor string) *Connector {
	if opts == nil {
		opts = NewOptions()
	}
	c := &Connector{opts: opts, executor: executor}
	c.Machine = lifecycle.NewMachine(name, lifecycle.Hooks{
		Start: c.start,
		Stop:  c.stop,
	})
	return c
}

// Addr returns the bound address, nil while not listening.
func (c *Connector) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ln == nil {
		return nil
	}
	return c.ln.Addr()
}

func (c *Connector) start(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.opts.Addr)
	if err != nil {
		return fmt.Errorf("http connector %s: listen %s: %w", c.Name(), c.opts.Addr, err)
	}

	srv := &http.Server{
		Handler:        c,
		ReadTimeout:    c.opts.ReadTimeout,
		WriteTimeout:   c.opts.WriteTimeout,
		IdleTimeout:    c.opts.IdleTimeout,
		MaxHeaderBytes: c.opts.MaxHeaderBytes,
	}
	c.mu.Lock()
	c.srv, c.ln = srv, ln
	c.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("HTTP connector stopped serving", "connector", c.Name(), "error", err.Error())
			errCh <- err
		}
	}()

	logger.Infow("HTTP connector listening", "connector", c.Name(), "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		_ = srv.Close()
		return ctx.Err()
	default:
		return nil
	}
}

func (c *Connector) stop(ctx context.Context) error {
	c.mu.Lock()
	srv := c.srv
	c.srv, c.ln = nil, nil
	c.mu.Unlock()
	if srv == nil {
		return nil
	}

	if c.opts.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ShutdownTimeout)
		defer cancel()
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("http connector %s: shutdown: %w", c.Name(), err)
	}
	return nil
}

// ServeHTTP dispatches r to the mapper of the engine bound at the time of
// the request.
func (c *Connector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	eng := c.Engine()
	var m server.Mapper
	if eng != nil && eng.State().Available() {
		m = eng.Mapper()
	}
	if m == nil {
		c.fail(w, r, apierrors.ErrEngineUnavailable)
		return
	}

	ex := c.dispatcher()
	if ex == nil {
		m.ServeHTTP(w, r)
		return
	}

	done := make(chan struct{})
	if err := ex.Submit(func() {
		defer close(done)
		m.ServeHTTP(w, r)
	}); err != nil {
		logger.Warnw("Executor rejected request", "connector", c.Name(), "executor", c.executor, "error", err.Error())
		c.fail(w, r, apierrors.ErrExecutorOverloaded.WithCause(err))
		return
	}
	<-done
}

func (c *Connector) dispatcher() server.Executor {
	if c.executor == "" {
		return nil
	}
	svc := c.Service()
	if svc == nil {
		return nil
	}
	ex, ok := svc.GetExecutor(c.executor)
	if !ok || !ex.State().Available() {
		return nil
	}
	return ex
}

func (c *Connector) fail(w http.ResponseWriter, r *http.Request, e *apierrors.Errno) {
	response.NewWriter(w).
		WithRequestID(r.Header.Get("X-Request-ID")).
		WithLang(response.Lang(r)).
		Fail(e)
}

var _ server.Connector = (*Connector)(nil)
