// Package engine provides the standard request processing engine of a
// harbor service: a gin router serving health, metrics and status.
package engine

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/harbor/pkg/errors"
	"github.com/kart-io/harbor/pkg/infra/lifecycle"
	"github.com/kart-io/harbor/pkg/infra/middleware"
	"github.com/kart-io/harbor/pkg/infra/server"
	"github.com/kart-io/harbor/pkg/response"
)

const (
	// PathHealth reports whether the engine and its service are available.
	PathHealth = "/healthz"
	// PathMetrics exposes the metrics handler given by WithMetrics.
	PathMetrics = "/metrics"
	// PathStatus serves the component tree of the server.
	PathStatus = "/status"
)

// Standard is a gin backed Engine.
type Standard struct {
	*lifecycle.Machine
	server.EngineBase

	mode    string
	metrics http.Handler

	mu     sync.RWMutex
	router *gin.Engine
}

// Option configures a Standard engine.
type Option func(*Standard)

// WithMode sets the gin mode, one of debug, release and test.
func WithMode(mode string) Option {
	return func(e *Standard) {
		if mode != "" {
			e.mode = mode
		}
	}
}

// WithMetrics serves h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(e *Standard) {
		e.metrics = h
	}
}

// New creates a Standard engine. The router is built on init.
func New(name string, opts ...Option) *Standard {
	e := &Standard{mode: gin.ReleaseMode}
	for _, opt := range opts {
		opt(e)
	}
	e.Machine = lifecycle.NewMachine(name, lifecycle.Hooks{
		Init:    e.init,
		Destroy: e.destroy,
	})
	return e
}

// Mapper returns the router, nil before init and after destroy.
func (e *Standard) Mapper() server.Mapper {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.router == nil {
		return nil
	}
	return e.router
}

func (e *Standard) init(context.Context) error {
	gin.SetMode(e.mode)

	r := gin.New()
	r.Use(
		middleware.Recovery(nil),
		middleware.RequestID(),
		middleware.Tracing(),
		middleware.Logger(PathHealth, PathMetrics),
	)
	r.GET(PathHealth, e.health)
	r.GET(PathStatus, e.status)
	if e.metrics != nil {
		r.GET(PathMetrics, gin.WrapH(e.metrics))
	}
	r.NoRoute(func(c *gin.Context) {
		response.Fail(c, errors.ErrRouteNotFound)
	})
	r.NoMethod(func(c *gin.Context) {
		response.Fail(c, errors.ErrMethodNotAllowed)
	})
	r.HandleMethodNotAllowed = true

	e.mu.Lock()
	e.router = r
	e.mu.Unlock()
	return nil
}

func (e *Standard) destroy(context.Context) error {
	e.mu.Lock()
	e.router = nil
	e.mu.Unlock()
	return nil
}

// Health is the body of a successful /healthz response.
type Health struct {
	Engine  string `json:"engine"`
	Service string `json:"service,omitempty"`
	State   string `json:"state"`
}

func (e *Standard) health(c *gin.Context) {
	if !e.State().Available() {
		response.Fail(c, errors.ErrEngineUnavailable)
		return
	}
	h := Health{Engine: e.Name(), State: e.State().String()}
	if svc := e.Service(); svc != nil {
		if !svc.State().Available() {
			response.Fail(c, errors.ErrServiceUnavailable)
			return
		}
		h.Service = svc.Name()
	}
	response.OK(c, h)
}

func (e *Standard) status(c *gin.Context) {
	svc := e.Service()
	if svc == nil {
		response.Fail(c, errors.ErrStatusUnavailable)
		return
	}
	if srv := svc.Server(); srv != nil {
		response.OK(c, srv.Snapshot())
		return
	}
	response.OK(c, svc.Snapshot())
}

var _ server.Engine = (*Standard)(nil)
