// Package grpc provides the gRPC connector. It serves the standard health
// service, reporting SERVING while the connector is started and its bound
// engine is available, plus any service registered with RegisterService.
package grpc

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/kart-io/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	apierrors "github.com/kart-io/harbor/pkg/errors"
	"github.com/kart-io/harbor/pkg/infra/lifecycle"
	"github.com/kart-io/harbor/pkg/infra/server"
	grpcopts "github.com/kart-io/harbor/pkg/options/server/grpc"
	"github.com/kart-io/harbor/pkg/validator"
)

// Re-export types from options package for convenience
type (
	// Options contains gRPC connector configuration.
	Options = grpcopts.Options
	// Option is a function that configures Options.
	Option = grpcopts.Option
)

// Re-export option functions
var (
	NewOptions     = grpcopts.NewOptions
	WithAddr       = grpcopts.WithAddr
	WithReflection = grpcopts.WithReflection
)

type serviceEntry struct {
	desc *grpc.ServiceDesc
	impl interface{}
}

// Connector is a gRPC endpoint of a service.
type Connector struct {
	*lifecycle.Machine
	server.ConnectorBase

	opts *Options

	mu       sync.Mutex
	services []serviceEntry
	srv      *grpc.Server
	ln       net.Listener
}

// NewConnector creates a gRPC connector.
func NewConnector(name string, opts *Options) *Connector {
	if opts == nil {
		opts = NewOptions()
	}
	c := &Connector{opts: opts}
	c.Machine = lifecycle.NewMachine(name, lifecycle.Hooks{
		Start: c.start,
		Stop:  c.stop,
	})
	return c
}

// RegisterService adds a service served from the next start on.
func (c *Connector) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services = append(c.services, serviceEntry{desc: desc, impl: impl})
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

// ServingStatus reports the health of the connector and its engine.
func (c *Connector) ServingStatus() healthpb.HealthCheckResponse_ServingStatus {
	if !c.State().Available() {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	if eng := c.Engine(); eng == nil || !eng.State().Available() {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

func (c *Connector) start(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.opts.Addr)
	if err != nil {
		return fmt.Errorf("grpc connector %s: listen %s: %w", c.Name(), c.opts.Addr, err)
	}

	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(c.opts.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(c.opts.MaxSendMsgSize),
		grpc.ConnectionTimeout(c.opts.Timeout),
		grpc.ChainUnaryInterceptor(c.recoverUnary, c.logUnary),
		grpc.ChainStreamInterceptor(c.recoverStream),
	)
	healthpb.RegisterHealthServer(srv, &healthServer{conn: c})

	c.mu.Lock()
	for _, s := range c.services {
		srv.RegisterService(s.desc, s.impl)
	}
	c.srv, c.ln = srv, ln
	c.mu.Unlock()

	if c.opts.EnableReflection {
		reflection.Register(srv)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil {
			logger.Errorw("gRPC connector stopped serving", "connector", c.Name(), "error", err.Error())
			errCh <- err
		}
	}()

	logger.Infow("gRPC connector listening", "connector", c.Name(), "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		srv.Stop()
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

	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()

	select {
	case <-ctx.Done():
		srv.Stop()
		logger.Warnw("gRPC connector force stopped", "connector", c.Name(), "error", ctx.Err().Error())
		return nil
	case <-done:
		return nil
	}
}

func errnoStatus(e *apierrors.Errno) error {
	return status.Error(e.GRPCStatus(), e.Message(validator.LangEN))
}

func (c *Connector) recoverUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("panic recovered", "connector", c.Name(), "method", info.FullMethod, "panic", r, "stack_trace", string(debug.Stack()))
			err = errnoStatus(apierrors.ErrInternal)
		}
	}()
	return handler(ctx, req)
}

func (c *Connector) recoverStream(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("panic recovered", "connector", c.Name(), "method", info.FullMethod, "panic", r, "stack_trace", string(debug.Stack()))
			err = errnoStatus(apierrors.ErrInternal)
		}
	}()
	return handler(srv, ss)
}

func (c *Connector) logUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logger.Debugw("gRPC Request",
		"connector", c.Name(),
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return resp, err
}

type healthServer struct {
	healthpb.UnimplementedHealthServer
	conn *Connector
}

// Check answers for the whole server ("") and for the owning service name.
func (h *healthServer) Check(_ context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if name := req.GetService(); name != "" {
		svc := h.conn.Service()
		if svc == nil || svc.Name() != name {
			return nil, status.Errorf(codes.NotFound, "unknown service %q", name)
		}
	}
	return &healthpb.HealthCheckResponse{Status: h.conn.ServingStatus()}, nil
}

var _ server.Connector = (*Connector)(nil)
