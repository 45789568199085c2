package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/kart-io/logger"

	"github.com/kart-io/harbor/pkg/infra/lifecycle"
	"github.com/kart-io/harbor/pkg/infra/pool"
	"github.com/kart-io/harbor/pkg/infra/server"
	"github.com/kart-io/harbor/pkg/infra/server/engine"
	grpcconn "github.com/kart-io/harbor/pkg/infra/server/transport/grpc"
	httpconn "github.com/kart-io/harbor/pkg/infra/server/transport/http"
	"github.com/kart-io/harbor/pkg/observability/metrics"
	serveropts "github.com/kart-io/harbor/pkg/options/server"
)

// ServerInitializer builds the component graph described by the server
// options and initializes it.
type ServerInitializer struct {
	opts   *serveropts.Options
	stats  *MetricsInitializer
	naming *NamingInitializer

	srv *server.Server
}

// NewServerInitializer creates a new ServerInitializer. stats and naming
// may be nil, in which case the graph is built without metrics and with
// the in-process naming registry.
func NewServerInitializer(opts *serveropts.Options, stats *MetricsInitializer, naming *NamingInitializer) *ServerInitializer {
	if opts == nil {
		opts = serveropts.NewOptions()
	}
	return &ServerInitializer{opts: opts, stats: stats, naming: naming}
}

func (s *ServerInitializer) Name() string { return "server" }

func (s *ServerInitializer) Dependencies() []string {
	deps := []string{"logging", "tracing"}
	if s.stats != nil {
		deps = append(deps, s.stats.Name())
	}
	if s.naming != nil {
		deps = append(deps, s.naming.Name())
	}
	return deps
}

// Initialize builds the server and runs its init cascade. Connectors bind
// their sockets on start, not here.
func (s *ServerInitializer) Initialize(ctx context.Context) error {
	srv, err := s.build(ctx)
	if err != nil {
		return err
	}
	if err := srv.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	s.srv = srv
	logger.Infow("Server initialized", "services", len(srv.FindServices()))
	return nil
}

func (s *ServerInitializer) collector() *metrics.Collector {
	if s.stats == nil {
		return nil
	}
	return s.stats.Collector()
}

func (s *ServerInitializer) build(ctx context.Context) (*server.Server, error) {
	var serverOpts []server.Option
	if s.naming != nil {
		serverOpts = append(serverOpts, server.WithNamingRegistry(s.naming.Registry()))
	}
	srv := server.NewServer(s.opts, serverOpts...)
	col := s.collector()
	if col != nil {
		col.Watch(srv)
	}

	for _, so := range s.opts.Services {
		svc, err := s.buildService(ctx, so)
		if err != nil {
			return nil, err
		}
		if err := srv.AddService(ctx, svc); err != nil {
			return nil, err
		}
	}
	return srv, nil
}

func (s *ServerInitializer) buildService(ctx context.Context, so *serveropts.ServiceOptions) (*server.Service, error) {
	col := s.collector()
	svc := server.NewService(so.Name)
	if col != nil {
		col.Watch(svc)
	}

	for _, eo := range so.Executors {
		cfg := eo.Config
		ex := pool.NewExecutor(eo.Name, &cfg)
		if err := svc.AddExecutor(ctx, ex); err != nil {
			return nil, err
		}
		if col != nil {
			col.Watch(ex)
			col.AddExecutor(executorLabel(so.Name, eo.Name), ex)
		}
	}

	eng, err := s.buildEngine(so.Engine)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", so.Name, err)
	}
	if col != nil {
		col.Watch(eng)
	}
	if err := svc.SetContainer(ctx, eng); err != nil {
		return nil, err
	}

	for _, co := range so.Connectors {
		c, err := buildConnector(co)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", so.Name, err)
		}
		if col != nil {
			col.Watch(c)
		}
		if err := svc.AddConnector(ctx, c); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

func (s *ServerInitializer) buildEngine(eo *serveropts.EngineOptions) (server.Engine, error) {
	if eo == nil {
		return nil, errors.New("engine is required")
	}
	opts := []engine.Option{engine.WithMode(eo.Mode)}
	if col := s.collector(); col != nil {
		opts = append(opts, engine.WithMetrics(col.Handler()))
	}
	return engine.New(eo.Name, opts...), nil
}

func buildConnector(co *serveropts.ConnectorOptions) (server.Connector, error) {
	switch co.Protocol {
	case serveropts.ProtocolHTTP:
		return httpconn.NewConnector(co.Name, co.HTTP, co.Executor), nil
	case serveropts.ProtocolGRPC:
		return grpcconn.NewConnector(co.Name, co.GRPC), nil
	default:
		return nil, fmt.Errorf("connector %s: unsupported protocol %q", co.Name, co.Protocol)
	}
}

func executorLabel(service, executor string) string {
	return service + "/" + executor
}

// Server returns the built server, nil before Initialize.
func (s *ServerInitializer) Server() *server.Server {
	return s.srv
}

// Run starts the server and blocks until a shutdown is requested, then
// stops it. A failed start is returned after the server has been stopped.
func (s *ServerInitializer) Run(ctx context.Context) error {
	if s.srv == nil {
		return errors.New("server not initialized")
	}
	if err := s.srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	logger.Infow("Server started", "shutdown-port", s.opts.PortWithOffset())

	awaitErr := s.srv.Await(ctx)
	if err := s.stop(); err != nil {
		return err
	}
	if errors.Is(awaitErr, context.Canceled) {
		return nil
	}
	return awaitErr
}

func (s *ServerInitializer) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StopTimeout)
	defer cancel()
	// A concurrent stop from the shutdown socket holds the machine lock, so
	// this returns once the server is stopped either way.
	return s.srv.Stop(ctx)
}

// Shutdown destroys the server and releases its naming token.
func (s *ServerInitializer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if s.srv.State().Stoppable() {
		if err := s.srv.Stop(ctx); err != nil && !errors.Is(err, lifecycle.ErrInvalidTransition) {
			logger.Warnw("Server stop failed", "error", err)
		}
	}
	return s.srv.Destroy(ctx)
}
