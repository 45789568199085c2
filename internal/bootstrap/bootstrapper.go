package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/kart-io/logger"

	"github.com/kart-io/harbor/pkg/infra/server"
	etcdopts "github.com/kart-io/harbor/pkg/options/etcd"
	logopts "github.com/kart-io/harbor/pkg/options/logger"
	serveropts "github.com/kart-io/harbor/pkg/options/server"
	tracingopts "github.com/kart-io/harbor/pkg/options/tracing"
)

// BootstrapOptions contains all the configuration needed for bootstrapping.
type BootstrapOptions struct {
	AppName    string
	AppVersion string

	LogOpts     *logopts.Options
	TracingOpts *tracingopts.Options
	EtcdOpts    *etcdopts.Options
	ServerOpts  *serveropts.Options

	// MetricsNamespace prefixes every exported metric.
	MetricsNamespace string
}

// AppBootstrapper runs the initializers of a harbor process in dependency
// order and shuts them down in reverse.
type AppBootstrapper struct {
	initializers []Initializer
	completed    []Initializer

	loggingInit *LoggingInitializer
	tracingInit *TracingInitializer
	metricsInit *MetricsInitializer
	namingInit  *NamingInitializer
	serverInit  *ServerInitializer
}

// NewAppBootstrapper creates an AppBootstrapper with every initializer
// configured from opts.
func NewAppBootstrapper(opts *BootstrapOptions) *AppBootstrapper {
	b := &AppBootstrapper{}
	b.loggingInit = NewLoggingInitializer(opts.LogOpts, opts.AppName, opts.AppVersion)
	b.tracingInit = NewTracingInitializer(opts.TracingOpts)
	b.metricsInit = NewMetricsInitializer(opts.MetricsNamespace)
	b.namingInit = NewNamingInitializer(opts.EtcdOpts)
	b.serverInit = NewServerInitializer(opts.ServerOpts, b.metricsInit, b.namingInit)

	b.initializers = []Initializer{
		b.serverInit,
		b.namingInit,
		b.metricsInit,
		b.tracingInit,
		b.loggingInit,
	}
	return b
}

// Initialize runs every initializer. On failure the initializers that
// already ran are shut down.
func (b *AppBootstrapper) Initialize(ctx context.Context) error {
	ordered, err := ResolveDependencies(b.initializers)
	if err != nil {
		return err
	}
	for _, init := range ordered {
		logger.Infof("Initializing %s...", init.Name())
		if err := init.Initialize(ctx); err != nil {
			shutdownErr := b.Shutdown(ctx)
			return errors.Join(fmt.Errorf("failed to initialize %s: %w", init.Name(), err), shutdownErr)
		}
		b.completed = append(b.completed, init)
	}
	return nil
}

// Shutdown releases the resources of every completed initializer in
// reverse order.
func (b *AppBootstrapper) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(b.completed) - 1; i >= 0; i-- {
		s, ok := b.completed[i].(Shutdowner)
		if !ok {
			continue
		}
		if err := s.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", b.completed[i].Name(), err))
		}
	}
	b.completed = nil
	return errors.Join(errs...)
}

// Server returns the built server, nil before Initialize.
func (b *AppBootstrapper) Server() *server.Server {
	return b.serverInit.Server()
}

// Logging returns the logging initializer.
func (b *AppBootstrapper) Logging() *LoggingInitializer {
	return b.loggingInit
}

// ServerInit returns the server initializer.
func (b *AppBootstrapper) ServerInit() *ServerInitializer {
	return b.serverInit
}
