package bootstrap

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"

	infralog "github.com/kart-io/harbor/pkg/infra/logger"
	logopts "github.com/kart-io/harbor/pkg/options/logger"
)

// LoggingInitializer installs the global logger.
type LoggingInitializer struct {
	opts       *logopts.Options
	appName    string
	appVersion string

	reloadable *infralog.Reloadable
}

// NewLoggingInitializer creates a new LoggingInitializer.
func NewLoggingInitializer(opts *logopts.Options, appName, appVersion string) *LoggingInitializer {
	if opts == nil {
		opts = logopts.NewOptions()
	}
	return &LoggingInitializer{opts: opts, appName: appName, appVersion: appVersion}
}

// Name returns the name of the initializer.
func (l *LoggingInitializer) Name() string {
	return "logging"
}

// Dependencies returns nil, logging comes first.
func (l *LoggingInitializer) Dependencies() []string {
	return nil
}

// Initialize installs the global logger with the service fields attached.
func (l *LoggingInitializer) Initialize(_ context.Context) error {
	if l.appName != "" {
		l.opts.AddInitialField("service.name", l.appName)
	}
	if l.appVersion != "" {
		l.opts.AddInitialField("service.version", l.appVersion)
	}
	r, err := infralog.NewReloadable(l.opts)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	l.reloadable = r
	logger.Infow("Logger initialized", "level", l.opts.Level, "format", l.opts.Format)
	return nil
}

// Reloadable returns the handle used to apply a changed logger
// configuration, nil before Initialize.
func (l *LoggingInitializer) Reloadable() *infralog.Reloadable {
	return l.reloadable
}

// Shutdown flushes buffered log entries.
func (l *LoggingInitializer) Shutdown(_ context.Context) error {
	_ = logger.Flush()
	return nil
}
