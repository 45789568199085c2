package logger

import (
	"fmt"
	"sync"

	"github.com/kart-io/logger"

	options "github.com/kart-io/harbor/pkg/options/logger"
)

// Options is re-exported from pkg/options/logger.
type Options = options.Options

// Reloadable owns the global logger configuration and re-creates the global
// logger when a new configuration is applied.
type Reloadable struct {
	mu   sync.Mutex
	opts *Options
}

// NewReloadable installs opts as the global logger.
func NewReloadable(opts *Options) (*Reloadable, error) {
	if opts == nil {
		opts = options.NewOptions()
	}
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &Reloadable{opts: opts}, nil
}

// Apply validates next and swaps the global logger. The previous logger is
// kept when next cannot be applied.
func (r *Reloadable) Apply(next *Options) error {
	if next == nil {
		return nil
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid logger configuration: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opts.Level == next.Level && r.opts.Format == next.Format && r.opts.Development == next.Development {
		return nil
	}
	if err := next.Init(); err != nil {
		return fmt.Errorf("apply logger configuration: %w", err)
	}
	r.opts = next

	logger.Infow("Logger configuration reloaded", "level", next.Level, "format", next.Format, "development", next.Development)
	return nil
}

// Level returns the level in effect.
func (r *Reloadable) Level() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts.Level
}
