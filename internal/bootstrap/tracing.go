package bootstrap

import (
	"context"
	"fmt"

	"github.com/kart-io/harbor/pkg/infra/tracing"
	tracingopts "github.com/kart-io/harbor/pkg/options/tracing"
)

// TracingInitializer installs the global tracer provider.
type TracingInitializer struct {
	opts     *tracingopts.Options
	provider *tracing.Provider
}

// NewTracingInitializer creates a new TracingInitializer.
func NewTracingInitializer(opts *tracingopts.Options) *TracingInitializer {
	if opts == nil {
		opts = tracingopts.NewOptions()
	}
	return &TracingInitializer{opts: opts}
}

func (t *TracingInitializer) Name() string { return "tracing" }

func (t *TracingInitializer) Dependencies() []string { return []string{"logging"} }

func (t *TracingInitializer) Initialize(ctx context.Context) error {
	p, err := tracing.NewProvider(ctx, t.opts)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	t.provider = p
	return nil
}

// Shutdown flushes pending spans.
func (t *TracingInitializer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
