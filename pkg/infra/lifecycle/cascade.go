package lifecycle

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"
)

// InitAll initializes children in order and stops at the first failure.
// Children that are already past NEW are left alone.
func InitAll(ctx context.Context, children ...Component) error {
	for _, c := range children {
		if c.State() != StateNew {
			continue
		}
		if err := c.Init(ctx); err != nil {
			return fmt.Errorf("init %s: %w", c.Name(), err)
		}
	}
	return nil
}

// StartAll starts children in order. When a child fails, every child started
// before it is stopped in reverse order and a *StartupError naming the
// failing child is returned. Children after the failing one never start.
func StartAll(ctx context.Context, children ...Component) error {
	for i, c := range children {
		if err := c.Start(ctx); err != nil {
			rollback(ctx, children[:i])
			return &StartupError{Component: c.Name(), Err: err}
		}
	}
	return nil
}

func rollback(ctx context.Context, started []Component) {
	for i := len(started) - 1; i >= 0; i-- {
		c := started[i]
		if !c.State().Stoppable() {
			continue
		}
		if err := c.Stop(ctx); err != nil {
			logger.Warnw("Rollback stop failed", "component", c.Name(), "error", err)
		}
	}
}

// StopAll stops children in reverse order. Every child is given a chance to
// stop; failures are collected into a *ShutdownError.
func StopAll(ctx context.Context, children ...Component) error {
	agg := &ShutdownError{}
	for i := len(children) - 1; i >= 0; i-- {
		c := children[i]
		if !c.State().Stoppable() {
			continue
		}
		if err := c.Stop(ctx); err != nil {
			agg.add(c.Name(), err)
		}
	}
	return agg.orNil()
}

// DestroyAll destroys children in reverse order, skipping children that were
// never initialized. Failures are collected into a *ShutdownError.
func DestroyAll(ctx context.Context, children ...Component) error {
	agg := &ShutdownError{}
	for i := len(children) - 1; i >= 0; i-- {
		c := children[i]
		switch c.State() {
		case StateNew, StateDestroying, StateDestroyed:
			continue
		}
		if err := c.Destroy(ctx); err != nil {
			agg.add(c.Name(), err)
		}
	}
	return agg.orNil()
}
