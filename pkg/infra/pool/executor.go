package pool

import (
	"context"
	"sync"

	"github.com/kart-io/logger"

	"github.com/kart-io/harbor/pkg/infra/lifecycle"
)

// Executor is a named worker pool with a lifecycle. The underlying ants pool
// is created when the executor starts and released when it stops, so a
// stopped executor can be started again.
type Executor struct {
	*lifecycle.Machine

	mu     sync.RWMutex
	config *Config
	pool   *Pool
}

// NewExecutor returns an executor in state NEW. A nil config uses
// DefaultConfig.
func NewExecutor(name string, config *Config) *Executor {
	if config == nil {
		config = DefaultConfig()
	}
	e := &Executor{config: config.clone()}
	e.Machine = lifecycle.NewMachine(name, lifecycle.Hooks{
		Init:  e.init,
		Start: e.start,
		Stop:  e.stop,
	})
	return e
}

func (e *Executor) init(_ context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.config.Validate(); err != nil {
		return &lifecycle.ConfigurationError{Component: e.Name(), Reason: err.Error()}
	}
	return nil
}

func (e *Executor) start(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := NewPool(e.Name(), e.config)
	if err != nil {
		return err
	}
	e.pool = p
	logger.Infow("Executor started", "executor", e.Name(), "capacity", e.config.Capacity)
	return nil
}

func (e *Executor) stop(_ context.Context) error {
	e.mu.Lock()
	p := e.pool
	e.pool = nil
	timeout := e.config.ShutdownTimeout
	e.mu.Unlock()

	if p == nil {
		return nil
	}
	if err := p.ReleaseTimeout(timeout); err != nil {
		return err
	}
	logger.Infow("Executor stopped", "executor", e.Name())
	return nil
}

// Submit runs task on one of the executor's workers.
func (e *Executor) Submit(task func()) error {
	e.mu.RLock()
	p := e.pool
	e.mu.RUnlock()

	if p == nil || !e.State().Available() {
		return ErrNotStarted
	}
	return p.Submit(task)
}

// SubmitWithContext runs task unless ctx is done before a worker picks it up.
func (e *Executor) SubmitWithContext(ctx context.Context, task func()) error {
	e.mu.RLock()
	p := e.pool
	e.mu.RUnlock()

	if p == nil || !e.State().Available() {
		return ErrNotStarted
	}
	return p.SubmitWithContext(ctx, task)
}

// Capacity returns the configured worker count.
func (e *Executor) Capacity() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config.Capacity
}

// Tune changes the worker count. It applies to the running pool and to every
// later start.
func (e *Executor) Tune(size int) error {
	if size <= 0 {
		return ErrInvalidPoolConfig
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.config.Capacity = size
	if e.pool != nil {
		e.pool.Tune(size)
	}
	return nil
}

// Stats returns a snapshot of the running pool, zero when stopped.
func (e *Executor) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pool == nil {
		return Stats{Capacity: e.config.Capacity}
	}
	return e.pool.Stats()
}
