package pool

import (
	"sync"
	"time"

	"github.com/kart-io/logger"
)

// Utility is a worker pool that can also run tasks after a delay or at a
// fixed rate. The server owns one for its background maintenance work.
type Utility struct {
	pool *Pool

	mu      sync.Mutex
	nextID  uint64
	timers  map[uint64]*time.Timer
	stopped bool
}

// NewUtility creates a utility pool with size workers.
func NewUtility(name string, size int) (*Utility, error) {
	cfg := DefaultConfig()
	cfg.Capacity = size
	cfg.Nonblocking = true
	p, err := NewPool(name, cfg)
	if err != nil {
		return nil, err
	}
	return &Utility{
		pool:   p,
		timers: make(map[uint64]*time.Timer),
	}, nil
}

// Name returns the pool name.
func (u *Utility) Name() string {
	return u.pool.Name()
}

// Size returns the worker count.
func (u *Utility) Size() int {
	return u.pool.Cap()
}

// Tune resizes the worker count. Sizes below 1 are ignored.
func (u *Utility) Tune(size int) {
	if size < 1 || size == u.pool.Cap() {
		return
	}
	u.pool.Tune(size)
}

// Submit runs task immediately on a worker.
func (u *Utility) Submit(task func()) error {
	return u.pool.Submit(task)
}

// Stats returns a snapshot of the underlying pool.
func (u *Utility) Stats() Stats {
	return u.pool.Stats()
}

// Schedule runs task once after delay. The returned func cancels it if it
// has not fired yet.
func (u *Utility) Schedule(delay time.Duration, task func()) (cancel func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopped {
		return func() {}
	}

	id := u.nextID
	u.nextID++
	u.timers[id] = time.AfterFunc(delay, func() {
		u.forget(id)
		u.dispatch(task)
	})
	return func() { u.cancel(id) }
}

// ScheduleAtFixedRate runs task every period until the returned func is
// called. A tick that finds every worker busy is skipped.
func (u *Utility) ScheduleAtFixedRate(period time.Duration, task func()) (cancel func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopped || period <= 0 {
		return func() {}
	}

	id := u.nextID
	u.nextID++

	var tick func()
	tick = func() {
		u.dispatch(task)
		u.mu.Lock()
		defer u.mu.Unlock()
		if t, ok := u.timers[id]; ok && !u.stopped {
			t.Reset(period)
		}
	}
	u.timers[id] = time.AfterFunc(period, tick)
	return func() { u.cancel(id) }
}

func (u *Utility) dispatch(task func()) {
	if err := u.pool.Submit(task); err != nil {
		logger.Warnw("Utility task dropped", "pool", u.pool.Name(), "error", err)
	}
}

func (u *Utility) forget(id uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.timers, id)
}

func (u *Utility) cancel(id uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if t, ok := u.timers[id]; ok {
		t.Stop()
		delete(u.timers, id)
	}
}

// Release cancels every scheduled task and shuts the workers down, waiting
// up to timeout for running tasks.
func (u *Utility) Release(timeout time.Duration) error {
	u.mu.Lock()
	if u.stopped {
		u.mu.Unlock()
		return nil
	}
	u.stopped = true
	for id, t := range u.timers {
		t.Stop()
		delete(u.timers, id)
	}
	u.mu.Unlock()

	return u.pool.ReleaseTimeout(timeout)
}
