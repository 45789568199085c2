package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/kart-io/harbor/pkg/infra/lifecycle")

// Component is the lifecycle contract implemented by every control-plane
// component.
type Component interface {
	Name() string
	State() State
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Destroy(ctx context.Context) error
	AddListener(l Listener)
	RemoveListener(l Listener)
	Listeners() []Listener
}

// Hooks are the component specific parts of each transition. A nil hook is
// a no-op.
type Hooks struct {
	Init    func(ctx context.Context) error
	Start   func(ctx context.Context) error
	Stop    func(ctx context.Context) error
	Destroy func(ctx context.Context) error
}

// Machine implements Component around a set of Hooks. Components embed a
// *Machine and supply their hooks at construction.
type Machine struct {
	name  string
	hooks Hooks
	state atomic.Int32

	// mu serializes transitions of this component.
	mu sync.Mutex

	lmu       sync.RWMutex
	listeners []Listener
}

// NewMachine creates a machine in state NEW.
func NewMachine(name string, hooks Hooks) *Machine {
	return &Machine{
		name:  name,
		hooks: hooks,
	}
}

var _ Component = (*Machine)(nil)

// Name returns the component name.
func (m *Machine) Name() string {
	return m.name
}

// State returns the current state.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// AddListener registers an observer.
func (m *Machine) AddListener(l Listener) {
	if l == nil {
		return
	}
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.listeners = append(m.listeners, l)
}

// RemoveListener unregisters an observer. Listeners of an uncomparable
// type, such as ListenerFunc, cannot be removed.
func (m *Machine) RemoveListener(l Listener) {
	if l == nil || !reflect.TypeOf(l).Comparable() {
		return
	}
	m.lmu.Lock()
	defer m.lmu.Unlock()
	for i, existing := range m.listeners {
		if reflect.TypeOf(existing) == reflect.TypeOf(l) && existing == l {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return
		}
	}
}

// Listeners returns a snapshot of the registered observers.
func (m *Machine) Listeners() []Listener {
	m.lmu.RLock()
	defer m.lmu.RUnlock()
	return append([]Listener(nil), m.listeners...)
}

// Fire delivers a non-transition event to the observers.
func (m *Machine) Fire(typ EventType, data interface{}) {
	s := m.State()
	m.notify(Event{Source: m.name, Type: typ, From: s, To: s, Data: data})
}

// Init runs NEW -> INITIALIZING -> INITIALIZED.
func (m *Machine) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.init(ctx)
}

func (m *Machine) init(ctx context.Context) error {
	if s := m.State(); s != StateNew {
		return invalidTransition(m.name, "init", s)
	}

	ctx, span := m.span(ctx, "init")
	defer span.End()

	m.setState(StateInitializing)
	if err := m.run(ctx, "init", m.hooks.Init); err != nil {
		m.fail(span, err)
		return err
	}
	m.setState(StateInitialized)
	return nil
}

// Start runs STARTING_PREP -> STARTING -> STARTED. A component still in NEW
// is initialized first. Starting an already started component is a no-op.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch s := m.State(); s {
	case StateStartingPrep, StateStarting, StateStarted:
		return nil
	case StateNew:
		if err := m.init(ctx); err != nil {
			return err
		}
	case StateInitialized, StateStopped:
	default:
		return invalidTransition(m.name, "start", s)
	}

	ctx, span := m.span(ctx, "start")
	defer span.End()

	m.setState(StateStartingPrep)
	m.setState(StateStarting)
	if err := m.run(ctx, "start", m.hooks.Start); err != nil {
		m.fail(span, err)
		return err
	}
	m.setState(StateStarted)
	return nil
}

// Stop runs STOPPING_PREP -> STOPPING -> STOPPED. Stopping an already
// stopped component is a no-op.
func (m *Machine) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop(ctx)
}

func (m *Machine) stop(ctx context.Context) error {
	switch s := m.State(); s {
	case StateStoppingPrep, StateStopping, StateStopped:
		return nil
	case StateNew, StateDestroying, StateDestroyed:
		return invalidTransition(m.name, "stop", s)
	}

	ctx, span := m.span(ctx, "stop")
	defer span.End()

	m.setState(StateStoppingPrep)
	m.setState(StateStopping)
	if err := m.run(ctx, "stop", m.hooks.Stop); err != nil {
		// A composite whose children failed still stopped itself.
		var agg *ShutdownError
		if !errors.As(err, &agg) {
			m.fail(span, err)
			return err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.setState(StateStopped)
		return err
	}
	m.setState(StateStopped)
	return nil
}

// Destroy runs DESTROYING -> DESTROYED from STOPPED or FAILED. A component
// that was initialized but never started is stopped first.
func (m *Machine) Destroy(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stopErr error
	switch s := m.State(); s {
	case StateDestroying, StateDestroyed:
		return nil
	case StateInitialized:
		if stopErr = m.stop(ctx); stopErr != nil && m.State() != StateStopped {
			return stopErr
		}
	case StateStopped, StateFailed:
	default:
		return invalidTransition(m.name, "destroy", s)
	}

	ctx, span := m.span(ctx, "destroy")
	defer span.End()

	m.setState(StateDestroying)
	if err := m.run(ctx, "destroy", m.hooks.Destroy); err != nil {
		m.fail(span, err)
		return err
	}
	m.setState(StateDestroyed)
	return stopErr
}

func (m *Machine) run(ctx context.Context, op string, hook func(context.Context) error) (err error) {
	if hook == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s %s: panic: %v", op, m.name, r)
		}
	}()
	return hook(ctx)
}

func (m *Machine) span(ctx context.Context, op string) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return tracer.Start(ctx, "lifecycle."+op,
		trace.WithAttributes(
			attribute.String("component", m.name),
			attribute.String("from", m.State().String()),
		),
	)
}

func (m *Machine) fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	m.setState(StateFailed)
	logger.Errorw("Lifecycle transition failed", "component", m.name, "error", err)
}

func (m *Machine) setState(to State) {
	from := State(m.state.Swap(int32(to)))
	logger.Debugw("Lifecycle transition", "component", m.name, "from", from.String(), "to", to.String())
	m.notify(Event{Source: m.name, Type: EventTransition, From: from, To: to})
}

func (m *Machine) notify(e Event) {
	for _, l := range m.Listeners() {
		m.deliver(l, e)
	}
}

func (m *Machine) deliver(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warnw("Lifecycle listener panicked", "component", m.name, "event", e.Type, "state", e.To.String(), "panic", r)
		}
	}()
	if err := l.OnLifecycleEvent(e); err != nil {
		logger.Warnw("Lifecycle listener failed", "component", m.name, "event", e.Type, "state", e.To.String(), "error", err)
	}
}
