package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) OnLifecycleEvent(e Event) error {
	if e.Type != EventTransition {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, e.To)
	return nil
}

func (r *recorder) seen() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "new", StateNew.String())
	assert.Equal(t, "starting_prep", StateStartingPrep.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, StateStarted.Available())
	assert.True(t, StateStarting.Available())
	assert.False(t, StateStopped.Available())
}

func TestMachineFullLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMachine("comp", Hooks{})
	rec := &recorder{}
	m.AddListener(rec)

	require.NoError(t, m.Init(ctx))
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Destroy(ctx))

	assert.Equal(t, []State{
		StateInitializing, StateInitialized,
		StateStartingPrep, StateStarting, StateStarted,
		StateStoppingPrep, StateStopping, StateStopped,
		StateDestroying, StateDestroyed,
	}, rec.seen())
	assert.Equal(t, StateDestroyed, m.State())
}

func TestMachineStartFromNewInitializes(t *testing.T) {
	var inits int
	m := NewMachine("comp", Hooks{
		Init: func(context.Context) error { inits++; return nil },
	})

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, 1, inits)
	assert.Equal(t, StateStarted, m.State())
}

func TestMachineIdempotence(t *testing.T) {
	ctx := context.Background()
	var starts, stops, destroys int
	m := NewMachine("comp", Hooks{
		Start:   func(context.Context) error { starts++; return nil },
		Stop:    func(context.Context) error { stops++; return nil },
		Destroy: func(context.Context) error { destroys++; return nil },
	})

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Destroy(ctx))
	require.NoError(t, m.Destroy(ctx))

	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, destroys)
}

func TestMachineInvalidTransitions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		prepare func(m *Machine)
		op      func(m *Machine) error
		want    State
	}{
		{
			name: "stop from new",
			op:   func(m *Machine) error { return m.Stop(ctx) },
			want: StateNew,
		},
		{
			name: "destroy from new",
			op:   func(m *Machine) error { return m.Destroy(ctx) },
			want: StateNew,
		},
		{
			name:    "init twice",
			prepare: func(m *Machine) { _ = m.Init(ctx) },
			op:      func(m *Machine) error { return m.Init(ctx) },
			want:    StateInitialized,
		},
		{
			name:    "destroy while started",
			prepare: func(m *Machine) { _ = m.Start(ctx) },
			op:      func(m *Machine) error { return m.Destroy(ctx) },
			want:    StateStarted,
		},
		{
			name: "start after destroy",
			prepare: func(m *Machine) {
				_ = m.Start(ctx)
				_ = m.Stop(ctx)
				_ = m.Destroy(ctx)
			},
			op:   func(m *Machine) error { return m.Start(ctx) },
			want: StateDestroyed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine("comp", Hooks{})
			if tt.prepare != nil {
				tt.prepare(m)
			}
			err := tt.op(m)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, tt.want, m.State())
		})
	}
}

func TestMachineHookFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	t.Run("start error fails", func(t *testing.T) {
		m := NewMachine("comp", Hooks{Start: func(context.Context) error { return boom }})
		assert.ErrorIs(t, m.Start(ctx), boom)
		assert.Equal(t, StateFailed, m.State())

		// FAILED may still be stopped and destroyed.
		require.NoError(t, m.Stop(ctx))
		require.NoError(t, m.Destroy(ctx))
		assert.Equal(t, StateDestroyed, m.State())
	})

	t.Run("init panic fails", func(t *testing.T) {
		m := NewMachine("comp", Hooks{Init: func(context.Context) error { panic("bad") }})
		err := m.Init(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic")
		assert.Equal(t, StateFailed, m.State())
	})

	t.Run("plain stop error fails", func(t *testing.T) {
		m := NewMachine("comp", Hooks{Stop: func(context.Context) error { return boom }})
		require.NoError(t, m.Start(ctx))
		assert.ErrorIs(t, m.Stop(ctx), boom)
		assert.Equal(t, StateFailed, m.State())
	})

	t.Run("aggregate stop error stops", func(t *testing.T) {
		agg := &ShutdownError{Failures: []Failure{{Component: "child", Err: boom}}}
		m := NewMachine("comp", Hooks{Stop: func(context.Context) error { return agg }})
		require.NoError(t, m.Start(ctx))
		err := m.Stop(ctx)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, StateStopped, m.State())
	})
}

func TestMachineDestroyFromInitialized(t *testing.T) {
	ctx := context.Background()
	var stopped bool
	m := NewMachine("comp", Hooks{Stop: func(context.Context) error { stopped = true; return nil }})

	require.NoError(t, m.Init(ctx))
	require.NoError(t, m.Destroy(ctx))
	assert.True(t, stopped)
	assert.Equal(t, StateDestroyed, m.State())
}

func TestMachineListeners(t *testing.T) {
	ctx := context.Background()
	m := NewMachine("comp", Hooks{})

	failing := ListenerFunc(func(Event) error { return errors.New("listener error") })
	panicking := ListenerFunc(func(Event) error { panic("listener panic") })
	rec := &recorder{}
	m.AddListener(failing)
	m.AddListener(panicking)
	m.AddListener(rec)
	assert.Len(t, m.Listeners(), 3)

	// Misbehaving observers never break a transition.
	require.NoError(t, m.Start(ctx))
	assert.Equal(t, StateStarted, m.State())
	assert.NotEmpty(t, rec.seen())

	m.RemoveListener(rec)
	assert.Len(t, m.Listeners(), 2)

	var periodic []Event
	m.AddListener(ListenerFunc(func(e Event) error {
		if e.Type == EventPeriodic {
			periodic = append(periodic, e)
		}
		return nil
	}))
	m.Fire(EventPeriodic, "tick")
	require.Len(t, periodic, 1)
	assert.Equal(t, "comp", periodic[0].Source)
	assert.Equal(t, "tick", periodic[0].Data)
	assert.Equal(t, StateStarted, periodic[0].To)
}
