package lifecycle

// EventType classifies an Event.
type EventType string

const (
	// EventTransition is fired every time a component enters a new state.
	EventTransition EventType = "transition"
	// EventPeriodic is fired by components that run background maintenance
	// while started.
	EventPeriodic EventType = "periodic"
)

// Event is delivered synchronously to every registered Listener.
type Event struct {
	// Source is the name of the component that fired the event.
	Source string
	Type   EventType
	From   State
	To     State
	// Data carries event specific payload, nil for transitions.
	Data interface{}
}

// Listener observes lifecycle events. A returned error is logged and never
// aborts the transition.
type Listener interface {
	OnLifecycleEvent(e Event) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(e Event) error

// OnLifecycleEvent implements Listener.
func (f ListenerFunc) OnLifecycleEvent(e Event) error {
	return f(e)
}
