package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration is returned when a structural invariant is violated,
	// e.g. a service without an engine.
	ErrConfiguration = errors.New("configuration error")

	// ErrDuplicateName is returned when a name collides on add.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrDuplicateAssociation is returned when a component is already owned
	// by another parent.
	ErrDuplicateAssociation = errors.New("component already associated")

	// ErrInvalidTransition is returned when an operation is not legal from
	// the current state.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrListenerBind is returned when the shutdown socket cannot be bound.
	ErrListenerBind = errors.New("shutdown listener bind failed")

	// ErrNotFound is returned by lookups that find nothing.
	ErrNotFound = errors.New("not found")
)

// ConfigurationError reports a violated structural invariant of a component.
type ConfigurationError struct {
	Component string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration, e.Component, e.Reason)
}

// Unwrap makes errors.Is(err, ErrConfiguration) hold.
func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// StartupError reports the child that failed while its parent was starting.
type StartupError struct {
	Component string
	Err       error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Component, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// Failure is one failed component inside a ShutdownError.
type Failure struct {
	Component string
	Err       error
}

// ShutdownError aggregates every child that failed during a stop or destroy
// cascade. Nested aggregates are flattened so the list only names leaf
// components.
type ShutdownError struct {
	Failures []Failure
}

func (e *ShutdownError) add(component string, err error) {
	var agg *ShutdownError
	if errors.As(err, &agg) {
		e.Failures = append(e.Failures, agg.Failures...)
		return
	}
	e.Failures = append(e.Failures, Failure{Component: component, Err: err})
}

// Components returns the names of the failed components in failure order.
func (e *ShutdownError) Components() []string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Component)
	}
	return names
}

func (e *ShutdownError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Component, f.Err))
	}
	return fmt.Sprintf("%d component(s) failed to stop: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes every cause to errors.Is and errors.As.
func (e *ShutdownError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

func (e *ShutdownError) orNil() error {
	if e == nil || len(e.Failures) == 0 {
		return nil
	}
	return e
}

func invalidTransition(component, op string, s State) error {
	return fmt.Errorf("%w: cannot %s %s in state %s", ErrInvalidTransition, op, component, s)
}
