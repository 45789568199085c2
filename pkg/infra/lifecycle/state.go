// Package lifecycle provides the state machine shared by every control-plane
// component (server, service, engine, connector, executor) and the helpers
// that cascade a transition from a composite to its children.
//
// The only legal forward path is:
//
//	NEW -> INITIALIZING -> INITIALIZED -> STARTING_PREP -> STARTING -> STARTED
//	    -> STOPPING_PREP -> STOPPING -> STOPPED -> DESTROYING -> DESTROYED
//
// FAILED is reachable from any transition attempt.
package lifecycle

// State is a lifecycle state.
type State int32

const (
	StateNew State = iota
	StateInitializing
	StateInitialized
	StateStartingPrep
	StateStarting
	StateStarted
	StateStoppingPrep
	StateStopping
	StateStopped
	StateDestroying
	StateDestroyed
	StateFailed
)

var stateNames = [...]string{
	StateNew:          "new",
	StateInitializing: "initializing",
	StateInitialized:  "initialized",
	StateStartingPrep: "starting_prep",
	StateStarting:     "starting",
	StateStarted:      "started",
	StateStoppingPrep: "stopping_prep",
	StateStopping:     "stopping",
	StateStopped:      "stopped",
	StateDestroying:   "destroying",
	StateDestroyed:    "destroyed",
	StateFailed:       "failed",
}

// String returns the lower-case state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Available reports whether a component in this state accepts work.
func (s State) Available() bool {
	return s == StateStarting || s == StateStarted
}

// Stoppable reports whether a cascade should stop a child in this state.
// Children that were never started (NEW, INITIALIZED) or are already torn
// down are skipped.
func (s State) Stoppable() bool {
	switch s {
	case StateStartingPrep, StateStarting, StateStarted, StateFailed:
		return true
	default:
		return false
	}
}
