// Package bootstrap brings up the subsystems of a harbor process in
// dependency order and builds the server component graph from its options.
package bootstrap

import "context"

// Initializer sets up one subsystem.
type Initializer interface {
	// Name identifies the initializer in logs and in Dependencies.
	Name() string
	// Dependencies names the initializers that must run first.
	Dependencies() []string
	Initialize(ctx context.Context) error
}

// Shutdowner is implemented by initializers that hold resources.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}
