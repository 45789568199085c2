package pool

import (
	"fmt"
	"sync"

	"github.com/kart-io/harbor/pkg/infra/lifecycle"
)

// Registry is an ordered set of uniquely named lifecycle components.
// Iteration follows insertion order; readers get copies.
type Registry[T lifecycle.Component] struct {
	mu    sync.RWMutex
	items []T
}

// NewRegistry creates an empty registry.
func NewRegistry[T lifecycle.Component]() *Registry[T] {
	return &Registry[T]{}
}

// Add appends item. A name collision returns lifecycle.ErrDuplicateName and
// leaves the registry unchanged.
func (r *Registry[T]) Add(item T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.items {
		if existing.Name() == item.Name() {
			return fmt.Errorf("%w: %s", lifecycle.ErrDuplicateName, item.Name())
		}
	}
	r.items = append(r.items, item)
	return nil
}

// Get returns the item registered under name.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, item := range r.items {
		if item.Name() == name {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Remove deletes the item registered under name and reports whether it was
// present.
func (r *Registry[T]) Remove(name string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, item := range r.items {
		if item.Name() == name {
			r.items = append(r.items[:i:i], r.items[i+1:]...)
			return item, true
		}
	}
	var zero T
	return zero, false
}

// List returns a snapshot in insertion order.
func (r *Registry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]T(nil), r.items...)
}

// Names returns the registered names in insertion order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.items))
	for _, item := range r.items {
		names = append(names, item.Name())
	}
	return names
}

// Len returns the number of items.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Components converts the snapshot for the lifecycle cascade helpers.
func (r *Registry[T]) Components() []lifecycle.Component {
	items := r.List()
	out := make([]lifecycle.Component, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
