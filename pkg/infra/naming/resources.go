package naming

import (
	"fmt"
	"sync"

	"github.com/kart-io/harbor/pkg/infra/lifecycle"
)

// Entry is one named global resource.
type Entry struct {
	Name  string      `json:"name" mapstructure:"name"`
	Type  string      `json:"type" mapstructure:"type"`
	Value interface{} `json:"value" mapstructure:"value"`
}

// Resources is the server wide set of named resources. It follows the
// server lifecycle but lookups are allowed in any state.
type Resources struct {
	*lifecycle.Machine

	mu      sync.RWMutex
	entries []Entry
}

// NewResources creates an empty resource set in state NEW.
func NewResources(name string) *Resources {
	return &Resources{Machine: lifecycle.NewMachine(name, lifecycle.Hooks{})}
}

// AddEntry registers e. A name collision returns lifecycle.ErrDuplicateName.
func (r *Resources) AddEntry(e Entry) error {
	if e.Name == "" {
		return &lifecycle.ConfigurationError{Component: r.Name(), Reason: "resource entry without name"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.entries {
		if existing.Name == e.Name {
			return fmt.Errorf("%w: resource %s", lifecycle.ErrDuplicateName, e.Name)
		}
	}
	r.entries = append(r.entries, e)
	return nil
}

// Lookup returns the entry registered under name.
func (r *Resources) Lookup(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.Name == name {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: resource %s", lifecycle.ErrNotFound, name)
}

// RemoveEntry deletes the entry registered under name, if any.
func (r *Resources) RemoveEntry(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.Name == name {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

// Entries returns a snapshot in registration order.
func (r *Resources) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entry(nil), r.entries...)
}
