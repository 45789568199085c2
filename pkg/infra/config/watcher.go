package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/kart-io/logger"
	"github.com/spf13/viper"
)

// ChangeHandler reacts to a changed configuration. A returned error is
// logged and does not stop the remaining handlers.
type ChangeHandler func(v *viper.Viper) error

type subscription struct {
	id      string
	handler ChangeHandler
}

// Watcher watches the configuration file of a viper instance and calls its
// handlers in subscription order on every change.
type Watcher struct {
	viper *viper.Viper

	mu       sync.RWMutex
	subs     []subscription
	watching bool
}

// NewWatcher creates a watcher for v. v must have a config file set.
func NewWatcher(v *viper.Viper) *Watcher {
	return &Watcher{viper: v}
}

// Subscribe registers handler under id, replacing a handler with the same id
// in place.
func (w *Watcher) Subscribe(id string, handler ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.subs {
		if w.subs[i].id == id {
			w.subs[i].handler = handler
			return
		}
	}
	w.subs = append(w.subs, subscription{id: id, handler: handler})
}

// Unsubscribe removes the handler registered under id.
func (w *Watcher) Unsubscribe(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.subs {
		if w.subs[i].id == id {
			w.subs = append(w.subs[:i], w.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of handlers.
func (w *Watcher) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.subs)
}

// Start begins watching. Calling it again has no effect.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return
	}
	w.watching = true
	w.mu.Unlock()

	w.viper.OnConfigChange(func(e fsnotify.Event) {
		logger.Infow("Config file changed", "file", e.Name, "op", e.Op.String())
		w.Notify()
	})
	w.viper.WatchConfig()
}

// Notify runs every handler against the current configuration and returns
// the number of handlers that failed.
func (w *Watcher) Notify() int {
	w.mu.RLock()
	subs := append([]subscription(nil), w.subs...)
	w.mu.RUnlock()

	failed := 0
	for _, s := range subs {
		if err := s.handler(w.viper); err != nil {
			failed++
			logger.Errorw("Config handler failed", "handler", s.id, "error", err.Error())
		}
	}
	return failed
}

// Section returns a handler that decodes the key section into a new T and
// passes it to apply.
func Section[T any](key string, apply func(*T) error) ChangeHandler {
	return func(v *viper.Viper) error {
		target := new(T)
		if err := v.UnmarshalKey(key, target, DecodeOption()); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return apply(target)
	}
}
