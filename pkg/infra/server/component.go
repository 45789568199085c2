package server

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kart-io/harbor/pkg/infra/lifecycle"
)

// Mapper is the opaque request routing handle an Engine exposes to its
// connectors.
type Mapper = http.Handler

// Engine is the request processing container of a Service.
type Engine interface {
	lifecycle.Component
	// Mapper returns the routing handle, nil when the engine has none.
	Mapper() Mapper
	// SetService links the engine to its owning service, nil unlinks it.
	SetService(s *Service)
	Service() *Service
	ParentLoader() Loader
}

// Connector is a network endpoint of a Service. Implementations embed
// ConnectorBase, which carries the engine binding and the association with
// the owning Service.
type Connector interface {
	lifecycle.Component
	// Bind points the connector at e; requests dispatched afterwards use e.
	Bind(e Engine)
	Engine() Engine
	Service() *Service

	associate(s *Service) bool
	dissociate(s *Service)
}

// Executor is a named worker pool shared by the components of a Service.
type Executor interface {
	lifecycle.Component
	Submit(task func()) error
}

// EngineBase carries the service link and the parent loader override of an
// Engine. Embed it next to a *lifecycle.Machine.
type EngineBase struct {
	service atomic.Pointer[Service]

	mu     sync.RWMutex
	loader Loader
}

// SetService links the engine to s.
func (b *EngineBase) SetService(s *Service) {
	b.service.Store(s)
}

// Service returns the owning service, nil when unlinked.
func (b *EngineBase) Service() *Service {
	return b.service.Load()
}

// SetParentLoader sets the local loader override, nil clears it.
func (b *EngineBase) SetParentLoader(l Loader) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loader = l
}

// ParentLoader resolves the local override, then the service, then the
// platform loader.
func (b *EngineBase) ParentLoader() Loader {
	b.mu.RLock()
	l := b.loader
	b.mu.RUnlock()
	if l != nil {
		return l
	}
	if s := b.Service(); s != nil {
		return s.ParentLoader()
	}
	return Platform()
}

type engineRef struct {
	engine Engine
}

// ConnectorBase carries the engine binding and the service association of a
// Connector.
type ConnectorBase struct {
	engine atomic.Pointer[engineRef]

	mu      sync.Mutex
	service *Service
}

// Bind points the connector at e.
func (b *ConnectorBase) Bind(e Engine) {
	if e == nil {
		b.engine.Store(nil)
		return
	}
	b.engine.Store(&engineRef{engine: e})
}

// Engine returns the bound engine, nil when unbound.
func (b *ConnectorBase) Engine() Engine {
	if ref := b.engine.Load(); ref != nil {
		return ref.engine
	}
	return nil
}

// Service returns the owning service, nil when unassociated.
func (b *ConnectorBase) Service() *Service {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.service
}

func (b *ConnectorBase) associate(s *Service) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.service != nil && b.service != s {
		return false
	}
	b.service = s
	return true
}

func (b *ConnectorBase) dissociate(s *Service) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.service == s {
		b.service = nil
	}
}
