package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kart-io/logger"

	"github.com/kart-io/harbor/pkg/infra/lifecycle"
	"github.com/kart-io/harbor/pkg/infra/pool"
)

// Service groups connectors sharing one engine, together with the executors
// they dispatch work on. Start runs executors, then the engine, then the
// connectors; stop runs the exact reverse.
type Service struct {
	*lifecycle.Machine

	mu         sync.RWMutex
	server     *Server
	connectors []Connector
	loader     Loader

	engine    atomic.Pointer[engineRef]
	executors *pool.Registry[Executor]

	// swapMu serializes SetContainer.
	swapMu sync.Mutex
}

// NewService creates a service without engine. SetContainer must be called
// before Init.
func NewService(name string) *Service {
	s := &Service{
		executors: pool.NewRegistry[Executor](),
	}
	s.Machine = lifecycle.NewMachine(name, lifecycle.Hooks{
		Init:    s.init,
		Start:   s.start,
		Stop:    s.stop,
		Destroy: s.destroy,
	})
	return s
}

func (s *Service) init(ctx context.Context) error {
	if s.Container() == nil {
		return &lifecycle.ConfigurationError{Component: s.Name(), Reason: "service has no engine"}
	}
	return lifecycle.InitAll(ctx, s.children()...)
}

func (s *Service) start(ctx context.Context) error {
	if s.Container() == nil {
		return &lifecycle.ConfigurationError{Component: s.Name(), Reason: "service has no engine"}
	}
	return lifecycle.StartAll(ctx, s.children()...)
}

func (s *Service) stop(ctx context.Context) error {
	return lifecycle.StopAll(ctx, s.children()...)
}

func (s *Service) destroy(ctx context.Context) error {
	return lifecycle.DestroyAll(ctx, s.children()...)
}

// children returns executors, engine and connectors in start order.
func (s *Service) children() []lifecycle.Component {
	out := s.executors.Components()
	if e := s.Container(); e != nil {
		out = append(out, e)
	}
	for _, c := range s.FindConnectors() {
		out = append(out, c)
	}
	return out
}

// attach brings a child added at runtime to the state of the service.
func (s *Service) attach(ctx context.Context, c lifecycle.Component) error {
	switch st := s.State(); {
	case st.Available():
		return c.Start(ctx)
	case st == lifecycle.StateInitialized && c.State() == lifecycle.StateNew:
		return c.Init(ctx)
	}
	return nil
}

// Server returns the owning server, nil when detached.
func (s *Service) Server() *Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.server
}

func (s *Service) setServer(srv *Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.server = srv
}

// AddConnector appends c and binds it to the current engine. A connector
// owned by another service is rejected with ErrDuplicateAssociation; adding
// the same connector twice is a no-op. A connector added to an available
// service is started immediately.
func (s *Service) AddConnector(ctx context.Context, c Connector) error {
	if c == nil {
		return &lifecycle.ConfigurationError{Component: s.Name(), Reason: "nil connector"}
	}

	s.mu.Lock()
	for _, existing := range s.connectors {
		if existing == c {
			s.mu.Unlock()
			return nil
		}
	}
	if !c.associate(s) {
		s.mu.Unlock()
		return fmt.Errorf("%w: connector %s is owned by another service", lifecycle.ErrDuplicateAssociation, c.Name())
	}
	c.Bind(s.Container())
	s.connectors = append(s.connectors, c)
	s.mu.Unlock()

	logger.Debugw("Connector added", "service", s.Name(), "connector", c.Name())
	return s.attach(ctx, c)
}

// RemoveConnector stops c if it is running, then removes it and clears its
// engine binding. Removing an unknown connector is a no-op.
func (s *Service) RemoveConnector(ctx context.Context, c Connector) error {
	if c == nil || !s.hasConnector(c) {
		return nil
	}

	var err error
	if c.State().Stoppable() {
		err = c.Stop(ctx)
	}

	s.mu.Lock()
	for i, existing := range s.connectors {
		if existing == c {
			s.connectors = append(s.connectors[:i:i], s.connectors[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	c.Bind(nil)
	c.dissociate(s)
	logger.Debugw("Connector removed", "service", s.Name(), "connector", c.Name())
	return err
}

func (s *Service) hasConnector(c Connector) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, existing := range s.connectors {
		if existing == c {
			return true
		}
	}
	return false
}

// FindConnectors returns a snapshot of the connectors in insertion order.
func (s *Service) FindConnectors() []Connector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Connector(nil), s.connectors...)
}

// SetContainer replaces the engine. The new engine is brought to the state
// of the service before the swap; every connector is then re-bound and the
// previous engine is stopped.
func (s *Service) SetContainer(ctx context.Context, e Engine) error {
	if e == nil {
		return &lifecycle.ConfigurationError{Component: s.Name(), Reason: "nil engine"}
	}

	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	old := s.Container()
	if old == e {
		return nil
	}

	e.SetService(s)
	if err := s.attach(ctx, e); err != nil {
		e.SetService(nil)
		return fmt.Errorf("bring up engine %s: %w", e.Name(), err)
	}

	s.engine.Store(&engineRef{engine: e})
	for _, c := range s.FindConnectors() {
		c.Bind(e)
	}

	if old != nil {
		if old.State().Stoppable() {
			if err := old.Stop(ctx); err != nil {
				logger.Warnw("Replaced engine failed to stop", "service", s.Name(), "engine", old.Name(), "error", err)
			}
		}
		old.SetService(nil)
	}
	return nil
}

// Container returns the engine, nil before SetContainer.
func (s *Service) Container() Engine {
	if ref := s.engine.Load(); ref != nil {
		return ref.engine
	}
	return nil
}

// Mapper returns the routing handle of the engine, nil without engine.
func (s *Service) Mapper() Mapper {
	if e := s.Container(); e != nil {
		return e.Mapper()
	}
	return nil
}

// Domain returns the engine name, or the service name without engine.
func (s *Service) Domain() string {
	if e := s.Container(); e != nil {
		return e.Name()
	}
	return s.Name()
}

// AddExecutor registers ex. A duplicate name returns ErrDuplicateName. An
// executor added to an available service is started immediately.
func (s *Service) AddExecutor(ctx context.Context, ex Executor) error {
	if ex == nil {
		return &lifecycle.ConfigurationError{Component: s.Name(), Reason: "nil executor"}
	}
	if err := s.executors.Add(ex); err != nil {
		return fmt.Errorf("service %s: %w", s.Name(), err)
	}
	return s.attach(ctx, ex)
}

// GetExecutor returns the executor registered under name.
func (s *Service) GetExecutor(name string) (Executor, bool) {
	return s.executors.Get(name)
}

// FindExecutors returns a snapshot of the executors in insertion order.
func (s *Service) FindExecutors() []Executor {
	return s.executors.List()
}

// RemoveExecutor stops ex if it is running and removes it. Only the
// registered instance is removed.
func (s *Service) RemoveExecutor(ctx context.Context, ex Executor) error {
	if ex == nil {
		return nil
	}
	if got, ok := s.executors.Get(ex.Name()); !ok || got != ex {
		return nil
	}

	var err error
	if ex.State().Stoppable() {
		err = ex.Stop(ctx)
	}
	s.executors.Remove(ex.Name())
	return err
}

// SetParentLoader sets the local loader override, nil clears it.
func (s *Service) SetParentLoader(l Loader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loader = l
}

// ParentLoader resolves the local override, then the server, then the
// platform loader.
func (s *Service) ParentLoader() Loader {
	s.mu.RLock()
	l, srv := s.loader, s.server
	s.mu.RUnlock()
	if l != nil {
		return l
	}
	if srv != nil {
		return srv.ParentLoader()
	}
	return Platform()
}
