// Package server provides the control plane of a harbor process: the root
// Server, the Services it hosts and the shutdown listener that lets an
// external process request an orderly stop.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/harbor/pkg/infra/lifecycle"
	"github.com/kart-io/harbor/pkg/infra/naming"
	"github.com/kart-io/harbor/pkg/infra/pool"
	options "github.com/kart-io/harbor/pkg/options/server"
)

// Options is re-exported from pkg/options/server for convenience.
type Options = options.Options

// NewOptions is re-exported from pkg/options/server for convenience.
var NewOptions = options.NewOptions

// Re-export option functions.
var (
	WithPort               = options.WithPort
	WithPortOffset         = options.WithPortOffset
	WithAddress            = options.WithAddress
	WithShutdown           = options.WithShutdown
	WithPeriodicEventDelay = options.WithPeriodicEventDelay
	WithServices           = options.WithServices
)

// Option configures a Server.
type Option func(*Server)

// WithNamingRegistry publishes the naming token to r instead of the
// in-memory registry.
func WithNamingRegistry(r naming.Registry) Option {
	return func(s *Server) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithLauncher attaches the outer launcher used for loader resolution.
func WithLauncher(l Launcher) Option {
	return func(s *Server) {
		s.launcher = l
	}
}

// WithGlobalResources replaces the global naming resources.
func WithGlobalResources(r *naming.Resources) Option {
	return func(s *Server) {
		if r != nil {
			s.resources = r
		}
	}
}

// Server is the root of the component graph. It owns the services, the
// global naming resources, the utility executor and the shutdown listener.
type Server struct {
	*lifecycle.Machine

	mu        sync.RWMutex
	opts      Options
	services  []*Service
	resources *naming.Resources
	launcher  Launcher
	loader    Loader
	listener  *ShutdownListener

	token      naming.Token
	registry   naming.Registry
	handle     naming.Handle
	registered bool

	utilityMu sync.Mutex
	utility   *pool.Utility

	awaitMu sync.Mutex
	await   chan struct{}

	cancelPeriodic func()
}

// NewServer creates a server in state NEW. A nil opts uses the defaults.
func NewServer(opts *Options, serverOpts ...Option) *Server {
	if opts == nil {
		opts = options.NewOptions()
	}
	s := &Server{
		opts:      *opts,
		token:     naming.NewToken(),
		registry:  naming.NewMemoryRegistry(),
		resources: naming.NewResources("global-resources"),
		await:     make(chan struct{}),
	}
	s.Machine = lifecycle.NewMachine("server", lifecycle.Hooks{
		Init:    s.init,
		Start:   s.start,
		Stop:    s.stop,
		Destroy: s.destroy,
	})
	for _, o := range serverOpts {
		o(s)
	}
	return s
}

func (s *Server) init(ctx context.Context) error {
	s.mu.RLock()
	opts := s.opts
	s.mu.RUnlock()
	if err := opts.Validate(); err != nil {
		return &lifecycle.ConfigurationError{Component: s.Name(), Reason: err.Error()}
	}

	h, err := s.registry.Register(ctx, s.token)
	if err != nil {
		return fmt.Errorf("register naming token: %w", err)
	}
	s.mu.Lock()
	s.handle, s.registered = h, true
	s.mu.Unlock()

	if err := lifecycle.InitAll(ctx, s.children()...); err != nil {
		s.unregister(ctx)
		return err
	}
	return nil
}

func (s *Server) start(ctx context.Context) error {
	s.resetAwait()
	if err := lifecycle.StartAll(ctx, s.children()...); err != nil {
		return err
	}
	s.arm()
	s.schedulePeriodic()
	return nil
}

func (s *Server) stop(ctx context.Context) error {
	s.StopAwait()
	s.mu.Lock()
	cancel := s.cancelPeriodic
	s.cancelPeriodic = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.disarm()
	return lifecycle.StopAll(ctx, s.children()...)
}

func (s *Server) destroy(ctx context.Context) error {
	err := lifecycle.DestroyAll(ctx, s.children()...)
	s.unregister(ctx)

	s.utilityMu.Lock()
	u := s.utility
	s.utility = nil
	s.utilityMu.Unlock()
	if u != nil {
		if rerr := u.Release(s.stopTimeout()); rerr != nil {
			logger.Warnw("Utility executor release timed out", "error", rerr)
		}
	}
	return err
}

// children returns the naming resources followed by the services.
func (s *Server) children() []lifecycle.Component {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]lifecycle.Component, 0, len(s.services)+1)
	out = append(out, s.resources)
	for _, svc := range s.services {
		out = append(out, svc)
	}
	return out
}

func (s *Server) unregister(ctx context.Context) {
	s.mu.Lock()
	h, ok := s.handle, s.registered
	s.registered = false
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.registry.Unregister(ctx, h); err != nil {
		logger.Warnw("Failed to unregister naming token", "token", h.Token.String(), "error", err)
	}
}

// AddService appends svc. A name already in use returns ErrDuplicateName and
// leaves the sequence unchanged. A service added to an available server is
// started immediately.
func (s *Server) AddService(ctx context.Context, svc *Service) error {
	if svc == nil {
		return &lifecycle.ConfigurationError{Component: s.Name(), Reason: "nil service"}
	}

	s.mu.Lock()
	for _, existing := range s.services {
		if existing == svc {
			s.mu.Unlock()
			return nil
		}
		if existing.Name() == svc.Name() {
			s.mu.Unlock()
			return fmt.Errorf("%w: service %s", lifecycle.ErrDuplicateName, svc.Name())
		}
	}
	s.services = append(s.services, svc)
	s.mu.Unlock()
	svc.setServer(s)

	logger.Infow("Service added", "service", svc.Name())
	switch st := s.State(); {
	case st.Available():
		return svc.Start(ctx)
	case st == lifecycle.StateInitialized && svc.State() == lifecycle.StateNew:
		return svc.Init(ctx)
	}
	return nil
}

// RemoveService stops svc if it is running and removes it. Removing an
// unknown service is a no-op.
func (s *Server) RemoveService(ctx context.Context, svc *Service) error {
	if svc == nil || s.indexOf(svc) < 0 {
		return nil
	}

	var err error
	if svc.State().Stoppable() {
		err = svc.Stop(ctx)
	}

	s.mu.Lock()
	if i := s.indexOfLocked(svc); i >= 0 {
		s.services = append(s.services[:i:i], s.services[i+1:]...)
	}
	s.mu.Unlock()
	svc.setServer(nil)

	logger.Infow("Service removed", "service", svc.Name())
	return err
}

func (s *Server) indexOf(svc *Service) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOfLocked(svc)
}

func (s *Server) indexOfLocked(svc *Service) int {
	for i, existing := range s.services {
		if existing == svc {
			return i
		}
	}
	return -1
}

// FindService returns the service named name.
func (s *Server) FindService(name string) (*Service, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, svc := range s.services {
		if svc.Name() == name {
			return svc, true
		}
	}
	return nil, false
}

// FindServices returns a snapshot of the services in insertion order.
func (s *Server) FindServices() []*Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Service(nil), s.services...)
}

// PortWithOffset returns the shutdown port plus the offset when the offset
// is positive.
func (s *Server) PortWithOffset() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.PortWithOffset()
}

// Port returns the configured shutdown port.
func (s *Server) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.Port
}

// SetPort sets the shutdown port; it takes effect on the next start.
func (s *Server) SetPort(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Port = port
}

// PortOffset returns the offset added to the shutdown port.
func (s *Server) PortOffset() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.PortOffset
}

// SetPortOffset sets the port offset; it takes effect on the next start.
func (s *Server) SetPortOffset(offset int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.PortOffset = offset
}

// Address returns the shutdown bind address, empty for all interfaces.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.Address
}

// SetAddress sets the shutdown bind address.
func (s *Server) SetAddress(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Address = addr
}

// SetShutdown sets the shutdown command.
func (s *Server) SetShutdown(cmd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Shutdown = cmd
	if s.opts.MaxCommandLength < len(cmd) {
		s.opts.MaxCommandLength = len(cmd)
	}
}

// Shutdown returns the shutdown command.
func (s *Server) Shutdown() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.Shutdown
}

// ShutdownAddr returns the bound address of the shutdown listener, nil
// when it is not armed.
func (s *Server) ShutdownAddr() net.Addr {
	s.mu.RLock()
	l := s.listener
	s.mu.RUnlock()
	if l == nil {
		return nil
	}
	return l.Addr()
}

// HomeDir returns the installation directory.
func (s *Server) HomeDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.HomeDir
}

// SetHomeDir sets the installation directory.
func (s *Server) SetHomeDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.HomeDir = dir
}

// BaseDir returns the instance directory, defaulting to HomeDir.
func (s *Server) BaseDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.opts.BaseDir == "" {
		return s.opts.HomeDir
	}
	return s.opts.BaseDir
}

// SetBaseDir sets the instance directory, empty falls back to HomeDir.
func (s *Server) SetBaseDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.BaseDir = dir
}

// NamingToken returns the identity published to the naming registry.
func (s *Server) NamingToken() naming.Token {
	return s.token
}

// GlobalNamingResources returns the global naming resources.
func (s *Server) GlobalNamingResources() *naming.Resources {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resources
}

// SetGlobalNamingResources replaces the global naming resources. The
// previous resources are not stopped.
func (s *Server) SetGlobalNamingResources(r *naming.Resources) {
	if r == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = r
}

// Launcher returns the outer launcher, nil when detached.
func (s *Server) Launcher() Launcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.launcher
}

// SetLauncher attaches the outer launcher, nil detaches it.
func (s *Server) SetLauncher(l Launcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.launcher = l
}

// SetParentLoader sets the local loader override, nil clears it.
func (s *Server) SetParentLoader(l Loader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loader = l
}

// ParentLoader resolves the local override, then the launcher, then the
// platform loader.
func (s *Server) ParentLoader() Loader {
	s.mu.RLock()
	l, launcher := s.loader, s.launcher
	s.mu.RUnlock()
	if l != nil {
		return l
	}
	if launcher != nil {
		if pl := launcher.ParentLoader(); pl != nil {
			return pl
		}
	}
	return Platform()
}

// UtilityThreads returns the configured utility pool size, 0 or less
// meaning GOMAXPROCS.
func (s *Server) UtilityThreads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.UtilityThreads
}

// SetUtilityThreads sets the utility pool size and resizes a pool that
// already exists.
func (s *Server) SetUtilityThreads(n int) {
	s.utilityMu.Lock()
	defer s.utilityMu.Unlock()

	s.mu.Lock()
	s.opts.UtilityThreads = n
	s.mu.Unlock()

	if s.utility != nil {
		s.utility.Tune(utilitySize(n))
	}
}

// UtilityExecutor returns the shared utility pool, creating it on first use.
func (s *Server) UtilityExecutor() (*pool.Utility, error) {
	s.utilityMu.Lock()
	defer s.utilityMu.Unlock()
	if s.utility != nil {
		return s.utility, nil
	}

	s.mu.RLock()
	size := utilitySize(s.opts.UtilityThreads)
	s.mu.RUnlock()

	u, err := pool.NewUtility(s.Name()+"-utility", size)
	if err != nil {
		return nil, fmt.Errorf("create utility executor: %w", err)
	}
	s.utility = u
	return u, nil
}

func utilitySize(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

// Await blocks until a shutdown is requested over the shutdown socket,
// StopAwait is called, the process receives SIGINT or SIGTERM, or ctx is
// done.
func (s *Server) Await(ctx context.Context) error {
	s.awaitMu.Lock()
	ch := s.await
	s.awaitMu.Unlock()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-ch:
		return nil
	case sig := <-quit:
		logger.Infow("Received signal", "signal", sig.String())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAwait releases every caller blocked in Await.
func (s *Server) StopAwait() {
	s.awaitMu.Lock()
	defer s.awaitMu.Unlock()
	select {
	case <-s.await:
	default:
		close(s.await)
	}
}

func (s *Server) resetAwait() {
	s.awaitMu.Lock()
	defer s.awaitMu.Unlock()
	select {
	case <-s.await:
		s.await = make(chan struct{})
	default:
	}
}

// arm binds the shutdown listener. A bind failure only disables the socket.
func (s *Server) arm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Port < 0 {
		logger.Infow("Shutdown port disabled, waiting for signals only")
		return
	}
	l := NewShutdownListener(ShutdownConfig{
		Address:     s.opts.Address,
		Port:        s.opts.PortWithOffset(),
		Command:     s.opts.Shutdown,
		MaxLength:   s.opts.MaxCommandLength,
		ReadTimeout: s.opts.ShutdownReadTimeout,
	}, s.onShutdown)
	if err := l.Arm(); err != nil {
		logger.Warnw("Shutdown listener disabled", "port", strconv.Itoa(s.opts.PortWithOffset()), "error", err)
		return
	}
	s.listener = l
}

func (s *Server) disarm() {
	s.mu.Lock()
	l := s.listener
	s.listener = nil
	s.mu.Unlock()
	if l != nil {
		l.Disarm()
	}
}

// onShutdown runs on the listener goroutine; the stop cascade is handed to
// its own goroutine.
func (s *Server) onShutdown() {
	s.StopAwait()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout())
		defer cancel()
		if err := s.Stop(ctx); err != nil {
			if errors.Is(err, lifecycle.ErrInvalidTransition) {
				logger.Debugw("Shutdown stop skipped", "error", err)
				return
			}
			logger.Errorw("Shutdown stop failed", "error", err)
		}
	}()
}

func (s *Server) stopTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.opts.StopTimeout > 0 {
		return s.opts.StopTimeout
	}
	return 30 * time.Second
}

func (s *Server) schedulePeriodic() {
	s.mu.RLock()
	delay := s.opts.PeriodicEventDelay
	s.mu.RUnlock()
	if delay <= 0 {
		return
	}

	u, err := s.UtilityExecutor()
	if err != nil {
		logger.Warnw("Periodic event disabled", "error", err)
		return
	}
	cancel := u.ScheduleAtFixedRate(delay, s.backgroundProcess)

	s.mu.Lock()
	s.cancelPeriodic = cancel
	s.mu.Unlock()
}

// backgroundProcess fires the periodic event on the server and on every
// available service.
func (s *Server) backgroundProcess() {
	if !s.State().Available() {
		return
	}
	s.Fire(lifecycle.EventPeriodic, nil)
	for _, svc := range s.FindServices() {
		if svc.State().Available() {
			svc.Fire(lifecycle.EventPeriodic, nil)
		}
	}
}
