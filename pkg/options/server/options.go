// Package server provides the options of the harbor server: its shutdown
// socket, utility pool and the services it hosts.
package server

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/harbor/pkg/infra/pool"
	grpcopts "github.com/kart-io/harbor/pkg/options/server/grpc"
	httpopts "github.com/kart-io/harbor/pkg/options/server/http"
	"github.com/kart-io/harbor/pkg/validator"
)

// Protocol names a connector implementation.
type Protocol string

const (
	// ProtocolHTTP serves the engine mapper over HTTP.
	ProtocolHTTP Protocol = "http"
	// ProtocolGRPC serves the gRPC health service.
	ProtocolGRPC Protocol = "grpc"
)

const (
	// DefaultPort is the default shutdown port.
	DefaultPort = 8005
	// DisabledPort disables the shutdown socket, as does any negative port.
	DisabledPort = -1
	// DefaultCommand is the default shutdown command.
	DefaultCommand = "SHUTDOWN"
	// DefaultMaxCommandLength bounds the line read from a shutdown client.
	DefaultMaxCommandLength = 1024
)

// Options contains the server configuration.
type Options struct {
	// Port is the shutdown port. A negative port disables the socket and 0
	// binds an ephemeral port.
	Port int `json:"port" mapstructure:"port" validate:"portnum"`
	// PortOffset is added to Port when positive.
	PortOffset int `json:"port-offset" mapstructure:"port-offset" validate:"gte=0"`
	// Address is the bind address of the shutdown socket, empty binds all
	// interfaces.
	Address string `json:"address" mapstructure:"address"`
	// Shutdown is the command a client must send to stop the server.
	Shutdown string `json:"shutdown" mapstructure:"shutdown" validate:"command"`
	// HomeDir is the installation directory.
	HomeDir string `json:"home-dir" mapstructure:"home-dir"`
	// BaseDir is the instance directory, defaults to HomeDir.
	BaseDir string `json:"base-dir" mapstructure:"base-dir"`
	// UtilityThreads sizes the utility pool, 0 uses GOMAXPROCS.
	UtilityThreads int `json:"utility-threads" mapstructure:"utility-threads" validate:"gte=0"`
	// PeriodicEventDelay is the interval of the periodic lifecycle event,
	// 0 disables it.
	PeriodicEventDelay time.Duration `json:"periodic-event-delay" mapstructure:"periodic-event-delay" validate:"gte=0"`
	// ShutdownReadTimeout bounds the wait for a shutdown client's line.
	ShutdownReadTimeout time.Duration `json:"shutdown-read-timeout" mapstructure:"shutdown-read-timeout" validate:"gt=0"`
	// MaxCommandLength bounds the shutdown line, never below len(Shutdown).
	MaxCommandLength int `json:"max-command-length" mapstructure:"max-command-length" validate:"gt=0"`
	// StopTimeout bounds the stop triggered by the shutdown socket.
	StopTimeout time.Duration `json:"stop-timeout" mapstructure:"stop-timeout" validate:"gt=0"`
	// Services are created in order.
	Services []*ServiceOptions `json:"services" mapstructure:"services" validate:"unique=Name,dive"`
}

// ServiceOptions describes one service and its children.
type ServiceOptions struct {
	Name       string              `json:"name" mapstructure:"name" validate:"required"`
	Engine     *EngineOptions      `json:"engine" mapstructure:"engine" validate:"required"`
	Executors  []*ExecutorOptions  `json:"executors" mapstructure:"executors" validate:"unique=Name,dive"`
	Connectors []*ConnectorOptions `json:"connectors" mapstructure:"connectors" validate:"unique=Name,dive"`
}

// EngineOptions describes the request processing engine of a service.
type EngineOptions struct {
	Name string `json:"name" mapstructure:"name" validate:"required"`
	// Mode is the gin mode of the engine mapper.
	Mode string `json:"mode" mapstructure:"mode" validate:"omitempty,oneof=debug release test"`
}

// ExecutorOptions describes a named worker pool of a service.
type ExecutorOptions struct {
	Name        string `json:"name" mapstructure:"name" validate:"required"`
	pool.Config `mapstructure:",squash"`
}

// ConnectorOptions describes one network endpoint of a service.
type ConnectorOptions struct {
	Name     string   `json:"name" mapstructure:"name" validate:"required"`
	Protocol Protocol `json:"protocol" mapstructure:"protocol" validate:"oneof=http grpc"`
	// Executor names the service executor requests are dispatched on,
	// empty runs them on the connector's own goroutines.
	Executor string            `json:"executor" mapstructure:"executor"`
	HTTP     *httpopts.Options `json:"http,omitempty" mapstructure:"http" validate:"required_if=Protocol http,omitempty"`
	GRPC     *grpcopts.Options `json:"grpc,omitempty" mapstructure:"grpc" validate:"required_if=Protocol grpc,omitempty"`
}

// Option is a function that configures Options.
type Option func(*Options)

// NewOptions creates a new Options with default values.
func NewOptions() *Options {
	return &Options{
		Port:                DefaultPort,
		Address:             "localhost",
		Shutdown:            DefaultCommand,
		PeriodicEventDelay:  10 * time.Second,
		ShutdownReadTimeout: 10 * time.Second,
		MaxCommandLength:    DefaultMaxCommandLength,
		StopTimeout:         30 * time.Second,
	}
}

// NewServiceOptions returns a service with a default engine and no
// connectors.
func NewServiceOptions(name string) *ServiceOptions {
	return &ServiceOptions{
		Name:   name,
		Engine: &EngineOptions{Name: name, Mode: "release"},
	}
}

// NewExecutorOptions returns an executor with the default pool config.
func NewExecutorOptions(name string) *ExecutorOptions {
	return &ExecutorOptions{Name: name, Config: *pool.DefaultConfig()}
}

// NewConnectorOptions returns a connector of protocol p listening on addr.
func NewConnectorOptions(name string, p Protocol, addr string) *ConnectorOptions {
	c := &ConnectorOptions{Name: name, Protocol: p}
	switch p {
	case ProtocolHTTP:
		c.HTTP = httpopts.NewOptions()
		c.HTTP.Addr = addr
	case ProtocolGRPC:
		c.GRPC = grpcopts.NewOptions()
		c.GRPC.Addr = addr
	}
	return c
}

// AddFlags adds flags for server options to the specified FlagSet.
// Services are only configurable from the configuration file.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.Port, "server.port", o.Port, "Shutdown port, a negative value disables the shutdown socket.")
	fs.IntVar(&o.PortOffset, "server.port-offset", o.PortOffset, "Offset added to the shutdown port.")
	fs.StringVar(&o.Address, "server.address", o.Address, "Bind address of the shutdown socket.")
	fs.StringVar(&o.Shutdown, "server.shutdown", o.Shutdown, "Command that stops the server when received on the shutdown port.")
	fs.StringVar(&o.HomeDir, "server.home-dir", o.HomeDir, "Installation directory.")
	fs.StringVar(&o.BaseDir, "server.base-dir", o.BaseDir, "Instance directory, defaults to the home directory.")
	fs.IntVar(&o.UtilityThreads, "server.utility-threads", o.UtilityThreads, "Utility pool size, 0 uses GOMAXPROCS.")
	fs.DurationVar(&o.PeriodicEventDelay, "server.periodic-event-delay", o.PeriodicEventDelay, "Interval of the periodic lifecycle event, 0 disables it.")
	fs.DurationVar(&o.ShutdownReadTimeout, "server.shutdown-read-timeout", o.ShutdownReadTimeout, "Time a shutdown client has to send its command.")
	fs.DurationVar(&o.StopTimeout, "server.stop-timeout", o.StopTimeout, "Time allowed for a stop requested over the shutdown socket.")
}

// Complete fills directory defaults and raises MaxCommandLength to fit the
// command.
func (o *Options) Complete() error {
	if o.HomeDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve home dir: %w", err)
		}
		o.HomeDir = wd
	}
	if o.BaseDir == "" {
		o.BaseDir = o.HomeDir
	}
	if o.MaxCommandLength < len(o.Shutdown) {
		o.MaxCommandLength = len(o.Shutdown)
	}
	for _, svc := range o.Services {
		if svc != nil {
			svc.complete()
		}
	}
	return nil
}

func (s *ServiceOptions) complete() {
	if s.Engine == nil {
		s.Engine = &EngineOptions{Mode: "release"}
	}
	if s.Engine.Name == "" {
		s.Engine.Name = s.Name
	}
	d := pool.DefaultConfig()
	for _, ex := range s.Executors {
		if ex == nil {
			continue
		}
		if ex.Capacity == 0 {
			ex.Capacity = d.Capacity
		}
		if ex.ExpiryDuration == 0 {
			ex.ExpiryDuration = d.ExpiryDuration
		}
		if ex.ShutdownTimeout == 0 {
			ex.ShutdownTimeout = d.ShutdownTimeout
		}
	}
	for _, c := range s.Connectors {
		if c == nil {
			continue
		}
		switch c.Protocol {
		case ProtocolHTTP:
			if c.HTTP == nil {
				c.HTTP = httpopts.NewOptions()
			}
			c.HTTP.Complete()
		case ProtocolGRPC:
			if c.GRPC == nil {
				c.GRPC = grpcopts.NewOptions()
			}
			c.GRPC.Complete()
		}
	}
}

// Validate validates the options with their struct tags and cross-checks
// connector executor references.
func (o *Options) Validate() error {
	errs := validator.Global().ValidateWithLang(o, validator.LangEN)
	if errs == nil {
		errs = &validator.ValidationErrors{}
	}
	for i, svc := range o.Services {
		if svc == nil {
			continue
		}
		names := make(map[string]bool, len(svc.Executors))
		for _, ex := range svc.Executors {
			if ex != nil {
				names[ex.Name] = true
			}
		}
		for j, c := range svc.Connectors {
			if c != nil && c.Executor != "" && !names[c.Executor] {
				errs.Append(fmt.Sprintf("services[%d].connectors[%d].executor", i, j), "executor",
					fmt.Sprintf("connector %s references unknown executor %s", c.Name, c.Executor))
			}
		}
	}
	return errs.OrNil()
}

// PortWithOffset returns Port plus PortOffset when the offset is positive.
// A disabled port stays disabled.
func (o *Options) PortWithOffset() int {
	if o.PortOffset > 0 && o.Port >= 0 {
		return o.Port + o.PortOffset
	}
	return o.Port
}

// WithPort sets the shutdown port.
func WithPort(port int) Option {
	return func(o *Options) {
		o.Port = port
	}
}

// WithPortOffset sets the port offset.
func WithPortOffset(offset int) Option {
	return func(o *Options) {
		o.PortOffset = offset
	}
}

// WithAddress sets the shutdown socket bind address.
func WithAddress(addr string) Option {
	return func(o *Options) {
		o.Address = addr
	}
}

// WithShutdown sets the shutdown command.
func WithShutdown(cmd string) Option {
	return func(o *Options) {
		o.Shutdown = cmd
	}
}

// WithPeriodicEventDelay sets the periodic event interval.
func WithPeriodicEventDelay(d time.Duration) Option {
	return func(o *Options) {
		o.PeriodicEventDelay = d
	}
}

// WithServices appends service descriptors.
func WithServices(svcs ...*ServiceOptions) Option {
	return func(o *Options) {
		o.Services = append(o.Services, svcs...)
	}
}

// ApplyOptions applies the given options to the Options.
func (o *Options) ApplyOptions(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}
