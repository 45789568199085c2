// Package grpc provides the options of a gRPC connector.
package grpc

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/harbor/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains gRPC connector configuration.
type Options struct {
	// Addr is the address to listen on.
	Addr string `json:"addr" mapstructure:"addr" validate:"required,listenaddr"`
	// Timeout is the connection establishment timeout.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout" validate:"gt=0"`
	// MaxRecvMsgSize is the maximum message size in bytes the server can receive.
	MaxRecvMsgSize int `json:"max-recv-msg-size" mapstructure:"max-recv-msg-size" validate:"gt=0"`
	// MaxSendMsgSize is the maximum message size in bytes the server can send.
	MaxSendMsgSize int `json:"max-send-msg-size" mapstructure:"max-send-msg-size" validate:"gt=0"`
	// ShutdownTimeout bounds GracefulStop before the server is force stopped.
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout" validate:"gte=0"`
	// EnableReflection registers the gRPC reflection service.
	EnableReflection bool `json:"enable-reflection" mapstructure:"enable-reflection"`
}

// Option is a function that configures Options.
type Option func(*Options)

// NewOptions creates a new Options with default values.
func NewOptions() *Options {
	return &Options{
		Addr:            ":9090",
		Timeout:         30 * time.Second,
		MaxRecvMsgSize:  16 * 1024 * 1024, // 16MB
		MaxSendMsgSize:  16 * 1024 * 1024, // 16MB
		ShutdownTimeout: 10 * time.Second,
	}
}

// AddFlags adds flags for gRPC options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, options.Flag("grpc.addr", prefixes...), o.Addr, "gRPC connector listen address")
	fs.DurationVar(&o.Timeout, options.Flag("grpc.timeout", prefixes...), o.Timeout, "gRPC connection timeout")
	fs.IntVar(&o.MaxRecvMsgSize, options.Flag("grpc.max-recv-msg-size", prefixes...), o.MaxRecvMsgSize, "gRPC max receive message size in bytes")
	fs.IntVar(&o.MaxSendMsgSize, options.Flag("grpc.max-send-msg-size", prefixes...), o.MaxSendMsgSize, "gRPC max send message size in bytes")
	fs.BoolVar(&o.EnableReflection, options.Flag("grpc.enable-reflection", prefixes...), o.EnableReflection, "Register the gRPC reflection service")
}

// Complete fills zero fields with the defaults of NewOptions.
func (o *Options) Complete() {
	d := NewOptions()
	if o.Addr == "" {
		o.Addr = d.Addr
	}
	if o.Timeout == 0 {
		o.Timeout = d.Timeout
	}
	if o.MaxRecvMsgSize == 0 {
		o.MaxRecvMsgSize = d.MaxRecvMsgSize
	}
	if o.MaxSendMsgSize == 0 {
		o.MaxSendMsgSize = d.MaxSendMsgSize
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = d.ShutdownTimeout
	}
}

// Validate validates the gRPC options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Addr == "" {
		errs = append(errs, fmt.Errorf("grpc.addr cannot be empty"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("grpc.timeout must be positive"))
	}
	if o.MaxRecvMsgSize <= 0 {
		errs = append(errs, fmt.Errorf("grpc.max-recv-msg-size must be positive"))
	}
	if o.MaxSendMsgSize <= 0 {
		errs = append(errs, fmt.Errorf("grpc.max-send-msg-size must be positive"))
	}
	return errs
}

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Options) {
		o.Addr = addr
	}
}

// WithReflection enables or disables the reflection service.
func WithReflection(enable bool) Option {
	return func(o *Options) {
		o.EnableReflection = enable
	}
}

// ApplyOptions applies the given options to the Options.
func (o *Options) ApplyOptions(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}
