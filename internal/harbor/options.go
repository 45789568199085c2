package harbor

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kart-io/harbor/internal/bootstrap"
	etcdopts "github.com/kart-io/harbor/pkg/options/etcd"
	logopts "github.com/kart-io/harbor/pkg/options/logger"
	serveropts "github.com/kart-io/harbor/pkg/options/server"
	tracingopts "github.com/kart-io/harbor/pkg/options/tracing"
)

// MetricsOptions configures the Prometheus exposition.
type MetricsOptions struct {
	// Namespace prefixes every metric name.
	Namespace string `json:"namespace" mapstructure:"namespace"`
}

// Options contains the configuration of a harbor process.
type Options struct {
	// Server describes the shutdown socket and the service graph.
	Server *serveropts.Options `json:"server" mapstructure:"server"`

	// Log contains logger configuration.
	Log *logopts.Options `json:"log" mapstructure:"log"`

	// Tracing contains OpenTelemetry configuration.
	Tracing *tracingopts.Options `json:"tracing" mapstructure:"tracing"`

	// Etcd selects and configures the etcd naming registry.
	Etcd *etcdopts.Options `json:"etcd" mapstructure:"etcd"`

	// Metrics contains metrics configuration.
	Metrics *MetricsOptions `json:"metrics" mapstructure:"metrics"`
}

// NewOptions creates an Options instance with default values.
func NewOptions() *Options {
	return &Options{
		Server:  serveropts.NewOptions(),
		Log:     logopts.NewOptions(),
		Tracing: tracingopts.NewOptions(),
		Etcd:    etcdopts.NewOptions(),
		Metrics: &MetricsOptions{Namespace: bootstrap.DefaultMetricsNamespace},
	}
}

// AddFlags adds the flags of every section to fs.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.Server.AddFlags(fs)
	o.Log.AddFlags(fs)
	o.Tracing.AddFlags(fs)
	o.Etcd.AddFlags(fs)
	fs.StringVar(&o.Metrics.Namespace, "metrics.namespace", o.Metrics.Namespace, "Namespace prefixed to every metric name.")
}

// Complete completes all the required options.
func (o *Options) Complete() error {
	if o.Metrics == nil {
		o.Metrics = &MetricsOptions{}
	}
	if o.Metrics.Namespace == "" {
		o.Metrics.Namespace = bootstrap.DefaultMetricsNamespace
	}
	for _, c := range []interface{ Complete() error }{o.Server, o.Log, o.Tracing, o.Etcd} {
		if err := c.Complete(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks every section and reports all failures.
func (o *Options) Validate() error {
	var errs []error
	if err := o.Server.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if err := o.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	if err := o.Tracing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	if err := o.Etcd.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// BootstrapOptions returns the bootstrap configuration for this process.
func (o *Options) BootstrapOptions(name, version string) *bootstrap.BootstrapOptions {
	return &bootstrap.BootstrapOptions{
		AppName:          name,
		AppVersion:       version,
		LogOpts:          o.Log,
		TracingOpts:      o.Tracing,
		EtcdOpts:         o.Etcd,
		ServerOpts:       o.Server,
		MetricsNamespace: o.Metrics.Namespace,
	}
}
