// Package tracing provides the OpenTelemetry tracing options of harbor.
package tracing

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/harbor/pkg/validator"
)

// SamplerType defines the type of sampler to use.
type SamplerType string

const (
	// SamplerAlwaysOn samples all traces.
	SamplerAlwaysOn SamplerType = "always_on"
	// SamplerAlwaysOff never samples traces.
	SamplerAlwaysOff SamplerType = "always_off"
	// SamplerRatio samples traces based on a ratio.
	SamplerRatio SamplerType = "ratio"
	// SamplerParentBased follows the parent decision, sampling roots by ratio.
	SamplerParentBased SamplerType = "parent_based"
)

// ExporterType defines the type of exporter to use.
type ExporterType string

const (
	// ExporterOTLPGRPC exports spans via OTLP over gRPC.
	ExporterOTLPGRPC ExporterType = "otlp_grpc"
	// ExporterOTLPHTTP exports spans via OTLP over HTTP.
	ExporterOTLPHTTP ExporterType = "otlp_http"
	// ExporterStdout prints spans to stdout.
	ExporterStdout ExporterType = "stdout"
	// ExporterNoop drops spans.
	ExporterNoop ExporterType = "noop"
)

// Options defines configuration for OpenTelemetry tracing. Lifecycle
// transitions of every harbor component are recorded as spans once tracing
// is enabled.
type Options struct {
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName    string `json:"service-name" mapstructure:"service-name" validate:"required_if=Enabled true"`
	ServiceVersion string `json:"service-version" mapstructure:"service-version"`
	Environment    string `json:"environment" mapstructure:"environment"`

	ExporterType ExporterType `json:"exporter-type" mapstructure:"exporter-type" validate:"oneof=otlp_grpc otlp_http stdout noop"`
	// Endpoint is host:port of the collector, required by the OTLP exporters.
	Endpoint string            `json:"endpoint" mapstructure:"endpoint"`
	Insecure bool              `json:"insecure" mapstructure:"insecure"`
	Headers  map[string]string `json:"headers" mapstructure:"headers"`

	SamplerType  SamplerType `json:"sampler-type" mapstructure:"sampler-type" validate:"oneof=always_on always_off ratio parent_based"`
	SamplerRatio float64     `json:"sampler-ratio" mapstructure:"sampler-ratio" validate:"gte=0,lte=1"`

	BatchTimeout  time.Duration `json:"batch-timeout" mapstructure:"batch-timeout" validate:"gt=0"`
	BatchMaxSize  int           `json:"batch-max-size" mapstructure:"batch-max-size" validate:"gt=0"`
	ExportTimeout time.Duration `json:"export-timeout" mapstructure:"export-timeout" validate:"gt=0"`
	MaxQueueSize  int           `json:"max-queue-size" mapstructure:"max-queue-size" validate:"gt=0,gtefield=BatchMaxSize"`

	ResourceAttributes map[string]string `json:"resource-attributes" mapstructure:"resource-attributes"`
}

// NewOptions creates default tracing options. Tracing is disabled.
func NewOptions() *Options {
	return &Options{
		ServiceName:        "harbor",
		Environment:        "development",
		ExporterType:       ExporterOTLPGRPC,
		Endpoint:           "localhost:4317",
		Insecure:           true,
		Headers:            map[string]string{},
		SamplerType:        SamplerParentBased,
		SamplerRatio:       1.0,
		BatchTimeout:       5 * time.Second,
		BatchMaxSize:       512,
		ExportTimeout:      30 * time.Second,
		MaxQueueSize:       2048,
		ResourceAttributes: map[string]string{},
	}
}

// AddFlags adds flags for tracing options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.Enabled, "tracing.enabled", o.Enabled, "Enable OpenTelemetry tracing.")
	fs.StringVar(&o.ServiceName, "tracing.service-name", o.ServiceName, "Service name reported with every span.")
	fs.StringVar(&o.Environment, "tracing.environment", o.Environment, "Deployment environment.")
	fs.StringVar((*string)(&o.ExporterType), "tracing.exporter-type", string(o.ExporterType), "Exporter type (otlp_grpc, otlp_http, stdout, noop).")
	fs.StringVar(&o.Endpoint, "tracing.endpoint", o.Endpoint, "OTLP collector endpoint.")
	fs.BoolVar(&o.Insecure, "tracing.insecure", o.Insecure, "Disable TLS for the OTLP connection.")
	fs.StringVar((*string)(&o.SamplerType), "tracing.sampler-type", string(o.SamplerType), "Sampler type (always_on, always_off, ratio, parent_based).")
	fs.Float64Var(&o.SamplerRatio, "tracing.sampler-ratio", o.SamplerRatio, "Sampling ratio between 0 and 1.")
}

// Complete fills nil maps.
func (o *Options) Complete() error {
	if o.Headers == nil {
		o.Headers = map[string]string{}
	}
	if o.ResourceAttributes == nil {
		o.ResourceAttributes = map[string]string{}
	}
	return nil
}

// Validate validates the tracing options. Disabled options are always valid.
func (o *Options) Validate() error {
	if o == nil || !o.Enabled {
		return nil
	}
	errs := validator.Global().ValidateWithLang(o, validator.LangEN)
	if errs == nil {
		errs = &validator.ValidationErrors{}
	}
	if (o.ExporterType == ExporterOTLPGRPC || o.ExporterType == ExporterOTLPHTTP) && o.Endpoint == "" {
		errs.Append("endpoint", "required", "endpoint is required by the "+string(o.ExporterType)+" exporter")
	}
	return errs.OrNil()
}
