package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	options "github.com/kart-io/harbor/pkg/options/tracing"
)

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr bool
	}{
		{"disabled defaults", func(*Options) {}, false},
		{"enabled defaults", func(o *Options) { o.Enabled = true }, false},
		{"bad exporter", func(o *Options) { o.Enabled = true; o.ExporterType = "zipkin" }, true},
		{"bad sampler", func(o *Options) { o.Enabled = true; o.SamplerType = "sometimes" }, true},
		{"ratio out of range", func(o *Options) { o.Enabled = true; o.SamplerRatio = 1.5 }, true},
		{"otlp without endpoint", func(o *Options) { o.Enabled = true; o.Endpoint = "" }, true},
		{"stdout without endpoint", func(o *Options) {
			o.Enabled = true
			o.ExporterType = options.ExporterStdout
			o.Endpoint = ""
		}, false},
		{"invalid ignored when disabled", func(o *Options) { o.ExporterType = "zipkin" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOptions()
			tt.mutate(o)
			err := o.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := NewProvider(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Tracer("x"))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderInvalid(t *testing.T) {
	o := NewOptions()
	o.Enabled = true
	o.SamplerRatio = -1
	_, err := NewProvider(context.Background(), o)
	assert.Error(t, err)
}

func TestNewProviderNoop(t *testing.T) {
	o := NewOptions()
	o.Enabled = true
	o.ExporterType = options.ExporterNoop
	p, err := NewProvider(context.Background(), o)
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	assert.True(t, p.Enabled())
	_, span := p.Tracer("test").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestStdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	o := NewOptions()
	o.ExporterType = options.ExporterStdout
	exp, err := newExporter(context.Background(), o, &buf)
	require.NoError(t, err)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	_, span := tp.Tracer("test").Start(context.Background(), "stdout-span")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "stdout-span")
}
