// Package logger carries structured logging fields through a context and
// reloads the global logger when its configuration changes.
package logger

import (
	"context"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"
	"go.opentelemetry.io/otel/trace"
)

type fieldsKey struct{}

// WithFields returns a context whose logger carries keysAndValues in
// addition to the fields already in ctx.
func WithFields(ctx context.Context, keysAndValues ...interface{}) context.Context {
	if len(keysAndValues) == 0 {
		return ctx
	}
	prev, _ := ctx.Value(fieldsKey{}).([]interface{})
	fields := make([]interface{}, 0, len(prev)+len(keysAndValues))
	fields = append(fields, prev...)
	fields = append(fields, keysAndValues...)
	return context.WithValue(ctx, fieldsKey{}, fields)
}

// WithRequestID adds request_id to the context fields.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return WithFields(ctx, "request_id", id)
}

// WithComponent adds component to the context fields.
func WithComponent(ctx context.Context, name string) context.Context {
	return WithFields(ctx, "component", name)
}

// Fields returns the context fields followed by the trace and span IDs of
// the active span.
func Fields(ctx context.Context) []interface{} {
	fields, _ := ctx.Value(fieldsKey{}).([]interface{})
	out := append([]interface{}(nil), fields...)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		out = append(out, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}
	return out
}

// FromContext returns the global logger with the fields of ctx.
func FromContext(ctx context.Context) core.Logger {
	base := logger.Global()
	if fields := Fields(ctx); len(fields) > 0 {
		return base.With(fields...)
	}
	return base
}
