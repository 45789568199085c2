package bootstrap

import (
	"context"

	"github.com/kart-io/harbor/pkg/observability/metrics"
)

// DefaultMetricsNamespace prefixes metrics when no namespace is configured.
const DefaultMetricsNamespace = "harbor"

// MetricsInitializer creates the Prometheus collector the server graph
// reports to.
type MetricsInitializer struct {
	namespace string
	collector *metrics.Collector
}

// NewMetricsInitializer creates a new MetricsInitializer.
func NewMetricsInitializer(namespace string) *MetricsInitializer {
	if namespace == "" {
		namespace = DefaultMetricsNamespace
	}
	return &MetricsInitializer{namespace: namespace}
}

func (m *MetricsInitializer) Name() string { return "metrics" }

func (m *MetricsInitializer) Dependencies() []string { return []string{"logging"} }

func (m *MetricsInitializer) Initialize(context.Context) error {
	m.collector = metrics.New(m.namespace)
	return nil
}

// Collector returns the collector, nil before Initialize.
func (m *MetricsInitializer) Collector() *metrics.Collector {
	return m.collector
}
