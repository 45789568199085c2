// Package metrics exports the lifecycle and executor metrics of a harbor
// process in the Prometheus format.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kart-io/harbor/pkg/infra/lifecycle"
	"github.com/kart-io/harbor/pkg/infra/pool"
)

// Collector owns a Prometheus registry with the lifecycle metrics of every
// watched component and the pool statistics of every registered executor.
type Collector struct {
	registry *prometheus.Registry

	transitions *prometheus.CounterVec
	state       *prometheus.GaugeVec
	failures    *prometheus.CounterVec
	periodic    *prometheus.CounterVec

	executors *executorCollector
}

// New creates a collector whose metric names start with namespace.
func New(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Total number of lifecycle states entered.",
		}, []string{"component", "state"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "state",
			Help:      "Current lifecycle state of a component, see lifecycle.State.",
		}, []string{"component"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "failures_total",
			Help:      "Total number of transitions that ended in the failed state.",
		}, []string{"component"}),
		periodic: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "periodic_events_total",
			Help:      "Total number of periodic events fired.",
		}, []string{"component"}),
		executors: newExecutorCollector(namespace),
	}

	c.registry.MustRegister(
		c.transitions,
		c.state,
		c.failures,
		c.periodic,
		c.executors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Watch records the events of comp from now on.
func (c *Collector) Watch(comp lifecycle.Component) {
	c.state.WithLabelValues(comp.Name()).Set(float64(comp.State()))
	comp.AddListener(c)
}

// OnLifecycleEvent implements lifecycle.Listener.
func (c *Collector) OnLifecycleEvent(e lifecycle.Event) error {
	switch e.Type {
	case lifecycle.EventTransition:
		c.transitions.WithLabelValues(e.Source, e.To.String()).Inc()
		c.state.WithLabelValues(e.Source).Set(float64(e.To))
		if e.To == lifecycle.StateFailed {
			c.failures.WithLabelValues(e.Source).Inc()
		}
	case lifecycle.EventPeriodic:
		c.periodic.WithLabelValues(e.Source).Inc()
	}
	return nil
}

// StatsSource reports pool statistics.
type StatsSource interface {
	Stats() pool.Stats
}

// AddExecutor exports the statistics of src under the executor label name.
func (c *Collector) AddExecutor(name string, src StatsSource) {
	c.executors.add(name, src)
}

// RemoveExecutor stops exporting the executor registered as name.
func (c *Collector) RemoveExecutor(name string) {
	c.executors.remove(name)
}

type executorCollector struct {
	capacity  *prometheus.Desc
	running   *prometheus.Desc
	waiting   *prometheus.Desc
	submitted *prometheus.Desc
	completed *prometheus.Desc
	failed    *prometheus.Desc
	rejected  *prometheus.Desc

	mu      sync.RWMutex
	sources map[string]StatsSource
}

func newExecutorCollector(namespace string) *executorCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "executor", name), help, []string{"executor"}, nil)
	}
	return &executorCollector{
		capacity:  desc("capacity", "Configured worker count."),
		running:   desc("running", "Workers currently running a task."),
		waiting:   desc("waiting", "Tasks blocked waiting for a worker."),
		submitted: desc("submitted_tasks_total", "Total number of submitted tasks."),
		completed: desc("completed_tasks_total", "Total number of completed tasks."),
		failed:    desc("failed_tasks_total", "Total number of tasks that panicked."),
		rejected:  desc("rejected_tasks_total", "Total number of rejected tasks."),
		sources:   make(map[string]StatsSource),
	}
}

func (e *executorCollector) add(name string, src StatsSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources[name] = src
}

func (e *executorCollector) remove(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sources, name)
}

// Describe implements prometheus.Collector.
func (e *executorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.capacity
	ch <- e.running
	ch <- e.waiting
	ch <- e.submitted
	ch <- e.completed
	ch <- e.failed
	ch <- e.rejected
}

// Collect implements prometheus.Collector.
func (e *executorCollector) Collect(ch chan<- prometheus.Metric) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for name, src := range e.sources {
		s := src.Stats()
		ch <- prometheus.MustNewConstMetric(e.capacity, prometheus.GaugeValue, float64(s.Capacity), name)
		ch <- prometheus.MustNewConstMetric(e.running, prometheus.GaugeValue, float64(s.Running), name)
		ch <- prometheus.MustNewConstMetric(e.waiting, prometheus.GaugeValue, float64(s.Waiting), name)
		ch <- prometheus.MustNewConstMetric(e.submitted, prometheus.CounterValue, float64(s.SubmittedTasks), name)
		ch <- prometheus.MustNewConstMetric(e.completed, prometheus.CounterValue, float64(s.CompletedTasks), name)
		ch <- prometheus.MustNewConstMetric(e.failed, prometheus.CounterValue, float64(s.FailedTasks), name)
		ch <- prometheus.MustNewConstMetric(e.rejected, prometheus.CounterValue, float64(s.RejectedTasks), name)
	}
}
