// Package metrics exposes Prometheus collectors for the editor, the status
// projector and the HTTP surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flowgraph"

// Metrics bundles every collector on its own registry so tests can create
// isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	EditorOps        *prometheus.CounterVec
	ValidationIssues *prometheus.CounterVec
	StatusEvents     *prometheus.CounterVec
	Instances        prometheus.Gauge
	HTTPDuration     *prometheus.HistogramVec
}

// New creates and registers all collectors. Process and Go runtime
// collectors are included when withRuntime is true.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EditorOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "editor_operations_total",
			Help:      "Editor operations by operation and outcome code.",
		}, []string{"op", "outcome"}),
		ValidationIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_issues_total",
			Help:      "Validation issues reported, by severity and code.",
		}, []string{"severity", "code"}),
		StatusEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_events_total",
			Help:      "Status events ingested by the projector, by outcome.",
		}, []string{"outcome"}),
		Instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances_tracked",
			Help:      "Instances currently tracked by the projector.",
		}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
	}
	m.registry.MustRegister(m.EditorOps, m.ValidationIssues, m.StatusEvents, m.Instances, m.HTTPDuration)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveEditorOp records one editor operation. A nil receiver is a no-op.
func (m *Metrics) ObserveEditorOp(op, outcome string) {
	if m == nil {
		return
	}
	m.EditorOps.WithLabelValues(op, outcome).Inc()
}

// ObserveIssue records one validation issue. A nil receiver is a no-op.
func (m *Metrics) ObserveIssue(severity, code string) {
	if m == nil {
		return
	}
	m.ValidationIssues.WithLabelValues(severity, code).Inc()
}

// ObserveStatusEvent records the outcome of one ingested status event.
// A nil receiver is a no-op.
func (m *Metrics) ObserveStatusEvent(outcome string) {
	if m == nil {
		return
	}
	m.StatusEvents.WithLabelValues(outcome).Inc()
}

// SetInstances sets the tracked-instance gauge. A nil receiver is a no-op.
func (m *Metrics) SetInstances(n int) {
	if m == nil {
		return
	}
	m.Instances.Set(float64(n))
}

// ObserveHTTP records one HTTP request. A nil receiver is a no-op.
func (m *Metrics) ObserveHTTP(route, method, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(route, method, code).Observe(d.Seconds())
}
