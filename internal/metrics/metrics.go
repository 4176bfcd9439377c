// Package metrics exposes Prometheus collectors for store operations, silent
// data fallbacks and reward evaluations.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fallback kinds recorded when malformed persisted data is replaced by a default.
const (
	FallbackTimestamp = "timestamp"
	FallbackRule      = "reward_rule"
	FallbackNumeric   = "numeric"
)

// Metrics holds the collectors on a private registry. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	fallbacks   *prometheus.CounterVec
	evaluations *prometheus.CounterVec
}

// New builds the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rewards",
			Name:      "store_operations_total",
			Help:      "Repository operations by entity, operation and outcome.",
		}, []string{"entity", "operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rewards",
			Name:      "store_operation_seconds",
			Help:      "Repository operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"entity", "operation"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rewards",
			Name:      "data_fallbacks_total",
			Help:      "Malformed persisted values replaced by a safe default.",
		}, []string{"kind"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rewards",
			Name:      "evaluations_total",
			Help:      "Reward eligibility evaluations by verdict.",
		}, []string{"eligible"}),
	}

	m.registry.MustRegister(
		m.operations,
		m.latency,
		m.fallbacks,
		m.evaluations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveOperation records one repository call started at start.
func (m *Metrics) ObserveOperation(entity, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(entity, operation, outcome).Inc()
	m.latency.WithLabelValues(entity, operation).Observe(time.Since(start).Seconds())
}

// ObserveFallback records a silent substitution of kind.
func (m *Metrics) ObserveFallback(kind string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(kind).Inc()
}

// ObserveEvaluation records an eligibility verdict.
func (m *Metrics) ObserveEvaluation(eligible bool) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(strconv.FormatBool(eligible)).Inc()
}
