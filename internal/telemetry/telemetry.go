// Package telemetry provides Prometheus metrics for the alignd engine.
//
// Metrics are registered on a private registry owned by the Metrics value,
// so tests and multiple instances never collide on the global default
// registry. The HTTP layer exposes the registry at /metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the engine's instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	turnsTotal         *prometheus.CounterVec
	turnDuration       prometheus.Histogram
	rulesSelected      prometheus.Histogram
	regenerationsTotal prometheus.Counter
	violationsTotal    *prometheus.CounterVec
	relocalizations    prometheus.Counter
	parseFallbacks     *prometheus.CounterVec
}

// New creates a Metrics instance with all collectors registered on a fresh
// registry. namespace prefixes every metric name.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Turns processed, partitioned by outcome.",
		}, []string{"outcome"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn processing latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		rulesSelected: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rules_selected",
			Help:      "Rules selected per turn after filtering and expansion.",
			Buckets:   prometheus.LinearBuckets(0, 2, 11),
		}),
		regenerationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regenerations_total",
			Help:      "Response regenerations triggered by enforcement.",
		}),
		violationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Constraint violations detected, partitioned by lane.",
		}, []string{"lane"}),
		relocalizations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relocalizations_total",
			Help:      "Scenario relocalizations triggered by loop detection.",
		}),
		parseFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_fallbacks_total",
			Help:      "Model output parse failures recovered by a documented fallback.",
		}, []string{"component"}),
	}

	registry.MustRegister(
		m.turnsTotal,
		m.turnDuration,
		m.rulesSelected,
		m.regenerationsTotal,
		m.violationsTotal,
		m.relocalizations,
		m.parseFallbacks,
	)
	return m
}

// Registry returns the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTurn records one processed turn and its latency.
func (m *Metrics) ObserveTurn(outcome string, duration time.Duration) {
	m.turnsTotal.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(duration.Seconds())
}

// ObserveRulesSelected records how many rules a turn ended up with.
func (m *Metrics) ObserveRulesSelected(n int) {
	m.rulesSelected.Observe(float64(n))
}

// IncRegeneration counts one enforcement-triggered regeneration.
func (m *Metrics) IncRegeneration() {
	m.regenerationsTotal.Inc()
}

// IncViolation counts one detected violation on the given lane.
func (m *Metrics) IncViolation(lane string) {
	m.violationsTotal.WithLabelValues(lane).Inc()
}

// IncRelocalization counts one loop-detection relocalization.
func (m *Metrics) IncRelocalization() {
	m.relocalizations.Inc()
}

// IncParseFallback counts one recovered parse failure in the named component.
func (m *Metrics) IncParseFallback(component string) {
	m.parseFallbacks.WithLabelValues(component).Inc()
}

// Turn outcomes recorded on turns_total.
const (
	OutcomePassed    = "passed"
	OutcomeExhausted = "exhausted"
	OutcomeError     = "error"
)
