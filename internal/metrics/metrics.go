// Package metrics defines the Prometheus instruments the engine records.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the engine's Prometheus metrics.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	EntitiesComputed prometheus.Counter
	EntityFailures   *prometheus.CounterVec
	ElectionsClamped *prometheus.CounterVec
	Section179       *prometheus.GaugeVec
	Liability        *prometheus.GaugeVec
}

// New registers metrics on a private registry, so repeated construction in
// one process never collides.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry initializes and registers metrics with registry. A nil
// registry uses the default registerer.
func NewWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "farmtax_runs_total",
			Help: "Engine runs by outcome",
		}, []string{"outcome"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "farmtax_run_duration_seconds",
			Help:    "Wall time of engine runs",
			Buckets: prometheus.DefBuckets,
		}),
		EntitiesComputed: factory.NewCounter(prometheus.CounterOpts{
			Name: "farmtax_entities_computed_total",
			Help: "Entities whose tax result was computed",
		}),
		EntityFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "farmtax_entity_failures_total",
			Help: "Entities skipped because of invalid input, by stage",
		}, []string{"stage"}),
		ElectionsClamped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "farmtax_elections_clamped_total",
			Help: "Requested amounts clamped to a statutory limit",
		}, []string{"limit"}),
		Section179: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "farmtax_section179_allocated",
			Help: "Section 179 allocated in the last run, by entity",
		}, []string{"entity"}),
		Liability: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "farmtax_total_liability",
			Help: "Total liability computed in the last run, by entity",
		}, []string{"entity"}),
	}
}
