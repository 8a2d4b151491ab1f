package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather_collector"

// Metrics holds the Prometheus counters, histograms, and gauges for collection runs.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec // labels: outcome={completed,cancelled}
	RunsRejected      prometheus.Counter
	RunInProgress     prometheus.Gauge
	RunDuration       prometheus.Histogram
	ReadingsTotal     *prometheus.CounterVec   // labels: provenance={authentic,synthetic,faulted}
	SourceDuration    *prometheus.HistogramVec // labels: source
	PersistenceErrors prometheus.Counter
}

// NewMetrics creates and registers all collector metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RunsTotal,
		m.RunsRejected,
		m.RunInProgress,
		m.RunDuration,
		m.ReadingsTotal,
		m.SourceDuration,
		m.PersistenceErrors,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so tests can build as many as they need.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Collection runs by outcome.",
		}, []string{"outcome"}),
		RunsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_rejected_total",
			Help:      "Collect requests rejected because a run for the location was already active.",
		}),
		RunInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_in_progress",
			Help:      "1 while a collection run is executing.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a complete collection run.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		ReadingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Readings produced by provenance.",
		}, []string{"provenance"}),
		SourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Adapter fetch duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source"}),
		PersistenceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Failures handing a completed run to persistence.",
		}),
	}
}
