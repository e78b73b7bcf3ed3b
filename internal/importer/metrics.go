package importer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Entry outcomes.
const (
	outcomeRead     = "read"
	outcomeAdded    = "added"
	outcomeRejected = "rejected"
)

// Error kinds.
const (
	kindOpen              = "open"
	kindConnect           = "connect"
	kindBind              = "bind"
	kindDecodeRecoverable = "decode_recoverable"
	kindDecodeFatal       = "decode_fatal"
	kindApply             = "apply"
)

// runMetrics holds the collectors of a single run. Every run registers on
// its own registry so concurrent runs never share counters.
type runMetrics struct {
	registry *prometheus.Registry
	entries  *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration prometheus.Gauge
	status   *prometheus.GaugeVec
}

func newRunMetrics(runID string) *runMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	labels := prometheus.Labels{"run_id": runID}

	return &runMetrics{
		registry: registry,
		entries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "ldifimport_entries_total",
				Help:        "Number of LDIF entries read, added and rejected.",
				ConstLabels: labels,
			},
			[]string{"outcome"}),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "ldifimport_errors_total",
				Help:        "Number of errors encountered, by kind.",
				ConstLabels: labels,
			},
			[]string{"kind"}),
		duration: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "ldifimport_run_duration_seconds",
			Help:        "Wall-clock duration of the import run.",
			ConstLabels: labels,
		}),
		status: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "ldifimport_run_status",
				Help:        "Final status of the import run; the matching status is 1.",
				ConstLabels: labels,
			},
			[]string{"status"}),
	}
}

func (m *runMetrics) countEntry(outcome string) {
	m.entries.WithLabelValues(outcome).Inc()
}

func (m *runMetrics) countError(kind string) {
	m.errors.WithLabelValues(kind).Inc()
}

func (m *runMetrics) finish(status Status, seconds float64) {
	m.duration.Set(seconds)
	m.status.WithLabelValues(string(status)).Set(1)
}
