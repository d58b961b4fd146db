package daemon

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opsgate/opsgate/internal/models"
)

// Metrics collects Prometheus counters and histograms for opsgated.
type Metrics struct {
	registry               *prometheus.Registry
	changeProposalsTotal   *prometheus.CounterVec
	changeTransitionsTotal *prometheus.CounterVec
	applyDurationSeconds   *prometheus.HistogramVec
	remoteReadsTotal       *prometheus.CounterVec
}

// NewMetrics constructs a metrics registry and registers all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	changeProposalsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsgate",
			Subsystem: "change",
			Name:      "proposals_total",
			Help:      "Total number of change proposals by kind.",
		},
		[]string{"kind"},
	)
	changeTransitionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsgate",
			Subsystem: "change",
			Name:      "transitions_total",
			Help:      "Total number of change status transitions.",
		},
		[]string{"to"},
	)
	applyDurationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "opsgate",
			Subsystem: "change",
			Name:      "apply_duration_seconds",
			Help:      "Time spent executing approved command plans.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"result"},
	)
	remoteReadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsgate",
			Subsystem: "remote",
			Name:      "reads_total",
			Help:      "Total read-only remote operations by kind and result.",
		},
		[]string{"kind", "result"},
	)

	registry.MustRegister(
		changeProposalsTotal,
		changeTransitionsTotal,
		applyDurationSeconds,
		remoteReadsTotal,
	)

	return &Metrics{
		registry:               registry,
		changeProposalsTotal:   changeProposalsTotal,
		changeTransitionsTotal: changeTransitionsTotal,
		applyDurationSeconds:   applyDurationSeconds,
		remoteReadsTotal:       remoteReadsTotal,
	}
}

// Handler returns an HTTP handler that serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncProposal(kind models.ChangeKind) {
	if m == nil {
		return
	}
	m.changeProposalsTotal.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) IncTransition(to models.ChangeStatus) {
	if m == nil {
		return
	}
	m.changeTransitionsTotal.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) ObserveApply(result string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.applyDurationSeconds.WithLabelValues(result).Observe(seconds)
}

func (m *Metrics) IncRead(kind, result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.remoteReadsTotal.WithLabelValues(kind, result).Inc()
}
