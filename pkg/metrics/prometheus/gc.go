package prometheus

import (
	"time"

	"github.com/marmos91/dittokv/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// gcMetrics is the Prometheus implementation of metrics.GCMetrics.
type gcMetrics struct {
	cyclesTotal   *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	deletions     *prometheus.CounterVec
	retained      *prometheus.CounterVec
}

// NewGCMetrics creates a new Prometheus-backed GCMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewGCMetrics() metrics.GCMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopGCMetrics()
	}
	return newGCMetrics(metrics.GetRegistry())
}

func newGCMetrics(reg prometheus.Registerer) *gcMetrics {
	return &gcMetrics{
		cyclesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittokv_gc_cycles_total",
				Help: "Total number of journal GC cycles by status",
			},
			[]string{"status"},
		),
		cycleDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittokv_gc_cycle_duration_seconds",
				Help:    "Duration of journal GC cycles in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		deletions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittokv_gc_deletions_total",
				Help: "Total number of journal artifact deletions by kind and status",
			},
			[]string{"kind", "status"},
		),
		retained: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittokv_gc_retained_total",
				Help: "Total number of journal artifacts kept by a GC cycle, by kind and reason",
			},
			[]string{"kind", "reason"},
		),
	}
}

func (m *gcMetrics) RecordCycle(duration time.Duration, err error) {
	m.cyclesTotal.WithLabelValues(metrics.Status(err)).Inc()
	m.cycleDuration.Observe(duration.Seconds())
}

func (m *gcMetrics) RecordDeletion(kind string, err error) {
	m.deletions.WithLabelValues(kind, metrics.Status(err)).Inc()
}

func (m *gcMetrics) RecordRetained(kind, reason string) {
	m.retained.WithLabelValues(kind, reason).Inc()
}
