package prometheus

import (
	"time"

	"github.com/marmos91/dittokv/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// journalMetrics is the Prometheus implementation of metrics.JournalMetrics.
type journalMetrics struct {
	flushesTotal       *prometheus.CounterVec
	flushDuration      prometheus.Histogram
	flushedEntries     prometheus.Counter
	flushedBytes       prometheus.Counter
	checkpointsTotal   *prometheus.CounterVec
	checkpointDuration prometheus.Histogram
	checkpointEntries  prometheus.Gauge
	checkpointBytes    prometheus.Gauge
	logsSealed         prometheus.Counter
	nextSequence       prometheus.Gauge
}

// NewJournalMetrics creates a new Prometheus-backed JournalMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewJournalMetrics() metrics.JournalMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopJournalMetrics()
	}
	return newJournalMetrics(metrics.GetRegistry())
}

func newJournalMetrics(reg prometheus.Registerer) *journalMetrics {
	return &journalMetrics{
		flushesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittokv_journal_flushes_total",
				Help: "Total number of journal flushes by status",
			},
			[]string{"status"},
		),
		flushDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittokv_journal_flush_duration_milliseconds",
				Help:    "Duration of journal flushes in milliseconds, retries included",
				Buckets: []float64{1, 5, 25, 100, 500, 2500},
			},
		),
		flushedEntries: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittokv_journal_flushed_entries_total",
				Help: "Total number of journal entries made durable",
			},
		),
		flushedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittokv_journal_flushed_bytes_total",
				Help: "Total bytes written by journal flushes (open logs are rewritten in full)",
			},
		),
		checkpointsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittokv_journal_checkpoints_total",
				Help: "Total number of checkpoint writes by status",
			},
			[]string{"status"},
		),
		checkpointDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittokv_journal_checkpoint_duration_seconds",
				Help:    "Duration of checkpoint writes in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		checkpointEntries: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittokv_journal_checkpoint_entries",
				Help: "Number of entries in the last checkpoint",
			},
		),
		checkpointBytes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittokv_journal_checkpoint_bytes",
				Help: "Size in bytes of the last checkpoint",
			},
		),
		logsSealed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittokv_journal_logs_sealed_total",
				Help: "Total number of sealed journal logs",
			},
		),
		nextSequence: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittokv_journal_next_sequence",
				Help: "Sequence number the next journal entry will receive",
			},
		),
	}
}

func (m *journalMetrics) RecordFlush(entries, bytes int, duration time.Duration, err error) {
	m.flushesTotal.WithLabelValues(metrics.Status(err)).Inc()
	m.flushDuration.Observe(duration.Seconds() * 1000)
	if err == nil {
		m.flushedEntries.Add(float64(entries))
		m.flushedBytes.Add(float64(bytes))
	}
}

func (m *journalMetrics) RecordCheckpoint(entries, bytes int, duration time.Duration, err error) {
	m.checkpointsTotal.WithLabelValues(metrics.Status(err)).Inc()
	m.checkpointDuration.Observe(duration.Seconds())
	if err == nil {
		m.checkpointEntries.Set(float64(entries))
		m.checkpointBytes.Set(float64(bytes))
	}
}

func (m *journalMetrics) RecordLogSealed() {
	m.logsSealed.Inc()
}

func (m *journalMetrics) SetNextSequence(seq uint64) {
	m.nextSequence.Set(float64(seq))
}
