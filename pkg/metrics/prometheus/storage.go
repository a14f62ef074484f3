package prometheus

import (
	"time"

	"github.com/marmos91/dittokv/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storageMetrics is the Prometheus implementation of metrics.StorageMetrics.
type storageMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTotal        *prometheus.CounterVec
}

// NewStorageMetrics creates a new Prometheus-backed StorageMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewStorageMetrics() metrics.StorageMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopStorageMetrics()
	}
	return newStorageMetrics(metrics.GetRegistry())
}

func newStorageMetrics(reg prometheus.Registerer) *storageMetrics {
	return &storageMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittokv_storage_operations_total",
				Help: "Total number of storage backend operations by backend, operation, and status",
			},
			[]string{"backend", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittokv_storage_operation_duration_milliseconds",
				Help: "Duration of storage backend operations in milliseconds",
				Buckets: []float64{
					1,     // 1ms
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s
					10000, // 10s
				},
			},
			[]string{"backend", "operation"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittokv_storage_bytes_total",
				Help: "Total bytes read or written by storage backends",
			},
			[]string{"backend", "operation"},
		),
	}
}

func (m *storageMetrics) ObserveOperation(backend, operation string, duration time.Duration, bytes int, err error) {
	m.operationsTotal.WithLabelValues(backend, operation, metrics.Status(err)).Inc()
	m.operationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds() * 1000)
	if err == nil && bytes > 0 {
		m.bytesTotal.WithLabelValues(backend, operation).Add(float64(bytes))
	}
}
