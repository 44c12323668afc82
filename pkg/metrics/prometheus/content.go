package prometheus

import (
	"time"

	"github.com/marmos91/dittodrop/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// contentMetrics is the Prometheus implementation of metrics.ContentMetrics.
type contentMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	rollbacksTotal    prometheus.Counter
}

// NewContentMetrics creates a Prometheus-backed metrics.ContentMetrics.
func NewContentMetrics() metrics.ContentMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopContentMetrics()
	}
	return newContentMetrics(metrics.GetRegistry())
}

func newContentMetrics(reg prometheus.Registerer) *contentMetrics {
	return &contentMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrop_content_operations_total",
				Help: "Total number of content service operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dittodrop_content_operation_duration_seconds",
				Help:    "Duration of content service operations in seconds",
				Buckets: durationBuckets,
			},
			[]string{"operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrop_content_bytes_total",
				Help: "Total payload bytes written and read",
			},
			[]string{"direction"},
		),
		rollbacksTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodrop_content_write_rollbacks_total",
				Help: "Total number of writes rolled back after a failure",
			},
		),
	}
}

func (m *contentMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *contentMetrics) RecordBytes(direction string, bytes int64) {
	if bytes <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *contentMetrics) RecordRollback() {
	m.rollbacksTotal.Inc()
}
