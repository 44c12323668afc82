package prometheus

import (
	"github.com/marmos91/dittodrop/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// evictionMetrics is the Prometheus implementation of metrics.EvictionMetrics.
type evictionMetrics struct {
	eventsTotal    *prometheus.CounterVec
	evictionsTotal *prometheus.CounterVec
	inFlight       prometheus.Gauge
	resubscribes   prometheus.Counter
	orphansRemoved *prometheus.CounterVec
}

// NewEvictionMetrics creates a Prometheus-backed metrics.EvictionMetrics.
func NewEvictionMetrics() metrics.EvictionMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopEvictionMetrics()
	}
	return newEvictionMetrics(metrics.GetRegistry())
}

func newEvictionMetrics(reg prometheus.Registerer) *evictionMetrics {
	return &evictionMetrics{
		eventsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrop_eviction_events_total",
				Help: "Total number of liveness notifications received by kind",
			},
			[]string{"kind"},
		),
		evictionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrop_evictions_total",
				Help: "Total number of cleanups by outcome",
			},
			[]string{"outcome"},
		),
		inFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittodrop_evictions_in_flight",
				Help: "Current number of cleanups running",
			},
		),
		resubscribes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodrop_eviction_resubscribes_total",
				Help: "Total number of notification channel failures followed by a resubscribe",
			},
		),
		orphansRemoved: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrop_gc_orphans_removed_total",
				Help: "Total number of orphaned blobs and records removed by reconciliation",
			},
			[]string{"kind"},
		),
	}
}

func (m *evictionMetrics) RecordEvent(kind string) {
	m.eventsTotal.WithLabelValues(kind).Inc()
}

func (m *evictionMetrics) RecordEviction(outcome string) {
	m.evictionsTotal.WithLabelValues(outcome).Inc()
}

func (m *evictionMetrics) SetInFlight(count int64) {
	m.inFlight.Set(float64(count))
}

func (m *evictionMetrics) RecordResubscribe() {
	m.resubscribes.Inc()
}

func (m *evictionMetrics) RecordOrphansCollected(kind string, count int) {
	if count <= 0 {
		return
	}
	m.orphansRemoved.WithLabelValues(kind).Add(float64(count))
}
