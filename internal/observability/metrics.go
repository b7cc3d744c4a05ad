// Package observability provides Prometheus metrics for the aggregation
// pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// MetricsNamespace is the namespace for all pipeline metrics.
	MetricsNamespace = "planit"

	// MetricsSubsystem is the subsystem for pipeline metrics.
	MetricsSubsystem = "analytics"
)

// Metrics holds all Prometheus metrics for the aggregation pipeline.
type Metrics struct {
	// Normalization metrics
	RecordsDroppedTotal *prometheus.CounterVec

	// Rollup metrics
	JoinMissesTotal  prometheus.Counter
	RecomputesTotal  prometheus.Counter
	RecomputeSeconds prometheus.Histogram

	// Pipeline lifecycle metrics
	StalePublishesDiscarded prometheus.Counter
	FallbackActivations     *prometheus.CounterVec
	SubscriptionErrors      *prometheus.CounterVec

	// Delivery metrics
	StreamClientsConnected prometheus.Gauge
	StreamEventsDropped    prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initNormalizationMetrics(factory)
	m.initRollupMetrics(factory)
	m.initPipelineMetrics(factory)
	m.initDeliveryMetrics(factory)

	return m
}

func (m *Metrics) initNormalizationMetrics(factory promauto.Factory) {
	m.RecordsDroppedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "records_dropped_total",
			Help:      "Total number of documents dropped during normalization",
		},
		[]string{"collection", "reason"},
	)
}

func (m *Metrics) initRollupMetrics(factory promauto.Factory) {
	m.JoinMissesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "join_misses_total",
			Help:      "Total number of attendance tier price lookups that found no price",
		},
	)

	m.RecomputesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "recomputes_total",
			Help:      "Total number of snapshot recomputations",
		},
	)

	m.RecomputeSeconds = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "recompute_duration_seconds",
			Help:      "Duration of one snapshot recomputation",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)
}

func (m *Metrics) initPipelineMetrics(factory promauto.Factory) {
	m.StalePublishesDiscarded = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "stale_publishes_discarded_total",
			Help:      "Total number of recomputation results discarded by the generation guard",
		},
	)

	m.FallbackActivations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "fallback_activations_total",
			Help:      "Total number of per-parent fallback fetches triggered by missing indexes",
		},
		[]string{"collection"},
	)

	m.SubscriptionErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "subscription_errors_total",
			Help:      "Total number of store subscription errors by kind",
		},
		[]string{"collection", "kind"},
	)
}

func (m *Metrics) initDeliveryMetrics(factory promauto.Factory) {
	m.StreamClientsConnected = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "stream_clients_connected",
			Help:      "Number of connected SSE clients",
		},
	)

	m.StreamEventsDropped = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      "stream_events_dropped_total",
			Help:      "Total number of SSE events dropped on slow clients",
		},
	)
}

// RecordDrops adds normalization drop counts for a collection.
func (m *Metrics) RecordDrops(collection string, dropped map[string]int) {
	for reason, n := range dropped {
		m.RecordsDroppedTotal.WithLabelValues(collection, reason).Add(float64(n))
	}
}

// RecordJoinMisses adds revenue join misses.
func (m *Metrics) RecordJoinMisses(n int) {
	if n > 0 {
		m.JoinMissesTotal.Add(float64(n))
	}
}

// RecordRecompute records one completed recomputation.
func (m *Metrics) RecordRecompute(durationSeconds float64) {
	m.RecomputesTotal.Inc()
	m.RecomputeSeconds.Observe(durationSeconds)
}

// RecordStaleDiscard records a recomputation result discarded because
// its generation was superseded.
func (m *Metrics) RecordStaleDiscard() {
	m.StalePublishesDiscarded.Inc()
}

// RecordFallback records a fallback activation on a collection.
func (m *Metrics) RecordFallback(collection string) {
	m.FallbackActivations.WithLabelValues(collection).Inc()
}

// RecordSubscriptionError records a store subscription error.
func (m *Metrics) RecordSubscriptionError(collection, kind string) {
	m.SubscriptionErrors.WithLabelValues(collection, kind).Inc()
}
