package outbox

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector defines the interface for collecting outbox metrics.
type MetricsCollector interface {
	RecordEventProcessed(eventType string, success bool, duration time.Duration)
	RecordBatchProcessed(count int, duration time.Duration)
	RecordOutboxLag(lag int)
}

// NoOpMetricsCollector is used when metrics aren't wired.
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordEventProcessed(eventType string, success bool, duration time.Duration) {
}
func (n *NoOpMetricsCollector) RecordBatchProcessed(count int, duration time.Duration) {}
func (n *NoOpMetricsCollector) RecordOutboxLag(lag int)                               {}

// PrometheusMetrics implements MetricsCollector on the default registry.
type PrometheusMetrics struct {
	eventCounter  *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	batchSize     prometheus.Histogram
	batchDuration prometheus.Histogram
	outboxLag     prometheus.Gauge
}

func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		eventCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "match_outbox_events_total",
			Help: "Outbox events processed by the relay, by type and status.",
		}, []string{"event_type", "status"}),
		eventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "match_outbox_publish_duration_seconds",
			Help:    "Time to publish one outbox event.",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type"}),
		batchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "match_outbox_batch_size",
			Help:    "Events per fallback batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		batchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "match_outbox_batch_duration_seconds",
			Help:    "Time to drain one fallback batch.",
			Buckets: prometheus.DefBuckets,
		}),
		outboxLag: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "match_outbox_unsent_events",
			Help: "Outbox rows not yet published.",
		}),
	}
}

func (m *PrometheusMetrics) RecordEventProcessed(eventType string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.eventCounter.WithLabelValues(eventType, status).Inc()
	m.eventDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordBatchProcessed(count int, duration time.Duration) {
	m.batchSize.Observe(float64(count))
	m.batchDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordOutboxLag(lag int) {
	m.outboxLag.Set(float64(lag))
}

// MetricPublisher wraps a Publisher with metrics collection.
type MetricPublisher struct {
	publisher Publisher
	metrics   MetricsCollector
}

func NewMetricPublisher(publisher Publisher, metrics MetricsCollector) *MetricPublisher {
	return &MetricPublisher{
		publisher: publisher,
		metrics:   metrics,
	}
}

func (p *MetricPublisher) Publish(ctx context.Context, event OutboxEvent) error {
	start := time.Now()
	err := p.publisher.Publish(ctx, event)
	p.metrics.RecordEventProcessed(event.EventType, err == nil, time.Since(start))
	return err
}
