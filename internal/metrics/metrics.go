// Package metrics exposes Prometheus instrumentation for the assessment
// service. Collectors are registered through promauto; tests use
// NewMetricsWith with a private registry to avoid duplicate registration.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vigilsec/riskengine/internal/risk"
)

// Delivery outcome labels for WebhookDeliveries.
const (
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
	DeliveryDropped   = "dropped"
)

// Metrics holds all Prometheus metrics for the assessment service.
type Metrics struct {
	// Pipeline metrics
	AssessmentsTotal *prometheus.CounterVec
	SignalsTotal     *prometheus.CounterVec
	RiskScore        prometheus.Histogram
	AssessDuration   prometheus.Histogram

	// Async queue metrics
	QueueDepth  prometheus.Gauge
	TasksQueued prometheus.Counter

	// Fan-out metrics
	WebhookDeliveries *prometheus.CounterVec
	StreamClients     prometheus.Gauge

	// Edge metrics
	RateLimited prometheus.Counter
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewMetricsWith creates all metrics on a caller-supplied registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	return newMetrics(promauto.With(reg))
}

func newMetrics(factory promauto.Factory) *Metrics {
	return &Metrics{
		AssessmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigil_assessments_total",
				Help: "Total assessments performed",
			},
			[]string{"source", "action"}, // source: sync, async
		),

		SignalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigil_signals_total",
				Help: "Risk signals raised, by signal name",
			},
			[]string{"name"},
		),

		RiskScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vigil_risk_score",
				Help:    "Distribution of total risk scores",
				Buckets: []float64{0, 5, 10, 20, 30, 40, 50, 60, 70, 85, 100, 125, 150, 200},
			},
		),

		AssessDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vigil_assess_duration_seconds",
				Help:    "Time spent inside the detection pipeline",
				Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
		),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_queue_depth",
			Help: "Tasks waiting in the broker queue",
		}),

		TasksQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_tasks_queued_total",
			Help: "Tasks accepted on the async assess endpoint",
		}),

		WebhookDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigil_webhook_deliveries_total",
				Help: "Webhook delivery outcomes",
			},
			[]string{"status"}, // status: delivered, failed, dropped
		),

		StreamClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_stream_clients",
			Help: "Connected websocket stream clients",
		}),

		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_ratelimit_rejections_total",
			Help: "Requests rejected by the per-user rate limiter",
		}),
	}
}

// RecordAssessment records one pipeline run.
func (m *Metrics) RecordAssessment(source string, assessment *risk.RiskAssessment, duration time.Duration) {
	m.AssessmentsTotal.WithLabelValues(source, assessment.Action).Inc()
	m.RiskScore.Observe(assessment.TotalScore)
	m.AssessDuration.Observe(duration.Seconds())
	for _, sig := range assessment.Signals {
		m.SignalsTotal.WithLabelValues(sig.Name).Inc()
	}
}

// RecordWebhookDelivery records one delivery outcome.
func (m *Metrics) RecordWebhookDelivery(status string) {
	m.WebhookDeliveries.WithLabelValues(status).Inc()
}

// RecordTaskQueued counts an accepted async task.
func (m *Metrics) RecordTaskQueued() {
	m.TasksQueued.Inc()
}

// SetQueueDepth updates the broker backlog gauge.
func (m *Metrics) SetQueueDepth(depth int64) {
	m.QueueDepth.Set(float64(depth))
}

// RecordRateLimited counts a rejected request.
func (m *Metrics) RecordRateLimited() {
	m.RateLimited.Inc()
}
