package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/alertflow/internal/domain"
	"github.com/notifyhub/alertflow/internal/ratelimiter"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	DeliveriesSent   *prometheus.CounterVec
	DeliveriesFailed *prometheus.CounterVec
	DeliveryLatency  *prometheus.HistogramVec
	QueueDepthHigh   prometheus.Gauge
	QueueDepthNormal prometheus.Gauge
	QueueDepthLow    prometheus.Gauge

	NotificationsCreated *prometheus.CounterVec
	Escalations          *prometheus.CounterVec
	DigestsBuilt         prometheus.Counter

	RateLimitDecisions   *prometheus.CounterVec
	RateLimitStoreErrors *prometheus.CounterVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// A custom registry keeps tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DeliveriesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deliveries_sent_total",
			Help: "Total number of channel deliveries accepted by a provider.",
		}, []string{"channel"}),

		DeliveriesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deliveries_failed_total",
			Help: "Total number of channel deliveries that exhausted their attempts.",
		}, []string{"channel"}),

		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "delivery_processing_seconds",
			Help:    "Processing latency from dequeue to provider ack.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),

		QueueDepthHigh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_depth_high",
			Help: "Current number of items in the high-priority queue.",
		}),
		QueueDepthNormal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_depth_normal",
			Help: "Current number of items in the normal-priority queue.",
		}),
		QueueDepthLow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_depth_low",
			Help: "Current number of items in the low-priority queue.",
		}),

		NotificationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Notifications created, by computed priority band.",
		}, []string{"priority"}),

		Escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escalations_total",
			Help: "Escalation attempts, by outcome.",
		}, []string{"outcome"}),

		DigestsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "digests_built_total",
			Help: "Digest notifications created from deferred notifications.",
		}),

		RateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Rate-limit decisions, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),

		RateLimitStoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_store_errors_total",
			Help: "Rate-limit store failures, by operation.",
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.DeliveriesSent,
		m.DeliveriesFailed,
		m.DeliveryLatency,
		m.QueueDepthHigh,
		m.QueueDepthNormal,
		m.QueueDepthLow,
		m.NotificationsCreated,
		m.Escalations,
		m.DigestsBuilt,
		m.RateLimitDecisions,
		m.RateLimitStoreErrors,
	)

	return m
}

// WorkerHooks returns the metric callback functions expected by worker.MetricHooks.
// Centralises the prometheus observation calls so worker.go stays import-free.
func (m *Metrics) WorkerHooks() (
	onSent func(domain.Channel, time.Duration),
	onFailed func(domain.Channel),
) {
	onSent = func(ch domain.Channel, latency time.Duration) {
		m.DeliveriesSent.WithLabelValues(string(ch)).Inc()
		m.DeliveryLatency.WithLabelValues(string(ch)).Observe(latency.Seconds())
	}
	onFailed = func(ch domain.Channel) {
		m.DeliveriesFailed.WithLabelValues(string(ch)).Inc()
	}
	return
}

// RateLimitHooks adapts the rate-limit counters to ratelimiter.Hooks.
func (m *Metrics) RateLimitHooks() ratelimiter.Hooks {
	return ratelimiter.Hooks{
		OnDecision: func(endpoint string, limited bool) {
			outcome := "allowed"
			if limited {
				outcome = "limited"
			}
			m.RateLimitDecisions.WithLabelValues(endpoint, outcome).Inc()
		},
		OnStoreError: func(op string) {
			m.RateLimitStoreErrors.WithLabelValues(op).Inc()
		},
	}
}

// EscalationHook counts one escalation attempt.
func (m *Metrics) EscalationHook(outcome domain.EscalationOutcome) {
	m.Escalations.WithLabelValues(string(outcome)).Inc()
}

// CreatedHook counts one created notification.
func (m *Metrics) CreatedHook(p domain.Priority) {
	m.NotificationsCreated.WithLabelValues(string(p)).Inc()
}

// ObserveQueue copies the current tier depths into the queue gauges.
func (m *Metrics) ObserveQueue(high, normal, low int) {
	m.QueueDepthHigh.Set(float64(high))
	m.QueueDepthNormal.Set(float64(normal))
	m.QueueDepthLow.Set(float64(low))
}
