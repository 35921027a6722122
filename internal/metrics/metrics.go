package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores the prometheus collectors for the delivery pipeline.
type Metrics struct {
	registry *prometheus.Registry

	sentTotal         prometheus.Counter
	failedTotal       *prometheus.CounterVec
	retriedTotal      prometheus.Counter
	deadLetteredTotal prometheus.Counter
	duplicatesTotal   prometheus.Counter
	deliveryDuration  prometheus.Histogram
	breakerTrips      *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		sentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "push_service",
			Name:      "notifications_sent_total",
			Help:      "Total number of notifications delivered to the gateway.",
		}),
		failedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "push_service",
			Name:      "notifications_failed_total",
			Help:      "Total number of notifications that ended in failed state.",
		}, []string{"reason"}),
		retriedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "push_service",
			Name:      "notifications_retried_total",
			Help:      "Total number of retry publishes.",
		}),
		deadLetteredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "push_service",
			Name:      "notifications_dead_lettered_total",
			Help:      "Total number of dead-letter publishes.",
		}),
		duplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "push_service",
			Name:      "notifications_duplicate_total",
			Help:      "Total number of deliveries skipped by the idempotency guard.",
		}),
		deliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "push_service",
			Name:      "delivery_duration_seconds",
			Help:      "Gateway send duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		breakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "push_service",
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions by target state.",
		}, []string{"state"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sentTotal,
		m.failedTotal,
		m.retriedTotal,
		m.deadLetteredTotal,
		m.duplicatesTotal,
		m.deliveryDuration,
		m.breakerTrips,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncSent() {
	if m == nil {
		return
	}
	m.sentTotal.Inc()
}

func (m *Metrics) IncFailed(reason string) {
	if m == nil {
		return
	}
	label := strings.TrimSpace(strings.ToLower(reason))
	if label == "" {
		label = "unknown"
	}
	m.failedTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) IncRetried() {
	if m == nil {
		return
	}
	m.retriedTotal.Inc()
}

func (m *Metrics) IncDeadLettered() {
	if m == nil {
		return
	}
	m.deadLetteredTotal.Inc()
}

func (m *Metrics) IncDuplicate() {
	if m == nil {
		return
	}
	m.duplicatesTotal.Inc()
}

func (m *Metrics) ObserveDeliveryDuration(d time.Duration) {
	if m == nil {
		return
	}
	seconds := d.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.deliveryDuration.Observe(seconds)
}

func (m *Metrics) IncBreakerTransition(state string) {
	if m == nil {
		return
	}
	m.breakerTrips.WithLabelValues(strings.ToLower(state)).Inc()
}
