// Package metrics provides Prometheus metrics for the portal client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the client.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	ProbeFailures       prometheus.Counter
	PollTicksTotal      *prometheus.CounterVec
	SubscriptionsActive prometheus.Gauge
	NotificationsTotal  *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_requests_total",
				Help: "Total API requests by method and outcome (HTTP status or error kind).",
			},
			[]string{"method", "outcome"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_request_duration_seconds",
				Help:    "API request duration by method, probe included.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ProbeFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_probe_failures_total",
				Help: "Reachability probes that found the backend down.",
			},
		),
		PollTicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_poll_ticks_total",
				Help: "Polling subscription ticks by resource and result.",
			},
			[]string{"resource", "result"},
		),
		SubscriptionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portal_subscriptions_active",
				Help: "Number of active polling subscriptions.",
			},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_notifications_total",
				Help: "User-visible notices by level.",
			},
			[]string{"level"},
		),
		registry: reg,
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.ProbeFailures)
	reg.MustRegister(m.PollTicksTotal)
	reg.MustRegister(m.SubscriptionsActive)
	reg.MustRegister(m.NotificationsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (for testing).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest increments the request counter.
func (m *Metrics) RecordRequest(method, outcome string) {
	m.RequestsTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveDuration records request duration.
func (m *Metrics) ObserveDuration(method string, seconds float64) {
	m.RequestDuration.WithLabelValues(method).Observe(seconds)
}

// RecordProbeFailure counts a failed reachability probe.
func (m *Metrics) RecordProbeFailure() {
	m.ProbeFailures.Inc()
}

// RecordPollTick counts a polling tick. resource is a kind such as "chat", never an id.
func (m *Metrics) RecordPollTick(resource, result string) {
	m.PollTicksTotal.WithLabelValues(resource, result).Inc()
}

// SubscriptionStarted and SubscriptionStopped track active subscriptions.
func (m *Metrics) SubscriptionStarted() { m.SubscriptionsActive.Inc() }
func (m *Metrics) SubscriptionStopped() { m.SubscriptionsActive.Dec() }

// RecordNotification counts a user-visible notice.
func (m *Metrics) RecordNotification(level string) {
	m.NotificationsTotal.WithLabelValues(level).Inc()
}
