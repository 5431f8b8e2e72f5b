// Package metrics exposes Prometheus collectors for HTTP traffic, message
// dispatch, credit movement and webhook processing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpDuration *prometheus.HistogramVec
	messages     *prometheus.CounterVec
	credits      *prometheus.CounterVec
	webhooks     *prometheus.CounterVec
}

// New registers every collector on a fresh registry, so tests and multiple
// servers in one process do not collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "textblast_http_request_duration_seconds",
				Help:    "Duration of HTTP requests by route and status.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "textblast_messages_total",
				Help: "Messages handed to the carrier by kind and outcome.",
			},
			[]string{"kind", "status"}, // sent | failed
		),
		credits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "textblast_credits_total",
				Help: "Credits moved through the ledger by reason.",
			},
			[]string{"reason"}, // debit | refund | credit
		),
		webhooks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "textblast_webhook_events_total",
				Help: "Payment webhook events by type and outcome.",
			},
			[]string{"type", "outcome"},
		),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpDuration,
		m.messages,
		m.credits,
		m.webhooks,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

func (m *Metrics) MessageDispatched(kind, status string) {
	m.messages.WithLabelValues(kind, status).Inc()
}

// BalanceChanged counts the absolute size of every ledger movement.
func (m *Metrics) BalanceChanged(_ int64, delta int64, reason string) {
	if delta < 0 {
		delta = -delta
	}
	m.credits.WithLabelValues(reason).Add(float64(delta))
}

func (m *Metrics) WebhookProcessed(eventType, outcome string) {
	m.webhooks.WithLabelValues(eventType, outcome).Inc()
}
