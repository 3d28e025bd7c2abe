package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the API registry. All methods are nil-safe so components can
// run without instrumentation in tests.
type Metrics struct {
	registry     *prometheus.Registry
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	quotes       *prometheus.CounterVec
	carrierCalls *prometheus.CounterVec
	breakerState *prometheus.GaugeVec
	relayTasks   *prometheus.CounterVec
	webhooks     *prometheus.CounterVec
}

// New registers the storefront collectors plus the Go and process collectors
// on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipping_quotes_total",
			Help: "Resolved shipping quotes by mode and source.",
		}, []string{"mode", "source"}),
		carrierCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carrier_calls_total",
			Help: "Carrier API calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "carrier_breaker_state",
			Help: "Carrier circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"breaker"}),
		relayTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_tasks_total",
			Help: "Notification relay tasks by task and outcome.",
		}, []string{"task", "outcome"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound webhook events by source and outcome.",
		}, []string{"source", "outcome"}),
	}
	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.quotes,
		m.carrierCalls,
		m.breakerState,
		m.relayTasks,
		m.webhooks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = normalizeLabel(route)
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) IncQuote(mode, source string) {
	if m == nil {
		return
	}
	m.quotes.WithLabelValues(normalizeLabel(mode), normalizeLabel(source)).Inc()
}

func (m *Metrics) IncCarrierCall(operation, outcome string) {
	if m == nil {
		return
	}
	m.carrierCalls.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(normalizeLabel(name)).Set(float64(state))
}

func (m *Metrics) IncRelayTask(task, outcome string) {
	if m == nil {
		return
	}
	m.relayTasks.WithLabelValues(normalizeLabel(task), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncWebhook(source, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
