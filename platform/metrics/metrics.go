// Package metrics bundles the Prometheus collectors shared by the API and scheduler processes.
// This is part of the platform layer and contains no business logic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leadrelay"

// Metrics holds the application collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	sends        *prometheus.CounterVec
	inbound      *prometheus.CounterVec
	relayRoutes  *prometheus.CounterVec
	sweepActions *prometheus.CounterVec
	sweepRuns    prometheus.Counter
	sweepLatency prometheus.Histogram
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg and serves them from g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: g,
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound messages by kind and outcome.",
		}, []string{"kind", "outcome"}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Inbound webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		relayRoutes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_routes_total",
			Help:      "Relay decisions for inbound messages.",
		}, []string{"route"}),
		sweepActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_actions_total",
			Help:      "Lifecycle transitions applied by the sweep.",
		}, []string{"action"}),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Completed sweep passes.",
		}),
		sweepLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of a sweep pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests received.",
		}, []string{"method", "path", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of request durations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	reg.MustRegister(m.sends, m.inbound, m.relayRoutes, m.sweepActions, m.sweepRuns, m.sweepLatency, m.requests, m.duration)
	return m
}

// MessageSent records an outbound send attempt. kind is the template kind or "text".
func (m *Metrics) MessageSent(kind string, err error) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(kind, outcome(err)).Inc()
}

// WebhookEvent records an inbound event of the given type.
func (m *Metrics) WebhookEvent(eventType string, err error) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(eventType, outcome(err)).Inc()
}

// RelayRoute records how the relay handled an inbound message.
func (m *Metrics) RelayRoute(route string) {
	if m == nil {
		return
	}
	m.relayRoutes.WithLabelValues(route).Inc()
}

// SweepAction records one transition applied to a lead during a sweep.
func (m *Metrics) SweepAction(action string) {
	if m == nil {
		return
	}
	m.sweepActions.WithLabelValues(action).Inc()
}

// SweepCompleted records a finished sweep pass.
func (m *Metrics) SweepCompleted(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sweepRuns.Inc()
	m.sweepLatency.Observe(elapsed.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware counts requests by route template so path parameters do not explode cardinality.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.requests.WithLabelValues(c.Request.Method, path, status).Inc()
		m.duration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
