package observability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for the API and worker processes. Every
// method is safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	transitionsTotal      *prometheus.CounterVec
	transitionsRejected   *prometheus.CounterVec
	eventsPublishedTotal  *prometheus.CounterVec
	eventsDeliveredTotal  *prometheus.CounterVec
	eventsFailedTotal     *prometheus.CounterVec
	eventDeliveryDuration *prometheus.HistogramVec
	workerInflight        *prometheus.GaugeVec
	retryScheduledTotal   *prometheus.CounterVec
	staleRequeuedTotal    prometheus.Counter
}

const metricsNamespace = "milkbank"

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return factory.NewHistogramVec(prometheus.HistogramOpts{Namespace: metricsNamespace, Name: name, Help: help, Buckets: buckets}, labels)
	}

	return &Metrics{
		registry: registry,

		httpRequestsTotal: counter("http_requests_total",
			"HTTP requests by method, route and status.", "method", "path", "status"),
		httpRequestDuration: histogram("http_request_duration_seconds",
			"HTTP request latency by method and route.", prometheus.DefBuckets, "method", "path"),

		transitionsTotal: counter("transitions_total",
			"Committed lifecycle transitions by entity and status pair.", "entity", "from", "to"),
		transitionsRejected: counter("transitions_rejected_total",
			"Lifecycle operations rejected by entity and error class.", "entity", "reason"),

		eventsPublishedTotal: counter("events_published_total",
			"Outbox events relayed to the event bus.", "aggregate"),
		eventsDeliveredTotal: counter("events_delivered_total",
			"Events accepted by the collaborator webhook.", "type"),
		eventsFailedTotal: counter("events_failed_total",
			"Events that ended in failed state.", "type", "reason"),
		eventDeliveryDuration: histogram("event_delivery_duration_seconds",
			"Collaborator webhook call latency by event type.", prometheus.ExponentialBuckets(0.01, 2, 12), "type"),
		retryScheduledTotal: counter("retry_scheduled_total",
			"Event deliveries scheduled for another attempt.", "type"),

		workerInflight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "worker_inflight",
			Help:      "Deliveries currently being processed by queue.",
		}, []string{"queue"}),
		staleRequeuedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_stale_requeued_total",
			Help:      "In-flight events returned to pending after stalling.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncTransition(entity, from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(normalizeLabel(entity), from, to).Inc()
}

func (m *Metrics) IncTransitionRejected(entity, reason string) {
	if m == nil {
		return
	}
	m.transitionsRejected.WithLabelValues(normalizeLabel(entity), normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncEventPublished(aggregate string) {
	if m == nil {
		return
	}
	m.eventsPublishedTotal.WithLabelValues(normalizeLabel(aggregate)).Inc()
}

func (m *Metrics) IncEventDelivered(eventType string) {
	if m == nil {
		return
	}
	m.eventsDeliveredTotal.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *Metrics) IncEventFailed(eventType string, reason string) {
	if m == nil {
		return
	}
	m.eventsFailedTotal.WithLabelValues(normalizeLabel(eventType), normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveDeliveryDuration(eventType string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.eventDeliveryDuration.WithLabelValues(normalizeLabel(eventType)).Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight(queue string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(queue)).Inc()
}

func (m *Metrics) DecWorkerInFlight(queue string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(queue)).Dec()
}

func (m *Metrics) IncRetryScheduled(eventType string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *Metrics) AddStaleRequeued(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.staleRequeuedTotal.Add(float64(n))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
