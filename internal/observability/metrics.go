package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors for the dispatch and realtime flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDuration        *prometheus.HistogramVec
	notificationsCreatedTotal  *prometheus.CounterVec
	notificationsSentTotal     *prometheus.CounterVec
	notificationsFailedTotal   *prometheus.CounterVec
	notificationsBlockedTotal  *prometheus.CounterVec
	retryScheduledTotal        *prometheus.CounterVec
	notificationSendDuration   *prometheus.HistogramVec
	realtimeConnections        *prometheus.GaugeVec
	realtimeEventsTotal        *prometheus.CounterVec
	connectionAttemptsRejected prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notification_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		notificationsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_engine",
				Name:      "notifications_created_total",
				Help:      "Total number of notifications created by category and channel.",
			},
			[]string{"category", "channel"},
		),
		notificationsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_engine",
				Name:      "notifications_sent_total",
				Help:      "Total number of notifications sent successfully.",
			},
			[]string{"channel"},
		),
		notificationsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_engine",
				Name:      "notifications_failed_total",
				Help:      "Total number of notifications that ended in failed state.",
			},
			[]string{"channel", "reason"},
		),
		notificationsBlockedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_engine",
				Name:      "notifications_blocked_total",
				Help:      "Total number of sends suppressed by user preferences.",
			},
			[]string{"category", "channel"},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_engine",
				Name:      "retry_scheduled_total",
				Help:      "Total number of notifications scheduled for retry.",
			},
			[]string{"channel"},
		),
		notificationSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notification_engine",
				Name:      "notification_send_duration_seconds",
				Help:      "Channel sender call duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		realtimeConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "notification_engine",
				Name:      "realtime_connections",
				Help:      "Current number of live realtime connections grouped by transport.",
			},
			[]string{"transport"},
		),
		realtimeEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_engine",
				Name:      "realtime_events_total",
				Help:      "Total number of realtime events pushed grouped by type.",
			},
			[]string{"type"},
		),
		connectionAttemptsRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "notification_engine",
				Name:      "connection_attempts_rejected_total",
				Help:      "Total number of connection attempts rejected by the rate limiter.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.notificationsCreatedTotal,
		m.notificationsSentTotal,
		m.notificationsFailedTotal,
		m.notificationsBlockedTotal,
		m.retryScheduledTotal,
		m.notificationSendDuration,
		m.realtimeConnections,
		m.realtimeEventsTotal,
		m.connectionAttemptsRejected,
	)

	return m
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request counts and durations per route.
func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		m.recordHTTPRequest(c.Method(), routePath(c), statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncNotificationCreated(category, channel string) {
	if m == nil {
		return
	}
	m.notificationsCreatedTotal.WithLabelValues(normalizeLabel(category), normalizeLabel(channel)).Inc()
}

func (m *Metrics) IncNotificationSent(channel string) {
	if m == nil {
		return
	}
	m.notificationsSentTotal.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) IncNotificationFailed(channel string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.notificationsFailedTotal.WithLabelValues(normalizeLabel(channel), reasonLabel).Inc()
}

func (m *Metrics) IncNotificationBlocked(category, channel string) {
	if m == nil {
		return
	}
	m.notificationsBlockedTotal.WithLabelValues(normalizeLabel(category), normalizeLabel(channel)).Inc()
}

func (m *Metrics) IncRetryScheduled(channel string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) ObserveNotificationSendDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.notificationSendDuration.WithLabelValues(normalizeLabel(channel)).Observe(seconds)
}

func (m *Metrics) IncRealtimeConnections(transport string) {
	if m == nil {
		return
	}
	m.realtimeConnections.WithLabelValues(normalizeLabel(transport)).Inc()
}

func (m *Metrics) DecRealtimeConnections(transport string) {
	if m == nil {
		return
	}
	m.realtimeConnections.WithLabelValues(normalizeLabel(transport)).Dec()
}

func (m *Metrics) IncRealtimeEvent(eventType string) {
	if m == nil {
		return
	}
	m.realtimeEventsTotal.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *Metrics) IncConnectionAttemptRejected() {
	if m == nil {
		return
	}
	m.connectionAttemptsRejected.Inc()
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
		if fiberErr, ok := err.(*fiber.Error); ok {
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
