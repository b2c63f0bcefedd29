package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"hobbymeet-sync/internal/models"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_http_requests_total",
			Help: "Total number of HTTP requests processed by the bridge API.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	connectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_connection_state",
			Help: "1 for the current realtime connection state, 0 otherwise.",
		},
		[]string{"state"},
	)
	reconnectAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_reconnect_attempts_total",
			Help: "Total number of scheduled realtime reconnect attempts.",
		},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	messageOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_message_outcomes_total",
			Help: "Message stream reducer outcomes.",
		},
		[]string{"outcome"},
	)
	notificationOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_notification_outcomes_total",
			Help: "Notification relay push outcomes.",
		},
		[]string{"outcome"},
	)
	notificationPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_notification_polls_total",
			Help: "Unread-count polls by result.",
		},
		[]string{"result"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		connectionState,
		reconnectAttemptsTotal,
		wsActiveConnections,
		wsEventsTotal,
		messageOutcomesTotal,
		notificationOutcomesTotal,
		notificationPollsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// SetConnState marks state as the only active connection state.
func SetConnState(state models.ConnState) {
	for _, s := range models.AllConnStates {
		v := 0.0
		if s == state {
			v = 1
		}
		connectionState.WithLabelValues(string(s)).Set(v)
	}
}

func IncReconnectAttempt() {
	reconnectAttemptsTotal.Inc()
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncMessageOutcome(outcome string) {
	messageOutcomesTotal.WithLabelValues(outcome).Inc()
}

func IncNotificationOutcome(outcome string) {
	notificationOutcomesTotal.WithLabelValues(outcome).Inc()
}

func IncNotificationPoll(result string) {
	notificationPollsTotal.WithLabelValues(result).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
