package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_http_requests_total",
			Help: "Total number of HTTP requests processed by the presence service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "presence_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_ws_active_connections",
			Help: "Number of registered websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_ws_events_total",
			Help: "Total number of websocket lifecycle and inbound events.",
		},
		[]string{"event"},
	)
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_messages_total",
			Help: "Direct messages handled by the relay, by outcome.",
		},
		[]string{"outcome"},
	)
	typingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_typing_signals_total",
			Help: "Typing signals handled by the relay, by outcome.",
		},
		[]string{"outcome"},
	)
	presenceWriteErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_status_write_errors_total",
			Help: "Failed presence side-effect writes, by sink.",
		},
		[]string{"sink"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		messagesTotal,
		typingTotal,
		presenceWriteErrorsTotal,
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

func SetWSActive(n int) {
	wsActiveConnections.Set(float64(n))
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

// IncMessage records a relay outcome: persisted, delivered, offline, rejected, failed.
func IncMessage(outcome string) {
	messagesTotal.WithLabelValues(outcome).Inc()
}

// IncTyping records a typing outcome: forwarded, dropped, rejected.
func IncTyping(outcome string) {
	typingTotal.WithLabelValues(outcome).Inc()
}

func IncPresenceWriteError(sink string) {
	presenceWriteErrorsTotal.WithLabelValues(sink).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
