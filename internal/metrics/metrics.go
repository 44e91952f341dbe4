package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"method", "endpoint"},
	)

	SessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engagement_sessions_started_total",
		Help: "Tracking sessions started",
	})

	SessionsFinished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engagement_sessions_finished_total",
		Help: "Tracking sessions finalized into a report",
	})

	SamplingRounds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engagement_sampling_rounds_total",
		Help: "Sampling rounds applied to an active session",
	})

	SamplingSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engagement_sampling_skipped_total",
		Help: "Sampling rounds skipped because the sampler was unavailable",
	})

	Alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_alerts_total",
			Help: "Alerts emitted by type",
		},
		[]string{"type"},
	)

	ClassAttention = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engagement_class_attention",
		Help: "Most recent class-wide attention of the active session",
	})

	QueuePublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engagement_queue_publish_failures_total",
		Help: "Session events that could not be published",
	})

	WorkerMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_worker_messages_total",
			Help: "Queue messages handled by the worker by type and outcome",
		},
		[]string{"type", "outcome"},
	)
)

// Init registers every collector with the default registry. Call once from main.
func Init() {
	prometheus.MustRegister(
		RequestCounter,
		RequestDuration,
		SessionsStarted,
		SessionsFinished,
		SamplingRounds,
		SamplingSkipped,
		Alerts,
		ClassAttention,
		QueuePublishFailures,
		WorkerMessages,
	)
}

func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		RequestCounter.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		RequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
