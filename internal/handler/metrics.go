package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openfilz/openfilz-core-sub000/internal/auditchain"
)

var (
	auditRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_http_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	auditRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audit_http_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	auditAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_chain_appends_total",
		Help: "Append attempts by action and outcome (appended, skipped, error).",
	}, []string{"action", "outcome"})

	auditAppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audit_chain_append_duration_seconds",
		Help:    "Time from append request to persisted entry, including queueing.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	auditVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_chain_verifications_total",
		Help: "Verification runs by resulting status.",
	}, []string{"status"})

	auditChainEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audit_chain_entries",
		Help: "Entries seen by the most recent verification.",
	})

	auditChainValid = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audit_chain_valid",
		Help: "1 when the most recent verification passed, 0 when it found a broken link.",
	})

	auditInvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_chain_invariant_violations_total",
		Help: "Appends rejected because they would have forked the chain.",
	})

	auditAlertDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_alert_deliveries_total",
		Help: "Total alert webhook deliveries by success status.",
	}, []string{"status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		auditRequestsTotal.WithLabelValues(method, path, status).Inc()
		auditRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAppend records an append outcome. Its signature matches
// auditchain.MetricsRecorder.
func RecordAppend(action auditchain.Action, outcome string, elapsed time.Duration) {
	auditAppendsTotal.WithLabelValues(string(action), outcome).Inc()
	if outcome == "appended" {
		auditAppendDuration.Observe(elapsed.Seconds())
	}
}

// RecordVerification records a verification result. Its signature matches
// auditchain.Observer.
func RecordVerification(res *auditchain.VerificationResult) {
	auditVerificationsTotal.WithLabelValues(string(res.Status)).Inc()
	auditChainEntries.Set(float64(res.TotalEntries))
	if res.Valid() {
		auditChainValid.Set(1)
	} else {
		auditChainValid.Set(0)
	}
}

// RecordInvariantViolation records a rejected forking append.
func RecordInvariantViolation() {
	auditInvariantViolations.Inc()
}

// RecordAlertDelivery records an alert webhook delivery attempt.
func RecordAlertDelivery(success bool) {
	if success {
		auditAlertDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		auditAlertDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}
