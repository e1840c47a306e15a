// Package metrics registers the prometheus instruments shared across
// both processes.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metergate_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "metergate_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metergate_ratelimit_decisions_total",
		Help: "Admission decisions by outcome (allowed, denied, unlimited).",
	}, []string{"outcome"})

	UpstreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "metergate_upstream_duration_seconds",
		Help:    "Upstream forward latency.",
		Buckets: prometheus.DefBuckets,
	})

	DrainedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "metergate_usage_drained_records_total",
		Help: "Usage records persisted by the drain task.",
	})

	SchedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metergate_scheduler_job_runs_total",
		Help: "Scheduler job executions by job name.",
	}, []string{"job"})

	SchedulerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metergate_scheduler_job_errors_total",
		Help: "Scheduler job failures by job name.",
	}, []string{"job"})
)

// GinMiddleware records request counts and latency per route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(started).Seconds())
	}
}
