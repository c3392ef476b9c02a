// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "exstem_gate"

// Outcome labels.
const (
	OutcomeOK               = "ok"
	OutcomeNotFound         = "not_found"
	OutcomeDenied           = "denied"
	OutcomeAlreadyCompleted = "already_completed"
	OutcomeInvalidToken     = "invalid_token"
	OutcomeInvalidAnswers   = "invalid_answers"
	OutcomeError            = "error"
)

var (
	SessionsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_issued_total",
		Help:      "Exam sessions created.",
	})

	SessionsSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_superseded_total",
		Help:      "Live sessions tagged as superseded by a newer session of the same pair.",
	})

	SubmissionsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_recorded_total",
		Help:      "Submissions persisted together with their session completion.",
	})

	Outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outcomes_total",
		Help:      "Results of session lifecycle operations.",
	}, []string{"operation", "outcome"})

	AuditEventsFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_events_flushed_total",
		Help:      "Audit events written by the audit worker.",
	})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Observe records the outcome of an operation.
func Observe(operation, outcome string) {
	Outcomes.WithLabelValues(operation, outcome).Inc()
}

// Middleware records request latency labelled by the matched route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
