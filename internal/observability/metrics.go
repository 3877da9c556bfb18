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

// Metrics stores Prometheus collectors used by the API and submission flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec
	submissionOutcomesTotal   *prometheus.CounterVec
	batchSize                 prometheus.Histogram
	lifecycleTransitionsTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "evaluation_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "evaluation_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		submissionOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "evaluation_engine",
				Name:      "submission_outcomes_total",
				Help:      "Total submission items processed, grouped by result bucket and reason.",
			},
			[]string{"bucket", "reason"},
		),
		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "evaluation_engine",
				Name:      "submission_batch_size",
				Help:      "Number of items per submitted batch.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		lifecycleTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "evaluation_engine",
				Name:      "lifecycle_transitions_total",
				Help:      "Total persisted form lifecycle transitions by resulting status.",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.submissionOutcomesTotal,
		m.batchSize,
		m.lifecycleTransitionsTotal,
	)

	return m
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
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

// IncSubmissionOutcome counts one processed batch item. bucket is one of
// success, skipped, error.
func (m *Metrics) IncSubmissionOutcome(bucket string, reason string) {
	if m == nil {
		return
	}
	bucketLabel := strings.TrimSpace(strings.ToLower(bucket))
	if bucketLabel == "" {
		bucketLabel = "unknown"
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.submissionOutcomesTotal.WithLabelValues(bucketLabel, reasonLabel).Inc()
}

func (m *Metrics) ObserveBatchSize(size int) {
	if m == nil {
		return
	}
	if size < 0 {
		size = 0
	}
	m.batchSize.Observe(float64(size))
}

func (m *Metrics) IncLifecycleTransition(status string) {
	if m == nil {
		return
	}
	statusLabel := strings.TrimSpace(strings.ToUpper(status))
	if statusLabel == "" {
		statusLabel = "UNKNOWN"
	}
	m.lifecycleTransitionsTotal.WithLabelValues(statusLabel).Inc()
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
