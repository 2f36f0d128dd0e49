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

const metricsNamespace = "estate_dispatch"

// Metrics stores Prometheus collectors used by the API and the queue processors.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	itemsSentTotal      *prometheus.CounterVec
	itemAttemptsFailed  *prometheus.CounterVec
	itemsFailedTotal    *prometheus.CounterVec
	dispatchDuration    *prometheus.HistogramVec
	batchRunsTotal      *prometheus.CounterVec
	batchInflight       *prometheus.GaugeVec
	campaignRunsTotal   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		itemsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "items_sent_total",
				Help:      "Total number of queue items dispatched successfully.",
			},
			[]string{"queue"},
		),
		itemAttemptsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "item_attempts_failed_total",
				Help:      "Failed dispatch attempts that left the item pending, by queue and transience.",
			},
			[]string{"queue", "transient"},
		),
		itemsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "items_failed_total",
				Help:      "Total number of queue items that exhausted their attempt budget.",
			},
			[]string{"queue"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Collaborator call duration in seconds grouped by queue.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"queue"},
		),
		batchRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "batch_runs_total",
				Help:      "Processor invocations grouped by queue and outcome.",
			},
			[]string{"queue", "outcome"},
		),
		batchInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "batch_inflight",
				Help:      "Processor runs currently draining a queue.",
			},
			[]string{"queue"},
		),
		campaignRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "campaign_runs_total",
				Help:      "Campaign executions grouped by final campaign status.",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.itemsSentTotal,
		m.itemAttemptsFailed,
		m.itemsFailedTotal,
		m.dispatchDuration,
		m.batchRunsTotal,
		m.batchInflight,
		m.campaignRunsTotal,
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

func (m *Metrics) IncItemSent(queue string) {
	if m == nil {
		return
	}
	m.itemsSentTotal.WithLabelValues(normalizeLabel(queue)).Inc()
}

func (m *Metrics) IncAttemptFailed(queue string, transient bool) {
	if m == nil {
		return
	}
	m.itemAttemptsFailed.WithLabelValues(normalizeLabel(queue), strconv.FormatBool(transient)).Inc()
}

func (m *Metrics) IncItemFailed(queue string) {
	if m == nil {
		return
	}
	m.itemsFailedTotal.WithLabelValues(normalizeLabel(queue)).Inc()
}

func (m *Metrics) ObserveDispatchDuration(queue string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.dispatchDuration.WithLabelValues(normalizeLabel(queue)).Observe(seconds)
}

// IncBatchRun records a processor invocation; outcome is one of
// "completed", "empty", "busy" or "error".
func (m *Metrics) IncBatchRun(queue string, outcome string) {
	if m == nil {
		return
	}
	m.batchRunsTotal.WithLabelValues(normalizeLabel(queue), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncBatchInFlight(queue string) {
	if m == nil {
		return
	}
	m.batchInflight.WithLabelValues(normalizeLabel(queue)).Inc()
}

func (m *Metrics) DecBatchInFlight(queue string) {
	if m == nil {
		return
	}
	m.batchInflight.WithLabelValues(normalizeLabel(queue)).Dec()
}

func (m *Metrics) IncCampaignRun(status string) {
	if m == nil {
		return
	}
	m.campaignRunsTotal.WithLabelValues(normalizeLabel(status)).Inc()
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
