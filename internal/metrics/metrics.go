// Package metrics exposes Prometheus collectors for the orchestrator service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	spiderPagesTotal           *prometheus.CounterVec
	spiderBytesTotal           *prometheus.CounterVec
	spiderTasksTotal           *prometheus.CounterVec
	spiderTasksRunning         prometheus.Gauge
	spiderItemsIngestedTotal   *prometheus.CounterVec
	spiderItemsDroppedTotal    *prometheus.CounterVec
	spiderStopTimeoutsTotal    prometheus.Counter
	spiderRateLimitedTotal     prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		spiderPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spider_pages_total",
				Help: "Total number of pages visited, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		spiderBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spider_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		spiderTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spider_tasks_total",
				Help: "Total number of tasks reaching a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		spiderTasksRunning = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "spider_tasks_running",
				Help: "Number of tasks currently running.",
			},
		)

		spiderItemsIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spider_items_ingested_total",
				Help: "Total number of harvested records accepted, labeled by spider.",
			},
			[]string{"spider"},
		)

		spiderItemsDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spider_items_dropped_total",
				Help: "Total number of records dropped by the pipeline, labeled by reason.",
			},
			[]string{"reason"},
		)

		spiderStopTimeoutsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "spider_stop_timeouts_total",
				Help: "Total stops that exceeded the teardown deadline and were forced.",
			},
		)

		spiderRateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "spider_rate_limited_total",
				Help: "Total API requests rejected by the rate limiter.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the page metrics for one visited URL.
func ObservePage(site string, status string, bytesFetched int) {
	sanitizedSite := SanitizeSite(site)
	spiderPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		spiderBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveTaskTerminal increments the terminal-task counter for the given status.
func ObserveTaskTerminal(status string) {
	spiderTasksTotal.WithLabelValues(status).Inc()
}

// IncRunningTasks increments the running-tasks gauge.
func IncRunningTasks() {
	spiderTasksRunning.Inc()
}

// DecRunningTasks decrements the running-tasks gauge.
func DecRunningTasks() {
	spiderTasksRunning.Dec()
}

// ObserveItemsIngested adds accepted records to the per-spider counter.
func ObserveItemsIngested(spider string, count int) {
	if count > 0 {
		spiderItemsIngestedTotal.WithLabelValues(spider).Add(float64(count))
	}
}

// ObserveItemDropped counts a record rejected by the pipeline.
func ObserveItemDropped(reason string) {
	spiderItemsDroppedTotal.WithLabelValues(reason).Inc()
}

// ObserveStopTimeout counts a stop that had to be forced after the deadline.
func ObserveStopTimeout() {
	spiderStopTimeoutsTotal.Inc()
}

// ObserveRateLimited counts a request rejected by admission control.
func ObserveRateLimited() {
	spiderRateLimitedTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
