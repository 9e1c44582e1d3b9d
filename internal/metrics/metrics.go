// Package metrics exposes the process-wide Prometheus collectors for the
// HTTP API and the reduce path, plus helpers shared by progress reporting.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	reduceSkippedLinesTotal    prometheus.Counter
	artifactsWrittenTotal      *prometheus.CounterVec
	throttledRequestsTotal     *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call more than once.
func Init() {
	once.Do(func() {
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)

		reduceSkippedLinesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wikindex_reduce_skipped_lines_total",
				Help: "Malformed postings lines skipped by reducers.",
			},
		)

		artifactsWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wikindex_artifacts_written_total",
				Help: "Run artifacts written to blob storage, labeled by kind.",
			},
			[]string{"kind"},
		)

		throttledRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wikindex_api_throttled_requests_total",
				Help: "API requests rejected by the per-client rate limiter, labeled by method.",
			},
			[]string{"method"},
		)
	})
}

// SanitizeSite reduces a URL to its lowercase hostname, or "unknown".
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

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSkippedLines adds n malformed postings lines.
func ObserveSkippedLines(n int) {
	Init()
	if n > 0 {
		reduceSkippedLinesTotal.Add(float64(n))
	}
}

// ObserveArtifact counts one artifact written of the given kind.
func ObserveArtifact(kind string) {
	Init()
	artifactsWrittenTotal.WithLabelValues(kind).Inc()
}

// ObserveThrottled counts one rejected request.
func ObserveThrottled(method string) {
	Init()
	throttledRequestsTotal.WithLabelValues(method).Inc()
}
