// Package metrics exposes Prometheus collectors for the crawler service.
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
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	crawlerDomainBackoffsTotal    *prometheus.CounterVec
	crawlerMemoryResidentMB       prometheus.Gauge
	crawlerGateWaitSeconds        *prometheus.HistogramVec
	crawlerStoreRetriesTotal      *prometheus.CounterVec
	crawlerActiveRunners          prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of throttle wait durations before a fetch.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		crawlerDomainBackoffsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_domain_backoffs_total",
				Help: "Times a domain entered exponential backoff after repeated failures.",
			},
			[]string{"domain"},
		)

		crawlerMemoryResidentMB = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_memory_resident_mb",
				Help: "Last resident memory sample taken by the memory gate.",
			},
		)

		crawlerGateWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_memory_gate_wait_seconds",
				Help:    "Time spent waiting for the memory gate before a batch, labeled by outcome.",
				Buckets: []float64{0.01, 0.1, 1, 5, 15, 30, 60},
			},
			[]string{"outcome"},
		)

		crawlerStoreRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_store_retries_total",
				Help: "Result store write retries, labeled by operation.",
			},
			[]string{"op"},
		)

		crawlerActiveRunners = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_runners",
				Help: "Number of runners currently driving a job.",
			},
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

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a throttle wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}

// ObserveDomainBackoff counts a domain entering backoff.
func ObserveDomainBackoff(domain string) {
	Init()
	crawlerDomainBackoffsTotal.WithLabelValues(SanitizeSite(domain)).Inc()
}

// ObserveMemorySample records the latest resident memory sample in MB.
func ObserveMemorySample(mb float64) {
	Init()
	crawlerMemoryResidentMB.Set(mb)
}

// ObserveGateWait records how long batch admission waited and whether it was admitted.
func ObserveGateWait(admitted bool, duration time.Duration) {
	Init()
	outcome := "admitted"
	if !admitted {
		outcome = "timeout"
	}
	crawlerGateWaitSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveStoreRetry counts a retried store operation.
func ObserveStoreRetry(op string) {
	Init()
	crawlerStoreRetriesTotal.WithLabelValues(op).Inc()
}

// IncActiveRunners increments the active runners gauge.
func IncActiveRunners() {
	Init()
	crawlerActiveRunners.Inc()
}

// DecActiveRunners decrements the active runners gauge.
func DecActiveRunners() {
	Init()
	crawlerActiveRunners.Dec()
}
