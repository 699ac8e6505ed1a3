// Package metrics exposes Prometheus collectors for the mirror service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
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
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	itemStoreEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mirror_item_store_entries",
			Help: "Number of items currently held in the item store.",
		},
	)

	itemStoreEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mirror_item_store_evictions_total",
			Help: "Total number of items evicted from the item store.",
		},
	)

	topListSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mirror_top_list_size",
			Help: "Length of the currently published top list.",
		},
	)

	refreshCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_refresh_cycles_total",
			Help: "Total number of refresh cycles, labeled by result.",
		},
		[]string{"result"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mirror_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations before remote fetches.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"host"},
	)
)

// SanitizeSite extracts a lowercase hostname from a URL.
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

// ObserveHTTPRequest records metrics for one served request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetItemStoreEntries records the current item store size.
func SetItemStoreEntries(n int) {
	itemStoreEntries.Set(float64(n))
}

// ObserveItemEviction counts one LRU eviction.
func ObserveItemEviction() {
	itemStoreEvictionsTotal.Inc()
}

// SetTopListSize records the length of the published top list.
func SetTopListSize(n int) {
	topListSize.Set(float64(n))
}

// StoreObserver reports item store and top list changes to the process-wide
// collectors. It satisfies memory.Observer.
type StoreObserver struct{}

// ItemStoreEntries implements memory.Observer.
func (StoreObserver) ItemStoreEntries(n int) { SetItemStoreEntries(n) }

// ItemEvicted implements memory.Observer.
func (StoreObserver) ItemEvicted() { ObserveItemEviction() }

// TopListSize implements memory.Observer.
func (StoreObserver) TopListSize(n int) { SetTopListSize(n) }

// ObserveRefresh counts a finished refresh cycle ("success" or "error").
func ObserveRefresh(result string) {
	refreshCyclesTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records how long a fetch waited on the rate limiter.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// Middleware records request counts and latencies labeled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}
