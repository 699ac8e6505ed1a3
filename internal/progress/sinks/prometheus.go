package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/hn-mirror/internal/progress"
)

// PrometheusSink exports crawl progress metrics via Prometheus. It owns the
// collectors for crawls started/completed/running and per-outcome fetch counters.
type PrometheusSink struct {
	crawlsStarted *prometheus.CounterVec
	crawlsRunning prometheus.Gauge
	crawlRuntime  *prometheus.HistogramVec
	refreshErrors prometheus.Counter

	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	tracker *crawlTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		crawlsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_crawls_started_total",
			Help: "Total crawls started partitioned by trigger.",
		}, []string{"trigger"}),
		crawlsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mirror_crawls_running",
			Help: "Current number of running crawls.",
		}),
		crawlRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mirror_crawl_runtime_seconds",
			Help:    "Wall time per completed crawl.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"trigger"}),
		refreshErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mirror_refresh_errors_total",
			Help: "Refresh cycles that failed to load the top list.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_fetches_total",
			Help: "Item fetches partitioned by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mirror_fetch_duration_seconds",
			Help:    "Item fetch latency partitioned by outcome.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"outcome"}),
		tracker: newCrawlTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.crawlsStarted,
		s.crawlsRunning,
		s.crawlRuntime,
		s.refreshErrors,
		s.fetches,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	trigger := string(evt.Trigger)
	switch evt.Stage {
	case progress.StageCrawlStart:
		s.crawlsStarted.WithLabelValues(trigger).Inc()
		if s.tracker.start(evt.CrawlID) {
			s.crawlsRunning.Inc()
		}
	case progress.StageCrawlDone:
		if evt.Dur > 0 {
			s.crawlRuntime.WithLabelValues(trigger).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.CrawlID) {
			s.crawlsRunning.Dec()
		}
	case progress.StageFetchDone:
		s.observeFetch(trigger, "success", evt)
	case progress.StageFetchError:
		s.observeFetch(trigger, "error", evt)
	case progress.StageRefreshError:
		s.refreshErrors.Inc()
	}
}

func (s *PrometheusSink) observeFetch(trigger, outcome string, evt progress.Event) {
	s.fetches.WithLabelValues(trigger, outcome).Inc()
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type crawlTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newCrawlTracker() *crawlTracker {
	return &crawlTracker{running: make(map[[16]byte]struct{})}
}

func (t *crawlTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *crawlTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
