package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: capacity of the event channel (default 4096).
//   - MaxBatchEvents: flush once this many events are batched (default 1000).
//   - MaxBatchWait: flush this long after the first event of a batch (default 500ms).
//   - SinkTimeout: per-sink deadline for one Consume call (default 10s).
//   - BaseContext: parent context for sink calls (default context.Background()).
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	fetchDropLogInterval  = 5 * time.Second
)

// Drops counts events discarded under backpressure, split by class. Fetch
// events are the bulk of the traffic and losing some only skews latency
// histograms. Lifecycle events (crawl start and done, refresh errors) are
// rare and each loss leaves a crawl unaccounted for in the sinks.
type Drops struct {
	Fetch     int64
	Lifecycle int64
}

// Total is the sum of both classes.
func (d Drops) Total() int64 {
	return d.Fetch + d.Lifecycle
}

// Hub batches crawl events and fans them out to registered sinks. Emit never
// blocks, so a slow sink cannot stall the crawler.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stop   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	fetchDrops     atomic.Int64
	lifecycleDrops atomic.Int64
	fetchDropWarn  rate.Sometimes
	closed         atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine and returns a Hub ready for Emit.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	h := newHub(cfg, sinks)
	go h.run()
	return h
}

func newHub(cfg Config, sinks []Sink) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:           cfg,
		sinks:         append([]Sink(nil), sinks...),
		events:        make(chan Event, cfg.BufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		logger:        logger,
		fetchDropWarn: rate.Sometimes{First: 1, Interval: fetchDropLogInterval},
	}
}

// Emit enqueues evt without blocking. Invalid events and events emitted after
// Close are discarded; a full buffer drops the event and counts it.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid crawl event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.recordDrop(evt)
	}
}

func (h *Hub) recordDrop(evt Event) {
	if isFetchStage(evt.Stage) {
		h.fetchDrops.Add(1)
		h.fetchDropWarn.Do(func() {
			h.logger.Warn("fetch events dropped due to backpressure",
				zap.Int64("dropped_total", h.fetchDrops.Load()),
			)
		})
		return
	}
	h.lifecycleDrops.Add(1)
	h.logger.Error("crawl lifecycle event dropped due to backpressure",
		zap.Stringer("crawl_id", evt.CrawlUUID()),
		zap.String("stage", string(evt.Stage)),
		zap.String("trigger", string(evt.Trigger)),
	)
}

func isFetchStage(s Stage) bool {
	return s == StageFetchDone || s == StageFetchError
}

// Dropped reports events discarded because the buffer was full.
func (h *Hub) Dropped() Drops {
	if h == nil {
		return Drops{}
	}
	return Drops{Fetch: h.fetchDrops.Load(), Lifecycle: h.lifecycleDrops.Load()}
}

// Close stops accepting events, flushes what is buffered, closes the sinks
// and waits for the batching goroutine, or for ctx. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// run owns the batch. The flush deadline is armed by the first event of a
// batch, so a steady trickle of fetch events cannot postpone delivery.
func (h *Hub) run() {
	defer close(h.done)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	deadline := time.NewTimer(h.cfg.MaxBatchWait)
	deadline.Stop()
	defer deadline.Stop()

	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			switch {
			case len(batch) >= h.cfg.MaxBatchEvents:
				deadline.Stop()
				batch = h.flush(batch)
			case len(batch) == 1:
				deadline.Reset(h.cfg.MaxBatchWait)
			}
		case <-deadline.C:
			batch = h.flush(batch)
		case <-h.stop:
			deadline.Stop()
			h.drain(batch)
			h.closeSinks()
			return
		}
	}
}

// drain empties the channel after Close; Emit no longer enqueues by then.
func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.flush(batch)
			}
		default:
			h.flush(batch)
			return
		}
	}
}

// flush hands a copy of batch to every sink and returns batch emptied for reuse.
func (h *Hub) flush(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	delivered := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, delivered); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err), zap.Int("events", len(delivered)))
		}
		cancel()
	}
	return batch[:0]
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
