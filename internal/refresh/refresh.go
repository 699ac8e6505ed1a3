// Package refresh drives the periodic mirror cycle: load the top list,
// publish it, crawl every story tree, then wait.
package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/hn-mirror/internal/crawler"
	"github.com/JakeFAU/hn-mirror/internal/item"
	"github.com/JakeFAU/hn-mirror/internal/metrics"
	"github.com/JakeFAU/hn-mirror/internal/progress"
)

const (
	// DefaultInterval is the pause between the end of one cycle and the next.
	DefaultInterval = 5 * time.Minute
	// DefaultTopLimit is how many top stories each cycle publishes and crawls.
	DefaultTopLimit = 30
	// DefaultTopic names the notification topic for the in-memory publisher.
	DefaultTopic = "hn-mirror-refresh"
)

// TopIDFetcher loads the ranked top story ids.
type TopIDFetcher interface {
	FetchTopIDs(ctx context.Context) ([]item.ID, error)
}

// TopListWriter publishes a new top list snapshot.
type TopListWriter interface {
	Set(ids []item.ID)
}

// Crawler walks story trees into the item store.
type Crawler interface {
	Crawl(ctx context.Context, seeds []item.ID, trigger progress.Trigger) crawler.Stats
}

// Publisher sends cycle notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Config controls the cycle cadence.
type Config struct {
	Interval time.Duration
	TopLimit int
	Topic    string
}

// Cycle describes one completed refresh.
type Cycle struct {
	ID         uuid.UUID
	TopIDs     []item.ID
	Stats      crawler.Stats
	FinishedAt time.Time
}

// Notification is the payload published after each successful cycle.
type Notification struct {
	CycleID    string    `json:"cycle_id"`
	TopIDs     []item.ID `json:"top_ids"`
	Fetched    int       `json:"fetched"`
	Failed     int       `json:"failed"`
	DurationMS int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// Refresher owns the top list: it is its only writer.
type Refresher struct {
	cfg       Config
	fetcher   TopIDFetcher
	top       TopListWriter
	crawler   Crawler
	publisher Publisher
	emitter   progress.Emitter
	clock     crawler.Clock
	ids       crawler.IDGenerator
	logger    *zap.Logger
}

// New constructs a Refresher. publisher and emitter may be nil.
func New(
	cfg Config,
	fetcher TopIDFetcher,
	top TopListWriter,
	c Crawler,
	publisher Publisher,
	emitter progress.Emitter,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	logger *zap.Logger,
) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.TopLimit <= 0 {
		cfg.TopLimit = DefaultTopLimit
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if emitter == nil {
		emitter = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		cfg:       cfg,
		fetcher:   fetcher,
		top:       top,
		crawler:   c,
		publisher: publisher,
		emitter:   emitter,
		clock:     clock,
		ids:       ids,
		logger:    logger,
	}
}

// RunOnce performs a single cycle. A top-id failure is returned and leaves the
// published top list untouched; item failures are absorbed by the crawl.
func (r *Refresher) RunOnce(ctx context.Context) (Cycle, error) {
	cycle := Cycle{ID: r.newCycleID()}

	ids, err := r.fetcher.FetchTopIDs(ctx)
	if err != nil {
		metrics.ObserveRefresh("error")
		r.emitter.Emit(progress.Event{
			CrawlID: progress.UUIDToBytes(cycle.ID),
			TS:      r.clock.Now(),
			Stage:   progress.StageRefreshError,
			Trigger: progress.TriggerPeriodic,
			Note:    err.Error(),
		})
		return cycle, fmt.Errorf("fetch top ids: %w", err)
	}
	if len(ids) > r.cfg.TopLimit {
		ids = ids[:r.cfg.TopLimit]
	}
	cycle.TopIDs = ids
	r.top.Set(ids)

	cycle.Stats = r.crawler.Crawl(ctx, ids, progress.TriggerPeriodic)
	cycle.FinishedAt = r.clock.Now()
	metrics.ObserveRefresh("success")

	r.notify(ctx, cycle)
	return cycle, nil
}

// Run executes cycles until ctx is cancelled, waiting cfg.Interval after each
// one finishes. A failed cycle is logged and retried after the same delay.
func (r *Refresher) Run(ctx context.Context) {
	r.logger.Info("refresher started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Int("top_limit", r.cfg.TopLimit),
	)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("refresher stopped")
			return
		case <-timer.C:
		}

		cycle, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.Error("refresh cycle failed", zap.Stringer("cycle_id", cycle.ID), zap.Error(err))
		} else {
			r.logger.Info("refresh cycle finished",
				zap.Stringer("cycle_id", cycle.ID),
				zap.Int("top_ids", len(cycle.TopIDs)),
				zap.Int("fetched", cycle.Stats.Fetched),
				zap.Int("failed", cycle.Stats.Failed),
				zap.Duration("duration", cycle.Stats.Duration),
			)
		}
		timer.Reset(r.cfg.Interval)
	}
}

func (r *Refresher) notify(ctx context.Context, cycle Cycle) {
	if r.publisher == nil {
		return
	}
	payload := Notification{
		CycleID:    cycle.ID.String(),
		TopIDs:     cycle.TopIDs,
		Fetched:    cycle.Stats.Fetched,
		Failed:     cycle.Stats.Failed,
		DurationMS: cycle.Stats.Duration.Milliseconds(),
		FinishedAt: cycle.FinishedAt,
	}
	id, err := r.publisher.Publish(ctx, r.cfg.Topic, payload)
	if err != nil {
		r.logger.Warn("refresh notification failed", zap.Stringer("cycle_id", cycle.ID), zap.Error(err))
		return
	}
	r.logger.Debug("refresh notification published", zap.String("message_id", id))
}

func (r *Refresher) newCycleID() uuid.UUID {
	id, err := r.ids.NewRawID()
	if err != nil {
		return uuid.New()
	}
	return id
}
