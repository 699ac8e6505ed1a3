package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/hn-mirror/internal/item"
	"github.com/JakeFAU/hn-mirror/internal/progress"
)

// Stats summarizes one Crawl invocation.
type Stats struct {
	CrawlID uuid.UUID
	// Seeds is the number of seed ids supplied by the caller.
	Seeds int
	// Fetched and Failed count launched fetches by outcome.
	Fetched int
	Failed  int
	// Duplicates counts ids popped from pending after they were already seen.
	Duplicates int
	// Abandoned counts pending ids dropped because ctx was cancelled.
	Abandoned int
	Duration  time.Duration
}

// Crawler walks the item graph from a set of seeds.
type Crawler struct {
	store   ItemStore
	fetcher Fetcher
	clock   Clock
	ids     IDGenerator
	emitter progress.Emitter
	pool    *semaphore.Weighted
	cfg     Config
	logger  *zap.Logger
}

type fetchResult struct {
	id  item.ID
	it  *item.Item
	err error
	dur time.Duration
}

// New constructs a Crawler. A nil emitter discards events and a nil logger
// discards logs.
func New(
	cfg Config,
	store ItemStore,
	fetcher Fetcher,
	clock Clock,
	ids IDGenerator,
	emitter progress.Emitter,
	logger *zap.Logger,
) (*Crawler, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || fetcher == nil || clock == nil || ids == nil {
		return nil, fmt.Errorf("crawler requires store, fetcher, clock and id generator")
	}
	if emitter == nil {
		emitter = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		store:   store,
		fetcher: fetcher,
		clock:   clock,
		ids:     ids,
		emitter: emitter,
		pool:    semaphore.NewWeighted(int64(cfg.PoolSize)),
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Crawl fetches every id reachable from seeds through Kids and inserts each
// fetched item into the store. Each id is fetched at most once per call and
// at most cfg.MaxInFlight fetches are outstanding at any time. Individual
// fetch failures are logged and reported to the emitter; Crawl itself never
// fails. When ctx is cancelled no new fetches are launched and Crawl returns
// once the outstanding ones have finished.
func (c *Crawler) Crawl(ctx context.Context, seeds []item.ID, trigger progress.Trigger) Stats {
	start := c.clock.Now()
	stats := Stats{CrawlID: c.newCrawlID(), Seeds: len(seeds)}
	logger := c.logger.With(
		zap.Stringer("crawl_id", stats.CrawlID),
		zap.String("trigger", string(trigger)),
	)
	c.emit(stats.CrawlID, trigger, progress.Event{Stage: progress.StageCrawlStart})
	logger.Debug("crawl started", zap.Int("seeds", len(seeds)))

	// pending is used as a stack: the most recently discovered id is fetched next.
	pending := append([]item.ID(nil), seeds...)
	seen := make(map[item.ID]struct{}, len(seeds))
	results := make(chan fetchResult, c.cfg.MaxInFlight)
	inFlight := 0

	for {
		for inFlight < c.cfg.MaxInFlight && len(pending) > 0 {
			if ctx.Err() != nil {
				stats.Abandoned += len(pending)
				pending = nil
				break
			}
			id := pending[len(pending)-1]
			pending = pending[:len(pending)-1]
			if _, ok := seen[id]; ok {
				stats.Duplicates++
				continue
			}
			seen[id] = struct{}{}
			inFlight++
			go c.fetch(ctx, id, results)
		}

		if inFlight == 0 {
			break
		}

		res := <-results
		inFlight--
		if res.err != nil {
			stats.Failed++
			logger.Warn("item fetch failed", zap.Uint64("item_id", uint64(res.id)), zap.Error(res.err))
			c.emit(stats.CrawlID, trigger, progress.Event{
				Stage:  progress.StageFetchError,
				ItemID: res.id,
				Dur:    res.dur,
				Note:   res.err.Error(),
			})
			continue
		}
		stats.Fetched++
		pending = append(pending, res.it.Kids...)
		c.store.Insert(res.id, res.it)
		c.emit(stats.CrawlID, trigger, progress.Event{
			Stage:  progress.StageFetchDone,
			ItemID: res.id,
			Dur:    res.dur,
		})
	}

	stats.Duration = c.clock.Now().Sub(start)
	if stats.Duration < 0 {
		stats.Duration = 0
	}
	c.emit(stats.CrawlID, trigger, progress.Event{
		Stage:   progress.StageCrawlDone,
		Fetched: int64(stats.Fetched),
		Failed:  int64(stats.Failed),
		Dur:     stats.Duration,
	})
	logger.Info("crawl finished",
		zap.Int("seeds", stats.Seeds),
		zap.Int("fetched", stats.Fetched),
		zap.Int("failed", stats.Failed),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("abandoned", stats.Abandoned),
		zap.Duration("duration", stats.Duration),
	)
	return stats
}

func (c *Crawler) fetch(ctx context.Context, id item.ID, results chan<- fetchResult) {
	if err := c.pool.Acquire(ctx, 1); err != nil {
		results <- fetchResult{id: id, err: fmt.Errorf("acquire fetch slot: %w", err)}
		return
	}
	defer c.pool.Release(1)

	start := c.clock.Now()
	it, err := c.fetcher.FetchItem(ctx, id)
	dur := c.clock.Now().Sub(start)
	if dur < 0 {
		dur = 0
	}
	if err == nil && it == nil {
		err = fmt.Errorf("%w: item %d: empty result", ErrFetch, id)
	}
	results <- fetchResult{id: id, it: it, err: err, dur: dur}
}

func (c *Crawler) emit(crawlID uuid.UUID, trigger progress.Trigger, evt progress.Event) {
	evt.CrawlID = progress.UUIDToBytes(crawlID)
	evt.Trigger = trigger
	evt.TS = c.clock.Now()
	c.emitter.Emit(evt)
}

func (c *Crawler) newCrawlID() uuid.UUID {
	id, err := c.ids.NewRawID()
	if err != nil {
		c.logger.Warn("crawl id generation failed, falling back to random id", zap.Error(err))
		return uuid.New()
	}
	return id
}
