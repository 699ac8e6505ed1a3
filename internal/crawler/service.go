package crawler

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/hn-mirror/internal/item"
	"github.com/JakeFAU/hn-mirror/internal/progress"
)

// Service answers item reads for request-serving code, crawling on a miss.
type Service struct {
	crawler *Crawler
	store   ItemStore
	top     TopList
	group   singleflight.Group
	logger  *zap.Logger
}

// NewService wires a Service around an existing Crawler.
func NewService(c *Crawler, store ItemStore, top TopList, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		crawler: c,
		store:   store,
		top:     top,
		logger:  logger,
	}
}

// Resolve returns the item for id. A cached item is returned without any
// network activity. Otherwise an on-demand crawl seeded with id runs to
// completion and the store is checked again; ok is false if the fetch failed.
//
// Concurrent resolves of the same missing id share one crawl. The shared
// crawl is detached from the caller's cancellation so that one caller giving
// up does not fail the others; a cancelled caller returns early.
func (s *Service) Resolve(ctx context.Context, id item.ID) (*item.Item, bool) {
	if it, ok := s.store.Get(id); ok {
		return it, true
	}

	crawlCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(id.String(), func() (any, error) {
		stats := s.crawler.Crawl(crawlCtx, []item.ID{id}, progress.TriggerOnDemand)
		s.logger.Debug("on-demand crawl finished",
			zap.Uint64("item_id", uint64(id)),
			zap.Int("fetched", stats.Fetched),
			zap.Int("failed", stats.Failed),
		)
		return nil, nil
	})

	select {
	case <-ch:
	case <-ctx.Done():
		return nil, false
	}
	return s.store.Get(id)
}

// TopStories resolves the published top list through the store. Ids that are
// not cached yet are dropped; the remaining items keep top-list order.
func (s *Service) TopStories() []*item.Item {
	ids := s.top.Get()
	stories := make([]*item.Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := s.store.Get(id); ok {
			stories = append(stories, it)
		}
	}
	return stories
}

// Lookup reads the store only.
func (s *Service) Lookup(id item.ID) (*item.Item, bool) {
	return s.store.Get(id)
}
