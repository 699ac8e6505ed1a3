package crawler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hn-mirror/internal/item"
	"github.com/JakeFAU/hn-mirror/internal/storage/memory"
)

func newTestService(t *testing.T, fetcher *graphFetcher) (*Service, *memory.ItemStore, *memory.TopList) {
	t.Helper()
	c, store := newTestCrawler(t, Config{}, fetcher, nil)
	top := memory.NewTopList(nil)
	return NewService(c, store, top, nil), store, top
}

func TestResolve_CacheHitMakesNoCalls(t *testing.T) {
	t.Parallel()

	fetcher := newGraphFetcher(map[item.ID][]item.ID{42: nil})
	svc, store, _ := newTestService(t, fetcher)
	cached := &item.Item{ID: 42, Kind: item.KindStory}
	store.Insert(42, cached)

	got, ok := svc.Resolve(context.Background(), 42)

	require.True(t, ok)
	require.Same(t, cached, got)
	require.Zero(t, fetcher.TotalCalls())
}

func TestResolve_MissCrawlsSubtree(t *testing.T) {
	t.Parallel()

	fetcher := newGraphFetcher(map[item.ID][]item.ID{
		100: {101, 102},
		101: {103},
		102: nil,
		103: nil,
	})
	svc, store, _ := newTestService(t, fetcher)

	got, ok := svc.Resolve(context.Background(), 100)

	require.True(t, ok)
	require.Equal(t, item.ID(100), got.ID)
	require.GreaterOrEqual(t, fetcher.TotalCalls(), 1)
	require.Equal(t, 4, store.Len())

	child, ok := svc.Lookup(103)
	require.True(t, ok)
	require.Equal(t, item.ID(103), child.ID)
}

func TestResolve_FailedFetchIsAbsent(t *testing.T) {
	t.Parallel()

	fetcher := newGraphFetcher(nil)
	svc, _, _ := newTestService(t, fetcher)

	got, ok := svc.Resolve(context.Background(), 999)

	require.False(t, ok)
	require.Nil(t, got)
	require.Equal(t, 1, fetcher.Calls(999))
}

func TestResolve_ConcurrentCallersShareOneCrawl(t *testing.T) {
	t.Parallel()

	fetcher := newGraphFetcher(map[item.ID][]item.ID{7: nil})
	fetcher.gate = make(chan struct{})
	svc, _, _ := newTestService(t, fetcher)

	const callers = 10
	var wg sync.WaitGroup
	results := make(chan bool, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := svc.Resolve(context.Background(), 7)
			results <- ok
		}()
	}

	require.Eventually(t, func() bool {
		return fetcher.Calls(7) == 1
	}, time.Second, 5*time.Millisecond)
	close(fetcher.gate)
	wg.Wait()
	close(results)

	for ok := range results {
		require.True(t, ok)
	}
	require.Equal(t, 1, fetcher.Calls(7))
}

func TestResolve_CallerCancellation(t *testing.T) {
	t.Parallel()

	fetcher := newGraphFetcher(map[item.ID][]item.ID{8: nil})
	fetcher.gate = make(chan struct{})
	svc, store, _ := newTestService(t, fetcher)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := svc.Resolve(ctx, 8)
	require.False(t, ok)

	// The detached crawl still completes and caches the item.
	close(fetcher.gate)
	require.Eventually(t, func() bool {
		_, ok := store.Get(8)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestTopStories_DropsUncachedAndKeepsOrder(t *testing.T) {
	t.Parallel()

	fetcher := newGraphFetcher(nil)
	fetcher.topIDs = []item.ID{10, 20, 30}
	svc, store, top := newTestService(t, fetcher)

	ids, err := fetcher.FetchTopIDs(context.Background())
	require.NoError(t, err)
	top.Set(ids)

	require.Empty(t, svc.TopStories())

	store.Insert(20, &item.Item{ID: 20, Kind: item.KindStory})
	store.Insert(10, &item.Item{ID: 10, Kind: item.KindStory})

	stories := svc.TopStories()
	require.Len(t, stories, 2)
	require.Equal(t, item.ID(10), stories[0].ID)
	require.Equal(t, item.ID(20), stories[1].ID)
}
