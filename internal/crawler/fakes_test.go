package crawler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/hn-mirror/internal/item"
	"github.com/JakeFAU/hn-mirror/internal/progress"
)

// graphFetcher serves items from an in-memory graph and records every call.
type graphFetcher struct {
	mu       sync.Mutex
	items    map[item.ID]*item.Item
	fail     map[item.ID]bool
	calls    map[item.ID]int
	topIDs   []item.ID
	topErr   error
	delay    time.Duration
	gate     chan struct{}
	inFlight atomic.Int64
	maxSeen  atomic.Int64
}

func newGraphFetcher(edges map[item.ID][]item.ID) *graphFetcher {
	f := &graphFetcher{
		items: make(map[item.ID]*item.Item, len(edges)),
		fail:  make(map[item.ID]bool),
		calls: make(map[item.ID]int),
	}
	for id, kids := range edges {
		f.items[id] = &item.Item{ID: id, Kind: item.KindComment, Kids: kids}
	}
	return f
}

func (f *graphFetcher) FetchTopIDs(context.Context) ([]item.ID, error) {
	if f.topErr != nil {
		return nil, f.topErr
	}
	return append([]item.ID(nil), f.topIDs...), nil
}

func (f *graphFetcher) FetchItem(ctx context.Context, id item.ID) (*item.Item, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxSeen.Load()
		if cur <= prev || f.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}

	f.mu.Lock()
	f.calls[id]++
	it, ok := f.items[id]
	failed := f.fail[id]
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: item %d: %w", ErrFetch, id, ctx.Err())
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if failed {
		return nil, fmt.Errorf("%w: item %d: connection refused", ErrFetch, id)
	}
	if !ok {
		return nil, fmt.Errorf("%w: item %d: null record", ErrFetch, id)
	}
	return it, nil
}

func (f *graphFetcher) Calls(id item.ID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *graphFetcher) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type randomIDs struct{}

func (randomIDs) NewRawID() (uuid.UUID, error) { return uuid.New(), nil }

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Count(stage progress.Stage) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, evt := range r.events {
		if evt.Stage == stage {
			n++
		}
	}
	return n
}

func (r *recordingEmitter) Events() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}
