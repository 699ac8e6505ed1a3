package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/hn-mirror/internal/item"
)

// ErrFetch is matched by every error a Fetcher returns for a single request,
// whether the transport failed or the body could not be decoded.
var ErrFetch = errors.New("fetch failed")

// ItemStore holds fetched items keyed by id.
type ItemStore interface {
	Get(id item.ID) (*item.Item, bool)
	Insert(id item.ID, it *item.Item)
}

// TopList exposes the most recently published top-story ids.
type TopList interface {
	Get() []item.ID
}

// Fetcher retrieves records from the remote API. One call is one round trip.
type Fetcher interface {
	FetchTopIDs(ctx context.Context) ([]item.ID, error)
	FetchItem(ctx context.Context, id item.ID) (*item.Item, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl ids.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}
