package memory

import (
	"sync/atomic"

	"github.com/JakeFAU/hn-mirror/internal/item"
)

// TopList publishes the current front-page ranking. A single writer replaces
// the whole list; readers load the current snapshot without locking.
type TopList struct {
	ids atomic.Pointer[[]item.ID]
	obs Observer
}

// NewTopList returns an empty TopList. A nil obs is allowed.
func NewTopList(obs Observer) *TopList {
	return &TopList{obs: observerOrNop(obs)}
}

// Set publishes a private copy of ids.
func (t *TopList) Set(ids []item.ID) {
	snapshot := make([]item.ID, len(ids))
	copy(snapshot, ids)
	t.ids.Store(&snapshot)
	t.obs.TopListSize(len(snapshot))
}

// Get returns the current snapshot. The slice is shared with other readers
// and must not be modified.
func (t *TopList) Get() []item.ID {
	p := t.ids.Load()
	if p == nil {
		return []item.ID{}
	}
	return *p
}

// Published reports whether Set has been called at least once.
func (t *TopList) Published() bool {
	return t.ids.Load() != nil
}
