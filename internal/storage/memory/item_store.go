// Package memory holds the process-resident stores backing the mirror.
package memory

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/JakeFAU/hn-mirror/internal/item"
)

// Observer is told about store size changes, typically to export metrics.
type Observer interface {
	ItemStoreEntries(n int)
	ItemEvicted()
	TopListSize(n int)
}

type nopObserver struct{}

func (nopObserver) ItemStoreEntries(int) {}
func (nopObserver) ItemEvicted()         {}
func (nopObserver) TopListSize(int)      {}

func observerOrNop(obs Observer) Observer {
	if obs == nil {
		return nopObserver{}
	}
	return obs
}

// DefaultItemCapacity bounds the item store when no capacity is configured.
const DefaultItemCapacity = 20_000

// ItemStore is a capacity-bounded LRU cache of fetched items. Both Get and
// Insert count as an access for eviction purposes. It is safe for concurrent
// use; a Get racing an Insert for the same id sees the old or the new item.
type ItemStore struct {
	cache    *lru.Cache[item.ID, *item.Item]
	capacity int
	obs      Observer
}

// NewItemStore constructs an ItemStore holding at most capacity entries. A
// nil obs is allowed.
func NewItemStore(capacity int, obs Observer) (*ItemStore, error) {
	if capacity <= 0 {
		capacity = DefaultItemCapacity
	}
	obs = observerOrNop(obs)
	cache, err := lru.NewWithEvict(capacity, func(item.ID, *item.Item) {
		obs.ItemEvicted()
	})
	if err != nil {
		return nil, fmt.Errorf("create item cache: %w", err)
	}
	return &ItemStore{cache: cache, capacity: capacity, obs: obs}, nil
}

// Get returns the cached item for id.
func (s *ItemStore) Get(id item.ID) (*item.Item, bool) {
	return s.cache.Get(id)
}

// Insert stores it under id, replacing any previous value.
func (s *ItemStore) Insert(id item.ID, it *item.Item) {
	if it == nil {
		return
	}
	s.cache.Add(id, it)
	s.obs.ItemStoreEntries(s.cache.Len())
}

// Len reports the number of cached items.
func (s *ItemStore) Len() int {
	return s.cache.Len()
}

// Capacity reports the configured entry bound.
func (s *ItemStore) Capacity() int {
	return s.capacity
}
