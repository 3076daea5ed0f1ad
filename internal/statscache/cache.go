// Package statscache holds the latest reconstructed stat per entity
// and is the authoritative liveness model for "is this entity still
// reporting".
package statscache

import (
	"strings"
	"sync"
	"time"
)

const (
	// Grace absorbs normal polling jitter: an entity missing from a
	// snapshot stays fresh this long before it is flagged.
	Grace = 15 * time.Second
	// Expiry bounds memory: entities missing this long are dropped.
	Expiry = 5 * time.Minute
	// staleAfter is how long without any update before the whole
	// source reads as stale to the presentation layer.
	staleAfter = 30 * time.Second
)

// Entry is one cached entity with its liveness flags.
type Entry[T any] struct {
	Value    T     `json:"value"`
	Stale    bool  `json:"stale"`
	LastSeen int64 `json:"last_seen"` // unix milliseconds
}

// Cache is a per-source latest-value store. Concurrent readers, one
// logical writer per Update call.
type Cache[T any] struct {
	mu         sync.RWMutex
	entries    map[string]*entry[T]
	lastUpdate time.Time

	now func() time.Time // test hook
}

type entry[T any] struct {
	value    T
	stale    bool
	lastSeen time.Time
}

func New[T any]() *Cache[T] {
	return &Cache[T]{
		entries: make(map[string]*entry[T]),
		now:     time.Now,
	}
}

// Update merges one full snapshot from the source. Every id present
// becomes fresh; known ids absent from the snapshot walk the ladder:
// fresh while within the grace window, stale until expiry, then gone.
func (c *Cache[T]) Update(fresh map[string]T) {
	c.UpdateScoped("", fresh)
}

// UpdateScoped is Update restricted to one collector's slice of the
// source: when several hosts feed the same source, a snapshot from one
// host must not walk the other hosts' entities down the ladder. Only
// ids under "scope/" are considered absent. An empty scope covers the
// whole cache.
func (c *Cache[T]) UpdateScoped(scope string, fresh map[string]T) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUpdate = now

	for id, v := range fresh {
		e, ok := c.entries[id]
		if !ok {
			e = &entry[T]{}
			c.entries[id] = e
		}
		e.value = v
		e.stale = false
		e.lastSeen = now
	}

	for id, e := range c.entries {
		if _, ok := fresh[id]; ok {
			continue
		}
		if scope != "" && !strings.HasPrefix(id, scope+"/") {
			continue
		}
		age := now.Sub(e.lastSeen)
		switch {
		case age >= Expiry:
			delete(c.entries, id)
		case age >= Grace:
			e.stale = true
		}
	}
}

// GetAll returns the current merged view.
func (c *Cache[T]) GetAll() map[string]Entry[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Entry[T], len(c.entries))
	for id, e := range c.entries {
		out[id] = Entry[T]{Value: e.value, Stale: e.stale, LastSeen: e.lastSeen.UnixMilli()}
	}
	return out
}

// Get returns the view filtered to the given ids; unknown ids are
// simply absent from the result.
func (c *Cache[T]) Get(ids []string) map[string]Entry[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Entry[T], len(ids))
	for _, id := range ids {
		if e, ok := c.entries[id]; ok {
			out[id] = Entry[T]{Value: e.value, Stale: e.stale, LastSeen: e.lastSeen.UnixMilli()}
		}
	}
	return out
}

// Stale reports whether the source as a whole has stopped updating.
// This is the only failure signal the presentation layer ever sees.
func (c *Cache[T]) Stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastUpdate.IsZero() {
		return true
	}
	return c.now().Sub(c.lastUpdate) > staleAfter
}

// Len returns the number of cached entities, stale included.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
