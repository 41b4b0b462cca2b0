package cache

import (
	"sync"
	"time"
)

// GroupCache is a bounded TTL map from a coordinate cell to the ID of the last
// group matched there. It is a shortcut for re-joins only: callers must always
// re-validate the group against a fresh database row, the cache is never
// authoritative for participant counts or status.
type GroupCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]entry
}

type entry struct {
	groupID   string
	expiresAt time.Time
}

// New creates a cache with the given entry lifetime and size bound
func New(ttl time.Duration, maxSize int) *GroupCache {
	return &GroupCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]entry),
	}
}

// Get returns the cached group ID for a cell, if present and not expired
func (c *GroupCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return e.groupID, true
}

// Put records a match for a cell. When the cache is full, expired entries are
// dropped first; if still full the write is skipped rather than evicting live
// entries, since the cache is only an optimisation.
func (c *GroupCache) Put(key, groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.maxSize {
			return
		}
	}
	c.entries[key] = entry{groupID: groupID, expiresAt: now.Add(c.ttl)}
}

// Invalidate drops every cell pointing at the given group, used when a group
// fills up or is deleted.
func (c *GroupCache) Invalidate(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		if e.groupID == groupID {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of entries currently held, expired included
func (c *GroupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
