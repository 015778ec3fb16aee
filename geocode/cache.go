// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import (
	"sync"
	"time"

	"github.com/geoproof/geoproof/spatial"
)

// Entry is a cached address.
type Entry struct {
	Address    string
	ResolvedAt time.Time
}

// Cache maps quantized points (4 decimals, roughly 11 m) to resolved addresses.
// Expired entries are never returned; they are physically removed when the cache
// grows beyond its soft size limit.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewCache creates a cache. maxEntries is the size above which expired entries
// are purged on insert.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[string]Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the live address for the cell containing p.
func (c *Cache) Get(p spatial.Point) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[p.CacheKey()]
	if !ok || c.expired(e) {
		return "", false
	}

	return e.Address, true
}

// Put stores addr for the cell containing p.
func (c *Cache) Put(p spatial.Point, addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[p.CacheKey()] = Entry{Address: addr, ResolvedAt: c.now()}

	if c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		for k, e := range c.entries {
			if c.expired(e) {
				delete(c.entries, k)
			}
		}
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

func (c *Cache) expired(e Entry) bool {
	return c.now().Sub(e.ResolvedAt) >= c.ttl
}
