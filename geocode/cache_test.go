// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/geoproof/geoproof/spatial"
	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func TestCacheTTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	c := NewCache(10*time.Minute, 100)
	c.now = clock.now

	p := spatial.Point{Lat: 28.98761, Lng: 77.01939}
	c.Put(p, "Sonipat")

	got, ok := c.Get(spatial.Point{Lat: 28.98759, Lng: 77.01941})
	assert.True(t, ok)
	assert.Equal(t, "Sonipat", got)

	clock.t = clock.t.Add(9 * time.Minute)
	_, ok = c.Get(p)
	assert.True(t, ok)

	clock.t = clock.t.Add(time.Minute)
	_, ok = c.Get(p)
	assert.False(t, ok, "entries expire at the TTL")
}

func TestCacheDistinctCells(t *testing.T) {
	c := NewCache(time.Minute, 100)
	c.Put(spatial.Point{Lat: 10.0001, Lng: 20}, "a")

	_, ok := c.Get(spatial.Point{Lat: 10.0002, Lng: 20})
	assert.False(t, ok)
}

func TestCachePurgesExpiredAboveCapacity(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	c := NewCache(10*time.Minute, 3)
	c.now = clock.now

	for i := range 3 {
		c.Put(spatial.Point{Lat: float64(i), Lng: 0}, fmt.Sprint(i))
	}

	clock.t = clock.t.Add(11 * time.Minute)
	assert.Equal(t, 3, c.Len(), "expired entries stay until the cache overflows")

	c.Put(spatial.Point{Lat: 3, Lng: 0}, "3")
	assert.Equal(t, 1, c.Len())

	got, ok := c.Get(spatial.Point{Lat: 3, Lng: 0})
	assert.True(t, ok)
	assert.Equal(t, "3", got)
}

func TestCacheConcurrentLastWriterWins(t *testing.T) {
	c := NewCache(time.Minute, 100)
	p := spatial.Point{Lat: 1, Lng: 1}

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			c.Put(p, fmt.Sprint(i))
			c.Get(p)
		}()
	}

	wg.Wait()
	c.Put(p, "final")

	got, ok := c.Get(p)
	assert.True(t, ok)
	assert.Equal(t, "final", got)
	assert.Equal(t, 1, c.Len())
}
