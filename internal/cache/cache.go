// Package cache provides the gateway's in-memory response cache with three
// read outcomes: fresh, stale-but-usable, and miss. Entries are owned
// exclusively by the cache and die on overwrite, explicit eviction, or
// expiry. Request coalescing guarantees at most one in-flight fetch per key.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Status classifies a cache read.
type Status int

const (
	Miss  Status = iota // no entry, or entry past ttl+staleWindow
	Fresh               // within ttl
	Stale               // past ttl but within the stale window
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Miss:
		return "miss"
	default:
		return "unknown"
	}
}

type entry struct {
	value       any
	storedAt    time.Time
	ttl         time.Duration
	staleWindow time.Duration
}

// Stats summarizes cache contents for the admin API.
type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	StaleHits int64 `json:"stale_hits"`
}

// Cache is a TTL + stale-window keyed store with single-flight coalescing.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	hits    int64
	misses  int64
	stale   int64

	flight   singleflight.Group
	stopCh   chan struct{}
	stopOnce sync.Once

	now func() time.Time // injectable clock for tests
}

// New creates a Cache and starts a janitor goroutine that sweeps fully
// expired entries every janitorInterval. Pass 0 to disable the janitor
// (expired entries are then evicted lazily on read).
func New(janitorInterval time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	if janitorInterval > 0 {
		go c.janitor(janitorInterval)
	}
	return c
}

// Get returns the cached value for key and its freshness status. A fully
// expired entry is treated as (and evicted like) a miss.
func (c *Cache) Get(key string) (any, Status) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.count(Miss)
		return nil, Miss
	}

	age := c.now().Sub(e.storedAt)
	switch {
	case age < e.ttl:
		c.count(Fresh)
		return e.value, Fresh
	case age < e.ttl+e.staleWindow:
		c.count(Stale)
		return e.value, Stale
	default:
		c.mu.Lock()
		// Re-check under the write lock: the entry may have been
		// overwritten by a concurrent Set.
		if cur, ok := c.entries[key]; ok && cur.storedAt.Equal(e.storedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.count(Miss)
		return nil, Miss
	}
}

// Set stores value under key with the given freshness parameters,
// overwriting any previous entry.
func (c *Cache) Set(key string, value any, ttl, staleWindow time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{
		value:       value,
		storedAt:    c.now(),
		ttl:         ttl,
		staleWindow: staleWindow,
	}
	c.mu.Unlock()
}

// Delete evicts key explicitly.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Fetch coalesces concurrent fetches for the same key: while one caller's
// fn is in flight, other callers for that key wait for and share its result
// instead of issuing duplicate upstream calls. The flight runs on a context
// detached from the initiating caller, so one caller's cancellation stops
// only its own wait; the in-flight fn, its coalesced waiters, and the cache
// write all complete independently. On success the result is stored with the
// given freshness parameters. On failure nothing is stored and any existing
// (stale) entry is left untouched.
func (c *Cache) Fetch(ctx context.Context, key string, ttl, staleWindow time.Duration, fn func(context.Context) (any, error)) (any, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		v, err := fn(flightCtx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl, staleWindow)
		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns entry count and hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		StaleHits: c.stale,
	}
}

// Stop terminates the janitor goroutine. Safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Cache) count(s Status) {
	c.mu.Lock()
	switch s {
	case Fresh:
		c.hits++
	case Stale:
		c.stale++
	case Miss:
		c.misses++
	}
	c.mu.Unlock()
}

func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := c.now()
			c.mu.Lock()
			for key, e := range c.entries {
				if now.Sub(e.storedAt) >= e.ttl+e.staleWindow {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}
