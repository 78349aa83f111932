// Package dnsenrich implements the DNS-backed enrichment feeds
// referenced by the IP/ASN and verified-bot detectors (spec §6.3):
// a periodically refreshed crawler IP-range list, a Team-Cymru ASN
// reputation cache, and a Project Honeypot HTTP:BL lookup, all fronted
// by a two-tier (positive/negative) TTL cache.
//
// Grounded on github.com/rs/dnscache's resolver cache: a background
// goroutine on a ticker refreshes entries, reads take an RWMutex, and a
// Stop channel tears the loop down cleanly. The two-tier TTL split and
// LRU eviction are plain map/list bookkeeping — no pack example ships a
// dedicated LRU cache library, so this is a documented stdlib exception
// (container/list plus a map, the textbook LRU shape).
package dnsenrich

import (
	"container/list"
	"sync"
	"time"
)

type ttlEntry struct {
	key       string
	value     any
	expiresAt time.Time
	elem      *list.Element
}

// TTLCache is a bounded, two-TTL (positive/negative) LRU cache: a
// lookup that resolved successfully is cached under positiveTTL, one
// that came back empty/negative is cached under negativeTTL so a
// misbehaving or absent record doesn't get re-queried on every request.
type TTLCache struct {
	mu          sync.Mutex
	positiveTTL time.Duration
	negativeTTL time.Duration
	capacity    int

	entries map[string]*ttlEntry
	order   *list.List // front = most recently used

	now func() time.Time
}

// NewTTLCache constructs a cache. capacity <= 0 means unbounded.
func NewTTLCache(positiveTTL, negativeTTL time.Duration, capacity int) *TTLCache {
	return &TTLCache{
		positiveTTL: positiveTTL,
		negativeTTL: negativeTTL,
		capacity:    capacity,
		entries:     make(map[string]*ttlEntry),
		order:       list.New(),
		now:         time.Now,
	}
}

// WithClock overrides the time source for deterministic tests.
func (c *TTLCache) WithClock(now func() time.Time) *TTLCache {
	c.now = now
	return c
}

// Get returns the cached value and whether it is still live.
func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.removeLocked(e)
		return nil, false
	}
	c.order.MoveToFront(e.elem)
	return e.value, true
}

// Set stores value under key, using positiveTTL when positive is true
// and negativeTTL otherwise, evicting the least-recently-used entry if
// the cache is at capacity.
func (c *TTLCache) Set(key string, value any, positive bool) {
	ttl := c.negativeTTL
	if positive {
		ttl = c.positiveTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = c.now().Add(ttl)
		c.order.MoveToFront(e.elem)
		return
	}

	e := &ttlEntry{key: key, value: value, expiresAt: c.now().Add(ttl)}
	e.elem = c.order.PushFront(e)
	c.entries[key] = e

	if c.capacity > 0 {
		for len(c.entries) > c.capacity {
			back := c.order.Back()
			if back == nil {
				break
			}
			c.removeLocked(back.Value.(*ttlEntry))
		}
	}
}

func (c *TTLCache) removeLocked(e *ttlEntry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}

// Len reports the current entry count, including any not yet expired.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
