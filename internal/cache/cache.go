// Package cache implements the bounded, TTL-and-LRU response cache
// (§4.4). Keys are hex fingerprints from internal/fingerprint; values
// are opaque response bytes plus enough metadata to replay them either
// as a unary body or as a synthesized event stream.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// Entry mirrors the spec's CachedEntry (§3): immutable after insertion
// except LastAccessAt.
type Entry struct {
	Fingerprint  string
	Response     []byte
	ContentType  string
	CreatedAt    time.Time
	LastAccessAt time.Time
}

type node struct {
	key   string
	entry Entry
}

// Cache is a bounded LRU cache with per-entry TTL. Reads and writes are
// safe under concurrent access; there is no single-flight guarantee
// (§4.4 Concurrency).
type Cache struct {
	mu         sync.Mutex
	order      *list.List // front = most recently used
	index      map[string]*list.Element
	maxEntries int
	ttl        time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// New builds a Cache. maxEntries <= 0 disables admission entirely (every
// put is a no-op, every get misses) — callers should instead honor
// `cache.enabled` at a higher layer, but a zero-capacity cache is itself
// a valid, harmless degenerate case.
func New(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		order:      list.New(),
		index:      make(map[string]*list.Element),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// Get returns the entry for fingerprint if present and not expired. An
// expired entry is removed as a side effect (§4.4: "get on an expired
// entry returns miss and removes the entry").
func (c *Cache) Get(fingerprint string, now time.Time) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[fingerprint]
	if !ok {
		c.misses.Add(1)
		return Entry{}, false
	}
	n := el.Value.(*node)
	if now.Sub(n.entry.CreatedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.index, fingerprint)
		c.misses.Add(1)
		return Entry{}, false
	}
	n.entry.LastAccessAt = now
	c.order.MoveToFront(el)
	c.hits.Add(1)
	return n.entry, true
}

// Put inserts or replaces the entry for fingerprint, evicting the
// least-recently-used entry first if the cache is at capacity.
func (c *Cache) Put(fingerprint string, response []byte, contentType string, now time.Time) {
	if c.maxEntries <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[fingerprint]; ok {
		n := el.Value.(*node)
		n.entry = Entry{
			Fingerprint:  fingerprint,
			Response:     response,
			ContentType:  contentType,
			CreatedAt:    now,
			LastAccessAt: now,
		}
		c.order.MoveToFront(el)
		return
	}

	for len(c.index) >= c.maxEntries {
		back := c.order.Back()
		if back == nil {
			break
		}
		n := back.Value.(*node)
		c.order.Remove(back)
		delete(c.index, n.key)
	}

	n := &node{key: fingerprint, entry: Entry{
		Fingerprint:  fingerprint,
		Response:     response,
		ContentType:  contentType,
		CreatedAt:    now,
		LastAccessAt: now,
	}}
	c.index[fingerprint] = c.order.PushFront(n)
}

// Clear empties the cache and returns the number of entries removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.index)
	c.order = list.New()
	c.index = make(map[string]*list.Element)
	return n
}

// Stats is the object served at GET /cache/stats (§4.4).
type Stats struct {
	Size       int     `json:"size"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
	TTLSeconds int     `json:"ttl_seconds"`
	MaxSize    int     `json:"max_size"`
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	size := len(c.index)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	var rate float64
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Size:       size,
		Hits:       hits,
		Misses:     misses,
		HitRate:    rate,
		TTLSeconds: int(c.ttl / time.Second),
		MaxSize:    c.maxEntries,
	}
}
