// Package cache memoises query results against a published graph.
//
// Every key carries the generation of the graph it was computed from, so a
// rebuild makes old entries unreachable even before they are cleared or
// evicted. Entries are bounded by an LRU list and an optional TTL.
//
// Usage:
//
//	c := cache.NewResultCache(1000, 5*time.Minute)
//
//	key := cache.Key(gen, "customer_insights", customerID)
//	if v, ok := c.Get(key); ok {
//		return v.(*query.CustomerInsights), nil
//	}
//	res, err := engine.CustomerInsights(customerID)
//	if err == nil {
//		c.Put(key, res)
//	}
package cache

import (
	"container/list"
	"encoding/binary"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxSize is used when NewResultCache is given a non-positive size.
const DefaultMaxSize = 1000

// ResultCache is a thread-safe LRU cache of query results.
type ResultCache struct {
	mu sync.Mutex

	maxSize int
	ttl     time.Duration
	enabled bool
	now     func() time.Time

	list  *list.List
	items map[uint64]*list.Element

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type cacheEntry struct {
	key       uint64
	value     any
	expiresAt time.Time
}

// NewResultCache creates a cache holding at most maxSize results. A ttl of 0
// disables expiry.
func NewResultCache(maxSize int, ttl time.Duration) *ResultCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &ResultCache{
		maxSize: maxSize,
		ttl:     ttl,
		enabled: true,
		now:     time.Now,
		list:    list.New(),
		items:   make(map[uint64]*list.Element, maxSize),
	}
}

// Key hashes a graph generation, an operation name and its argument.
func Key(generation uint64, op, arg string) uint64 {
	h := fnv.New64a()
	var gen [8]byte
	binary.BigEndian.PutUint64(gen[:], generation)
	h.Write(gen[:])
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write([]byte(arg))
	return h.Sum64()
}

// Get returns a cached result and marks it most recently used.
func (c *ResultCache) Get(key uint64) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		c.misses.Add(1)
		return nil, false
	}
	elem, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses.Add(1)
		return nil, false
	}
	c.list.MoveToFront(elem)
	c.hits.Add(1)
	return entry.value, true
}

// Put stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *ResultCache) Put(key uint64, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}
	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expires
		c.list.MoveToFront(elem)
		return
	}
	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}
	c.items[key] = c.list.PushFront(&cacheEntry{key: key, value: value, expiresAt: expires})
}

// Remove drops one entry.
func (c *ResultCache) Remove(key uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear drops every entry. Statistics are kept.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Init()
	c.items = make(map[uint64]*list.Element, c.maxSize)
}

// Len returns the number of cached entries.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Stats holds cache counters.
type Stats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"` // percent, 0-100
}

// Stats returns a snapshot of the counters.
func (c *ResultCache) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	s := Stats{
		Size:      c.Len(),
		MaxSize:   c.maxSize,
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total) * 100
	}
	return s
}

// SetEnabled turns caching on or off. Disabling drops every entry.
func (c *ResultCache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if !enabled {
		c.list.Init()
		c.items = make(map[uint64]*list.Element, c.maxSize)
	}
}

// caller holds mu
func (c *ResultCache) evictOldest() {
	if elem := c.list.Back(); elem != nil {
		c.removeElement(elem)
		c.evictions.Add(1)
	}
}

// caller holds mu
func (c *ResultCache) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}
