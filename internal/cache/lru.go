package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/spatialqc/spatialqc/pkg/metrics"
)

// LRUCache is a bounded typed cache evicting the least-recently-used entry
// once capacity is reached. Entries also carry a sliding TTL. Spatial-index
// consumers size this small and keep the TTL short so they are the first
// victims under memory pressure.
type LRUCache[K comparable, V any] struct {
	name     string
	capacity int
	ttl      time.Duration

	mu    sync.Mutex
	ll    *list.List
	items map[K]*list.Element
}

type lruEntry[K comparable, V any] struct {
	key        K
	value      V
	lastAccess time.Time
}

// NewLRU builds a bounded cache. capacity must be positive; ttl of zero
// disables the sliding expiry.
func NewLRU[K comparable, V any](name string, capacity int, ttl time.Duration) *LRUCache[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRUCache[K, V]{
		name:     name,
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[K]*list.Element),
	}
}

// Get returns the value for key and marks it most recently used.
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		metrics.IncreaseCacheRequestMetric(c.name, false)
		return zero, false
	}
	ent := el.Value.(*lruEntry[K, V])
	if c.ttl > 0 && time.Since(ent.lastAccess) > c.ttl {
		c.removeElement(el)
		metrics.IncreaseCacheRequestMetric(c.name, false)
		return zero, false
	}
	ent.lastAccess = time.Now()
	c.ll.MoveToFront(el)
	metrics.IncreaseCacheRequestMetric(c.name, true)
	return ent.value, true
}

// Add stores value under key, evicting the oldest entry when full.
func (c *LRUCache[K, V]) Add(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*lruEntry[K, V])
		ent.value = value
		ent.lastAccess = time.Now()
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&lruEntry[K, V]{key: key, value: value, lastAccess: time.Now()})
	c.items[key] = el

	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		metrics.IncreaseCacheEvictionsMetric(c.name, 1)
	}
}

// Remove deletes key if present.
func (c *LRUCache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Purge drops all entries.
func (c *LRUCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.ll.Len(); n > 0 {
		metrics.IncreaseCacheEvictionsMetric(c.name, n)
	}
	c.ll.Init()
	c.items = make(map[K]*list.Element)
}

func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Name identifies the cache to the sweeper and in metrics.
func (c *LRUCache[K, V]) Name() string { return c.name }

// RemoveIdleSince drops entries not accessed since cutoff.
func (c *LRUCache[K, V]) RemoveIdleSince(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*lruEntry[K, V]).lastAccess.Before(cutoff) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	if removed > 0 {
		metrics.IncreaseCacheEvictionsMetric(c.name, removed)
	}
	return removed
}

func (c *LRUCache[K, V]) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*lruEntry[K, V]).key)
}
