// Package cache is the shared caching substrate for the validation engine:
// a get-or-create keyed cache with TTL, sliding expiration, eviction priority
// and admission control, plus a bounded LRU variant and a background sweeper.
// It is the only state shared across concurrent validation runs.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/spatialqc/spatialqc/pkg/metrics"
)

// Priority orders entries for eviction. Low-priority entries are the first
// victims under memory pressure.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Key is a structured cache key: dataset source, logical namespace and a
// consumer-specific reference. Structured keys keep unrelated consumers from
// colliding on free-form strings.
type Key struct {
	Source    string
	Namespace string
	Ref       string
}

func (k Key) String() string {
	return k.Source + "|" + k.Namespace + "|" + k.Ref
}

// Options configure one typed cache.
type Options struct {
	// TTL is the absolute lifetime of an entry. Zero means no absolute expiry.
	TTL time.Duration
	// SlidingTTL expires entries not read for the given duration.
	SlidingTTL time.Duration
	// Priority applies to every entry of this cache.
	Priority Priority
	// AdmissionBytes caps the estimated size of a single value. A value whose
	// estimate exceeds it is handed to the caller but never stored, so every
	// later lookup recomputes. Zero disables admission control.
	AdmissionBytes int64
}

type entry[V any] struct {
	value      V
	createdAt  time.Time
	lastAccess time.Time
	expiresAt  time.Time
}

// Cache is a typed get-or-create cache. Concurrent misses for the same key
// invoke the factory at most once; every caller receives the same value.
type Cache[V any] struct {
	name     string
	opts     Options
	estimate func(V) int64

	mu      sync.Mutex
	entries map[Key]*entry[V]
	group   singleflight.Group
}

// New builds a cache. estimate may be nil when admission control is off.
func New[V any](name string, opts Options, estimate func(V) int64) *Cache[V] {
	return &Cache[V]{
		name:     name,
		opts:     opts,
		estimate: estimate,
		entries:  make(map[Key]*entry[V]),
	}
}

// GetOrCreate returns the cached value for key, invoking factory on a miss.
// The factory runs at most once per key at a time regardless of how many
// goroutines miss concurrently.
func (c *Cache[V]) GetOrCreate(ctx context.Context, key Key, factory func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		metrics.IncreaseCacheRequestMetric(c.name, true)
		return v, nil
	}
	metrics.IncreaseCacheRequestMetric(c.name, false)

	result, err, _ := c.group.Do(key.String(), func() (any, error) {
		// Double-check after winning the exclusive section: another caller
		// may have populated the entry while we waited.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil
}

// Get returns the live value for key, refreshing its sliding expiry.
func (c *Cache[V]) Get(key Key) (V, bool) {
	var zero V
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.expired(e, now) {
		delete(c.entries, key)
		metrics.IncreaseCacheEvictionsMetric(c.name, 1)
		return zero, false
	}
	e.lastAccess = now
	return e.value, true
}

// Set stores value under key, subject to admission control.
func (c *Cache[V]) Set(key Key, value V) {
	if c.opts.AdmissionBytes > 0 && c.estimate != nil {
		if c.estimate(value) > c.opts.AdmissionBytes {
			return
		}
	}

	now := time.Now()
	e := &entry[V]{value: value, createdAt: now, lastAccess: now}
	if c.opts.TTL > 0 {
		e.expiresAt = now.Add(c.opts.TTL)
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// Invalidate removes one entry.
func (c *Cache[V]) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		metrics.IncreaseCacheEvictionsMetric(c.name, 1)
	}
}

// InvalidateMatching removes every entry whose key satisfies pred and
// returns how many were dropped.
func (c *Cache[V]) InvalidateMatching(pred func(Key) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.entries {
		if pred(k) {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		metrics.IncreaseCacheEvictionsMetric(c.name, removed)
	}
	return removed
}

// Clear drops everything.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.entries); n > 0 {
		metrics.IncreaseCacheEvictionsMetric(c.name, n)
	}
	c.entries = make(map[Key]*entry[V])
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Name identifies the cache to the sweeper and in metrics.
func (c *Cache[V]) Name() string { return c.name }

// RemoveIdleSince drops entries not accessed since cutoff. Low-priority
// caches are swept more aggressively: their entries also go when merely
// older than the cutoff, regardless of access.
func (c *Cache[V]) RemoveIdleSince(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		idle := e.lastAccess.Before(cutoff)
		stale := c.opts.Priority == PriorityLow && e.createdAt.Before(cutoff)
		if idle || stale {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		metrics.IncreaseCacheEvictionsMetric(c.name, removed)
	}
	return removed
}

func (c *Cache[V]) expired(e *entry[V], now time.Time) bool {
	if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
		return true
	}
	if c.opts.SlidingTTL > 0 && now.Sub(e.lastAccess) > c.opts.SlidingTTL {
		return true
	}
	return false
}
