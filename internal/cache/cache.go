// SPDX-License-Identifier: MIT

// Package cache provides a sharded in-memory TTL cache. Shards bound lock
// contention; a janitor goroutine evicts expired entries to bound memory.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// Stats holds cache performance counters.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Sets        int64 `json:"sets"`
	Evictions   int64 `json:"evictions"`
	CurrentSize int   `json:"current_size"`
}

type entry[V any] struct {
	value      V
	expiration time.Time
}

type shard[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
}

// Cache is a sharded TTL map from string keys to V.
type Cache[V any] struct {
	shards  [shardCount]*shard[V]
	hits    sync.Mutex // guards the counters below
	stats   Stats
	janitor *janitor
	now     func() time.Time
}

// New creates a cache. A positive cleanupInterval starts the janitor; Stop
// must be called to end it.
func New[V any](cleanupInterval time.Duration) *Cache[V] {
	c := &Cache[V]{now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard[V]{entries: make(map[string]entry[V])}
	}
	if cleanupInterval > 0 {
		c.janitor = &janitor{interval: cleanupInterval, stop: make(chan struct{})}
		go c.janitor.run(c.DeleteExpired)
	}
	return c
}

func (c *Cache[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// Get returns the live value for key.
func (c *Cache[V]) Get(key string) (V, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, found := s.entries[key]
	s.mu.RUnlock()

	var zero V
	if !found || c.now().After(e.expiration) {
		c.count(func(st *Stats) { st.Misses++ })
		return zero, false
	}
	c.count(func(st *Stats) { st.Hits++ })
	return e.value, true
}

// Set stores value under key for ttl.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	s := c.shardFor(key)
	s.mu.Lock()
	s.entries[key] = entry[V]{value: value, expiration: c.now().Add(ttl)}
	s.mu.Unlock()
	c.count(func(st *Stats) { st.Sets++ })
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// DeleteExpired evicts dead entries from every shard.
func (c *Cache[V]) DeleteExpired() int {
	now := c.now()
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key, e := range s.entries {
			if now.After(e.expiration) {
				delete(s.entries, key)
				total++
			}
		}
		s.mu.Unlock()
	}
	if total > 0 {
		c.count(func(st *Stats) { st.Evictions += int64(total) })
	}
	return total
}

// Stats returns a copy of the counters plus the current entry count.
func (c *Cache[V]) Stats() Stats {
	c.hits.Lock()
	stats := c.stats
	c.hits.Unlock()
	for _, s := range c.shards {
		s.mu.RLock()
		stats.CurrentSize += len(s.entries)
		s.mu.RUnlock()
	}
	return stats
}

// Stop terminates the janitor goroutine.
func (c *Cache[V]) Stop() {
	if c.janitor != nil {
		c.janitor.halt()
	}
}

func (c *Cache[V]) count(fn func(*Stats)) {
	c.hits.Lock()
	fn(&c.stats)
	c.hits.Unlock()
}

type janitor struct {
	interval time.Duration
	stop     chan struct{}
	once     sync.Once
}

func (j *janitor) run(sweep func() int) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sweep()
		case <-j.stop:
			return
		}
	}
}

func (j *janitor) halt() {
	j.once.Do(func() { close(j.stop) })
}
