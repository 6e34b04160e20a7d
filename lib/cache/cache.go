// Package cache implements a single generic TTL cache used by the indexer client and the multi-chain aggregator.
//
// Entries are replaced whole, never mutated in place, and an expired entry is never returned. Reads take a shared
// lock and writes an exclusive one, so a read waits while a write holds the lock. No background expiry goroutine is
// required since every read checks the expiry itself, per the design notes.
package cache

import (
	"sync"
	"time"
)

// entry pairs a cached value with its absolute expiry.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a cache keyed by a comparable composite key K, holding values of type V, each with its own TTL.
type TTL[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]entry[V]
}

// New returns an empty TTL cache.
func New[K comparable, V any]() *TTL[K, V] {
	return &TTL[K, V]{m: make(map[K]entry[V])}
}

// Get returns the cached value for key and true, or the zero value and false if absent or expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		var zero V

		return zero, false
	}

	return e.value, true
}

// Set stores value under key with the given ttl, replacing any prior entry for key.
func (c *TTL[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	c.m[key] = entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// Invalidate best-effort removes key from the cache. It never fails: a missing key is a no-op.
func (c *TTL[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}
