package shader

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"golang.org/x/sync/singleflight"
)

type cacheEntry[T any] struct {
	value       T
	fingerprint uint64
}

// Cache maps shader keys to backend shader objects.
//
// Cache is safe for concurrent use. create runs outside the map lock, at
// most once per key at a time; concurrent callers for the same key wait
// for that one call and share its result.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[Key]cacheEntry[T]
	flight  singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
}

func NewCache[T any]() *Cache[T] {
	return &Cache[T]{
		entries: make(map[Key]cacheEntry[T]),
	}
}

// GetOrCreate returns the value cached under key, calling create on a miss.
// A hit whose fingerprint differs from the stored one means two different
// inputs produced the same key; that is reported as ErrShaderKeyCollision.
func (c *Cache[T]) GetOrCreate(key Key, fingerprint uint64, create func() (T, error)) (T, error) {
	if e, ok := c.lookup(key); ok {
		return c.hit(key, e, fingerprint)
	}

	created := false
	v, err, _ := c.flight.Do(key.String(), func() (interface{}, error) {
		if e, ok := c.lookup(key); ok {
			return e, nil
		}
		value, err := create()
		if err != nil {
			return nil, err
		}
		e := cacheEntry[T]{value: value, fingerprint: fingerprint}
		c.mu.Lock()
		c.entries[key] = e
		c.mu.Unlock()
		created = true
		return e, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	e := v.(cacheEntry[T])
	if created {
		c.misses.Add(1)
		return e.value, nil
	}
	return c.hit(key, e, fingerprint)
}

func (c *Cache[T]) lookup(key Key) (cacheEntry[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *Cache[T]) hit(key Key, e cacheEntry[T], fingerprint uint64) (T, error) {
	if e.fingerprint != fingerprint {
		var zero T
		err := fmt.Errorf("key %s: fingerprint %016x, cached %016x: %w",
			key, fingerprint, e.fingerprint, core.ErrShaderKeyCollision)
		core.LogError("%s", err.Error())
		return zero, err
	}
	c.hits.Add(1)
	return e.value, nil
}

func (c *Cache[T]) Get(key Key) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e.value, ok
}

// Remove drops key and returns the value it held so the caller can destroy it.
func (c *Cache[T]) Remove(key Key) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	return e.value, ok
}

// Drain empties the cache and returns everything it held.
func (c *Cache[T]) Drain() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, 0, len(c.entries))
	for k, e := range c.entries {
		out = append(out, e.value)
		delete(c.entries, k)
	}
	return out
}

func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit and miss counts.
func (c *Cache[T]) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
