package netexec

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	value    any
	storedAt time.Time
}

// Cache is a process-wide result cache keyed by operation signature.
// Entries are never refreshed in place: a write that can stale a key must
// evict it explicitly.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	// gens and epoch detect evictions that happen while a miss is in
	// flight, so an old read is never stored after the write that staled it.
	gens  map[string]uint64
	epoch uint64
	now   func() time.Time
	group singleflight.Group
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		gens:    make(map[string]uint64),
		now:     time.Now,
	}
}

type generation struct {
	epoch, gen uint64
}

func (c *Cache) get(key string, ttl time.Duration) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) generation(key string) generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return generation{epoch: c.epoch, gen: c.gens[key]}
}

func (c *Cache) put(key string, value any, g generation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != g.epoch || c.gens[key] != g.gen {
		return
	}
	c.entries[key] = cacheEntry{value: value, storedAt: c.now()}
}

// Clear evicts keys, or every entry when no key is given.
func (c *Cache) Clear(keys ...string) {
	c.mu.Lock()
	if len(keys) == 0 {
		c.entries = make(map[string]cacheEntry)
		c.epoch++
	} else {
		for _, key := range keys {
			delete(c.entries, key)
			c.gens[key]++
		}
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.group.Forget(key)
	}
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Has reports whether key holds an entry younger than ttl.
func (c *Cache) Has(key string, ttl time.Duration) bool {
	_, ok := c.get(key, ttl)
	return ok
}

// Cache exposes the executor's cache.
func (x *Executor) Cache() *Cache { return x.cache }

// ClearCache evicts keys, or the whole cache when called without keys.
func (x *Executor) ClearCache(keys ...string) {
	x.cache.Clear(keys...)
}

// Cached returns the value stored under key if it is younger than ttl and
// otherwise runs fn and stores its result. A zero ttl uses the executor
// default. Concurrent misses on one key share a single call of fn.
func Cached[T any](ctx context.Context, x *Executor, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if ttl <= 0 {
		ttl = x.cfg.CacheTTL
	}
	if v, ok := x.cache.get(key, ttl); ok {
		if t, ok := v.(T); ok {
			x.metrics.hit()
			return t, nil
		}
	}
	x.metrics.miss()

	gen := x.cache.generation(key)
	v, err, _ := x.cache.group.Do(key, func() (any, error) {
		val, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		x.cache.put(key, val, gen)
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	t, _ := v.(T)
	return t, nil
}
