// Package cache holds query results for the console's list and detail views.
//
// Entries are tagged with the entity kinds they were built from. A mutation
// invalidates by tag, dropping every entry derived from the touched kinds.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/rbacadmin/pkg/observability"
)

const (
	DefaultSize = 512
	DefaultTTL  = 5 * time.Minute
)

// Config sizes the cache
type Config struct {
	Size int
	TTL  time.Duration
}

// Stats returns cache statistics
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
	HitRate float64
}

type entry struct {
	value interface{}
	tags  []string
}

// QueryCache is an expiring LRU with tag invalidation
type QueryCache struct {
	lru     *lru.LRU[string, entry]
	metrics *observability.Metrics
	group   singleflight.Group

	idxMu sync.Mutex
	index map[string]map[string]struct{}

	// generation increases on every invalidation so a load that raced one
	// does not store what it fetched
	generation atomic.Uint64

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a query cache; metrics may be nil
func New(cfg Config, metrics *observability.Metrics) *QueryCache {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	c := &QueryCache{
		metrics: metrics,
		index:   make(map[string]map[string]struct{}),
	}
	c.lru = lru.NewLRU[string, entry](cfg.Size, c.onEvict, cfg.TTL)
	return c
}

// onEvict runs with the LRU lock held; it must not call back into the LRU
func (c *QueryCache) onEvict(key string, e entry) {
	c.idxMu.Lock()
	defer c.idxMu.Unlock()
	for _, tag := range e.tags {
		if keys, ok := c.index[tag]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.index, tag)
			}
		}
	}
}

// Get returns the cached value for key
func (c *QueryCache) Get(key string) (interface{}, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		c.metrics.RecordCacheLookup(kindOf(key), false)
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.RecordCacheLookup(kindOf(key), true)
	return e.value, true
}

// Set stores value under key; tags[0] is the primary entity kind
func (c *QueryCache) Set(key string, tags []string, value interface{}) {
	c.lru.Add(key, entry{value: value, tags: tags})

	c.idxMu.Lock()
	defer c.idxMu.Unlock()
	for _, tag := range tags {
		keys, ok := c.index[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.index[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

// Invalidate drops every entry carrying any of tags
func (c *QueryCache) Invalidate(tags ...string) {
	c.generation.Add(1)

	c.idxMu.Lock()
	var keys []string
	for _, tag := range tags {
		for key := range c.index[tag] {
			keys = append(keys, key)
		}
	}
	c.idxMu.Unlock()

	for _, key := range keys {
		c.lru.Remove(key)
	}
}

// Purge drops everything, used when the session clears
func (c *QueryCache) Purge() {
	c.generation.Add(1)
	c.lru.Purge()

	c.idxMu.Lock()
	c.index = make(map[string]map[string]struct{})
	c.idxMu.Unlock()
}

// Len returns the number of live entries
func (c *QueryCache) Len() int {
	return c.lru.Len()
}

// Stats returns cache statistics
func (c *QueryCache) Stats() Stats {
	stats := Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.lru.Len(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Fetch returns the cached value for key or runs load once for all
// concurrent callers of the same key and caches its result.
// Errors are never cached.
func Fetch[T any](ctx context.Context, c *QueryCache, key string, tags []string, load func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		gen := c.generation.Load()
		result, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if c.generation.Load() == gen {
			c.Set(key, tags, result)
		}
		return result, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// kindOf reads the kind prefix of a key built by Key
func kindOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '?' || key[i] == '/' {
			return key[:i]
		}
	}
	return key
}
