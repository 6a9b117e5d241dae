package scopekit

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCacheTTL bounds how stale a cached resolution may be.
	DefaultCacheTTL = 2 * time.Minute

	// DefaultCacheSize bounds how many principals are cached.
	DefaultCacheSize = 10000
)

// ComputeFunc produces a fresh effective permission set for a principal.
type ComputeFunc func(ctx context.Context, principalID string) (*EffectivePermissionSet, error)

// Cache memoizes effective permission sets per principal.
//
// Entries expire after the TTL and are dropped eagerly by Invalidate.
// A computation that started before an invalidation is never stored, so a
// caller can not observe a stale set after Invalidate returns.
type Cache struct {
	mu      sync.Mutex
	entries *lru.LRU[string, cacheEntry]
	ttl     time.Duration
	epoch   atomic.Uint64
	group   singleflight.Group
	now     func() time.Time
	metrics *Metrics
}

type cacheEntry struct {
	set        *EffectivePermissionSet
	computedAt time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheMetrics records hits, misses and invalidations.
func WithCacheMetrics(m *Metrics) CacheOption {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithCacheClock overrides the clock used to judge freshness.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a cache holding at most size entries for at most ttl.
// Zero values select DefaultCacheSize and DefaultCacheTTL.
func NewCache(size int, ttl time.Duration, opts ...CacheOption) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	c := &Cache{
		entries: lru.NewLRU[string, cacheEntry](size, nil, ttl),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Len returns the number of cached principals, including entries about to expire.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Get returns the cached set of a principal if it is still fresh.
func (c *Cache) Get(principalID string) (*EffectivePermissionSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(principalID)
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.computedAt) >= c.ttl {
		c.entries.Remove(principalID)
		return nil, false
	}
	return e.set, true
}

// GetOrCompute returns the cached set of a principal or computes, stores and
// returns a fresh one. Concurrent misses for the same principal share one
// computation. Errors are never cached.
//
// The shared computation is detached from the cancellation of whichever
// caller started it. A caller whose ctx ends stops waiting and gets
// ErrStorageUnavailable; the others still receive the result.
func (c *Cache) GetOrCompute(ctx context.Context, principalID string, compute ComputeFunc) (*EffectivePermissionSet, error) {
	if set, ok := c.Get(principalID); ok {
		c.metrics.cacheHit()
		return set, nil
	}
	c.metrics.cacheMiss()

	epoch := c.epoch.Load()
	key := principalID + "@" + strconv.FormatUint(epoch, 10)
	shared := context.WithoutCancel(ctx)

	ch := c.group.DoChan(key, func() (any, error) {
		set, err := compute(shared, principalID)
		if err != nil {
			return nil, err
		}
		c.store(principalID, set, epoch)
		return set, nil
	})

	select {
	case <-ctx.Done():
		return nil, storageError("resolve principal "+principalID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*EffectivePermissionSet), nil
	}
}

func (c *Cache) store(principalID string, set *EffectivePermissionSet, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// an invalidation ran while computing; the set may predate it
	if c.epoch.Load() != epoch {
		return
	}
	c.entries.Add(principalID, cacheEntry{set: set, computedAt: c.now()})
}

// Invalidate implements Invalidator. It drops the entries of named principals
// and every entry derived from a named role or permission.
func (c *Cache) Invalidate(_ context.Context, refs ...Invalidation) error {
	if len(refs) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch.Add(1)
	for _, ref := range refs {
		c.metrics.invalidation(ref.Kind)

		if ref.Kind == InvalidatePrincipal {
			c.entries.Remove(ref.ID)
			continue
		}
		for _, principalID := range c.entries.Keys() {
			e, ok := c.entries.Peek(principalID)
			if ok && e.set.References(ref) {
				c.entries.Remove(principalID)
			}
		}
	}
	return nil
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch.Add(1)
	c.entries.Purge()
}
