package scopekit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingCompute returns sets built from roles and counts calls.
func countingCompute(calls *atomic.Int32, roleIDs ...string) ComputeFunc {
	return func(_ context.Context, principalID string) (*EffectivePermissionSet, error) {
		calls.Add(1)
		set := newPermissionSet(principalID, ScopeDescriptor{Kind: ScopeBusiness, BusinessID: "biz-1"})
		for _, id := range roleIDs {
			set.roleIDs[id] = struct{}{}
		}
		set.add(&Permission{ID: "perm-order-read", Resource: "order", Action: "read"})
		return set, nil
	}
}

// TestCacheGetOrCompute verifies hits skip the compute function.
func TestCacheGetOrCompute(t *testing.T) {
	var calls atomic.Int32
	c := NewCache(10, time.Minute)
	ctx := context.Background()

	first, err := c.GetOrCompute(ctx, "u1", countingCompute(&calls))
	require.NoError(t, err)
	second, err := c.GetOrCompute(ctx, "u1", countingCompute(&calls))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, time.Minute, c.TTL())
}

// TestCacheDefaults verifies zero values select defaults.
func TestCacheDefaults(t *testing.T) {
	c := NewCache(0, 0)
	assert.Equal(t, DefaultCacheTTL, c.TTL())
}

// TestCacheTTL verifies entries are recomputed once stale.
func TestCacheTTL(t *testing.T) {
	var calls atomic.Int32
	clock := newFakeClock()
	c := NewCache(10, time.Minute, WithCacheClock(clock.Now))
	ctx := context.Background()

	_, err := c.GetOrCompute(ctx, "u1", countingCompute(&calls))
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	_, ok := c.Get("u1")
	assert.True(t, ok)

	clock.Advance(2 * time.Second)
	_, ok = c.Get("u1")
	assert.False(t, ok)

	_, err = c.GetOrCompute(ctx, "u1", countingCompute(&calls))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

// TestCacheInvalidate covers each invalidation kind.
func TestCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32

	tests := []struct {
		name    string
		ref     Invalidation
		dropped []string
	}{
		{"principal", PrincipalRef("u1"), []string{"u1"}},
		{"held role", RoleRef("role-a"), []string{"u1", "u2"}},
		{"other role", RoleRef("role-b"), []string{"u3"}},
		{"unknown role", RoleRef("role-z"), nil},
		{"permission", PermissionRef("perm-order-read"), []string{"u1", "u2", "u3"}},
		{"unknown permission", PermissionRef("perm-x"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCache(10, time.Minute)
			_, err := c.GetOrCompute(ctx, "u1", countingCompute(&calls, "role-a"))
			require.NoError(t, err)
			_, err = c.GetOrCompute(ctx, "u2", countingCompute(&calls, "role-a"))
			require.NoError(t, err)
			_, err = c.GetOrCompute(ctx, "u3", countingCompute(&calls, "role-b"))
			require.NoError(t, err)

			require.NoError(t, c.Invalidate(ctx, tt.ref))

			for _, id := range []string{"u1", "u2", "u3"} {
				_, ok := c.Get(id)
				assert.Equal(t, !contains(tt.dropped, id), ok, id)
			}
		})
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// TestCacheDropsComputationRacingInvalidation verifies a set computed before
// an invalidation is never stored.
func TestCacheDropsComputationRacingInvalidation(t *testing.T) {
	c := NewCache(10, time.Minute)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(ctx context.Context, id string) (*EffectivePermissionSet, error) {
		close(started)
		<-release
		return newPermissionSet(id, ScopeDescriptor{Kind: ScopeBusiness}), nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		set, err := c.GetOrCompute(ctx, "u1", slow)
		assert.NoError(t, err)
		assert.NotNil(t, set)
	}()

	<-started
	require.NoError(t, c.Invalidate(ctx, PrincipalRef("u1")))
	close(release)
	<-done

	_, ok := c.Get("u1")
	assert.False(t, ok, "stale computation must not be cached")
}

// TestCacheSingleFlight verifies concurrent misses share one computation.
func TestCacheSingleFlight(t *testing.T) {
	c := NewCache(10, time.Minute)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(ctx context.Context, id string) (*EffectivePermissionSet, error) {
		calls.Add(1)
		<-release
		return newPermissionSet(id, ScopeDescriptor{Kind: ScopeBusiness}), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrCompute(ctx, "u1", compute)
			assert.NoError(t, err)
		}()
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

// TestCacheSharedComputeOutlivesCanceledCaller verifies a caller that gives
// up does not fail the others waiting on the same computation.
func TestCacheSharedComputeOutlivesCanceledCaller(t *testing.T) {
	c := NewCache(10, time.Minute)

	var calls atomic.Int32
	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context, id string) (*EffectivePermissionSet, error) {
		calls.Add(1)
		once.Do(func() { close(started) })
		select {
		case <-ctx.Done():
			return nil, storageError("load principal "+id, ctx.Err())
		case <-release:
		}
		return newPermissionSet(id, ScopeDescriptor{Kind: ScopeBusiness}), nil
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(first, "u1", compute)
		firstErr <- err
	}()
	<-started

	type result struct {
		set *EffectivePermissionSet
		err error
	}
	second := make(chan result, 1)
	go func() {
		set, err := c.GetOrCompute(context.Background(), "u1", compute)
		second <- result{set, err}
	}()
	time.Sleep(10 * time.Millisecond)

	cancel()
	err := <-firstErr
	assert.True(t, IsStorageUnavailable(err))
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "u1", res.set.PrincipalID())
	assert.Equal(t, int32(1), calls.Load())

	_, ok := c.Get("u1")
	assert.True(t, ok)
}

// TestCacheErrorsNotCached verifies failures are retried.
func TestCacheErrorsNotCached(t *testing.T) {
	c := NewCache(10, time.Minute)
	ctx := context.Background()

	_, err := c.GetOrCompute(ctx, "u1", func(context.Context, string) (*EffectivePermissionSet, error) {
		return nil, errors.New("db down")
	})
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

// TestCachePurge drops everything.
func TestCachePurge(t *testing.T) {
	var calls atomic.Int32
	c := NewCache(10, time.Minute)
	ctx := context.Background()

	for _, id := range []string{"u1", "u2"} {
		_, err := c.GetOrCompute(ctx, id, countingCompute(&calls))
		require.NoError(t, err)
	}
	c.Purge()
	assert.Equal(t, 0, c.Len())
}

// TestCacheMetrics verifies hits, misses and invalidations are counted.
func TestCacheMetrics(t *testing.T) {
	var calls atomic.Int32
	m := NewMetrics(nil)
	c := NewCache(10, time.Minute, WithCacheMetrics(m))
	ctx := context.Background()

	_, _ = c.GetOrCompute(ctx, "u1", countingCompute(&calls))
	_, _ = c.GetOrCompute(ctx, "u1", countingCompute(&calls))
	require.NoError(t, c.Invalidate(ctx, RoleRef("r"), PrincipalRef("u1")))

	assert.Equal(t, 1.0, counterValue(t, m.CacheMisses))
	assert.Equal(t, 1.0, counterValue(t, m.CacheHits))
	assert.Equal(t, 1.0, counterValue(t, m.Invalidations.WithLabelValues("role")))
	assert.Equal(t, 1.0, counterValue(t, m.Invalidations.WithLabelValues("principal")))
}
