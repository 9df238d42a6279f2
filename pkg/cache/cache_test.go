package cache

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rbacadmin/pkg/observability"
)

func TestQueryCache_GetSet(t *testing.T) {
	c := New(Config{}, nil)

	_, ok := c.Get("roles?page=1")
	assert.False(t, ok)

	c.Set("roles?page=1", []string{"roles"}, "page-one")
	v, ok := c.Get("roles?page=1")
	require.True(t, ok)
	assert.Equal(t, "page-one", v)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestQueryCache_InvalidateByTag(t *testing.T) {
	c := New(Config{}, nil)

	c.Set("policies?page=1", []string{"policies", "resources", "actions"}, 1)
	c.Set("roles?page=1", []string{"roles"}, 2)
	c.Set("resources?page=1", []string{"resources"}, 3)

	c.Invalidate("resources")

	_, ok := c.Get("policies?page=1")
	assert.False(t, ok, "policies embed resources")
	_, ok = c.Get("resources?page=1")
	assert.False(t, ok)
	_, ok = c.Get("roles?page=1")
	assert.True(t, ok)
}

func TestQueryCache_Purge(t *testing.T) {
	c := New(Config{}, nil)
	c.Set("roles", []string{"roles"}, 1)
	c.Set("actions", []string{"actions"}, 2)

	c.Purge()

	assert.Equal(t, 0, c.Len())
	c.Invalidate("roles")
}

func TestQueryCache_Expiry(t *testing.T) {
	c := New(Config{TTL: 20 * time.Millisecond}, nil)
	c.Set("roles", []string{"roles"}, 1)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("roles")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestQueryCache_EvictionCleansIndex(t *testing.T) {
	c := New(Config{Size: 1}, nil)
	c.Set("roles?page=1", []string{"roles"}, 1)
	c.Set("roles?page=2", []string{"roles"}, 2)

	c.idxMu.Lock()
	defer c.idxMu.Unlock()
	assert.Len(t, c.index["roles"], 1)
}

func TestFetch_CachesSuccess(t *testing.T) {
	c := New(Config{}, nil)
	var calls int32
	load := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "value", nil
	}

	for i := 0; i < 3; i++ {
		v, err := Fetch(context.Background(), c, "roles", []string{"roles"}, load)
		require.NoError(t, err)
		assert.Equal(t, "value", v)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetch_DoesNotCacheErrors(t *testing.T) {
	c := New(Config{}, nil)
	var calls int32
	load := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.New("offline")
	}

	_, err := Fetch(context.Background(), c, "roles", []string{"roles"}, load)
	assert.Error(t, err)
	_, err = Fetch(context.Background(), c, "roles", []string{"roles"}, load)
	assert.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetch_SharesInFlightLoad(t *testing.T) {
	c := New(Config{}, nil)
	var calls int32
	release := make(chan struct{})
	load := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := Fetch(context.Background(), c, "roles", []string{"roles"}, load)
			assert.NoError(t, err)
			assert.Equal(t, 7, v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetch_InvalidationDuringLoadSkipsStore(t *testing.T) {
	c := New(Config{}, nil)
	load := func(ctx context.Context) (int, error) {
		c.Invalidate("roles")
		return 1, nil
	}

	v, err := Fetch(context.Background(), c, "roles", []string{"roles"}, load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, ok := c.Get("roles")
	assert.False(t, ok)
}

func TestQueryCache_Metrics(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	c := New(Config{}, m)

	c.Get(Key("roles", url.Values{"page": {"1"}}))
	c.Set("roles", []string{"roles"}, 1)
	c.Get("roles")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("roles")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("roles")))
}

func TestKey(t *testing.T) {
	params := url.Values{"page": {"2"}, "limit": {"10"}}
	assert.Equal(t, "roles?limit=10&page=2", Key("roles", params))
	assert.Equal(t, "roles/abc", Key("roles", nil, "abc"))
	assert.Equal(t, "roles", kindOf("roles"))
	assert.Equal(t, "role-policies", kindOf("role-policies/x?y=1"))
}
