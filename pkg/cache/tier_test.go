package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/entitle/pkg/entitlement"
	"github.com/platinummonkey/entitle/pkg/observability"
	"github.com/platinummonkey/entitle/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*TierCache, *miniredis.Miniredis, *observability.Metrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	cfg := storage.DefaultConfig()
	return NewTierCache(client, cfg, nil, metrics), mr, metrics
}

func countingLoader(calls *int32, snap Snapshot) Loader {
	return func(ctx context.Context) (Snapshot, error) {
		atomic.AddInt32(calls, 1)
		return snap, nil
	}
}

func TestTierCache_ReadThrough(t *testing.T) {
	c, mr, metrics := newTestCache(t)
	ctx := context.Background()
	var calls int32
	team := Snapshot{Tier: entitlement.TierTeam, Seats: 12}

	got, err := c.Get(ctx, "org_acme", countingLoader(&calls, team))
	require.NoError(t, err)
	assert.Equal(t, team, got)

	got, err = c.Get(ctx, "org_acme", countingLoader(&calls, Snapshot{}))
	require.NoError(t, err)
	assert.Equal(t, team, got)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	assert.True(t, mr.Exists(keyPrefix+"org_acme"))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheMissesTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("l1")))
}

func TestTierCache_SharedThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := storage.DefaultConfig()

	newInstance := func() *TierCache {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		return NewTierCache(client, cfg, nil, nil)
	}
	a, b := newInstance(), newInstance()
	ctx := context.Background()
	var calls int32

	_, err := a.Get(ctx, "usr_alice", countingLoader(&calls, Snapshot{Tier: entitlement.TierPro}))
	require.NoError(t, err)

	got, err := b.Get(ctx, "usr_alice", countingLoader(&calls, Snapshot{Tier: entitlement.TierFree}))
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierPro, got.Tier)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTierCache_Invalidate(t *testing.T) {
	c, mr, _ := newTestCache(t)
	ctx := context.Background()
	var calls int32

	_, err := c.Get(ctx, "org_acme", countingLoader(&calls, Snapshot{Tier: entitlement.TierFree}))
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx, "org_acme"))
	assert.False(t, mr.Exists(keyPrefix+"org_acme"))

	got, err := c.Get(ctx, "org_acme", countingLoader(&calls, Snapshot{Tier: entitlement.TierTeam, Seats: 3}))
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierTeam, got.Tier)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestTierCache_RedisDownFallsBackToLoader(t *testing.T) {
	c, mr, _ := newTestCache(t)
	mr.Close()
	var calls int32

	got, err := c.Get(context.Background(), "usr_bob", countingLoader(&calls, Snapshot{Tier: entitlement.TierPro}))
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierPro, got.Tier)
}

func TestTierCache_LoaderErrorNotCached(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "usr_bob", func(context.Context) (Snapshot, error) {
		return Snapshot{}, errors.New("db down")
	})
	require.Error(t, err)

	var calls int32
	_, err = c.Get(ctx, "usr_bob", countingLoader(&calls, Snapshot{Tier: entitlement.TierFree}))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTierCache_ConcurrentMissesShareLoad(t *testing.T) {
	cfg := storage.DefaultConfig()
	c := NewTierCache(nil, cfg, nil, nil)

	var calls int32
	release := make(chan struct{})
	load := func(context.Context) (Snapshot, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return Snapshot{Tier: entitlement.TierTeam}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := c.Get(context.Background(), "org_acme", load)
			assert.NoError(t, err)
			assert.Equal(t, entitlement.TierTeam, snap.Tier)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTierCache_InvalidateDuringLoad(t *testing.T) {
	c, mr, _ := newTestCache(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	stale := func(context.Context) (Snapshot, error) {
		close(started)
		<-release
		return Snapshot{Tier: entitlement.TierFree}, nil
	}

	done := make(chan Snapshot)
	go func() {
		snap, err := c.Get(ctx, "org_acme", stale)
		assert.NoError(t, err)
		done <- snap
	}()

	<-started
	require.NoError(t, c.Invalidate(ctx, "org_acme"))
	close(release)
	assert.Equal(t, entitlement.TierFree, (<-done).Tier)

	assert.False(t, mr.Exists(keyPrefix+"org_acme"))

	var calls int32
	got, err := c.Get(ctx, "org_acme", countingLoader(&calls, Snapshot{Tier: entitlement.TierTeam, Seats: 12}))
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierTeam, got.Tier)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTierCache_Disabled(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.CacheEnabled = false
	c := NewTierCache(nil, cfg, nil, nil)
	var calls int32

	for i := 0; i < 3; i++ {
		_, err := c.Get(context.Background(), "usr_bob", countingLoader(&calls, Snapshot{Tier: entitlement.TierFree}))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.NoError(t, c.Invalidate(context.Background(), "usr_bob"))
}
