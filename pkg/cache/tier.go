package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/entitle/pkg/entitlement"
	"github.com/platinummonkey/entitle/pkg/observability"
	"github.com/platinummonkey/entitle/pkg/storage"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "entitle:tier:"

// Snapshot is the cached tier of a user or organization.
// It feeds read-only access decisions and is never consulted for billing authority.
type Snapshot struct {
	Tier  entitlement.Tier `json:"tier"`
	Seats int              `json:"seats,omitempty"`
}

// Loader reads the snapshot from the directory store on a miss
type Loader func(ctx context.Context) (Snapshot, error)

// TierCache is a two-level read-through cache keyed by reference id
// ("usr_..." or "org_..."). L1 is a per-process expirable LRU; L2 is Redis
// shared by all instances. Concurrent misses for one key share a single load.
type TierCache struct {
	local   *lru.LRU[string, Snapshot]
	redis   *redis.Client
	ttl     time.Duration
	group   singleflight.Group
	logger  *observability.Logger
	metrics *observability.Metrics

	// generation advances on every Invalidate; a load that saw an older
	// generation returns its result without storing it
	generation atomic.Uint64
}

// NewTierCache creates a tier cache. client may be nil to run L1 only.
// With caching disabled every Get goes to the loader.
func NewTierCache(client *redis.Client, cfg storage.Config, logger *observability.Logger, metrics *observability.Metrics) *TierCache {
	if logger == nil {
		logger = observability.GetLogger(context.Background())
	}
	c := &TierCache{
		redis:   client,
		ttl:     cfg.CacheTTL,
		logger:  logger,
		metrics: metrics,
	}
	if !cfg.CacheEnabled {
		c.redis = nil
		return c
	}

	size := cfg.L1CacheSize
	if size <= 0 {
		size = 1000
	}
	c.local = lru.NewLRU[string, Snapshot](size, nil, cfg.L1CacheTTL)
	return c
}

// Get returns the snapshot for referenceID, loading it on a miss
func (c *TierCache) Get(ctx context.Context, referenceID string, load Loader) (Snapshot, error) {
	key := keyPrefix + referenceID

	if c.local != nil {
		if snap, ok := c.local.Get(key); ok {
			c.metrics.RecordCacheHit("l1")
			return snap, nil
		}
	}

	if snap, ok := c.getRemote(ctx, key); ok {
		c.metrics.RecordCacheHit("l2")
		c.setLocal(key, snap)
		return snap, nil
	}

	c.metrics.RecordCacheMiss()
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		gen := c.generation.Load()
		snap, err := load(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		if c.generation.Load() != gen {
			return snap, nil
		}
		c.setRemote(ctx, key, snap)
		c.setLocal(key, snap)
		return snap, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

// Invalidate drops referenceID from both levels. A load already in flight
// is not stored, and later misses start a fresh one. Other instances keep
// their L1 copy until it expires.
func (c *TierCache) Invalidate(ctx context.Context, referenceID string) error {
	key := keyPrefix + referenceID
	c.generation.Add(1)
	c.group.Forget(key)
	if c.local != nil {
		c.local.Remove(key)
	}
	if c.redis == nil {
		return nil
	}
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", referenceID, err)
	}
	return nil
}

func (c *TierCache) setLocal(key string, snap Snapshot) {
	if c.local != nil {
		c.local.Add(key, snap)
	}
}

// getRemote reads L2. Redis failures degrade to a miss.
func (c *TierCache) getRemote(ctx context.Context, key string) (Snapshot, bool) {
	if c.redis == nil {
		return Snapshot{}, false
	}

	data, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false
	}
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Tier cache read failed")
		return Snapshot{}, false
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.redis.Del(ctx, key)
		return Snapshot{}, false
	}
	return snap, true
}

func (c *TierCache) setRemote(ctx context.Context, key string, snap Snapshot) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Tier cache write failed")
	}
}
