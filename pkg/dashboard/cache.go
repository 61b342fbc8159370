package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/CatfishW/ping-agaii-org/pkg/observability"
	"github.com/CatfishW/ping-agaii-org/pkg/storage/postgres"
)

const overviewKeyPrefix = "dashboard:overview:"

// TieredCache holds recently built overviews: an in-process expirable LRU
// in front of an optional shared Redis tier. A nil *TieredCache is a
// disabled cache.
type TieredCache struct {
	local   *lru.LRU[string, *DashboardOverview]
	redis   *postgres.RedisClient
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewTieredCache returns nil when ttl is not positive. redis may be nil.
func NewTieredCache(size int, ttl time.Duration, redis *postgres.RedisClient, metrics *observability.Metrics, logger *observability.Logger) *TieredCache {
	if ttl <= 0 {
		return nil
	}
	if size < 1 {
		size = 16
	}
	return &TieredCache{
		local:   lru.NewLRU[string, *DashboardOverview](size, nil, ttl),
		redis:   redis,
		ttl:     ttl,
		metrics: metrics,
		logger:  logger,
	}
}

func overviewKey(rangeDays int) string {
	return fmt.Sprintf("%s%d", overviewKeyPrefix, rangeDays)
}

// Get returns a cached overview for the window.
func (c *TieredCache) Get(ctx context.Context, rangeDays int) (*DashboardOverview, bool) {
	if c == nil {
		return nil, false
	}
	key := overviewKey(rangeDays)

	if overview, ok := c.local.Get(key); ok {
		c.metrics.ObserveCache("overview", "memory")
		return overview, true
	}

	if c.redis != nil {
		var overview DashboardOverview
		err := c.redis.GetJSON(ctx, key, &overview)
		if err == nil {
			c.local.Add(key, &overview)
			c.metrics.ObserveCache("overview", "redis")
			return &overview, true
		}
		if !errors.Is(err, postgres.ErrCacheMiss) {
			c.logger.WithError(err).Warn("overview cache read failed")
		}
	}

	c.metrics.ObserveCache("overview", "")
	return nil, false
}

// Set stores overview in both tiers.
func (c *TieredCache) Set(ctx context.Context, rangeDays int, overview *DashboardOverview) {
	if c == nil || overview == nil {
		return
	}
	key := overviewKey(rangeDays)
	c.local.Add(key, overview)
	if c.redis != nil {
		if err := c.redis.SetJSON(ctx, key, overview, c.ttl); err != nil {
			c.logger.WithError(err).Warn("overview cache write failed")
		}
	}
}

// Invalidate drops every cached overview, used after registry edits.
func (c *TieredCache) Invalidate(ctx context.Context) {
	if c == nil {
		return
	}
	c.local.Purge()
	if c.redis != nil {
		if err := c.redis.InvalidatePatterns(ctx, overviewKeyPrefix+"*"); err != nil {
			c.logger.WithError(err).Warn("overview cache invalidation failed")
		}
	}
}
