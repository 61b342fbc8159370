package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CatfishW/ping-agaii-org/pkg/observability"
	"github.com/CatfishW/ping-agaii-org/pkg/storage/postgres"
)

func newRedis(t *testing.T) (*postgres.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := postgres.NewRedisClientFrom(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func sampleOverview() *DashboardOverview {
	return &DashboardOverview{
		Totals:      Totals{Apps: 3, Users: 7},
		Apps:        []AppSummary{{Slug: SlugPing, Name: "PING Web", Connected: true, State: StateConnected, Users: 7}},
		Trend:       []TrendPoint{{Date: "2025-01-01", Events: 2, Sessions: 1}},
		GeneratedAt: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTieredCache_DisabledWhenNoTTL(t *testing.T) {
	c := NewTieredCache(8, 0, nil, nil, testLogger())
	assert.Nil(t, c)

	// nil cache is usable
	c.Set(context.Background(), 14, sampleOverview())
	_, ok := c.Get(context.Background(), 14)
	assert.False(t, ok)
	c.Invalidate(context.Background())
}

func TestTieredCache_MemoryTier(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	c := NewTieredCache(8, time.Minute, nil, metrics, testLogger())
	ctx := context.Background()

	_, ok := c.Get(ctx, 14)
	assert.False(t, ok)

	c.Set(ctx, 14, sampleOverview())
	got, ok := c.Get(ctx, 14)
	require.True(t, ok)
	assert.Equal(t, int64(7), got.Totals.Users)

	_, ok = c.Get(ctx, 7)
	assert.False(t, ok, "keys are per window")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("overview", "memory")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("overview")))
}

func TestTieredCache_RedisTierIsShared(t *testing.T) {
	rc, mr := newRedis(t)
	ctx := context.Background()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	writer := NewTieredCache(8, time.Minute, rc, nil, testLogger())
	writer.Set(ctx, 30, sampleOverview())
	assert.True(t, mr.Exists("dashboard:overview:30"))
	assert.Equal(t, time.Minute, mr.TTL("dashboard:overview:30"))

	reader := NewTieredCache(8, time.Minute, rc, metrics, testLogger())
	got, ok := reader.Get(ctx, 30)
	require.True(t, ok)
	assert.Equal(t, sampleOverview(), got)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("overview", "redis")))

	// promoted into the memory tier
	_, ok = reader.Get(ctx, 30)
	require.True(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("overview", "memory")))

	reader.Invalidate(ctx)
	assert.False(t, mr.Exists("dashboard:overview:30"))
	_, ok = reader.Get(ctx, 30)
	assert.False(t, ok)
}

func TestTieredCache_RedisDownFallsThrough(t *testing.T) {
	rc, mr := newRedis(t)
	c := NewTieredCache(8, time.Minute, rc, nil, testLogger())
	mr.Close()

	c.Set(context.Background(), 14, sampleOverview())
	got, ok := c.Get(context.Background(), 14)
	require.True(t, ok, "memory tier still serves")
	assert.Equal(t, int64(7), got.Totals.Users)

	_, ok = c.Get(context.Background(), 60)
	assert.False(t, ok)
}
