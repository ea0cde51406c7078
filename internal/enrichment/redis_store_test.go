package enrichment

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"portfolio-analytics/internal/domain"
	"portfolio-analytics/pkg/logger"
	"portfolio-analytics/pkg/redis"
)

func setupRedisStore(t *testing.T) (*miniredis.Miniredis, *memoryStore, *RedisStore) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := redis.NewClient("redis://"+mr.Addr(), "production", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	inner := newMemoryStore()
	return mr, inner, NewRedisStore(inner, client, domain.EnrichmentIPInfo, logger.NewNop())
}

func TestRedisStore_ReadThrough(t *testing.T) {
	mr, inner, store := setupRedisStore(t)
	ctx := context.Background()
	inner.entries["1.2.3.4"] = domain.EnrichmentResult{Value: `{"ip":"1.2.3.4"}`}

	result, err := store.Get(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, `{"ip":"1.2.3.4"}`, result.Value)
	assert.True(t, mr.Exists("prod:enrich:ipinfo:1.2.3.4"))
	assert.Positive(t, mr.TTL("prod:enrich:ipinfo:1.2.3.4"))

	// Served from Redis once the inner store forgets it.
	delete(inner.entries, "1.2.3.4")
	result, err = store.Get(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, `{"ip":"1.2.3.4"}`, result.Value)
	assert.NotNil(t, result.FetchedAt)
}

func TestRedisStore_ErrorsStayOutOfRedis(t *testing.T) {
	mr, inner, store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutError(ctx, "5.6.7.8", "bogon address"))
	assert.Equal(t, "bogon address", inner.entries["5.6.7.8"].Err)

	result, err := store.Get(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.Equal(t, "bogon address", result.Err)
	assert.False(t, mr.Exists("prod:enrich:ipinfo:5.6.7.8"))
}

func TestRedisStore_PutValuePopulatesRedis(t *testing.T) {
	mr, inner, store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutValue(ctx, "9.9.9.9", `{"ip":"9.9.9.9"}`))
	assert.Equal(t, `{"ip":"9.9.9.9"}`, inner.entries["9.9.9.9"].Value)
	assert.True(t, mr.Exists("prod:enrich:ipinfo:9.9.9.9"))
}

func TestRedisStore_DegradesWhenRedisIsDown(t *testing.T) {
	mr, inner, store := setupRedisStore(t)
	ctx := context.Background()
	inner.entries["1.1.1.1"] = domain.EnrichmentResult{Value: `{"ip":"1.1.1.1"}`}

	mr.Close()

	result, err := store.Get(ctx, "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, `{"ip":"1.1.1.1"}`, result.Value)

	require.NoError(t, store.PutValue(ctx, "2.2.2.2", `{"ip":"2.2.2.2"}`))
	assert.Equal(t, `{"ip":"2.2.2.2"}`, inner.entries["2.2.2.2"].Value)
}

func TestRedisStore_CorruptEntryFallsBack(t *testing.T) {
	mr, inner, store := setupRedisStore(t)
	inner.entries["3.3.3.3"] = domain.EnrichmentResult{Value: `{"ip":"3.3.3.3"}`}
	require.NoError(t, mr.Set("prod:enrich:ipinfo:3.3.3.3", "not json"))

	result, err := store.Get(context.Background(), "3.3.3.3")
	require.NoError(t, err)
	assert.Equal(t, `{"ip":"3.3.3.3"}`, result.Value)
}
