package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/agentflow/internal/config"
	"github.com/agentflow/agentflow/pkg/observability"
)

func setupRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := NewRedisCache(context.Background(), config.RedisConfig{
		Address: mr.Addr(),
	}, observability.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	c, _ := setupRedisCache(t)
	ctx := context.Background()

	vec := []float32{0.25, 0.5, 0.75}
	require.NoError(t, c.Set(ctx, "embed:model:k1", vec, time.Minute))

	var got []float32
	require.NoError(t, c.Get(ctx, "embed:model:k1", &got))
	assert.Equal(t, vec, got)

	exists, err := c.Exists(ctx, "embed:model:k1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRedisCacheMiss(t *testing.T) {
	c, _ := setupRedisCache(t)

	var got string
	err := c.Get(context.Background(), "embed:model:nope", &got)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedisCacheTTL(t *testing.T) {
	c, mr := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "session:s1", "v", time.Second))
	mr.FastForward(2 * time.Second)

	var got string
	err := c.Get(ctx, "session:s1", &got)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedisCacheDeletePrefix(t *testing.T) {
	c, _ := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "query:invoices:1", "a", 0))
	require.NoError(t, c.Set(ctx, "query:invoices:2", "b", 0))
	require.NoError(t, c.Set(ctx, "query:social_posts:1", "c", 0))

	n, err := c.DeletePrefix(ctx, "query:invoices:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var got string
	assert.True(t, errors.Is(c.Get(ctx, "query:invoices:1", &got), ErrNotFound))
	require.NoError(t, c.Get(ctx, "query:social_posts:1", &got))
}

func TestRedisCacheStats(t *testing.T) {
	c, _ := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "query:a:1", "v", 0))
	var got string
	require.NoError(t, c.Get(ctx, "query:a:1", &got))
	_ = c.Get(ctx, "query:a:2", &got)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}
