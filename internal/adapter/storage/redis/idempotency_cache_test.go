package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyCache_CheckAndSet_NewKey(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewIdempotencyCache(client)

	fresh, err := cache.CheckAndSet(context.Background(), "wd:card:invoice", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh, "new key should return true")
}

func TestIdempotencyCache_CheckAndSet_Duplicate(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	fresh, err := cache.CheckAndSet(ctx, "wd:card:invoice", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = cache.CheckAndSet(ctx, "wd:card:invoice", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, fresh, "duplicate key should return false")
}

func TestIdempotencyCache_DeleteAllowsRetry(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	fresh, err := cache.CheckAndSet(ctx, "wd:card:invoice", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	require.NoError(t, cache.Delete(ctx, "wd:card:invoice"))

	fresh, err = cache.CheckAndSet(ctx, "wd:card:invoice", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh, "deleted key should accept a retry")
}

func TestIdempotencyCache_Expiry(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	fresh, err := cache.CheckAndSet(ctx, "wd:card:invoice", time.Second)
	require.NoError(t, err)
	assert.True(t, fresh)

	s.FastForward(2 * time.Second)

	fresh, err = cache.CheckAndSet(ctx, "wd:card:invoice", time.Second)
	require.NoError(t, err)
	assert.True(t, fresh, "expired key should be treated as new")
}
