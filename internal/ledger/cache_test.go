package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisStockCacheVersioning(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewRedisStockCache(client, time.Minute)
	ctx := context.Background()
	wh := int64(3)

	entry, err := cache.Lookup(ctx, 1, &wh)
	require.NoError(t, err)
	require.False(t, entry.Hit)
	require.Zero(t, entry.Version)

	require.NoError(t, cache.Store(ctx, 1, &wh, entry.Version, 42))
	entry, err = cache.Lookup(ctx, 1, &wh)
	require.NoError(t, err)
	require.True(t, entry.Hit)
	require.Equal(t, int64(42), entry.Quantity)

	require.NoError(t, cache.Bump(ctx, 1))
	entry, err = cache.Lookup(ctx, 1, &wh)
	require.NoError(t, err)
	require.False(t, entry.Hit)
	require.Equal(t, int64(1), entry.Version)

	// A value computed under the old version cannot resurrect.
	require.NoError(t, cache.Store(ctx, 1, &wh, 0, 41))
	entry, err = cache.Lookup(ctx, 1, &wh)
	require.NoError(t, err)
	require.False(t, entry.Hit)

	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists(valueKey(1, &wh, 0)))
}
