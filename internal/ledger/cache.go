package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStockCache stores summed stock under a per-product version so a bump
// orphans every warehouse entry of that product at once.
type RedisStockCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStockCache constructs the cache. A zero ttl falls back to one minute.
func NewRedisStockCache(client *redis.Client, ttl time.Duration) *RedisStockCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisStockCache{client: client, ttl: ttl}
}

func versionKey(productID int64) string {
	return fmt.Sprintf("ledger:stock:%d:ver", productID)
}

func valueKey(productID int64, warehouseID *int64, version int64) string {
	wh := "all"
	if warehouseID != nil {
		wh = strconv.FormatInt(*warehouseID, 10)
	}
	return fmt.Sprintf("ledger:stock:%d:%s:v%d", productID, wh, version)
}

// Lookup returns the cached quantity for the current version, if any.
func (c *RedisStockCache) Lookup(ctx context.Context, productID int64, warehouseID *int64) (CacheEntry, error) {
	ver, err := c.client.Get(ctx, versionKey(productID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return CacheEntry{}, err
	}
	qty, err := c.client.Get(ctx, valueKey(productID, warehouseID, ver)).Int64()
	if errors.Is(err, redis.Nil) {
		return CacheEntry{Version: ver}, nil
	}
	if err != nil {
		return CacheEntry{}, err
	}
	return CacheEntry{Quantity: qty, Version: ver, Hit: true}, nil
}

// Store caches quantity under version. A value computed before a bump lands on a dead key.
func (c *RedisStockCache) Store(ctx context.Context, productID int64, warehouseID *int64, version, quantity int64) error {
	return c.client.Set(ctx, valueKey(productID, warehouseID, version), quantity, c.ttl).Err()
}

// Bump advances the product version.
func (c *RedisStockCache) Bump(ctx context.Context, productID int64) error {
	return c.client.Incr(ctx, versionKey(productID)).Err()
}
