package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keeps the latest snapshot of each live query in Redis so that
// opening a subscription does not always hit table storage. Writes evict the
// affected entry; watchers refresh it with a fresh read after every change.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a snapshot cache. A nil client or a non-positive TTL
// disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{redis: client, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.redis != nil && c.ttl > 0
}

func loadSnapshot[T any](ctx context.Context, c *Cache, collection, userID string) ([]T, bool) {
	if !c.enabled() {
		return nil, false
	}
	key := cacheKey(collection, userID)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return out, true
}

func (c *Cache) store(ctx context.Context, collection, userID string, v any) {
	if !c.enabled() {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, cacheKey(collection, userID), data, c.ttl).Err()
}

// Evict drops the cached snapshot for one live query.
func (c *Cache) Evict(ctx context.Context, collection, userID string) {
	if c == nil || c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, cacheKey(collection, userID)).Err()
}

func cacheKey(collection, userID string) string {
	return "snap:" + collection + ":" + userID
}
