package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSeenCache is the fast-path seen-set in front of the durable
// dedup_records table. A miss here is not authoritative (keys expire, Redis
// may restart); only the database upsert decides first-sighting.
type RedisSeenCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisSeenCache creates a seen cache with the given key TTL.
func NewRedisSeenCache(client redis.UniversalClient, ttl time.Duration) *RedisSeenCache {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &RedisSeenCache{client: client, ttl: ttl}
}

// MarkSeen atomically marks a dedup key as seen. Returns true if the key
// was not present (first sighting within the TTL window), false if it was.
// Uses SET with NX + TTL in one command; a separate SETNX/EXPIRE pair would
// race under concurrent slice fetches.
func (c *RedisSeenCache) MarkSeen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}

	cmd := c.client.SetArgs(ctx, "seen:"+key, "1", redis.SetArgs{Mode: "NX", TTL: c.ttl})
	status, err := cmd.Result()
	if err != nil {
		// NX not met (key exists) comes back as a nil reply, not an error.
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis SET NX: %w", err)
	}
	return status == "OK", nil
}

// Health checks the health of the Redis connection.
func (c *RedisSeenCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
