package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLicenseLookupCache remembers (user, episode) pairs that have no
// license row, sparing the database on repeated probes for content a user
// never bought. Positive results are never cached: a revocation must be
// visible on the very next validate.
type RedisLicenseLookupCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisLicenseLookupCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLicenseLookupCache {
	if prefix == "" {
		prefix = "license_missing"
	}
	return &RedisLicenseLookupCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisLicenseLookupCache) IsKnownMissing(ctx context.Context, userID, episodeID uint) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	_, err := c.client.Get(ctx, c.key(userID, episodeID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisLicenseLookupCache) MarkMissing(ctx context.Context, userID, episodeID uint) error {
	if c.client == nil || c.ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.key(userID, episodeID), "1", c.ttl).Err()
}

func (c *RedisLicenseLookupCache) Invalidate(ctx context.Context, userID, episodeID uint) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.key(userID, episodeID)).Err()
}

func (c *RedisLicenseLookupCache) key(userID, episodeID uint) string {
	return fmt.Sprintf("%s:%d:%d", c.prefix, userID, episodeID)
}
