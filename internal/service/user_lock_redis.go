package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseLockScript deletes the lock only when still owned by the caller, so
// a lock that expired and was re-acquired elsewhere is never released by the
// previous holder.
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisUserLocker serializes admission per user across service instances with
// a SetNX lease. The TTL bounds how long a crashed holder can block a user.
type RedisUserLocker struct {
	client     redis.UniversalClient
	prefix     string
	ttl        time.Duration
	retryDelay time.Duration
}

func NewRedisUserLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisUserLocker {
	if prefix == "" {
		prefix = "admission_lock"
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisUserLocker{
		client:     client,
		prefix:     prefix,
		ttl:        ttl,
		retryDelay: 25 * time.Millisecond,
	}
}

func (l *RedisUserLocker) Lock(ctx context.Context, userID uint) (func(), error) {
	key := l.key(userID)
	owner := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire user lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseLockScript.Run(releaseCtx, l.client, []string{key}, owner).Err()
	}, nil
}

func (l *RedisUserLocker) key(userID uint) string {
	return fmt.Sprintf("%s:%d", l.prefix, userID)
}
