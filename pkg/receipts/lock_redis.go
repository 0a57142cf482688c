package receipts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisUnlockScript releases the lock only when the stored owner token still
// matches, so a lock that expired and was re-acquired by another process is
// never deleted by the original holder.
// KEYS[1] = lock key
// ARGV[1] = owner token
var redisUnlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisIssuanceLock implements IssuanceLock over a shared Redis instance
// using SET NX with a TTL and a compare-and-delete release.
type RedisIssuanceLock struct {
	client    *redis.Client
	ttl       time.Duration
	retryWait time.Duration
}

// NewRedisIssuanceLock connects to Redis at addr.
func NewRedisIssuanceLock(addr, password string, db int) *RedisIssuanceLock {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisIssuanceLockWithClient(rdb)
}

// NewRedisIssuanceLockWithClient wraps an existing client, for tests and
// shared connection pools.
func NewRedisIssuanceLockWithClient(client *redis.Client) *RedisIssuanceLock {
	return &RedisIssuanceLock{
		client:    client,
		ttl:       30 * time.Second,
		retryWait: 50 * time.Millisecond,
	}
}

func (l *RedisIssuanceLock) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := "issuance_lock:" + key
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock error: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryWait):
		}
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = redisUnlockScript.Run(releaseCtx, l.client, []string{lockKey}, token).Result()
	}
	return release, nil
}
