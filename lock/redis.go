package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisTTL   = 30 * time.Second
	defaultRedisRetry = 50 * time.Millisecond
)

// unlockScript deletes the key only while it still holds our token, so an
// expired lock taken over by another holder is never released by us.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock implements Locker with SET NX PX and a token-checked release.
// Locks expire after their ttl (30s when unset) if the holder disappears.
type RedisLock struct {
	client redis.UniversalClient
	prefix string
	retry  time.Duration
	logger *slog.Logger
}

// NewRedisLock creates a RedisLock. Keys are stored as prefix+key.
func NewRedisLock(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisLock {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLock{client: client, prefix: prefix, retry: defaultRedisRetry, logger: logger}
}

func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	for {
		release, ok, err := l.TryAcquire(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire lock for %s: %w", key, ctx.Err())
		}
	}
}

func (l *RedisLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	k := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("try acquire lock for %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := unlockScript.Run(context.Background(), l.client, []string{k}, token).Err(); err != nil {
				l.logger.Warn("redis lock release failed", "key", key, "error", err)
			}
		})
	}
	return release, true, nil
}
