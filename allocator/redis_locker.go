package allocator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"crispy/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker is a Locker shared by every process pointed at the same Redis.
// TTL bounds how long a crashed holder can block a partition, so it must exceed the
// longest allocation transaction.
type RedisLocker struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	poll      time.Duration
	logger    *slog.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{
		client:    client,
		namespace: "crispy:alloc:",
		ttl:       ttl,
		poll:      10 * time.Millisecond,
		logger:    logger.With("component", "redis_locker"),
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	lockKey := l.namespace + key
	token := uuid.New().String()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, &models.StorageError{Op: "acquire partition lock", Err: err, Retryable: true}
		}
		if ok {
			var once sync.Once
			return func() { once.Do(func() { l.release(lockKey, token) }) }, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s after %s", models.ErrLockTimeout, key, wait)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

func (l *RedisLocker) release(lockKey, token string) {
	// Released on a fresh context so a cancelled request still frees the partition.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Err(); err != nil {
		l.logger.Error("Failed to release partition lock", "key", lockKey, "error", err)
	}
}
