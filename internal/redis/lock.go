package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("provider schedule lock not acquired")
)

// Locker serializes booking critical sections per provider across API
// instances. The database row lock inside the booking transaction is the
// authoritative guard; this lock fails contended requests fast instead of
// queueing them on the database.
type Locker interface {
	WithProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisProviderLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisProviderLocker creates a locker that uses a per provider Redis key
func NewRedisProviderLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisProviderLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisProviderLocker) WithProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:provider:%s", providerID.String())
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire provider lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisProviderLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release provider lock: %w", err)
	}
	return nil
}
