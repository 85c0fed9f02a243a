package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockHeld is returned when another run holds the pipeline lock
var ErrLockHeld = errors.New("pipeline lock is held by another run")

// DefaultLockKey is the redis key guarding the stats tables
const DefaultLockKey = "repostats:pipeline:lock"

// Locker guarantees a single writer to the stats tables
type Locker interface {
	// Acquire takes the lock or returns ErrLockHeld. The returned function
	// releases it.
	Acquire(ctx context.Context) (func(context.Context) error, error)
}

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock is a Locker backed by a redis key with a TTL
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLock creates a redis lock. The TTL bounds how long a crashed run
// can block later ones.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	if key == "" {
		key = DefaultLockKey
	}
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &RedisLock{client: client, key: key, ttl: ttl}
}

// Acquire implements Locker
func (l *RedisLock) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire pipeline lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release pipeline lock: %w", err)
		}
		return nil
	}, nil
}
