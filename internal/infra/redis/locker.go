package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/milkbank/internal/domain"
	"github.com/kursadbilgin/milkbank/internal/lock"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL   = 10 * time.Second
	defaultLockWait  = 2 * time.Second
	lockKeyPrefix    = "milkbank:lock"
	lockBackoffStart = 5 * time.Millisecond
	lockBackoffMax   = 100 * time.Millisecond
)

// ErrLockLost is returned by an unlock whose lease expired or was taken over.
var ErrLockLost = errors.New("lock lease lost before release")

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ lock.Locker = (*RedisLocker)(nil)

// RedisLocker is a lease-based lock shared by all API replicas. Each holder
// writes a random token and only a matching token can release the key.
type RedisLocker struct {
	client *goredis.Client
	ttl    time.Duration
	wait   time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	token  func() string
	script *goredis.Script
}

func NewRedisLocker(client *goredis.Client, ttl, wait time.Duration) (*RedisLocker, error) {
	return newRedisLocker(client, ttl, wait, time.Now, sleepWithContext)
}

func newRedisLocker(
	client *goredis.Client,
	ttl time.Duration,
	wait time.Duration,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if wait < 0 {
		wait = defaultLockWait
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		now:    nowFn,
		sleep:  sleepFn,
		token:  uuid.NewString,
		script: releaseScript,
	}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (lock.Unlock, error) {
	if l == nil || l.client == nil {
		return nil, fmt.Errorf("locker is not initialized")
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("lock key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisKey := fmt.Sprintf("%s:%s", lockKeyPrefix, key)
	token := l.token()
	deadline := l.now().Add(l.wait)

	backoff := lockBackoffStart
	for {
		acquired, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: acquire lock %s: %v", domain.ErrRetryable, key, err)
		}
		if acquired {
			return l.unlockFunc(redisKey, token), nil
		}

		if !l.now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s is held by another operation", domain.ErrConcurrencyConflict, key)
		}

		if err := l.sleep(ctx, backoff); err != nil {
			return nil, err
		}

		backoff *= 2
		if backoff > lockBackoffMax {
			backoff = lockBackoffMax
		}
	}
}

func (l *RedisLocker) unlockFunc(redisKey, token string) lock.Unlock {
	return func(ctx context.Context) error {
		if ctx == nil {
			ctx = context.Background()
		}

		released, err := l.script.Run(ctx, l.client, []string{redisKey}, token).Int()
		if err != nil {
			return fmt.Errorf("release lock %s: %w", redisKey, err)
		}
		if released == 0 {
			return fmt.Errorf("%w: %s", ErrLockLost, redisKey)
		}
		return nil
	}
}
