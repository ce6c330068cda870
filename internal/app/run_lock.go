package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRunLocker implements the billing run lease using a Redis key with a TTL.
// Only the holder's token can release it.
type RedisRunLocker struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisRunLocker creates a Redis lease under prefix. An empty prefix falls
// back to "billing:lease" and a non-positive ttl to 30 minutes.
func NewRedisRunLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisRunLocker {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "billing:lease"
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisRunLocker{client: client, key: trimmedPrefix + ":recurring_run", ttl: ttl}
}

// Acquire sets the lease key if it is free. acquired is false while another
// run holds it; the returned release only deletes the key this call set.
func (l *RedisRunLocker) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lease: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseLeaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("redis lease release: %w", err)
		}
		return nil
	}
	return release, true, nil
}

// AdvisoryLocker takes Postgres session advisory locks.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (func(context.Context) error, bool, error)
}

// billingRunLockKey is the advisory lock id reserved for billing runs.
const billingRunLockKey int64 = 0x62696c6c696e67

// PostgresRunLocker implements the billing run lease with pg_try_advisory_lock,
// used when Redis is not configured.
type PostgresRunLocker struct {
	locker AdvisoryLocker
}

// NewPostgresRunLocker creates a lease backed by the given advisory locker.
func NewPostgresRunLocker(locker AdvisoryLocker) *PostgresRunLocker {
	return &PostgresRunLocker{locker: locker}
}

// Acquire tries the billing run advisory lock without waiting.
func (l *PostgresRunLocker) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	return l.locker.TryAdvisoryLock(ctx, billingRunLockKey)
}
