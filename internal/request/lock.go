package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Locker serializes writes. Lock blocks until the lock is held or ctx ends
// and returns the function that releases it.
type Locker interface {
	Lock(ctx context.Context) (release func(), err error)
}

// MutexLocker serializes writes within one process.
type MutexLocker struct {
	sem chan struct{}
}

// NewMutexLocker returns an unlocked MutexLocker.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{sem: make(chan struct{}, 1)}
}

func (m *MutexLocker) Lock(ctx context.Context) (func(), error) {
	select {
	case m.sem <- struct{}{}:
		return func() { <-m.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("request: acquire lock: %w", ctx.Err())
	}
}

// RedisLockKey is the key all processes contend on.
const RedisLockKey = "matreq:material_requests:write"

// RedisLocker serializes writes across processes sharing one Redis.
type RedisLocker struct {
	client *redislock.Client
	key    string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker builds a RedisLocker over an existing go-redis client.
func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(rdb),
		key:    RedisLockKey,
		ttl:    30 * time.Second,
		retry:  50 * time.Millisecond,
	}
}

// DialRedisLocker connects to addr and verifies the server answers.
func DialRedisLocker(ctx context.Context, addr string) (*RedisLocker, func() error, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("request: connect redis %s: %w", addr, err)
	}
	return NewRedisLocker(rdb), rdb.Close, nil
}

func (r *RedisLocker) Lock(ctx context.Context) (func(), error) {
	lock, err := r.client.Obtain(ctx, r.key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.retry),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("request: acquire lock %s: timed out", r.key)
	}
	if err != nil {
		return nil, fmt.Errorf("request: acquire lock %s: %w", r.key, err)
	}
	return func() {
		// Release must run even when ctx is already cancelled.
		_ = lock.Release(context.Background())
	}, nil
}
