package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ops/internal/shared"
)

// RedisLock is a single-key mutex shared by every process talking to the same redis.
type RedisLock struct {
	locker *redislock.Client
	key    string
	ttl    time.Duration
}

// NewRedisLock builds a lock on key that expires after ttl unless refreshed.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLock{locker: redislock.New(client), key: key, ttl: ttl}
}

// Acquire obtains the lock without waiting. A held lock yields shared.ErrMaintenanceInProgress.
func (l *RedisLock) Acquire(ctx context.Context) (shared.Lease, error) {
	lock, err := l.locker.Obtain(ctx, l.key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, shared.ErrMaintenanceInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("platform/cache: obtain %s: %w", l.key, err)
	}
	return &redisLease{lock: lock, ttl: l.ttl}, nil
}

type redisLease struct {
	lock *redislock.Lock
	ttl  time.Duration
}

func (l *redisLease) Refresh(ctx context.Context) error {
	if err := l.lock.Refresh(ctx, l.ttl, nil); err != nil {
		return fmt.Errorf("platform/cache: refresh lock: %w", err)
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}

// LocalLock is the in-process counterpart of RedisLock for single-process deployments.
type LocalLock struct {
	mu sync.Mutex
}

// NewLocalLock returns an unlocked LocalLock.
func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

// Acquire obtains the lock without waiting.
func (l *LocalLock) Acquire(context.Context) (shared.Lease, error) {
	if !l.mu.TryLock() {
		return nil, shared.ErrMaintenanceInProgress
	}
	return &localLease{release: sync.OnceFunc(l.mu.Unlock)}, nil
}

type localLease struct {
	release func()
}

func (l *localLease) Refresh(context.Context) error { return nil }

func (l *localLease) Release(context.Context) error {
	l.release()
	return nil
}
