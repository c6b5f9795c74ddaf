package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
)

// ErrLocked is returned by a Locker when another holder owns the key.
var ErrLocked = errors.New("outbox: sweep lock held elsewhere")

// Locker grants exclusive sweep runs across processes.
type Locker interface {
	// TryLock obtains key for ttl without waiting. It returns ErrLocked when
	// the key is held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// RedisLocker implements Locker on bsm/redislock.
type RedisLocker struct {
	client *redislock.Client
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker wraps a redislock client.
func NewRedisLocker(client redislock.RedisClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(client)}
}

// TryLock obtains key once, with no retry strategy.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			// Expired before release; the next sweep may already hold it.
			return nil
		}
		return err
	}, nil
}
