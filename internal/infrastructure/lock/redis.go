// Package lock provides the distributed lot locks taken around sale commits.
package lock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"costengine/internal/core/apperror"
	"costengine/internal/domain/byproduct"
	"costengine/pkg/logger"
)

var _ byproduct.Locker = (*RedisLocker)(nil)

// RedisLocker serializes commits touching the same lots across processes.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	retry   redislock.RetryStrategy
	keyBase string
}

// NewRedisLocker creates a locker. Keys are held for at most ttl.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:  redislock.New(rdb),
		ttl:     ttl,
		retry:   redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 20),
		keyBase: "costengine:",
	}
}

// Lock acquires every key in sorted order or none of them.
func (l *RedisLocker) Lock(ctx context.Context, keys []string) (func(context.Context), error) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]*redislock.Lock, 0, len(sorted))
	release := func(ctx context.Context) {
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				logger.Warn(ctx, "release lock failed", "key", held[i].Key(), "error", err)
			}
		}
	}

	for _, key := range sorted {
		lk, err := l.client.Obtain(ctx, l.keyBase+key, l.ttl, &redislock.Options{RetryStrategy: l.retry})
		if err != nil {
			release(context.WithoutCancel(ctx))
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, apperror.NewConflict("lot is locked by another sale").WithDetail("key", key)
			}
			return nil, fmt.Errorf("obtain lock %s: %w", key, err)
		}
		held = append(held, lk)
	}
	return release, nil
}
