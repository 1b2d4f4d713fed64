package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CodeLockNotObtained is returned when a key stays held past the retry budget
const CodeLockNotObtained = "LOCK_NOT_OBTAINED"

// RedisConfig tunes the retry loop of RedisLocker.Obtain
type RedisConfig struct {
	Prefix     string
	RetryEvery time.Duration
	MaxRetries int
}

// RedisLocker is a distributed locker on top of bsm/redislock
type RedisLocker struct {
	client *redislock.Client
	cfg    RedisConfig
	logger *zap.Logger
}

// NewRedisLocker creates a locker over an existing Redis client
func NewRedisLocker(rdb redis.UniversalClient, cfg RedisConfig, logger *zap.Logger) *RedisLocker {
	if cfg.RetryEvery <= 0 {
		cfg.RetryEvery = 50 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 100
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "recon:lock:"
	}
	return &RedisLocker{
		client: redislock.New(rdb),
		cfg:    cfg,
		logger: logger,
	}
}

// Obtain retries until the key is free, the retry budget runs out
// (ConflictError LOCK_NOT_OBTAINED) or ctx is done
func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (port.Lock, error) {
	lk, err := l.client.Obtain(ctx, l.cfg.Prefix+key, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.cfg.RetryEvery), l.cfg.MaxRetries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		l.logger.Warn("Could not obtain lock", zap.String("key", key))
		return nil, apperror.Conflict(CodeLockNotObtained, "lock %s is held by another operation", key)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		l.logger.Error("Error obtaining lock", zap.String("key", key), zap.Error(err))
		return nil, apperror.Internal(err, "failed to obtain lock %s", key)
	}
	return &redisLock{lock: lk, key: key, logger: l.logger}, nil
}

type redisLock struct {
	lock   *redislock.Lock
	key    string
	logger *zap.Logger
}

// Release drops the lock. An already expired lock is not an error.
func (r *redisLock) Release(ctx context.Context) error {
	err := r.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		r.logger.Warn("Lock expired before release", zap.String("key", r.key))
		return nil
	}
	return err
}

var _ port.Locker = (*RedisLocker)(nil)
