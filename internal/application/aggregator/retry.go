package aggregator

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"go.uber.org/zap"
)

// RetryPolicy bounds the retries around every collaborator call
type RetryPolicy struct {
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
	MaxAttempts int
	CallTimeout time.Duration
}

// DefaultRetryPolicy is 200ms doubling for 5 attempts, 10s per call
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   200 * time.Millisecond,
		Factor:      2,
		MaxDelay:    5 * time.Second,
		MaxAttempts: 5,
		CallTimeout: 10 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = d.CallTimeout
	}
	return p
}

// backoff returns the delay before the given retry (1-based), with up to 50% jitter
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Factor
	}
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	base := time.Duration(delay)
	if half := int64(base / 2); half > 0 {
		base += time.Duration(rand.Int64N(half))
	}
	return base
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// withRetry runs fn under a per-call timeout until it succeeds, fails
// permanently, exhausts attempts, or the parent ctx ends. Errors that are not
// apperror values are treated as transient.
func withRetry[T any](ctx context.Context, a *Aggregator, op string, code string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= a.retry.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, a.retry.CallTimeout)
		result, err := fn(callCtx)
		cancel()
		if err == nil {
			return result, nil
		}

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		lastErr = err
		if appErr, ok := apperror.As(err); ok && appErr.Kind == apperror.KindExternalPermanent {
			a.logger.Info("Permanent error, not retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return zero, err
		}

		if attempt < a.retry.MaxAttempts {
			backoff := a.retry.backoff(attempt)
			a.logger.Info("Retrying call",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			if err := a.sleep(ctx, backoff); err != nil {
				return zero, err
			}
		}
	}

	a.logger.Error("Call failed after retries",
		zap.String("op", op),
		zap.Int("max_attempts", a.retry.MaxAttempts),
		zap.Error(lastErr))

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return zero, apperror.Transient(code, lastErr, "%s timed out after %d attempts", op, a.retry.MaxAttempts)
	}
	return zero, apperror.Transient(code, lastErr, "%s failed after %d attempts", op, a.retry.MaxAttempts)
}
