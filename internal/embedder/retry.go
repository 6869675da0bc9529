package embedder

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/gocontext-index/pkg/types"
)

// sleepFunc waits for d or until ctx is done
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryHooks observes the retry loop
type retryHooks struct {
	sleep   sleepFunc
	rnd     func() float64
	onRetry func(kind types.ErrorKind, attempt int, delay time.Duration, err error)
}

// retryWithBackoff runs fn until it succeeds, fails with a non-retryable
// kind, or profile.MaxRetries attempts are used. It returns the number of
// attempts made and the last error's kind.
func retryWithBackoff[T any](ctx context.Context, profile ProviderProfile, hooks retryHooks, fn func(attempt int) (T, error)) (T, int, types.ErrorKind, error) {
	var zero T
	var lastErr error
	var lastKind types.ErrorKind

	if hooks.sleep == nil {
		hooks.sleep = sleepContext
	}

	for attempt := 0; attempt < profile.MaxRetries; attempt++ {
		result, err := fn(attempt)
		if err == nil {
			return result, attempt + 1, "", nil
		}
		lastErr = err
		lastKind = profile.Classify(err)

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return zero, attempt + 1, lastKind, ctx.Err()
		}
		if !lastKind.Retryable() {
			return zero, attempt + 1, lastKind, err
		}
		if attempt == profile.MaxRetries-1 {
			break
		}

		delay := profile.Backoff(lastKind, attempt, hooks.rnd)
		var pe *ProviderError
		if errors.As(err, &pe) && pe.RetryAfter > delay {
			delay = min(pe.RetryAfter, max(profile.MaxDelay, delay))
		}
		if hooks.onRetry != nil {
			hooks.onRetry(lastKind, attempt, delay, err)
		}
		if err := hooks.sleep(ctx, delay); err != nil {
			return zero, attempt + 1, lastKind, err
		}
	}

	return zero, profile.MaxRetries, lastKind, lastErr
}
