// Package retry runs an operation until it succeeds, fails permanently, or
// runs out of attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrExhausted is returned, wrapping the last attempt's error, when
// MaxAttempts attempts have failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy configures Do.
type Policy struct {
	// AttemptTimeout bounds a single attempt. Zero means no per-attempt bound.
	AttemptTimeout time.Duration
	// Interval is the pause between a failed attempt and the next one.
	Interval time.Duration
	// MaxAttempts caps the number of attempts. Zero or less means one.
	MaxAttempts int
	// Retryable classifies a failure. Nil retries every error.
	Retryable func(error) bool
	Logger    *slog.Logger
}

// Do calls fn until it returns nil, returns an error Retryable rejects,
// or MaxAttempts is reached. Context cancellation stops the loop between
// attempts and is passed to fn.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	max := p.MaxAttempts
	if max <= 0 {
		max = 1
	}

	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := runAttempt(ctx, p.AttemptTimeout, fn)
		if err == nil {
			if attempt > 1 {
				log.Info("retry: succeeded", "attempt", attempt)
			}
			return v, nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt == 1 {
			log.Info("retry: attempt failed, retrying", "error", err, "interval", p.Interval, "max_attempts", max)
		} else {
			log.Debug("retry: attempt failed", "attempt", attempt, "error", err)
		}
		if attempt == max {
			break
		}

		if p.Interval > 0 {
			t := time.NewTimer(p.Interval)
			select {
			case <-ctx.Done():
				t.Stop()
				return zero, ctx.Err()
			case <-t.C:
			}
		}
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, max, lastErr)
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}
