// Package retry runs a fallible call a bounded number of times with
// exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrNoBudget is returned (wrapping the last attempt error) when the next
// backoff plus a full attempt would not finish before the context deadline.
var ErrNoBudget = errors.New("retry: backoff exceeds remaining budget")

// Policy controls retry behavior.
type Policy struct {
	// MaxAttempts bounds the number of calls; values < 1 mean one call.
	MaxAttempts int
	// BaseDelay is the wait after the first failure; it doubles after each
	// further failure (1x, 2x, 4x, ...).
	BaseDelay time.Duration
	// AttemptTimeout, when > 0, bounds each individual call.
	AttemptTimeout time.Duration
	// ShouldRetry classifies errors; nil retries everything except
	// context.Canceled.
	ShouldRetry func(error) bool
}

// Backoff returns the delay to wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	return p.BaseDelay << (attempt - 1)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if p.ShouldRetry == nil {
		return !errors.Is(err, context.Canceled)
	}
	return p.ShouldRetry(err)
}

// Do calls fn until it succeeds or the policy gives up, and returns the last
// error. A retry whose backoff and attempt timeout would outlast ctx's
// deadline is never started.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	limit := p.attempts()
	var lastErr error
	for attempt := 1; attempt <= limit; attempt++ {
		v, err := call(ctx, p, attempt, fn)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == limit || !p.shouldRetry(ctx, err) {
			break
		}

		delay := p.Backoff(attempt)
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) <= delay+p.AttemptTimeout {
			return zero, errors.Join(ErrNoBudget, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, errors.Join(err, lastErr)
		}
	}
	return zero, lastErr
}

func call[T any](ctx context.Context, p Policy, attempt int, fn func(context.Context, int) (T, error)) (T, error) {
	if p.AttemptTimeout <= 0 {
		return fn(ctx, attempt)
	}
	actx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return fn(actx, attempt)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
