package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	errStageTimeout = errors.New("stage exceeded its time budget")
	errStagePanic   = errors.New("stage panicked")
)

type outcome[T any] struct {
	v   T
	err error
}

// runBounded runs fn in its own goroutine and waits at most budget for it.
// A late result is discarded; the goroutine sees its context cancelled and
// is expected to return on its own. Panics become errStagePanic.
func runBounded[T any](ctx context.Context, budget time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	sctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	// Buffered so a late send never blocks the worker.
	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{err: fmt.Errorf("%w: %v", errStagePanic, r)}
			}
		}()
		v, err := fn(sctx)
		done <- outcome[T]{v: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && sctx.Err() != nil && errors.Is(o.err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", errStageTimeout, budget)
		}
		return o.v, o.err
	case <-sctx.Done():
		if errors.Is(sctx.Err(), context.Canceled) && ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", errStageTimeout, budget)
	}
}
