// Package backend defines the optional enhanced-analysis capability that the
// Scout and Strategist may delegate to, the error classes that drive retry
// and fallback decisions, and the concrete backends (Gemini, scripted).
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/robalobadob/tictactoe/internal/agent"
	"github.com/robalobadob/tictactoe/internal/game"
	"github.com/robalobadob/tictactoe/internal/retry"
	"github.com/robalobadob/tictactoe/internal/trace"
)

// Error classes. Backends wrap their failures with these so callers can
// decide what to retry.
var (
	// ErrAuth marks credential/permission failures. Never retried.
	ErrAuth = errors.New("backend: authentication failed")
	// ErrMalformed marks output that does not decode into the expected shape.
	// Never retried.
	ErrMalformed = errors.New("backend: malformed output")
)

// AnalyzeRequest is the prompt context for an analysis call.
type AnalyzeRequest struct {
	State  game.State
	Prompt string
}

// PlanRequest is the prompt context for a planning call.
type PlanRequest struct {
	Analysis agent.BoardAnalysis
	Prompt   string
}

// Backend is an external analyzer/planner. Implementations must honor ctx
// cancellation on a best-effort basis.
type Backend interface {
	Name() string
	Analyze(ctx context.Context, req AnalyzeRequest) (agent.BoardAnalysis, error)
	Plan(ctx context.Context, req PlanRequest) (agent.Strategy, error)
}

// Retryable reports whether err is worth another attempt: timeouts and
// transient failures are; auth, malformed output and cancellation are not.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrAuth), errors.Is(err, ErrMalformed), errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// DefaultPolicy is three attempts, 250ms base backoff, 2s per attempt.
func DefaultPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    3,
		BaseDelay:      250 * time.Millisecond,
		AttemptTimeout: 2 * time.Second,
		ShouldRetry:    Retryable,
	}
}

// FallbackReserve is the slice of a stage budget that delegation leaves
// for the deterministic path.
const FallbackReserve = 50 * time.Millisecond

// Reserve returns ctx with its deadline pulled FallbackReserve earlier, for
// use by a delegating stage. ok is false when ctx has no more than
// FallbackReserve left; the backend should then not be called at all.
func Reserve(ctx context.Context) (context.Context, context.CancelFunc, bool) {
	dl, has := ctx.Deadline()
	if !has {
		c, cancel := context.WithCancel(ctx)
		return c, cancel, true
	}
	if time.Until(dl) <= FallbackReserve {
		return ctx, func() {}, false
	}
	c, cancel := context.WithDeadline(ctx, dl.Add(-FallbackReserve))
	return c, cancel, true
}

// Call runs fn against b under policy p, emitting one trace record per
// attempt. The retry classifier is always Retryable.
func Call[T any](ctx context.Context, b Backend, p retry.Policy, agentName, input string, fn func(context.Context) (T, error)) (T, error) {
	p.ShouldRetry = Retryable
	return retry.Do(ctx, p, func(ctx context.Context, attempt int) (T, error) {
		start := time.Now()
		v, err := fn(ctx)
		rec := trace.Record{
			Agent:     agentName,
			Backend:   b.Name(),
			Attempt:   attempt,
			Input:     trace.Truncate(input, 512),
			Success:   err == nil,
			ElapsedMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			rec.Error = err.Error()
		} else {
			rec.Output = trace.Truncate(summary(v), 512)
		}
		trace.Emit(ctx, rec)
		return v, err
	})
}
