// internal/pipeline/pipeline.go
//
// Turn orchestrator: Scout → Strategist → Executor under per-stage timeouts
// and a total deadline.
//
//	START → SCOUTING → PLANNING → EXECUTING → DONE(success) | DONE(failed)
//
// Before each stage the remaining turn budget is computed; a stage never
// starts with none left. Each stage runs under min(stage timeout, remaining)
// in its own worker (see worker.go). The Executor works on a clone of the
// live engine, which is adopted only when it finishes in time.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/tictactoe/internal/agent"
	"github.com/robalobadob/tictactoe/internal/game"
	"github.com/robalobadob/tictactoe/internal/trace"
)

// Config holds the time budgets of a turn.
type Config struct {
	ScoutTimeout      time.Duration
	StrategistTimeout time.Duration
	ExecutorTimeout   time.Duration
	TotalTimeout      time.Duration
}

// DefaultConfig is 5s / 3s / 2s per stage and 15s per turn.
func DefaultConfig() Config {
	return Config{
		ScoutTimeout:      5 * time.Second,
		StrategistTimeout: 3 * time.Second,
		ExecutorTimeout:   2 * time.Second,
		TotalTimeout:      15 * time.Second,
	}
}

// Validate rejects non-positive budgets.
func (c Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"scout timeout":      c.ScoutTimeout,
		"strategist timeout": c.StrategistTimeout,
		"executor timeout":   c.ExecutorTimeout,
		"total timeout":      c.TotalTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("pipeline: %s must be positive, got %s", name, d)
		}
	}
	return nil
}

// phase is the orchestrator's position in a turn.
type phase string

const (
	phaseStart      phase = "start"
	phaseScouting   phase = "scouting"
	phasePlanning   phase = "planning"
	phaseExecuting  phase = "executing"
	phaseDone       phase = "done"
	phaseDoneFailed phase = "done_failed"
)

// Pipeline composes the three stages. It is safe for concurrent use across
// sessions; callers serialize turns of the same session.
type Pipeline struct {
	cfg        Config
	scout      agent.BoardAnalyzer
	strategist agent.StrategyPlanner
	executor   agent.MoveExecutor
	sink       trace.Sink
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithSink sets where trace records go. Without it records are dropped.
func WithSink(s trace.Sink) Option {
	return func(p *Pipeline) { p.sink = s }
}

func New(cfg Config, s agent.BoardAnalyzer, st agent.StrategyPlanner, x agent.MoveExecutor, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, scout: s, strategist: st, executor: x}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pipeline) Config() Config { return p.cfg }

// turn tracks one RunTurn call.
type turn struct {
	runID    string
	gameID   string
	start    time.Time
	deadline time.Time
	phase    phase
	timings  map[string]int64
}

func (t *turn) enter(ph phase) {
	log.Debug().Str("runId", t.runID).Str("gameId", t.gameID).
		Str("from", string(t.phase)).Str("to", string(ph)).Msg("pipeline transition")
	t.phase = ph
}

// remaining is the budget left before the turn deadline.
func (t *turn) remaining() time.Duration { return time.Until(t.deadline) }

// RunTurn computes and applies one AI move to live. A failed result means
// no move was made; a successful result may still carry a rejected
// MoveExecution (Success=false with validation codes).
func (p *Pipeline) RunTurn(ctx context.Context, live *game.Engine, gameID string) agent.Result[agent.MoveExecution] {
	t := &turn{
		runID:   uuid.NewString(),
		gameID:  gameID,
		start:   time.Now(),
		phase:   phaseStart,
		timings: map[string]int64{},
	}
	t.deadline = t.start.Add(p.cfg.TotalTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(t.deadline) {
		t.deadline = dl
	}
	ctx = trace.WithRun(ctx, t.runID, gameID, p.sink)

	snapshot := live.State()

	// SCOUTING
	t.enter(phaseScouting)
	analysis, fail := stage(ctx, t, agent.StageScout, p.cfg.ScoutTimeout, func(ctx context.Context) (agent.BoardAnalysis, error) {
		return p.scout.Analyze(ctx, snapshot)
	})
	if fail != nil {
		return p.finish(ctx, t, *fail)
	}

	// PLANNING
	t.enter(phasePlanning)
	strategy, fail := stage(ctx, t, agent.StageStrategist, p.cfg.StrategistTimeout, func(ctx context.Context) (agent.Strategy, error) {
		return p.strategist.Plan(ctx, analysis)
	})
	if fail != nil {
		return p.finish(ctx, t, *fail)
	}

	// EXECUTING
	t.enter(phaseExecuting)
	work := live.Clone()
	exec, fail := stage(ctx, t, agent.StageExecutor, p.cfg.ExecutorTimeout, func(ctx context.Context) (agent.MoveExecution, error) {
		return p.executor.Execute(ctx, work, strategy)
	})
	if fail != nil {
		return p.finish(ctx, t, *fail)
	}
	if exec.Success {
		live.CopyFrom(work)
	}

	res := agent.OK(exec).
		WithMeta("gamePhase", string(analysis.GamePhase)).
		WithMeta("evaluationScore", analysis.EvaluationScore).
		WithMeta("plan", strategy.Plan).
		WithMeta("riskAssessment", string(strategy.RiskAssessment))
	return p.finish(ctx, t, res)
}

// stageFailure is the failed result of a stage, already tagged.
type stageFailure = agent.Result[agent.MoveExecution]

// stage runs fn under the stage budget, or fails without running it when
// the turn has no budget left.
func stage[T any](ctx context.Context, t *turn, s agent.Stage, timeout time.Duration, fn func(context.Context) (T, error)) (T, *stageFailure) {
	var zero T
	remaining := t.remaining()
	if remaining <= 0 {
		f := agent.Fail[agent.MoveExecution](agent.CodeAnalysisTimeout,
			fmt.Sprintf("turn deadline exhausted before %s could start", s)).WithStage(s)
		return zero, &f
	}

	budget := min(timeout, remaining)
	started := time.Now()
	v, err := runBounded(ctx, budget, fn)
	elapsed := time.Since(started)
	t.timings[string(s)+"Ms"] = elapsed.Milliseconds()

	if err == nil {
		log.Debug().Str("runId", t.runID).Str("stage", string(s)).Int64("elapsedMs", elapsed.Milliseconds()).Msg("stage done")
		return v, nil
	}

	code := agent.CodeStageFailed
	if errors.Is(err, errStageTimeout) || errors.Is(err, context.DeadlineExceeded) {
		code = agent.CodeAnalysisTimeout
	}
	log.Warn().Err(err).Str("runId", t.runID).Str("gameId", t.gameID).Str("stage", string(s)).
		Dur("budget", budget).Int64("elapsedMs", elapsed.Milliseconds()).Msg("stage failed")
	trace.Emit(ctx, trace.Record{
		Agent:     string(s),
		Backend:   "pipeline",
		Input:     fmt.Sprintf("budget=%s", budget),
		Success:   false,
		Error:     err.Error(),
		ElapsedMs: elapsed.Milliseconds(),
	})
	f := agent.Fail[agent.MoveExecution](code, fmt.Sprintf("%s: %v", s, err)).WithStage(s)
	return zero, &f
}

func (p *Pipeline) finish(ctx context.Context, t *turn, r agent.Result[agent.MoveExecution]) agent.Result[agent.MoveExecution] {
	elapsed := time.Since(t.start)
	if r.Success() {
		t.enter(phaseDone)
	} else {
		t.enter(phaseDoneFailed)
	}
	r = r.WithElapsed(elapsed).
		WithMeta("runId", t.runID).
		WithMeta("gameId", t.gameID).
		WithMeta("stageElapsedMs", t.timings)

	rec := trace.Record{
		Agent:     "pipeline",
		Backend:   "pipeline",
		Input:     fmt.Sprintf("budget=%s", p.cfg.TotalTimeout),
		Success:   r.Success(),
		ElapsedMs: elapsed.Milliseconds(),
	}
	if exec, ok := r.Data(); ok {
		rec.Output = fmt.Sprintf("moveSuccess=%t priority=%s", exec.Success, exec.PriorityUsed)
	} else {
		rec.Error = r.Message()
	}
	trace.Emit(ctx, rec)
	return r
}
