// internal/scout/scout.go
//
// Scout: the first decision stage of a turn. Reads a state snapshot and
// reports threats, opportunities, strategic cells, game phase and a scalar
// evaluation.
//
// Two modes:
//   - Deterministic: a pure function of the board (Analyze below).
//   - Delegating:    asks an enhanced backend first (bounded retries with
//                    backoff) and falls back to the deterministic analysis
//                    on any backend failure.

package scout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/robalobadob/tictactoe/internal/agent"
	"github.com/robalobadob/tictactoe/internal/backend"
	"github.com/robalobadob/tictactoe/internal/game"
	"github.com/robalobadob/tictactoe/internal/retry"
	"github.com/robalobadob/tictactoe/internal/trace"
)

const agentName = string(agent.StageScout)

// Mode selects how the Scout produces its analysis.
type Mode int

const (
	Deterministic Mode = iota
	Delegating
)

func (m Mode) String() string {
	if m == Delegating {
		return "delegating"
	}
	return "deterministic"
}

// Scout implements agent.BoardAnalyzer.
type Scout struct {
	mode    Mode
	backend backend.Backend
	policy  retry.Policy
}

var _ agent.BoardAnalyzer = (*Scout)(nil)

// New returns a deterministic Scout.
func New() *Scout { return &Scout{mode: Deterministic} }

// NewDelegating returns a Scout that consults b under policy p. A nil
// backend yields a deterministic Scout.
func NewDelegating(b backend.Backend, p retry.Policy) *Scout {
	if b == nil {
		return New()
	}
	return &Scout{mode: Delegating, backend: b, policy: p}
}

func (s *Scout) Mode() Mode { return s.mode }

// Analyze never fails on backend errors; they only cause a fallback. The
// returned error is reserved for a context that is already done.
func (s *Scout) Analyze(ctx context.Context, st game.State) (agent.BoardAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return agent.BoardAnalysis{}, err
	}
	if s.mode == Delegating {
		a, err := s.delegate(ctx, st)
		if err == nil {
			return a, nil
		}
		log.Warn().Err(err).Str("stage", agentName).Str("class", errorClass(err)).
			Str("backend", s.backend.Name()).Msg("backend analysis failed, using deterministic fallback")
	}

	start := time.Now()
	a := Analyze(st)
	trace.Emit(ctx, trace.Record{
		Agent:     agentName,
		Backend:   "deterministic",
		Input:     fmt.Sprintf("moveCount=%d board=%q", st.MoveCount(), st.Board().String()),
		Output:    fmt.Sprintf("threats=%d opportunities=%d phase=%s score=%.1f", len(a.Threats), len(a.Opportunities), a.GamePhase, a.EvaluationScore),
		Success:   true,
		ElapsedMs: time.Since(start).Milliseconds(),
	})
	return a, nil
}

// delegate consults the backend under a deadline that leaves
// backend.FallbackReserve of ctx's budget for the deterministic path.
func (s *Scout) delegate(ctx context.Context, st game.State) (agent.BoardAnalysis, error) {
	dctx, cancel, ok := backend.Reserve(ctx)
	defer cancel()
	if !ok {
		return agent.BoardAnalysis{}, fmt.Errorf("%w: %s or less left", retry.ErrNoBudget, backend.FallbackReserve)
	}
	prompt := backend.AnalyzePrompt(st)
	return backend.Call(dctx, s.backend, s.policy, agentName, prompt,
		func(ctx context.Context) (agent.BoardAnalysis, error) {
			return s.backend.Analyze(ctx, backend.AnalyzeRequest{State: st, Prompt: prompt})
		})
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, backend.ErrAuth):
		return "auth"
	case errors.Is(err, backend.ErrMalformed):
		return "malformed"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, retry.ErrNoBudget):
		return "timeout"
	}
	return "transient"
}

// ------------------------------ analysis -----------------------------------

// Analyze is the deterministic analysis from the AI side's perspective:
// own = AI symbol, opponent = player symbol.
func Analyze(st game.State) agent.BoardAnalysis {
	b := st.Board()
	own, opp := st.AISymbol(), st.PlayerSymbol()

	a := agent.BoardAnalysis{
		Threats:        []agent.Threat{},
		Opportunities:  []agent.Opportunity{},
		StrategicMoves: []agent.StrategicMove{},
		GamePhase:      PhaseFor(st.MoveCount()),
	}
	for _, l := range game.Lines {
		if p, ok := twoAndEmpty(b, l, opp); ok {
			a.Threats = append(a.Threats, agent.Threat{Position: p, LineType: l.Type, LineIndex: l.Index, Severity: 1.0})
		}
		if p, ok := twoAndEmpty(b, l, own); ok {
			a.Opportunities = append(a.Opportunities, agent.Opportunity{Position: p, LineType: l.Type, LineIndex: l.Index, Confidence: 1.0})
		}
	}
	for _, p := range b.EmptyCells() {
		mt := Classify(p)
		a.StrategicMoves = append(a.StrategicMoves, agent.StrategicMove{
			Position:  p,
			MoveType:  mt,
			Priority:  linesThrough(mt),
			Rationale: rationale(mt),
		})
	}
	a.EvaluationScore = clamp(0.3*float64(len(a.Opportunities))-0.3*float64(len(a.Threats)), -1, 1)
	return a
}

// twoAndEmpty reports the empty cell of l when s holds the other two.
func twoAndEmpty(b game.Board, l game.Line, s game.Symbol) (game.Position, bool) {
	var empty game.Position
	mine, blanks := 0, 0
	for _, p := range l.Cells {
		switch b.At(p) {
		case s:
			mine++
		case game.Empty:
			blanks++
			empty = p
		}
	}
	return empty, mine == 2 && blanks == 1
}

// PhaseFor bands a move count: <=2 opening, 3-6 midgame, >=7 endgame.
func PhaseFor(moveCount int) agent.Phase {
	switch {
	case moveCount <= 2:
		return agent.PhaseOpening
	case moveCount <= 6:
		return agent.PhaseMidgame
	}
	return agent.PhaseEndgame
}

// Classify returns the structural class of p.
func Classify(p game.Position) agent.MoveType {
	r, c := p.Row(), p.Col()
	switch {
	case r == 1 && c == 1:
		return agent.MoveCenter
	case r != 1 && c != 1:
		return agent.MoveCorner
	}
	return agent.MoveEdge
}

// linesThrough is the number of winning lines a cell of type mt lies on.
func linesThrough(mt agent.MoveType) int {
	switch mt {
	case agent.MoveCenter:
		return 4
	case agent.MoveCorner:
		return 3
	}
	return 2
}

func rationale(mt agent.MoveType) string {
	switch mt {
	case agent.MoveCenter:
		return "center lies on 4 lines"
	case agent.MoveCorner:
		return "corner lies on 3 lines"
	}
	return "edge lies on 2 lines"
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
