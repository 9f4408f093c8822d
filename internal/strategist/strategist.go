// internal/strategist/strategist.go
//
// Strategist: turns a BoardAnalysis into a Strategy using a fixed
// tie-break ladder (first match wins):
//
//	1. IMMEDIATE_WIN   first opportunity         confidence 1.0
//	2. BLOCK_THREAT    first threat              confidence 0.95
//	3. CENTER_CONTROL  center, if still empty    confidence 0.7
//	4. CORNER_CONTROL  first empty corner        confidence 0.6
//	5. EDGE_CONTROL    first empty edge          confidence 0.5
//	6. FALLBACK        center                    confidence 0.1
//
// The Delegating mode consults an enhanced backend first and falls back to
// the ladder on any backend failure.

package strategist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/robalobadob/tictactoe/internal/agent"
	"github.com/robalobadob/tictactoe/internal/backend"
	"github.com/robalobadob/tictactoe/internal/game"
	"github.com/robalobadob/tictactoe/internal/retry"
	"github.com/robalobadob/tictactoe/internal/trace"
)

const agentName = string(agent.StageStrategist)

// Tier confidences.
const (
	ConfidenceWin      = 1.0
	ConfidenceBlock    = 0.95
	ConfidenceCenter   = 0.7
	ConfidenceCorner   = 0.6
	ConfidenceEdge     = 0.5
	ConfidenceFallback = 0.1
)

var (
	center = game.MustPosition(1, 1)
	// Fixed iteration orders for rungs 4 and 5.
	corners = []game.Position{
		game.MustPosition(0, 0), game.MustPosition(0, 2),
		game.MustPosition(2, 0), game.MustPosition(2, 2),
	}
	edges = []game.Position{
		game.MustPosition(0, 1), game.MustPosition(1, 0),
		game.MustPosition(1, 2), game.MustPosition(2, 1),
	}
)

// Mode selects how the Strategist plans.
type Mode int

const (
	Deterministic Mode = iota
	Delegating
)

// Strategist implements agent.StrategyPlanner.
type Strategist struct {
	mode    Mode
	backend backend.Backend
	policy  retry.Policy
}

var _ agent.StrategyPlanner = (*Strategist)(nil)

func New() *Strategist { return &Strategist{mode: Deterministic} }

// NewDelegating returns a Strategist that consults b under policy p. A nil
// backend yields a deterministic Strategist.
func NewDelegating(b backend.Backend, p retry.Policy) *Strategist {
	if b == nil {
		return New()
	}
	return &Strategist{mode: Delegating, backend: b, policy: p}
}

func (s *Strategist) Mode() Mode { return s.mode }

// Plan only returns an error when ctx is already done on entry.
func (s *Strategist) Plan(ctx context.Context, a agent.BoardAnalysis) (agent.Strategy, error) {
	if err := ctx.Err(); err != nil {
		return agent.Strategy{}, err
	}
	if s.mode == Delegating {
		st, err := s.delegate(ctx, a)
		if err == nil {
			return st, nil
		}
		log.Warn().Err(err).Str("stage", agentName).Str("backend", s.backend.Name()).
			Msg("backend planning failed, using deterministic fallback")
	}

	start := time.Now()
	st := Plan(a)
	trace.Emit(ctx, trace.Record{
		Agent:   agentName,
		Backend: "deterministic",
		Input: fmt.Sprintf("threats=%d opportunities=%d strategicMoves=%d phase=%s",
			len(a.Threats), len(a.Opportunities), len(a.StrategicMoves), a.GamePhase),
		Output:    fmt.Sprintf("%s %s risk=%s", st.PrimaryMove.Priority, st.PrimaryMove.Position, st.RiskAssessment),
		Success:   true,
		ElapsedMs: time.Since(start).Milliseconds(),
	})
	return st, nil
}

func (s *Strategist) delegate(ctx context.Context, a agent.BoardAnalysis) (agent.Strategy, error) {
	dctx, cancel, ok := backend.Reserve(ctx)
	defer cancel()
	if !ok {
		return agent.Strategy{}, fmt.Errorf("%w: %s or less left", retry.ErrNoBudget, backend.FallbackReserve)
	}
	prompt := backend.PlanPrompt(a)
	return backend.Call(dctx, s.backend, s.policy, agentName, prompt,
		func(ctx context.Context) (agent.Strategy, error) {
			return s.backend.Plan(ctx, backend.PlanRequest{Analysis: a, Prompt: prompt})
		})
}

// ------------------------------- ladder ------------------------------------

// Plan is the deterministic ladder.
func Plan(a agent.BoardAnalysis) agent.Strategy {
	cands := candidates(a)
	primary := agent.MoveRecommendation{
		Position:   center,
		Priority:   agent.PriorityFallback,
		Confidence: ConfidenceFallback,
		Rationale:  "no candidate found; defaulting to center",
	}
	if len(cands) > 0 {
		primary = cands[0]
		cands = cands[1:]
	}

	alts := []agent.MoveRecommendation{}
	seen := map[game.Position]bool{primary.Position: true}
	for _, c := range cands {
		if seen[c.Position] {
			continue
		}
		seen[c.Position] = true
		alts = append(alts, c)
	}

	return agent.Strategy{
		PrimaryMove:    primary,
		Alternatives:   alts,
		Plan:           narrative(a, primary),
		RiskAssessment: Assess(a),
	}
}

// candidates lists every rung's recommendations in ladder order.
func candidates(a agent.BoardAnalysis) []agent.MoveRecommendation {
	var out []agent.MoveRecommendation
	for _, o := range a.Opportunities {
		out = append(out, agent.MoveRecommendation{
			Position:   o.Position,
			Priority:   agent.PriorityImmediateWin,
			Confidence: ConfidenceWin,
			Rationale:  fmt.Sprintf("completes %s %d for the win", o.LineType, o.LineIndex),
		})
	}
	for _, t := range a.Threats {
		out = append(out, agent.MoveRecommendation{
			Position:   t.Position,
			Priority:   agent.PriorityBlockThreat,
			Confidence: ConfidenceBlock,
			Rationale:  fmt.Sprintf("blocks opponent on %s %d", t.LineType, t.LineIndex),
		})
	}

	open := map[game.Position]bool{}
	for _, m := range a.StrategicMoves {
		open[m.Position] = true
	}
	if open[center] {
		out = append(out, agent.MoveRecommendation{
			Position: center, Priority: agent.PriorityCenterControl,
			Confidence: ConfidenceCenter, Rationale: "center controls 4 lines",
		})
	}
	for _, p := range corners {
		if open[p] {
			out = append(out, agent.MoveRecommendation{
				Position: p, Priority: agent.PriorityCornerControl,
				Confidence: ConfidenceCorner, Rationale: "corner controls 3 lines",
			})
		}
	}
	for _, p := range edges {
		if open[p] {
			out = append(out, agent.MoveRecommendation{
				Position: p, Priority: agent.PriorityEdgeControl,
				Confidence: ConfidenceEdge, Rationale: "edge controls 2 lines",
			})
		}
	}
	return out
}

// Assess rates the position: an available win is low risk, otherwise risk
// grows with the number of open threats.
func Assess(a agent.BoardAnalysis) agent.Risk {
	switch {
	case len(a.Opportunities) > 0:
		return agent.RiskLow
	case len(a.Threats) >= 2:
		return agent.RiskHigh
	case len(a.Threats) == 1:
		return agent.RiskMedium
	}
	return agent.RiskLow
}

func narrative(a agent.BoardAnalysis, m agent.MoveRecommendation) string {
	var sb strings.Builder
	switch m.Priority {
	case agent.PriorityImmediateWin:
		fmt.Fprintf(&sb, "Win now at %s.", m.Position)
	case agent.PriorityBlockThreat:
		fmt.Fprintf(&sb, "Block the opponent at %s.", m.Position)
		if len(a.Threats) > 1 {
			fmt.Fprintf(&sb, " %d threats are open; only one can be blocked.", len(a.Threats))
		}
	case agent.PriorityCenterControl:
		fmt.Fprintf(&sb, "Take the center %s to maximize line control.", m.Position)
	case agent.PriorityCornerControl:
		fmt.Fprintf(&sb, "Take corner %s to build toward a fork.", m.Position)
	case agent.PriorityEdgeControl:
		fmt.Fprintf(&sb, "Take edge %s; no stronger cell remains.", m.Position)
	default:
		sb.WriteString("No candidates in the analysis; falling back to the center.")
	}
	fmt.Fprintf(&sb, " Phase: %s.", a.GamePhase)
	return sb.String()
}
