package scout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/tictactoe/internal/agent"
	"github.com/robalobadob/tictactoe/internal/backend"
	"github.com/robalobadob/tictactoe/internal/game"
	"github.com/robalobadob/tictactoe/internal/retry"
	"github.com/robalobadob/tictactoe/internal/trace"
)

func state(t *testing.T, moves int, rows ...string) game.State {
	t.Helper()
	b, err := game.ParseBoard(rows...)
	require.NoError(t, err)
	st, err := game.Restore(b, game.X, game.O, moves)
	require.NoError(t, err)
	return st
}

func countTypes(a agent.BoardAnalysis) map[agent.MoveType]int {
	out := map[agent.MoveType]int{}
	for _, m := range a.StrategicMoves {
		out[m.MoveType]++
	}
	return out
}

func TestAnalyzeEmptyBoard(t *testing.T) {
	a, err := New().Analyze(context.Background(), state(t, 0, "...", "...", "..."))
	require.NoError(t, err)

	assert.Len(t, a.StrategicMoves, 9)
	assert.Equal(t, map[agent.MoveType]int{agent.MoveCenter: 1, agent.MoveCorner: 4, agent.MoveEdge: 4}, countTypes(a))
	assert.Empty(t, a.Threats)
	assert.Empty(t, a.Opportunities)
	assert.Equal(t, agent.PhaseOpening, a.GamePhase)
	assert.Equal(t, 0.0, a.EvaluationScore)

	for _, m := range a.StrategicMoves {
		if m.MoveType == agent.MoveCenter {
			assert.Equal(t, 4, m.Priority)
		}
	}
}

func TestAnalyzeSingleThreat(t *testing.T) {
	a := Analyze(state(t, 2, "XX.", "...", "..."))

	require.Len(t, a.Threats, 1)
	assert.Equal(t, game.MustPosition(0, 2), a.Threats[0].Position)
	assert.Equal(t, game.LineRow, a.Threats[0].LineType)
	assert.Equal(t, 0, a.Threats[0].LineIndex)
	assert.Empty(t, a.Opportunities)
	assert.InDelta(t, -0.3, a.EvaluationScore, 1e-9)
	assert.Len(t, a.StrategicMoves, 7)
}

func TestAnalyzeOpportunityAndThreat(t *testing.T) {
	// O holds the middle row, X holds the top row.
	a := Analyze(state(t, 4, "XX.", "OO.", "..."))

	require.Len(t, a.Opportunities, 1)
	assert.Equal(t, game.MustPosition(1, 2), a.Opportunities[0].Position)
	assert.Equal(t, 1.0, a.Opportunities[0].Confidence)
	require.Len(t, a.Threats, 1)
	assert.Equal(t, 0.0, a.EvaluationScore)
	assert.Equal(t, agent.PhaseMidgame, a.GamePhase)
}

func TestAnalyzeScoreClamped(t *testing.T) {
	// X threatens row 0, column 0 and the main diagonal at once.
	a := Analyze(state(t, 5, "X.X", "XO.", "X.O"))
	assert.GreaterOrEqual(t, a.EvaluationScore, -1.0)
	assert.LessOrEqual(t, a.EvaluationScore, 1.0)
}

func TestPhaseBands(t *testing.T) {
	for m, want := range map[int]agent.Phase{
		0: agent.PhaseOpening, 2: agent.PhaseOpening,
		3: agent.PhaseMidgame, 6: agent.PhaseMidgame,
		7: agent.PhaseEndgame, 9: agent.PhaseEndgame,
	} {
		assert.Equal(t, want, PhaseFor(m), "moveCount=%d", m)
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	st := state(t, 3, "X.O", ".X.", "...")
	s := New()
	a1, err := s.Analyze(context.Background(), st)
	require.NoError(t, err)
	a2, err := s.Analyze(context.Background(), st)
	require.NoError(t, err)

	if diff := cmp.Diff(a1, a2, cmp.AllowUnexported(game.Position{})); diff != "" {
		t.Fatalf("analysis differs (-first +second):\n%s", diff)
	}
	j1, _ := json.Marshal(a1)
	j2, _ := json.Marshal(a2)
	assert.Equal(t, string(j1), string(j2))
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, AttemptTimeout: 20 * time.Millisecond}
}

func TestDelegatingUsesBackend(t *testing.T) {
	st := state(t, 0, "...", "...", "...")
	want := agent.BoardAnalysis{
		Threats:        []agent.Threat{},
		Opportunities:  []agent.Opportunity{},
		StrategicMoves: []agent.StrategicMove{{Position: game.MustPosition(0, 0), MoveType: agent.MoveCorner, Priority: 9, Rationale: "llm"}},
		GamePhase:      agent.PhaseOpening,
	}
	b := backend.NewScripted("ok").OnAnalyze(backend.Response{Analysis: &want})

	got, err := NewDelegating(b, fastPolicy()).Analyze(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, "llm", got.StrategicMoves[0].Rationale)
}

func TestDelegatingFallsBack(t *testing.T) {
	st := state(t, 2, "XX.", "...", "...")
	det := Analyze(st)

	cases := map[string]backend.Response{
		"auth":      {Err: fmt.Errorf("%w: key revoked", backend.ErrAuth)},
		"malformed": {Raw: `{"gamePhase":"sometime"}`},
		"hang":      {Hang: true},
		"transient": {Err: errors.New("connection reset")},
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			b := backend.NewScripted(name).OnAnalyze(r, r, r)
			sink := trace.NewMemory(16)
			ctx := trace.WithRun(context.Background(), "run-"+name, "g", sink)

			got, err := NewDelegating(b, fastPolicy()).Analyze(ctx, st)
			require.NoError(t, err)
			if diff := cmp.Diff(det, got, cmp.AllowUnexported(game.Position{})); diff != "" {
				t.Fatalf("fallback differs from deterministic analysis:\n%s", diff)
			}

			recs := sink.Snapshot()
			require.NotEmpty(t, recs)
			assert.Equal(t, "deterministic", recs[len(recs)-1].Backend)
		})
	}
}

func TestDelegatingAuthNotRetried(t *testing.T) {
	r := backend.Response{Err: backend.ErrAuth}
	b := backend.NewScripted("auth").OnAnalyze(r, r, r)
	_, err := NewDelegating(b, fastPolicy()).Analyze(context.Background(), state(t, 0, "...", "...", "..."))
	require.NoError(t, err)
	assert.Equal(t, 1, b.Calls())
}

func TestNilBackendIsDeterministic(t *testing.T) {
	assert.Equal(t, Deterministic, NewDelegating(nil, fastPolicy()).Mode())
}

func TestAnalyzeCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Analyze(ctx, state(t, 0, "...", "...", "..."))
	assert.ErrorIs(t, err, context.Canceled)
}
