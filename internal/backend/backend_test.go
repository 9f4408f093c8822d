package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/robalobadob/tictactoe/internal/agent"
	"github.com/robalobadob/tictactoe/internal/game"
	"github.com/robalobadob/tictactoe/internal/retry"
	"github.com/robalobadob/tictactoe/internal/trace"
)

func stateOf(t *testing.T, moves int, rows ...string) game.State {
	t.Helper()
	b, err := game.ParseBoard(rows...)
	require.NoError(t, err)
	st, err := game.Restore(b, game.X, game.O, moves)
	require.NoError(t, err)
	return st
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(fmt.Errorf("x: %w", ErrAuth)))
	assert.False(t, Retryable(fmt.Errorf("x: %w", ErrMalformed)))
	assert.False(t, Retryable(context.Canceled))
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.True(t, Retryable(errors.New("503")))
}

func TestDecodeAnalysis(t *testing.T) {
	st := stateOf(t, 2, "XX.", "...", "...")
	raw := "```json\n" + `{"threats":[{"position":{"row":0,"col":2},"lineType":"row","lineIndex":0,"severity":1}],
"opportunities":[],"strategicMoves":[{"position":{"row":1,"col":1},"moveType":"center","priority":4,"rationale":"c"}],
"gamePhase":"opening","evaluationScore":-0.3}` + "\n```"

	a, err := DecodeAnalysis(raw, st)
	require.NoError(t, err)
	require.Len(t, a.Threats, 1)
	assert.Equal(t, game.MustPosition(0, 2), a.Threats[0].Position)
	assert.Equal(t, agent.PhaseOpening, a.GamePhase)
}

func TestDecodeAnalysisRejects(t *testing.T) {
	st := stateOf(t, 2, "XX.", "...", "...")
	cases := map[string]string{
		"not json":       `nope`,
		"unknown field":  `{"gamePhase":"opening","evaluationScore":0,"extra":1}`,
		"occupied":       `{"threats":[{"position":{"row":0,"col":0},"lineType":"row","lineIndex":0,"severity":1}],"gamePhase":"opening","evaluationScore":0}`,
		"out of bounds":  `{"threats":[{"position":{"row":4,"col":0},"lineType":"row","lineIndex":0,"severity":1}],"gamePhase":"opening","evaluationScore":0}`,
		"bad line":       `{"threats":[{"position":{"row":0,"col":2},"lineType":"zigzag","lineIndex":0,"severity":1}],"gamePhase":"opening","evaluationScore":0}`,
		"bad diagonal":   `{"opportunities":[{"position":{"row":0,"col":2},"lineType":"diagonal","lineIndex":2,"confidence":1}],"gamePhase":"opening","evaluationScore":0}`,
		"bad phase":      `{"gamePhase":"lategame","evaluationScore":0}`,
		"score range":    `{"gamePhase":"opening","evaluationScore":3}`,
		"bad move type":  `{"strategicMoves":[{"position":{"row":1,"col":1},"moveType":"side","priority":1,"rationale":""}],"gamePhase":"opening","evaluationScore":0}`,
		"severity range": `{"threats":[{"position":{"row":0,"col":2},"lineType":"row","lineIndex":0,"severity":2}],"gamePhase":"opening","evaluationScore":0}`,
		"priority zero":  `{"strategicMoves":[{"position":{"row":1,"col":1},"moveType":"center","priority":0,"rationale":""}],"gamePhase":"opening","evaluationScore":0}`,
		"priority range": `{"strategicMoves":[{"position":{"row":1,"col":1},"moveType":"center","priority":9,"rationale":""}],"gamePhase":"opening","evaluationScore":0}`,
		"trailing text":  `{"gamePhase":"opening","evaluationScore":0} and that is my answer`,
		"second object":  `{"gamePhase":"opening","evaluationScore":0}{"gamePhase":"endgame","evaluationScore":0}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeAnalysis(raw, st)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeStrategy(t *testing.T) {
	s, err := DecodeStrategy(`{"primaryMove":{"position":{"row":1,"col":1},"priority":"CENTER_CONTROL","confidence":0.7,"rationale":"center"},
"alternatives":[{"position":{"row":0,"col":0},"priority":"CORNER_CONTROL","confidence":0.6,"rationale":"corner"}],
"plan":"take center","riskAssessment":"low"}`)
	require.NoError(t, err)
	assert.Equal(t, agent.PriorityCenterControl, s.PrimaryMove.Priority)
	assert.Len(t, s.Alternatives, 1)

	_, err = DecodeStrategy(`{"primaryMove":{"position":{"row":1,"col":1},"priority":"YOLO","confidence":0.7,"rationale":""},"plan":"","riskAssessment":"low"}`)
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = DecodeStrategy(`{"primaryMove":{"position":{"row":1,"col":1},"priority":"FALLBACK","confidence":1.5,"rationale":""},"plan":"","riskAssessment":"low"}`)
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = DecodeStrategy(`{"primaryMove":{"position":{"row":1,"col":1},"priority":"FALLBACK","confidence":0.5,"rationale":""},"plan":"","riskAssessment":"extreme"}`)
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = DecodeStrategy(`{"primaryMove":{"position":{"row":1,"col":1},"priority":"FALLBACK","confidence":0.5,"rationale":""},"plan":"","riskAssessment":"low"} ok`)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestAnalyzePromptMentionsBoard(t *testing.T) {
	p := AnalyzePrompt(stateOf(t, 2, "XX.", "...", "..."))
	assert.Contains(t, p, "XX.")
	assert.Contains(t, p, "You play O")
}

func TestCallRetriesAndTraces(t *testing.T) {
	sink := trace.NewMemory(10)
	ctx := trace.WithRun(context.Background(), "run", "game", sink)

	a := agent.BoardAnalysis{GamePhase: agent.PhaseOpening}
	b := NewScripted("t").OnAnalyze(
		Response{Err: errors.New("503 unavailable")},
		Response{Analysis: &a},
	)
	p := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	got, err := Call(ctx, b, p, "scout", "input", func(ctx context.Context) (agent.BoardAnalysis, error) {
		return b.Analyze(ctx, AnalyzeRequest{})
	})
	require.NoError(t, err)
	assert.Equal(t, agent.PhaseOpening, got.GamePhase)

	recs := sink.Snapshot()
	require.Len(t, recs, 2)
	assert.False(t, recs[0].Success)
	assert.Equal(t, 1, recs[0].Attempt)
	assert.True(t, recs[1].Success)
	assert.Equal(t, "scripted:t", recs[1].Backend)
	assert.Contains(t, recs[1].Output, "opening")
}

func TestCallDoesNotRetryAuth(t *testing.T) {
	b := NewScripted("t").OnPlan(
		Response{Err: fmt.Errorf("%w: bad key", ErrAuth)},
		Response{Strategy: &agent.Strategy{}},
	)
	_, err := Call(context.Background(), b, retry.Policy{MaxAttempts: 3}, "strategist", "", func(ctx context.Context) (agent.Strategy, error) {
		return b.Plan(ctx, PlanRequest{})
	})
	assert.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, 1, b.Calls())
}

func TestReserveKeepsFallbackHeadroom(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	outer, _ := ctx.Deadline()

	dctx, dcancel, ok := Reserve(ctx)
	defer dcancel()
	require.True(t, ok)
	inner, has := dctx.Deadline()
	require.True(t, has)
	assert.Equal(t, outer.Add(-FallbackReserve), inner)

	short, cancelShort := context.WithTimeout(context.Background(), FallbackReserve/2)
	defer cancelShort()
	_, c, ok := Reserve(short)
	c()
	assert.False(t, ok, "no room left for the backend")

	_, c, ok = Reserve(context.Background())
	c()
	assert.True(t, ok)
}

func TestScriptedHangHonorsContext(t *testing.T) {
	b := NewScripted("t").OnAnalyze(Response{Hang: true})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Analyze(ctx, AnalyzeRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScriptedExhausted(t *testing.T) {
	_, err := NewScripted("t").Plan(context.Background(), PlanRequest{})
	assert.Error(t, err)
}

func TestClassifyGenAI(t *testing.T) {
	assert.ErrorIs(t, classifyGenAI(genai.APIError{Code: 401, Message: "bad key"}), ErrAuth)
	assert.ErrorIs(t, classifyGenAI(genai.APIError{Code: 403}), ErrAuth)
	assert.ErrorIs(t, classifyGenAI(genai.APIError{Code: 400}), ErrMalformed)

	err := classifyGenAI(genai.APIError{Code: 503})
	assert.True(t, Retryable(err))
}

func TestNewGeminiRequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrAuth)
}
