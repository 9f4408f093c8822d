// internal/executor/executor.go
//
// Executor: the last decision stage. Validates the Strategist's primary
// move against the live engine and applies it. Always rule-based.
//
// A rejected move is a normal outcome (Success=false plus the collected
// codes), not a stage failure. Only a context that ends before the move is
// applied produces an error.

package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robalobadob/tictactoe/internal/agent"
	"github.com/robalobadob/tictactoe/internal/game"
	"github.com/robalobadob/tictactoe/internal/trace"
)

const agentName = string(agent.StageExecutor)

// Executor implements agent.MoveExecutor.
type Executor struct{}

var _ agent.MoveExecutor = Executor{}

func New() Executor { return Executor{} }

// Validate checks (row, col) against e. Out-of-bounds short-circuits;
// occupied and game-over are collected together. The engine is not touched.
func Validate(e *game.Engine, row, col int) []game.Code {
	if _, err := game.NewPosition(row, col); err != nil {
		return []game.Code{game.ErrOutOfBounds}
	}
	st := e.State()
	var codes []game.Code
	if s, _ := st.Board().Cell(row, col); s != game.Empty {
		codes = append(codes, game.ErrCellOccupied)
	}
	if st.IsGameOver() {
		codes = append(codes, game.ErrGameOver)
	}
	return codes
}

// Execute validates and applies s.PrimaryMove for the AI side of e.
func (Executor) Execute(ctx context.Context, e *game.Engine, s agent.Strategy) (agent.MoveExecution, error) {
	start := time.Now()
	rec := s.PrimaryMove
	pos := rec.Position

	out := agent.MoveExecution{
		Position:         &pos,
		ValidationErrors: []game.Code{},
		PriorityUsed:     rec.Priority,
	}
	var stageErr error
	defer func() {
		r := trace.Record{
			Agent:     agentName,
			Backend:   "rules",
			Input:     fmt.Sprintf("%s %s confidence=%.2f", rec.Priority, pos, rec.Confidence),
			Output:    fmt.Sprintf("success=%t errors=%v", out.Success, out.ValidationErrors),
			Success:   stageErr == nil,
			ElapsedMs: time.Since(start).Milliseconds(),
		}
		if stageErr != nil {
			r.Error = stageErr.Error()
		}
		trace.Emit(ctx, r)
	}()

	if codes := Validate(e, pos.Row(), pos.Col()); len(codes) > 0 {
		out.ValidationErrors = codes
		out.Rationale = rejected(codes)
		out.ElapsedMs = time.Since(start).Milliseconds()
		return out, nil
	}
	if stageErr = ctx.Err(); stageErr != nil {
		return agent.MoveExecution{}, stageErr
	}

	ai := e.State().AISymbol()
	if err := e.Place(pos.Row(), pos.Col(), ai); err != nil {
		out.ValidationErrors = []game.Code{game.CodeOf(err)}
		out.Rationale = rejected(out.ValidationErrors)
		out.ElapsedMs = time.Since(start).Milliseconds()
		return out, nil
	}

	out.Success = true
	out.Rationale = fmt.Sprintf("placed %s at %s (%s): %s", ai, pos, rec.Priority, rec.Rationale)
	out.ElapsedMs = time.Since(start).Milliseconds()
	return out, nil
}

func rejected(codes []game.Code) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = string(c)
	}
	return "move rejected: " + strings.Join(parts, ", ")
}
