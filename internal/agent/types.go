// internal/agent/types.go
//
// Artifacts passed between the three decision stages of a turn:
//   - BoardAnalysis: produced by the Scout, consumed by the Strategist.
//   - Strategy:      produced by the Strategist, consumed by the Executor.
//   - MoveExecution: produced by the Executor, the terminal artifact of a turn.
//
// Each stage has its own interface; the pipeline composes them.

package agent

import (
	"context"

	"github.com/robalobadob/tictactoe/internal/game"
)

// Stage names a pipeline step.
type Stage string

const (
	StageScout      Stage = "scout"
	StageStrategist Stage = "strategist"
	StageExecutor   Stage = "executor"
)

// Threat is a line where the opponent holds two cells and the third is empty.
type Threat struct {
	Position  game.Position `json:"position"`
	LineType  game.LineType `json:"lineType"`
	LineIndex int           `json:"lineIndex"`
	Severity  float64       `json:"severity"`
}

// Opportunity is a line where we hold two cells and the third is empty.
type Opportunity struct {
	Position   game.Position `json:"position"`
	LineType   game.LineType `json:"lineType"`
	LineIndex  int           `json:"lineIndex"`
	Confidence float64       `json:"confidence"`
}

// MoveType is the structural class of a cell.
type MoveType string

const (
	MoveCenter MoveType = "center"
	MoveCorner MoveType = "corner"
	MoveEdge   MoveType = "edge"
)

// StrategicMove rates an empty cell by structure alone.
type StrategicMove struct {
	Position  game.Position `json:"position"`
	MoveType  MoveType      `json:"moveType"`
	Priority  int           `json:"priority"`
	Rationale string        `json:"rationale"`
}

// Phase is the move-count band of a game.
type Phase string

const (
	PhaseOpening Phase = "opening"
	PhaseMidgame Phase = "midgame"
	PhaseEndgame Phase = "endgame"
)

// BoardAnalysis is built fresh every turn and not modified afterwards.
type BoardAnalysis struct {
	Threats         []Threat        `json:"threats"`
	Opportunities   []Opportunity   `json:"opportunities"`
	StrategicMoves  []StrategicMove `json:"strategicMoves"`
	GamePhase       Phase           `json:"gamePhase"`
	EvaluationScore float64         `json:"evaluationScore"`
}

// Priority is the tier of the rule that produced a recommendation.
type Priority string

const (
	PriorityImmediateWin  Priority = "IMMEDIATE_WIN"
	PriorityBlockThreat   Priority = "BLOCK_THREAT"
	PriorityCenterControl Priority = "CENTER_CONTROL"
	PriorityCornerControl Priority = "CORNER_CONTROL"
	PriorityEdgeControl   Priority = "EDGE_CONTROL"
	PriorityFallback      Priority = "FALLBACK"
)

// MoveRecommendation is a candidate move with its tier and confidence in [0,1].
type MoveRecommendation struct {
	Position   game.Position `json:"position"`
	Priority   Priority      `json:"priority"`
	Confidence float64       `json:"confidence"`
	Rationale  string        `json:"rationale"`
}

// Risk is the Strategist's qualitative read of the position.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Strategy is the Strategist's output.
type Strategy struct {
	PrimaryMove    MoveRecommendation   `json:"primaryMove"`
	Alternatives   []MoveRecommendation `json:"alternatives"`
	Plan           string               `json:"plan"`
	RiskAssessment Risk                 `json:"riskAssessment"`
}

// MoveExecution reports what the Executor did. Success=false with
// ValidationErrors is a normal outcome, not a stage failure.
type MoveExecution struct {
	Position         *game.Position `json:"position,omitempty"`
	Success          bool           `json:"success"`
	ValidationErrors []game.Code    `json:"validationErrors"`
	ElapsedMs        int64          `json:"elapsedMs"`
	Rationale        string         `json:"rationale"`
	PriorityUsed     Priority       `json:"priorityUsed,omitempty"`
}

// BoardAnalyzer produces a BoardAnalysis from a state snapshot.
type BoardAnalyzer interface {
	Analyze(ctx context.Context, s game.State) (BoardAnalysis, error)
}

// StrategyPlanner turns an analysis into a Strategy.
type StrategyPlanner interface {
	Plan(ctx context.Context, a BoardAnalysis) (Strategy, error)
}

// MoveExecutor validates a strategy against a live engine and applies it.
type MoveExecutor interface {
	Execute(ctx context.Context, e *game.Engine, s Strategy) (MoveExecution, error)
}
