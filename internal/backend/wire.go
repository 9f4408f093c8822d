package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/robalobadob/tictactoe/internal/agent"
	"github.com/robalobadob/tictactoe/internal/game"
)

const systemPrompt = `You are a tic-tac-toe analysis engine. Reply with a single JSON object and nothing else.
Rows and columns are 0-based in [0,2]. Never recommend an occupied cell.`

// AnalyzePrompt renders the analysis request for state.
func AnalyzePrompt(s game.State) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You play %s; the opponent plays %s. Move count: %d.\n", s.AISymbol(), s.PlayerSymbol(), s.MoveCount())
	sb.WriteString("Board ('.' is empty):\n")
	sb.WriteString(s.Board().String())
	sb.WriteString(`

Return {"threats":[{"position":{"row":r,"col":c},"lineType":"row|column|diagonal","lineIndex":i,"severity":0..1}],
"opportunities":[{"position":{...},"lineType":...,"lineIndex":i,"confidence":0..1}],
"strategicMoves":[{"position":{...},"moveType":"center|corner|edge","priority":1..4,"rationale":"..."}],
"gamePhase":"opening|midgame|endgame","evaluationScore":-1..1}.
A threat is a line with two opponent symbols and one empty cell; an opportunity is a line with two of yours and one empty cell.`)
	return sb.String()
}

// PlanPrompt renders the planning request for an analysis.
func PlanPrompt(a agent.BoardAnalysis) string {
	raw, _ := json.Marshal(a)
	return fmt.Sprintf(`Board analysis:
%s

Choose the next move. Win if you can, otherwise block, otherwise prefer center, then corners, then edges.
Return {"primaryMove":{"position":{"row":r,"col":c},"priority":"IMMEDIATE_WIN|BLOCK_THREAT|CENTER_CONTROL|CORNER_CONTROL|EDGE_CONTROL|FALLBACK","confidence":0..1,"rationale":"..."},
"alternatives":[...same shape...],"plan":"...","riskAssessment":"low|medium|high"}.`, raw)
}

// stripFences removes a surrounding markdown code fence, if present.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func decodeStrict(raw string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(stripFences(raw))))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return malformed("trailing data after JSON object")
	}
	return nil
}

// maxLinePriority is the most lines any one cell lies on (the center).
const maxLinePriority = 4

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// DecodeAnalysis parses and validates a backend analysis against state.
// Every referenced position must be empty on the board.
func DecodeAnalysis(raw string, s game.State) (agent.BoardAnalysis, error) {
	var a agent.BoardAnalysis
	if err := decodeStrict(raw, &a); err != nil {
		return agent.BoardAnalysis{}, err
	}
	b := s.Board()
	empty := func(p game.Position) error {
		if b.At(p) != game.Empty {
			return malformed("position %s is occupied", p)
		}
		return nil
	}
	for _, t := range a.Threats {
		if err := checkLine(t.LineType, t.LineIndex); err != nil {
			return agent.BoardAnalysis{}, err
		}
		if t.Severity < 0 || t.Severity > 1 {
			return agent.BoardAnalysis{}, malformed("severity %v outside [0,1]", t.Severity)
		}
		if err := empty(t.Position); err != nil {
			return agent.BoardAnalysis{}, err
		}
	}
	for _, o := range a.Opportunities {
		if err := checkLine(o.LineType, o.LineIndex); err != nil {
			return agent.BoardAnalysis{}, err
		}
		if o.Confidence < 0 || o.Confidence > 1 {
			return agent.BoardAnalysis{}, malformed("confidence %v outside [0,1]", o.Confidence)
		}
		if err := empty(o.Position); err != nil {
			return agent.BoardAnalysis{}, err
		}
	}
	for _, m := range a.StrategicMoves {
		switch m.MoveType {
		case agent.MoveCenter, agent.MoveCorner, agent.MoveEdge:
		default:
			return agent.BoardAnalysis{}, malformed("move type %q", m.MoveType)
		}
		if m.Priority < 1 || m.Priority > maxLinePriority {
			return agent.BoardAnalysis{}, malformed("priority %d outside [1,%d]", m.Priority, maxLinePriority)
		}
		if err := empty(m.Position); err != nil {
			return agent.BoardAnalysis{}, err
		}
	}
	switch a.GamePhase {
	case agent.PhaseOpening, agent.PhaseMidgame, agent.PhaseEndgame:
	default:
		return agent.BoardAnalysis{}, malformed("game phase %q", a.GamePhase)
	}
	if a.EvaluationScore < -1 || a.EvaluationScore > 1 {
		return agent.BoardAnalysis{}, malformed("evaluation score %v outside [-1,1]", a.EvaluationScore)
	}
	return a, nil
}

func checkLine(t game.LineType, idx int) error {
	switch t {
	case game.LineRow, game.LineColumn:
		if idx < 0 || idx >= game.Size {
			return malformed("%s index %d", t, idx)
		}
	case game.LineDiagonal:
		if idx < 0 || idx > 1 {
			return malformed("diagonal index %d", idx)
		}
	default:
		return malformed("line type %q", t)
	}
	return nil
}

// DecodeStrategy parses and validates a backend strategy.
func DecodeStrategy(raw string) (agent.Strategy, error) {
	var s agent.Strategy
	if err := decodeStrict(raw, &s); err != nil {
		return agent.Strategy{}, err
	}
	if err := checkRecommendation(s.PrimaryMove); err != nil {
		return agent.Strategy{}, err
	}
	for _, alt := range s.Alternatives {
		if err := checkRecommendation(alt); err != nil {
			return agent.Strategy{}, err
		}
	}
	switch s.RiskAssessment {
	case agent.RiskLow, agent.RiskMedium, agent.RiskHigh:
	default:
		return agent.Strategy{}, malformed("risk %q", s.RiskAssessment)
	}
	return s, nil
}

func checkRecommendation(m agent.MoveRecommendation) error {
	switch m.Priority {
	case agent.PriorityImmediateWin, agent.PriorityBlockThreat, agent.PriorityCenterControl,
		agent.PriorityCornerControl, agent.PriorityEdgeControl, agent.PriorityFallback:
	default:
		return malformed("priority %q", m.Priority)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return malformed("confidence %v outside [0,1]", m.Confidence)
	}
	return nil
}

// summary is a compact JSON rendering used in trace records.
func summary(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
