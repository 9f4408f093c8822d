// internal/game/state.go
//
// State is the immutable snapshot of one game. Winner, draw and game-over are
// derived from the board and move count on every call and never stored.

package game

import (
	"encoding/json"
	"fmt"
)

// inevitableDrawFrom is the move count from which a board with no winning
// move left for either side is declared drawn before it fills up.
const inevitableDrawFrom = 7

// Outcome is the derived result of a game: a winning symbol, OutcomeDraw,
// or OutcomeNone while play continues.
type Outcome string

const (
	OutcomeNone Outcome = ""
	OutcomeDraw Outcome = "DRAW"
)

// State is a value snapshot; callers can hold and pass it freely.
type State struct {
	board     Board
	player    Symbol
	ai        Symbol
	moveCount int
}

// Restore builds a state from externally supplied parts (imports, tests,
// migrated sessions). Only the symbols are checked here; use
// Engine.ValidateState to audit the rest.
func Restore(board Board, player, ai Symbol, moveCount int) (State, error) {
	if !player.Valid() || !ai.Valid() || player == ai {
		return State{}, ErrInvalidPlayerSymbol
	}
	if moveCount < 0 || moveCount > maxMoves {
		return State{}, inconsistent(ErrMoveCountMismatch, "move count %d outside [0,%d]", moveCount, maxMoves)
	}
	return State{board: board, player: player, ai: ai, moveCount: moveCount}, nil
}

func (s State) Board() Board         { return s.board }
func (s State) PlayerSymbol() Symbol { return s.player }
func (s State) AISymbol() Symbol     { return s.ai }
func (s State) MoveCount() int       { return s.moveCount }

// AvailableMoves lists empty cells in row-major order, or none once the game is over.
func (s State) AvailableMoves() []Position {
	if s.IsGameOver() {
		return []Position{}
	}
	return s.board.EmptyCells()
}

// CurrentPlayer is the player symbol on even move counts, the AI symbol on odd.
func (s State) CurrentPlayer() Symbol {
	if s.moveCount%2 == 0 {
		return s.player
	}
	return s.ai
}

// Opponent returns the other side's symbol.
func (s State) Opponent(of Symbol) Symbol {
	if of == s.player {
		return s.ai
	}
	return s.player
}

// Winner returns the owner of the first complete line found.
func (s State) Winner() (Symbol, bool) {
	for _, l := range Lines {
		if sym, ok := s.board.lineOwner(l); ok {
			return sym, true
		}
	}
	return Empty, false
}

// winners returns every symbol owning at least one complete line.
func (s State) winners() []Symbol {
	seen := map[Symbol]bool{}
	var out []Symbol
	for _, l := range Lines {
		if sym, ok := s.board.lineOwner(l); ok && !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	return out
}

// IsDraw reports a full board without a winner, or, from move 7 on, a board
// where no empty cell completes a line for either side.
func (s State) IsDraw() bool {
	if _, ok := s.Winner(); ok {
		return false
	}
	if s.moveCount >= maxMoves {
		return true
	}
	if s.moveCount < inevitableDrawFrom {
		return false
	}
	cur := s.CurrentPlayer()
	opp := s.Opponent(cur)
	for _, p := range s.board.EmptyCells() {
		if s.board.completes(p, cur) || s.board.completes(p, opp) {
			return false
		}
	}
	return true
}

// Outcome returns the winning symbol, OutcomeDraw, or OutcomeNone.
func (s State) Outcome() Outcome {
	if w, ok := s.Winner(); ok {
		return Outcome(w)
	}
	if s.IsDraw() {
		return OutcomeDraw
	}
	return OutcomeNone
}

func (s State) IsGameOver() bool { return s.Outcome() != OutcomeNone }

func (s State) String() string {
	return fmt.Sprintf("%s\nmove=%d next=%s player=%s ai=%s",
		s.board, s.moveCount, s.CurrentPlayer(), s.player, s.ai)
}

// stateJSON is the wire view of a State.
type stateJSON struct {
	Board          Board      `json:"board"`
	PlayerSymbol   Symbol     `json:"playerSymbol"`
	AISymbol       Symbol     `json:"aiSymbol"`
	MoveCount      int        `json:"moveCount"`
	CurrentPlayer  Symbol     `json:"currentPlayer"`
	Winner         Outcome    `json:"winner,omitempty"`
	GameOver       bool       `json:"gameOver"`
	AvailableMoves []Position `json:"availableMoves"`
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateJSON{
		Board:          s.board,
		PlayerSymbol:   s.player,
		AISymbol:       s.ai,
		MoveCount:      s.moveCount,
		CurrentPlayer:  s.CurrentPlayer(),
		Winner:         s.Outcome(),
		GameOver:       s.IsGameOver(),
		AvailableMoves: s.AvailableMoves(),
	})
}
