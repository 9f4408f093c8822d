// internal/game/engine.go
//
// Authoritative rules engine for a single tic-tac-toe session.
// Responsibilities:
//   - Validate moves in a fixed order: bounds → occupancy → game over →
//     symbol → turn. The first failing check wins.
//   - Apply moves (one cell write + move count increment).
//   - Answer winner/draw/available-move queries from the current state.
//   - Audit externally constructed states (ValidateState).
//
// Notes:
//   - The engine is not safe for concurrent mutation; callers serialize
//     access per session (see store.Session).
//   - Expected rule violations are returned as Code values, never panics.
package game

// Engine owns the live State of one game.
type Engine struct {
	state State
}

// New constructs an engine for a fresh game. The player symbol moves first.
func New(player, ai Symbol) (*Engine, error) {
	st, err := Restore(Board{}, player, ai, 0)
	if err != nil {
		return nil, err
	}
	return &Engine{state: st}, nil
}

// FromState wraps an existing snapshot, e.g. one produced by Restore.
func FromState(s State) *Engine { return &Engine{state: s} }

// State returns an immutable snapshot of the current game.
func (e *Engine) State() State { return e.state }

// ValidateMove checks whether symbol may be placed at (row, col) now.
func (e *Engine) ValidateMove(row, col int, symbol Symbol) error {
	if !inBounds(row, col) {
		return ErrOutOfBounds
	}
	if e.state.board.cells[row][col] != Empty {
		return ErrCellOccupied
	}
	if e.state.IsGameOver() {
		return ErrGameOver
	}
	if symbol != e.state.player && symbol != e.state.ai {
		return ErrInvalidPlayerSymbol
	}
	if symbol != e.state.CurrentPlayer() {
		return ErrInvalidTurn
	}
	return nil
}

// MakeMove validates and applies a move.
func (e *Engine) MakeMove(row, col int, symbol Symbol) error {
	if err := e.ValidateMove(row, col, symbol); err != nil {
		return err
	}
	return e.place(row, col, symbol)
}

// Place applies a move with every check except turn order. It is the write
// path for the AI's executor, whose caller decides when the AI moves.
func (e *Engine) Place(row, col int, symbol Symbol) error {
	err := e.ValidateMove(row, col, symbol)
	if err != nil && err != ErrInvalidTurn {
		return err
	}
	return e.place(row, col, symbol)
}

func (e *Engine) place(row, col int, symbol Symbol) error {
	if err := e.state.board.Set(row, col, symbol); err != nil {
		return err
	}
	e.state.moveCount++
	return nil
}

// CheckWinner returns the symbol owning a complete line, if any.
func (e *Engine) CheckWinner() (Symbol, bool) { return e.state.Winner() }

// CheckDraw reports a draw, including an inevitable one from move 7 on.
func (e *Engine) CheckDraw() bool { return e.state.IsDraw() }

// AvailableMoves lists empty cells while the game is in progress.
func (e *Engine) AvailableMoves() []Position { return e.state.AvailableMoves() }

// ValidateState audits the current state and returns the first
// inconsistency found as a *ConsistencyError.
func (e *Engine) ValidateState() error {
	s := e.state
	b := s.board

	px, pa := b.Count(s.player), b.Count(s.ai)
	if diff := px - pa; diff < -1 || diff > 1 {
		return inconsistent(ErrInvalidSymbolBalance, "%s=%d %s=%d", s.player, px, s.ai, pa)
	}
	if placed := px + pa; placed != s.moveCount {
		return inconsistent(ErrMoveCountMismatch, "move count %d but %d symbols placed", s.moveCount, placed)
	}
	// The player opens, so on even counts both sides have placed equally
	// and on odd counts the player is one ahead.
	want := s.moveCount / 2
	if pa != want || px != s.moveCount-want {
		return inconsistent(ErrInvalidTurn, "next=%s but %s=%d %s=%d", s.CurrentPlayer(), s.player, px, s.ai, pa)
	}
	if ws := s.winners(); len(ws) > 1 {
		return inconsistent(ErrMultipleWinners, "lines completed by %v", ws)
	}
	if _, won := s.Winner(); won && !s.IsGameOver() {
		return inconsistent(ErrWinNotFinalized, "winning line present but game not over")
	}
	if s.IsGameOver() {
		for _, p := range b.EmptyCells() {
			if err := e.ValidateMove(p.row, p.col, s.CurrentPlayer()); err != ErrGameOver {
				return inconsistent(ErrGameOver, "finished game accepts move at %s", p)
			}
		}
	}
	return nil
}

// Reset discards the game and starts a fresh one with the same symbols.
func (e *Engine) Reset() {
	e.state = State{player: e.state.player, ai: e.state.ai}
}

// Clone returns an independent engine holding a copy of the state.
func (e *Engine) Clone() *Engine { return &Engine{state: e.state} }

// CopyFrom replaces this engine's state with other's.
func (e *Engine) CopyFrom(other *Engine) { e.state = other.state }
