// internal/game/errors.go
//
// Stable, string-typed error codes reported by the engine.
//
// Rule violations (bounds, occupancy, turn order, finished game) come back from
// ValidateMove/MakeMove as a bare Code. Consistency violations come back from
// ValidateState wrapped in a *ConsistencyError that carries detail but still
// matches its Code under errors.Is.

package game

import (
	"errors"
	"fmt"
)

// Code is a stable error identifier. It implements error so it can be
// returned directly and compared with errors.Is.
type Code string

func (c Code) Error() string { return string(c) }

// Rule violations.
const (
	ErrOutOfBounds         Code = "OUT_OF_BOUNDS"
	ErrCellOccupied        Code = "CELL_OCCUPIED"
	ErrGameOver            Code = "GAME_ALREADY_OVER"
	ErrInvalidPlayerSymbol Code = "INVALID_PLAYER_SYMBOL"
	ErrInvalidTurn         Code = "INVALID_TURN"
)

// Consistency violations.
const (
	ErrInvalidSymbolBalance Code = "INVALID_SYMBOL_BALANCE"
	ErrMoveCountMismatch    Code = "MOVE_COUNT_MISMATCH"
	ErrMultipleWinners      Code = "MULTIPLE_WINNERS"
	ErrWinNotFinalized      Code = "WIN_NOT_FINALIZED"
)

// ConsistencyError reports a failed state audit.
type ConsistencyError struct {
	Code   Code
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *ConsistencyError) Unwrap() error { return e.Code }

func inconsistent(code Code, format string, args ...any) error {
	return &ConsistencyError{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code from err, or "" if err carries none.
func CodeOf(err error) Code {
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ""
}
