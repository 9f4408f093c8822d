// internal/game/types.go
//
// Core type definitions for the tic-tac-toe engine.
// Defines:
//   - Symbol:   contents of a cell (Empty, X, O).
//   - Position: immutable, always in-bounds board coordinate.
//   - Line:     one of the 8 winning triples (3 rows, 3 columns, 2 diagonals).
//   - Board:    fixed 3x3 grid mutated only through bounds-checked Set.

package game

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Size is the board edge length.
const Size = 3

const maxMoves = Size * Size

// Symbol is the content of a cell.
type Symbol string

const (
	Empty Symbol = ""
	X     Symbol = "X"
	O     Symbol = "O"
)

// Valid reports whether s is a playable symbol (X or O).
func (s Symbol) Valid() bool { return s == X || s == O }

// ParseSymbol maps "X"/"O" (any case) to a Symbol.
func ParseSymbol(v string) (Symbol, error) {
	s := Symbol(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return Empty, ErrInvalidPlayerSymbol
	}
	return s, nil
}

// Position is a board coordinate. The zero value is (0,0); any other value
// must come from NewPosition so it is always in-bounds.
type Position struct {
	row, col int
}

// NewPosition returns the position at (row, col) or ErrOutOfBounds.
func NewPosition(row, col int) (Position, error) {
	if !inBounds(row, col) {
		return Position{}, ErrOutOfBounds
	}
	return Position{row: row, col: col}, nil
}

// MustPosition is NewPosition for constant coordinates; it panics on bad input.
func MustPosition(row, col int) Position {
	p, err := NewPosition(row, col)
	if err != nil {
		panic(fmt.Sprintf("game: position (%d,%d): %v", row, col, err))
	}
	return p
}

func (p Position) Row() int { return p.row }
func (p Position) Col() int { return p.col }

func (p Position) String() string { return fmt.Sprintf("(%d,%d)", p.row, p.col) }

type positionJSON struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal(positionJSON{Row: p.row, Col: p.col})
}

// UnmarshalJSON rejects out-of-bounds coordinates.
func (p *Position) UnmarshalJSON(b []byte) error {
	var v positionJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	np, err := NewPosition(v.Row, v.Col)
	if err != nil {
		return fmt.Errorf("position (%d,%d): %w", v.Row, v.Col, err)
	}
	*p = np
	return nil
}

func inBounds(row, col int) bool {
	return row >= 0 && row < Size && col >= 0 && col < Size
}

// LineType classifies a winning line.
type LineType string

const (
	LineRow      LineType = "row"
	LineColumn   LineType = "column"
	LineDiagonal LineType = "diagonal"
)

// Line is one of the 8 winning triples. Index is the row/column number, or
// 0 for the main diagonal and 1 for the anti-diagonal.
type Line struct {
	Type  LineType
	Index int
	Cells [Size]Position
}

// Lines lists all winning lines: rows, then columns, then diagonals.
var Lines = buildLines()

func buildLines() []Line {
	out := make([]Line, 0, 2*Size+2)
	for r := 0; r < Size; r++ {
		out = append(out, Line{Type: LineRow, Index: r, Cells: [Size]Position{{r, 0}, {r, 1}, {r, 2}}})
	}
	for c := 0; c < Size; c++ {
		out = append(out, Line{Type: LineColumn, Index: c, Cells: [Size]Position{{0, c}, {1, c}, {2, c}}})
	}
	out = append(out,
		Line{Type: LineDiagonal, Index: 0, Cells: [Size]Position{{0, 0}, {1, 1}, {2, 2}}},
		Line{Type: LineDiagonal, Index: 1, Cells: [Size]Position{{0, 2}, {1, 1}, {2, 0}}},
	)
	return out
}

// Board is a 3x3 grid of symbols. It is a value type: copying a Board copies
// every cell, so snapshots never alias the engine's board.
type Board struct {
	cells [Size][Size]Symbol
}

// ParseBoard builds a board from three row strings using 'X', 'O' and '.'
// (or '_' / ' ') for empty cells, e.g. ParseBoard("XX.", "...", "O..").
func ParseBoard(rows ...string) (Board, error) {
	var b Board
	if len(rows) != Size {
		return b, fmt.Errorf("board: want %d rows, got %d", Size, len(rows))
	}
	for r, line := range rows {
		if len(line) != Size {
			return b, fmt.Errorf("board: row %d: want %d cells, got %q", r, Size, line)
		}
		for c, ch := range line {
			switch ch {
			case 'X', 'x':
				b.cells[r][c] = X
			case 'O', 'o':
				b.cells[r][c] = O
			case '.', '_', ' ':
				b.cells[r][c] = Empty
			default:
				return b, fmt.Errorf("board: row %d: bad cell %q", r, ch)
			}
		}
	}
	return b, nil
}

// Cell returns the symbol at (row, col).
func (b Board) Cell(row, col int) (Symbol, error) {
	if !inBounds(row, col) {
		return Empty, ErrOutOfBounds
	}
	return b.cells[row][col], nil
}

// At returns the symbol at p. Positions are always in-bounds.
func (b Board) At(p Position) Symbol { return b.cells[p.row][p.col] }

// Set writes s at (row, col).
func (b *Board) Set(row, col int, s Symbol) error {
	if !inBounds(row, col) {
		return ErrOutOfBounds
	}
	if s != Empty && !s.Valid() {
		return ErrInvalidPlayerSymbol
	}
	b.cells[row][col] = s
	return nil
}

// Count returns how many cells hold s.
func (b Board) Count(s Symbol) int {
	n := 0
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if b.cells[r][c] == s {
				n++
			}
		}
	}
	return n
}

// EmptyCells lists empty positions in row-major order.
func (b Board) EmptyCells() []Position {
	out := make([]Position, 0, maxMoves)
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if b.cells[r][c] == Empty {
				out = append(out, Position{r, c})
			}
		}
	}
	return out
}

// Rows returns the grid as strings ("" for empty).
func (b Board) Rows() [][]string {
	out := make([][]string, Size)
	for r := 0; r < Size; r++ {
		out[r] = make([]string, Size)
		for c := 0; c < Size; c++ {
			out[r][c] = string(b.cells[r][c])
		}
	}
	return out
}

func (b Board) MarshalJSON() ([]byte, error) { return json.Marshal(b.Rows()) }

// String renders the board as three lines of X/O/'.'.
func (b Board) String() string {
	var sb strings.Builder
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if s := b.cells[r][c]; s == Empty {
				sb.WriteByte('.')
			} else {
				sb.WriteString(string(s))
			}
		}
		if r < Size-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// lineOwner returns the symbol filling all three cells of l, if any.
func (b Board) lineOwner(l Line) (Symbol, bool) {
	first := b.At(l.Cells[0])
	if first == Empty {
		return Empty, false
	}
	for _, p := range l.Cells[1:] {
		if b.At(p) != first {
			return Empty, false
		}
	}
	return first, true
}

// completes reports whether placing s at p would fill a line with s.
// The board is not modified.
func (b Board) completes(p Position, s Symbol) bool {
	for _, l := range Lines {
		hit, others := false, 0
		for _, c := range l.Cells {
			if c == p {
				hit = true
			} else if b.At(c) == s {
				others++
			}
		}
		if hit && others == Size-1 {
			return true
		}
	}
	return false
}
