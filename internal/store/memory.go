// internal/store/memory.go
//
// In-memory session store for live games.
//
// Characteristics:
//   - Sessions keyed by ID in a map guarded by an RWMutex.
//   - Each Session carries its own mutex; all engine access goes through
//     Session.Do so moves and AI turns on one game are serialized.
//   - Sessions of different games never share state.
//   - State is lost when the process restarts.

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/robalobadob/tictactoe/internal/game"
)

// ErrNotFound is returned for unknown session IDs.
var ErrNotFound = errors.New("session not found")

// Move is one applied move in a session's history.
type Move struct {
	Position game.Position `json:"position"`
	Symbol   game.Symbol   `json:"symbol"`
	By       string        `json:"by"` // "player" | "ai"
	At       time.Time     `json:"at"`
}

// Session is one game plus its owner and move history.
type Session struct {
	ID        string
	Owner     string // user ID, or "" for guests
	CreatedAt time.Time

	mu      sync.Mutex
	engine  *game.Engine
	moves   []Move
	updated time.Time
}

// NewSession wraps e in a session with a fresh ID.
func NewSession(owner string, e *game.Engine) *Session {
	now := time.Now().UTC()
	return &Session{ID: uuid.NewString(), Owner: owner, CreatedAt: now, engine: e, updated: now}
}

// Tx is the view of a session inside Do.
type Tx struct {
	s *Session
}

func (tx Tx) Engine() *game.Engine { return tx.s.engine }

// Record appends a move to the history.
func (tx Tx) Record(m Move) {
	if m.At.IsZero() {
		m.At = time.Now().UTC()
	}
	tx.s.moves = append(tx.s.moves, m)
}

// ResetHistory clears the move history (used on game reset).
func (tx Tx) ResetHistory() { tx.s.moves = nil }

// Do runs fn with exclusive access to the session's engine.
func (s *Session) Do(fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := fn(Tx{s: s})
	s.updated = time.Now().UTC()
	return err
}

// Snapshot returns the current state under the session lock.
func (s *Session) Snapshot() game.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.State()
}

// Moves returns a copy of the move history.
func (s *Session) Moves() []Move {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Move{}, s.moves...)
}

// UpdatedAt is the time of the last Do call.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updated
}

// Store defines the persistence interface for game sessions.
type Store interface {
	// Save persists or replaces a session.
	Save(ctx context.Context, s *Session) error

	// Get retrieves a session by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Delete removes a session; unknown IDs are not an error.
	Delete(ctx context.Context, id string) error

	// ListByOwner returns the owner's sessions, newest first.
	ListByOwner(ctx context.Context, owner string) ([]*Session, error)
}

// memory is an in-memory map-based Store implementation.
type memory struct {
	mu       sync.RWMutex        // guards sessions map
	sessions map[string]*Session // keyed by Session.ID
}

// NewMemoryStore constructs a new in-memory Store.
func NewMemoryStore() Store {
	return &memory{sessions: make(map[string]*Session)}
}

func (m *memory) Save(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return errors.New("session without id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memory) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, ErrNotFound
}

func (m *memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memory) ListByOwner(ctx context.Context, owner string) ([]*Session, error) {
	m.mu.RLock()
	out := make([]*Session, 0)
	for _, s := range m.sessions {
		if s.Owner == owner {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
