package trace

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/tictactoe/assets"
)

func TestMemoryRingKeepsNewest(t *testing.T) {
	m := NewMemory(3)
	for i := 1; i <= 5; i++ {
		require.NoError(t, m.Publish(context.Background(), Record{Attempt: i}))
	}
	got := m.Snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, 3, got[0].Attempt)
	assert.Equal(t, 5, got[2].Attempt)
}

func TestEmitFillsRunFields(t *testing.T) {
	m := NewMemory(4)
	ctx := WithRun(context.Background(), "run-1", "game-1", m)
	assert.Equal(t, "run-1", RunID(ctx))

	Emit(ctx, Record{Agent: "scout", Success: true})
	got := m.Snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "run-1", got[0].RunID)
	assert.Equal(t, "game-1", got[0].GameID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestEmitWithoutSinkIsNoop(t *testing.T) {
	Emit(context.Background(), Record{Agent: "scout"})
}

func TestEmitAfterCancelStillPublishes(t *testing.T) {
	m := NewMemory(2)
	ctx, cancel := context.WithCancel(WithRun(context.Background(), "r", "g", m))
	cancel()
	Emit(ctx, Record{Agent: "executor"})
	assert.Len(t, m.Snapshot(), 1)
}

type failingSink struct{ err error }

func (f failingSink) Publish(context.Context, Record) error { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	m := NewMemory(2)
	err := Multi{m, nil, failingSink{boom}}.Publish(context.Background(), Record{Agent: "x"})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, m.Snapshot(), 1)
}

func TestSQLiteSinkRoundTrip(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}

	migs, err := assets.Migrations()
	require.NoError(t, err)
	for _, m := range migs {
		_, err := db.Exec(m.SQL)
		require.NoError(t, err, m.Name)
	}

	s := SQLite{DB: db}
	ctx := context.Background()
	require.NoError(t, s.Publish(ctx, Record{RunID: "r1", Agent: "scout", Backend: "deterministic", Success: true, ElapsedMs: 3}))
	require.NoError(t, s.Publish(ctx, Record{RunID: "r1", Agent: "strategist", Backend: "gemini", Error: "timeout"}))
	require.NoError(t, s.Publish(ctx, Record{RunID: "r2", Agent: "scout"}))

	got, err := s.Recent(ctx, "r1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "strategist", got[0].Agent)
	assert.Equal(t, "timeout", got[0].Error)
	assert.True(t, got[1].Success)
}
