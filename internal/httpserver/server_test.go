package httpserver

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/tictactoe/assets"
	"github.com/robalobadob/tictactoe/internal/auth"
	"github.com/robalobadob/tictactoe/internal/executor"
	"github.com/robalobadob/tictactoe/internal/pipeline"
	"github.com/robalobadob/tictactoe/internal/scout"
	"github.com/robalobadob/tictactoe/internal/store"
	"github.com/robalobadob/tictactoe/internal/strategist"
	"github.com/robalobadob/tictactoe/internal/trace"
)

type testEnv struct {
	srv    *Server
	traces *trace.Memory
	store  store.Store
}

func newEnv(t *testing.T, db *sql.DB) *testEnv {
	t.Helper()
	mem := trace.NewMemory(100)
	p := pipeline.New(pipeline.DefaultConfig(), scout.New(), strategist.New(), executor.New(), pipeline.WithSink(mem))
	st := store.NewMemoryStore()
	srv := New(Options{
		Store:    st,
		Pipeline: p,
		Auth:     auth.NewService(auth.Config{Secret: "test"}, auth.NewUsers(db)),
		Traces:   mem,
	})
	return &testEnv{srv: srv, traces: mem, store: st}
}

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
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
	return db
}

func (e *testEnv) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type stateBody struct {
	Board          [][]string `json:"board"`
	PlayerSymbol   string     `json:"playerSymbol"`
	AISymbol       string     `json:"aiSymbol"`
	MoveCount      int        `json:"moveCount"`
	CurrentPlayer  string     `json:"currentPlayer"`
	Winner         string     `json:"winner"`
	GameOver       bool       `json:"gameOver"`
	AvailableMoves []struct{} `json:"availableMoves"`
}

type gameBody struct {
	GameID string    `json:"gameId"`
	Owner  string    `json:"owner"`
	State  stateBody `json:"state"`
}

type moveBody struct {
	GameID string    `json:"gameId"`
	State  stateBody `json:"state"`
	AITurn *struct {
		Success bool `json:"success"`
		Data    struct {
			Position *struct {
				Row int `json:"row"`
				Col int `json:"col"`
			} `json:"position"`
			Success bool `json:"success"`
		} `json:"data"`
		Metadata map[string]any `json:"metadata"`
	} `json:"aiTurn"`
}

type errBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func (e *testEnv) newGame(t *testing.T, body any, cookies ...*http.Cookie) gameBody {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/game/new", body, cookies...)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[gameBody](t, rec)
}

func TestHealth(t *testing.T) {
	e := newEnv(t, nil)
	rec := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestNewGame(t *testing.T) {
	e := newEnv(t, nil)
	g := e.newGame(t, nil)
	assert.NotEmpty(t, g.GameID)
	assert.Equal(t, "X", g.State.PlayerSymbol)
	assert.Equal(t, "O", g.State.AISymbol)
	assert.Equal(t, "X", g.State.CurrentPlayer)
	assert.Len(t, g.State.AvailableMoves, 9)

	g = e.newGame(t, map[string]string{"playerSymbol": "O"})
	assert.Equal(t, "O", g.State.PlayerSymbol)
	assert.Equal(t, "X", g.State.AISymbol)
	assert.Equal(t, "O", g.State.CurrentPlayer)

	rec := e.do(t, http.MethodPost, "/game/new", map[string]string{"playerSymbol": "Z"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PLAYER_SYMBOL", decode[errBody](t, rec).Error)
}

func TestMoveRunsAITurn(t *testing.T) {
	e := newEnv(t, nil)
	g := e.newGame(t, nil)

	rec := e.do(t, http.MethodPost, "/game/"+g.GameID+"/move", map[string]int{"row": 0, "col": 0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[moveBody](t, rec)

	require.NotNil(t, out.AITurn)
	assert.True(t, out.AITurn.Success)
	assert.True(t, out.AITurn.Data.Success)
	require.NotNil(t, out.AITurn.Data.Position)
	assert.Equal(t, 1, out.AITurn.Data.Position.Row)
	assert.Equal(t, 1, out.AITurn.Data.Position.Col)
	assert.Equal(t, "opening", out.AITurn.Metadata["gamePhase"])

	assert.Equal(t, 2, out.State.MoveCount)
	assert.Equal(t, [][]string{{"X", "", ""}, {"", "O", ""}, {"", "", ""}}, out.State.Board)
	assert.Equal(t, "X", out.State.CurrentPlayer)

	rec = e.do(t, http.MethodGet, "/game/"+g.GameID+"/moves", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	moves := decode[struct {
		Moves []struct {
			Symbol string `json:"symbol"`
			By     string `json:"by"`
		} `json:"moves"`
	}](t, rec)
	require.Len(t, moves.Moves, 2)
	assert.Equal(t, "player", moves.Moves[0].By)
	assert.Equal(t, "ai", moves.Moves[1].By)
	assert.Equal(t, "O", moves.Moves[1].Symbol)
}

func TestMoveRejections(t *testing.T) {
	e := newEnv(t, nil)
	g := e.newGame(t, nil)
	path := "/game/" + g.GameID + "/move"

	rec := e.do(t, http.MethodPost, path, map[string]int{"row": 3, "col": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "OUT_OF_BOUNDS", decode[errBody](t, rec).Error)

	rec = e.do(t, http.MethodPost, path, map[string]int{"row": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, path, map[string]int{"row": 0, "col": 0})
	require.Equal(t, http.StatusOK, rec.Code)

	// The AI took the center.
	rec = e.do(t, http.MethodPost, path, map[string]int{"row": 1, "col": 1})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CELL_OCCUPIED", decode[errBody](t, rec).Error)
}

func TestTurnOutOfOrder(t *testing.T) {
	e := newEnv(t, nil)
	g := e.newGame(t, nil)

	rec := e.do(t, http.MethodPost, "/game/"+g.GameID+"/turn", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TURN", decode[errBody](t, rec).Error)
}

func TestTurnRetriesAIMove(t *testing.T) {
	e := newEnv(t, nil)
	g := e.newGame(t, nil)

	// Apply the player's move directly so the AI still owes a reply.
	sess, err := e.store.Get(t.Context(), g.GameID)
	require.NoError(t, err)
	require.NoError(t, sess.Do(func(tx store.Tx) error {
		return tx.Engine().MakeMove(2, 2, "X")
	}))

	rec := e.do(t, http.MethodPost, "/game/"+g.GameID+"/turn", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[moveBody](t, rec)
	require.NotNil(t, out.AITurn)
	assert.True(t, out.AITurn.Data.Success)
	assert.Equal(t, 2, out.State.MoveCount)
	assert.Equal(t, "O", out.State.Board[1][1])
}

func TestResetAndAudit(t *testing.T) {
	e := newEnv(t, nil)
	g := e.newGame(t, nil)
	base := "/game/" + g.GameID

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, base+"/move", map[string]int{"row": 0, "col": 0}).Code)

	rec := e.do(t, http.MethodGet, base+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = e.do(t, http.MethodPost, base+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reset := decode[gameBody](t, rec)
	assert.Equal(t, 0, reset.State.MoveCount)
	assert.Equal(t, "X", reset.State.PlayerSymbol)

	rec = e.do(t, http.MethodGet, base+"/moves", nil)
	assert.JSONEq(t, `{"gameId":"`+g.GameID+`","moves":[]}`, rec.Body.String())
}

func TestUnknownGame(t *testing.T) {
	e := newEnv(t, nil)
	for _, path := range []string{"/game/missing", "/game/missing/moves", "/game/missing/audit"} {
		rec := e.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestDeleteGame(t *testing.T) {
	e := newEnv(t, nil)
	g := e.newGame(t, nil)
	path := "/game/" + g.GameID

	rec := e.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, path, nil).Code)
	_, err := e.store.Get(context.Background(), g.GameID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDebugTraces(t *testing.T) {
	e := newEnv(t, nil)
	g := e.newGame(t, nil)
	other := e.newGame(t, nil)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/game/"+g.GameID+"/move", map[string]int{"row": 0, "col": 0}).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/game/"+other.GameID+"/move", map[string]int{"row": 2, "col": 2}).Code)

	rec := e.do(t, http.MethodGet, "/debug/traces?gameId="+g.GameID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recs := decode[[]trace.Record](t, rec)
	require.Len(t, recs, 4)
	assert.Equal(t, "pipeline", recs[0].Agent, "newest first")
	for _, r := range recs {
		assert.Equal(t, g.GameID, r.GameID)
	}

	rec = e.do(t, http.MethodGet, "/debug/traces?limit=2", nil)
	assert.Len(t, decode[[]trace.Record](t, rec), 2)

	rec = e.do(t, http.MethodGet, "/debug/traces?runId="+recs[0].RunID, nil)
	assert.Len(t, decode[[]trace.Record](t, rec), 4)
}

func TestAuthFlowAndOwnership(t *testing.T) {
	e := newEnv(t, testDB(t))

	rec := e.do(t, http.MethodPost, "/auth/signup", map[string]string{"username": "alice", "password": "password1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = e.do(t, http.MethodPost, "/auth/signup", map[string]string{"username": "alice", "password": "password1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPost, "/auth/signup", map[string]string{"username": "x", "password": "password1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/auth/me", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", decode[auth.Principal](t, rec).Username)

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/auth/me", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/games/mine", nil).Code)

	// Owned games are invisible to guests.
	g := e.newGame(t, nil, cookies...)
	assert.NotEmpty(t, g.Owner)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/game/"+g.GameID, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/game/"+g.GameID, nil, cookies...).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/game/"+g.GameID, nil).Code)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/game/"+g.GameID+"/move", map[string]int{"row": 0, "col": 0}, cookies...).Code)

	rec = e.do(t, http.MethodGet, "/games/mine", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[[]struct {
		ID        string `json:"id"`
		MoveCount int    `json:"moveCount"`
		GameOver  bool   `json:"gameOver"`
	}](t, rec)
	require.Len(t, mine, 1)
	assert.Equal(t, g.GameID, mine[0].ID)
	assert.Equal(t, 2, mine[0].MoveCount)
	assert.False(t, mine[0].GameOver)

	rec = e.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "alice", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = e.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "ALICE", "password": "password1"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/auth/logout", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := rec.Result().Cookies()
	require.NotEmpty(t, cleared)
	assert.Equal(t, "", cleared[0].Value)
}
