// internal/httpserver/routes_game.go
//
// HTTP routes for playing against the agent pipeline.
//   - POST /game/new          → start a game (player picks X or O and opens)
//   - GET  /game/{id}         → current state
//   - DELETE /game/{id}       → abandon the game
//   - POST /game/{id}/move    → apply the player's move, then run an AI turn
//   - POST /game/{id}/turn    → (re)run the AI turn, e.g. after a failed one
//   - POST /game/{id}/reset   → start over with the same symbols
//   - GET  /game/{id}/moves   → move history
//   - GET  /game/{id}/audit   → state consistency audit
//
// A session owned by a signed-in user is only visible to that user; guest
// sessions are reachable by ID. All engine access goes through Session.Do.

package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/tictactoe/internal/agent"
	"github.com/robalobadob/tictactoe/internal/auth"
	"github.com/robalobadob/tictactoe/internal/game"
	"github.com/robalobadob/tictactoe/internal/store"
)

// mountGame registers all /game routes.
func (s *Server) mountGame(r chi.Router) {
	r.Route("/game", func(r chi.Router) {
		r.Post("/new", s.handleNewGame)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetGame)
			r.Delete("/", s.handleDeleteGame)
			r.Post("/move", s.handleMove)
			r.Post("/turn", s.handleTurn)
			r.Post("/reset", s.handleReset)
			r.Get("/moves", s.handleMoves)
			r.Get("/audit", s.handleAudit)
		})
	})
}

// gameView is the JSON shape of a session.
type gameView struct {
	GameID string     `json:"gameId"`
	Owner  string     `json:"owner,omitempty"`
	State  game.State `json:"state"`
}

type newGameReq struct {
	PlayerSymbol string `json:"playerSymbol"` // "X" (default) | "O"
}

// handleNewGame creates a session. The player always makes the first move.
func (s *Server) handleNewGame(w http.ResponseWriter, r *http.Request) {
	var req newGameReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", err.Error())
			return
		}
	}
	player := game.X
	if req.PlayerSymbol != "" {
		p, err := game.ParseSymbol(req.PlayerSymbol)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(game.CodeOf(err)), "playerSymbol must be X or O")
			return
		}
		player = p
	}
	ai := game.O
	if player == game.O {
		ai = game.X
	}
	e, err := game.New(player, ai)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "new_game_failed", err.Error())
		return
	}

	owner := ""
	if me := auth.FromContext(r.Context()); me != nil {
		owner = me.ID
	}
	sess := store.NewSession(owner, e)
	if err := s.store.Save(r.Context(), sess); err != nil {
		writeError(w, http.StatusInternalServerError, "save_failed", err.Error())
		return
	}
	log.Info().Str("gameId", sess.ID).Str("player", string(player)).Msg("game created")

	writeJSON(w, http.StatusCreated, gameView{GameID: sess.ID, Owner: owner, State: sess.Snapshot()})
}

// session resolves {id} and enforces ownership. It writes the error
// response itself and reports whether the caller may proceed.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*store.Session, bool) {
	sess, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return nil, false
	}
	if sess.Owner != "" {
		if me := auth.FromContext(r.Context()); me == nil || me.ID != sess.Owner {
			writeError(w, http.StatusNotFound, "not_found", "")
			return nil, false
		}
	}
	return sess, true
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, gameView{GameID: sess.ID, Owner: sess.Owner, State: sess.Snapshot()})
}

// handleDeleteGame drops the session. Same visibility rules as GET.
func (s *Server) handleDeleteGame(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := s.store.Delete(r.Context(), sess.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	log.Info().Str("gameId", sess.ID).Msg("game deleted")
	w.WriteHeader(http.StatusNoContent)
}

// ruleStatus maps a rule violation to an HTTP status.
func ruleStatus(c game.Code) int {
	switch c {
	case game.ErrCellOccupied, game.ErrGameOver, game.ErrInvalidTurn:
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

type moveReq struct {
	Row *int `json:"row"`
	Col *int `json:"col"`
}

type moveRes struct {
	GameID string                             `json:"gameId"`
	State  game.State                         `json:"state"`
	AITurn *agent.Result[agent.MoveExecution] `json:"aiTurn,omitempty"`
}

// runTurn runs the pipeline on the session's engine and records the AI move
// when one was made. Must be called inside Session.Do.
func (s *Server) runTurn(r *http.Request, tx store.Tx, gameID string) agent.Result[agent.MoveExecution] {
	e := tx.Engine()
	res := s.pipeline.RunTurn(r.Context(), e, gameID)
	if exec, ok := res.Data(); ok && exec.Success && exec.Position != nil {
		tx.Record(store.Move{Position: *exec.Position, Symbol: e.State().AISymbol(), By: "ai"})
	}
	if !res.Success() {
		log.Warn().Str("gameId", gameID).Str("code", string(res.Code())).Str("stage", string(res.Stage())).
			Msg("ai turn failed")
	}
	return res
}

// handleMove applies the player's move and, if the game continues, lets the
// AI answer in the same request.
func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req moveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Row == nil || req.Col == nil {
		writeError(w, http.StatusBadRequest, "bad_json", "row and col are required")
		return
	}

	var out moveRes
	err := sess.Do(func(tx store.Tx) error {
		e := tx.Engine()
		player := e.State().PlayerSymbol()
		if err := e.MakeMove(*req.Row, *req.Col, player); err != nil {
			return err
		}
		p, _ := game.NewPosition(*req.Row, *req.Col)
		tx.Record(store.Move{Position: p, Symbol: player, By: "player"})

		if !e.State().IsGameOver() {
			res := s.runTurn(r, tx, sess.ID)
			out.AITurn = &res
		}
		out.GameID = sess.ID
		out.State = e.State()
		return nil
	})
	if err != nil {
		code := game.CodeOf(err)
		writeError(w, ruleStatus(code), string(code), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleTurn runs the AI turn on its own, for retrying a failed turn.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var out moveRes
	err := sess.Do(func(tx store.Tx) error {
		st := tx.Engine().State()
		switch {
		case st.IsGameOver():
			return game.ErrGameOver
		case st.CurrentPlayer() != st.AISymbol():
			return game.ErrInvalidTurn
		}
		res := s.runTurn(r, tx, sess.ID)
		out = moveRes{GameID: sess.ID, State: tx.Engine().State(), AITurn: &res}
		return nil
	})
	if err != nil {
		code := game.CodeOf(err)
		writeError(w, ruleStatus(code), string(code), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	_ = sess.Do(func(tx store.Tx) error {
		tx.Engine().Reset()
		tx.ResetHistory()
		return nil
	})
	writeJSON(w, http.StatusOK, gameView{GameID: sess.ID, Owner: sess.Owner, State: sess.Snapshot()})
}

func (s *Server) handleMoves(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"gameId": sess.ID, "moves": sess.Moves()})
}

type auditRes struct {
	OK     bool      `json:"ok"`
	Code   game.Code `json:"code,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// handleAudit runs the full state consistency check.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var out auditRes
	_ = sess.Do(func(tx store.Tx) error {
		err := tx.Engine().ValidateState()
		out = auditRes{OK: err == nil}
		if err != nil {
			out.Code = game.CodeOf(err)
			out.Detail = err.Error()
		}
		return nil
	})
	writeJSON(w, http.StatusOK, out)
}
