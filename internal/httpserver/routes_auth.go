// internal/httpserver/routes_auth.go
//
// Authentication endpoints and routes that require a signed-in user:
//   - POST /auth/signup, /auth/login, /auth/logout
//   - GET  /auth/me
//   - GET  /games/mine → the caller's live sessions, newest first

package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/robalobadob/tictactoe/internal/auth"
	"github.com/robalobadob/tictactoe/internal/game"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// mountAuthRoutes registers /auth/* and /games/mine.
func (s *Server) mountAuthRoutes() {
	s.r.Post("/auth/signup", s.handleSignup)
	s.r.Post("/auth/login", s.handleLogin)
	s.r.Post("/auth/logout", s.handleLogout)

	s.r.With(s.auth.Required).Get("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, auth.FromContext(r.Context()))
	})
	s.r.With(s.auth.Required).Get("/games/mine", s.handleMyGames)
}

// handleSignup creates a user, signs a JWT and sets the auth cookie.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "")
		return
	}
	u, err := s.auth.Users().Create(r.Context(), body.Username, body.Password)
	switch {
	case errors.Is(err, auth.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "Username taken", "")
		return
	case errors.Is(err, auth.ErrInvalidSignup):
		writeError(w, http.StatusBadRequest, "invalid_signup", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "signup_failed", err.Error())
		return
	}
	if !s.issue(w, u) {
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// handleLogin authenticates the user and sets the auth cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "")
		return
	}
	u, err := s.auth.Users().Authenticate(r.Context(), body.Username, body.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid username or password", "")
		return
	}
	if !s.issue(w, u) {
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) issue(w http.ResponseWriter, u *auth.User) bool {
	tok, exp, err := s.auth.Sign(u.ID, u.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sign_failed", err.Error())
		return false
	}
	s.auth.SetCookie(w, tok, exp)
	return true
}

// handleLogout clears the auth cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type gameSummary struct {
	ID        string       `json:"id"`
	Outcome   game.Outcome `json:"outcome,omitempty"`
	MoveCount int          `json:"moveCount"`
	GameOver  bool         `json:"gameOver"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// handleMyGames lists the caller's sessions.
func (s *Server) handleMyGames(w http.ResponseWriter, r *http.Request) {
	me := auth.FromContext(r.Context())
	sessions, err := s.store.ListByOwner(r.Context(), me.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	out := make([]gameSummary, 0, len(sessions))
	for _, sess := range sessions {
		st := sess.Snapshot()
		out = append(out, gameSummary{
			ID:        sess.ID,
			Outcome:   st.Outcome(),
			MoveCount: st.MoveCount(),
			GameOver:  st.IsGameOver(),
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
