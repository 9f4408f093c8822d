// internal/httpserver/server.go
//
// HTTP server wiring for the tic-tac-toe agent backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs).
//   - Public endpoints: "/", "/health".
//   - Game endpoints (optional auth): /game/* (see routes_game.go).
//   - Auth endpoints and gated routes: /auth/*, /games/mine (routes_auth.go).
//   - Debug: /debug/traces for recent pipeline trace records.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled (so cookies work).
//   - The handler timeout is derived from the pipeline's total deadline so a
//     turn is never cut off by the router before the pipeline gives up.

package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/tictactoe/internal/auth"
	"github.com/robalobadob/tictactoe/internal/pipeline"
	"github.com/robalobadob/tictactoe/internal/store"
	"github.com/robalobadob/tictactoe/internal/trace"
)

// Options are the server's collaborators.
type Options struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Auth     *auth.Service
	// Traces backs /debug/traces; TraceDB, when set, serves ?runId= lookups
	// from persisted records.
	Traces       *trace.Memory
	TraceDB      *trace.SQLite
	ClientOrigin string
}

// Server bundles the router and its collaborators.
type Server struct {
	r        *chi.Mux
	store    store.Store
	pipeline *pipeline.Pipeline
	auth     *auth.Service
	traces   *trace.Memory
	traceDB  *trace.SQLite
}

// New constructs a Server, installs middleware, and registers routes.
func New(o Options) *Server {
	s := &Server{
		r:        chi.NewRouter(),
		store:    o.Store,
		pipeline: o.Pipeline,
		auth:     o.Auth,
		traces:   o.Traces,
		traceDB:  o.TraceDB,
	}
	origin := o.ClientOrigin
	if origin == "" {
		origin = "http://localhost:5173"
	}

	timeout := o.Pipeline.Config().TotalTimeout + 5*time.Second

	// --- middleware ---
	s.r.Use(chimw.RequestID)        // add X-Request-ID
	s.r.Use(chimw.RealIP)           // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(chimw.Recoverer)        // recover from panics
	s.r.Use(chimw.Timeout(timeout)) // bound handler time
	s.r.Use(jsonContentType)        // default JSON responses
	s.r.Use(cors(origin))           // credentials-friendly CORS

	// --- diagnostics ---
	s.r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service": "tictactoe-go",
			"endpoints": []string{
				"/health", "POST /game/new", "GET /game/{id}", "DELETE /game/{id}", "POST /game/{id}/move",
				"POST /game/{id}/turn", "POST /game/{id}/reset", "GET /game/{id}/moves",
				"GET /game/{id}/audit", "GET /games/mine", "/auth/*", "GET /debug/traces",
			},
		})
	})
	s.r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	// Game endpoints: OPTIONAL AUTH (guests can play)
	s.mountGame(s.r.With(s.auth.Optional))

	// Auth + profile (require auth)
	s.mountAuthRoutes()

	s.r.Get("/debug/traces", s.handleTraces)

	// JSON 404 for easier debugging
	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "path": r.URL.Path})
	})

	return s
}

// Handler exposes the router (useful for tests and http.Server).
func (s *Server) Handler() http.Handler { return s.r }

// Router exposes the internal router.
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// cors enables credentialed CORS for a single origin.
func cors(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ------------------------------- helpers -----------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	if status >= http.StatusInternalServerError {
		log.Error().Str("error", code).Str("detail", detail).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Error: code, Detail: detail})
}

// ------------------------------- debug -------------------------------------

// handleTraces returns recent trace records, optionally filtered by gameId
// or runId. ?limit caps the result (default 100).
func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	runID, gameID := q.Get("runId"), q.Get("gameId")

	if runID != "" && s.traceDB != nil {
		recs, err := s.traceDB.Recent(r.Context(), runID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, recs)
		return
	}

	out := []trace.Record{}
	if s.traces != nil {
		all := s.traces.Snapshot()
		// Newest first.
		for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
			rec := all[i]
			if runID != "" && rec.RunID != runID {
				continue
			}
			if gameID != "" && rec.GameID != gameID {
				continue
			}
			out = append(out, rec)
		}
	}
	writeJSON(w, http.StatusOK, out)
}
