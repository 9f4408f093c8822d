// main.go
//
// Entry point for the tic-tac-toe agent server.
// Commands:
//   - serve     HTTP API (games, auth, traces) with graceful shutdown.
//   - selfplay  AI-vs-random games run concurrently, tallies printed.
//
// Both commands read configuration from the environment (.env, CONFIG_FILE).

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/robalobadob/tictactoe/internal/agent"
	"github.com/robalobadob/tictactoe/internal/auth"
	"github.com/robalobadob/tictactoe/internal/backend"
	"github.com/robalobadob/tictactoe/internal/config"
	"github.com/robalobadob/tictactoe/internal/executor"
	"github.com/robalobadob/tictactoe/internal/httpserver"
	"github.com/robalobadob/tictactoe/internal/pipeline"
	"github.com/robalobadob/tictactoe/internal/scout"
	"github.com/robalobadob/tictactoe/internal/store"
	"github.com/robalobadob/tictactoe/internal/strategist"
	"github.com/robalobadob/tictactoe/internal/trace"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "tictactoe",
	Short:         "Tic-tac-toe against a Scout → Strategist → Executor agent pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		cfg = c
		setupLogging(cfg.LogLevel, cfg.LogFormat)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(selfplayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(level, format string) {
	if lvl, err := zerolog.ParseLevel(level); err == nil && level != "" {
		zerolog.SetGlobalLevel(lvl)
	}
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// ---------------------------------- wiring ----------------------------------

// newStages returns the deterministic Scout and Strategist, or delegating ones
// backed by Gemini when BACKEND=gemini.
func newStages(ctx context.Context, c *config.Config) (agent.BoardAnalyzer, agent.StrategyPlanner, error) {
	if c.Backend != "gemini" {
		return scout.New(), strategist.New(), nil
	}
	g, err := backend.NewGemini(ctx, c.GeminiAPIKey, c.GeminiModel)
	if err != nil {
		return nil, nil, err
	}
	policy := backend.DefaultPolicy()
	policy.MaxAttempts = c.BackendAttempts
	policy.BaseDelay = c.BackendBaseDelay
	policy.AttemptTimeout = c.BackendAttemptTimeout
	log.Info().Str("backend", g.Name()).Int("attempts", policy.MaxAttempts).Msg("enhanced analysis enabled")
	return scout.NewDelegating(g, policy), strategist.NewDelegating(g, policy), nil
}

func newPipeline(ctx context.Context, c *config.Config, sink trace.Sink) (*pipeline.Pipeline, error) {
	pc := pipeline.Config{
		ScoutTimeout:      c.ScoutTimeout,
		StrategistTimeout: c.StrategistTimeout,
		ExecutorTimeout:   c.ExecutorTimeout,
		TotalTimeout:      c.PipelineTimeout,
	}
	if err := pc.Validate(); err != nil {
		return nil, err
	}
	s, st, err := newStages(ctx, c)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pc, s, st, executor.New(), pipeline.WithSink(sink)), nil
}

// ---------------------------------- serve -----------------------------------

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	if err := migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if cfg.Production() && cfg.JWTSecret == "dev_secret_change_me" {
		log.Warn().Msg("JWT_SECRET is the development default")
	}

	mem := trace.NewMemory(cfg.TraceBuffer)
	sinks := trace.Multi{trace.LogSink{Logger: log.Logger}, mem}
	var traceDB *trace.SQLite
	if cfg.TracePersist {
		traceDB = &trace.SQLite{DB: db}
		sinks = append(sinks, traceDB)
	}
	if cfg.MQTTURL != "" {
		m := trace.NewMQTT(cfg.MQTTURL, "tictactoe-"+uuid.NewString()[:8], cfg.MQTTTopic)
		if err := m.Connect(); err != nil {
			m.Close()
			log.Warn().Err(err).Str("url", cfg.MQTTURL).Msg("mqtt trace sink disabled")
		} else {
			defer m.Close()
			sinks = append(sinks, m)
		}
	}

	p, err := newPipeline(ctx, cfg, sinks)
	if err != nil {
		return err
	}

	authSvc := auth.NewService(auth.Config{
		Secret:      cfg.JWTSecret,
		ExpiresDays: cfg.JWTExpiresDays,
		CookieName:  cfg.CookieName,
		Secure:      cfg.Production(),
	}, auth.NewUsers(db))

	srv := httpserver.New(httpserver.Options{
		Store:        store.NewMemoryStore(),
		Pipeline:     p,
		Auth:         authSvc,
		Traces:       mem,
		TraceDB:      traceDB,
		ClientOrigin: cfg.ClientOrigin,
	})

	hs := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.AppEnv).Msg("starting server")
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}
