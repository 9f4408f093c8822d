// Package trace is the observability side channel of the decision pipeline.
//
// Stages emit one Record per attempt (deterministic run, backend call, or
// pipeline stage). Sinks forward records to logs, memory, SQLite or MQTT.
// Emission never influences control flow: sink errors are logged and dropped.
package trace

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Record describes one stage attempt.
type Record struct {
	RunID     string    `json:"runId"`
	GameID    string    `json:"gameId,omitempty"`
	Agent     string    `json:"agent"`
	Backend   string    `json:"backend"`
	Attempt   int       `json:"attempt,omitempty"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	ElapsedMs int64     `json:"elapsedMs"`
	Timestamp time.Time `json:"ts"`
}

// Sink receives records.
type Sink interface {
	Publish(ctx context.Context, r Record) error
}

type runKey struct{}

type runInfo struct {
	runID  string
	gameID string
	sink   Sink
}

// WithRun attaches the run/game identifiers and the sink to ctx so stages can
// emit records without extra parameters.
func WithRun(ctx context.Context, runID, gameID string, sink Sink) context.Context {
	return context.WithValue(ctx, runKey{}, runInfo{runID: runID, gameID: gameID, sink: sink})
}

// RunID returns the run identifier attached to ctx, if any.
func RunID(ctx context.Context) string {
	ri, _ := ctx.Value(runKey{}).(runInfo)
	return ri.runID
}

// Emit fills in the run fields from ctx and publishes r to the attached sink.
// It is a no-op when ctx carries no sink.
func Emit(ctx context.Context, r Record) {
	ri, ok := ctx.Value(runKey{}).(runInfo)
	if !ok || ri.sink == nil {
		return
	}
	if r.RunID == "" {
		r.RunID = ri.runID
	}
	if r.GameID == "" {
		r.GameID = ri.gameID
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	// Publish even when the turn's deadline has passed; the record is
	// still useful and sinks apply their own timeouts.
	if err := ri.sink.Publish(context.WithoutCancel(ctx), r); err != nil {
		log.Warn().Err(err).Str("agent", r.Agent).Str("runId", r.RunID).Msg("trace publish failed")
	}
}

// Multi fans a record out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Truncate shortens s to n bytes for record input/output summaries.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
