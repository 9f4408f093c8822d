package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// ------------------------------- log ---------------------------------------

// LogSink writes records as debug-level zerolog events.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Publish(_ context.Context, r Record) error {
	ev := s.Logger.Debug()
	if !r.Success {
		ev = s.Logger.Warn()
	}
	ev.Str("runId", r.RunID).
		Str("gameId", r.GameID).
		Str("agent", r.Agent).
		Str("backend", r.Backend).
		Int("attempt", r.Attempt).
		Bool("success", r.Success).
		Str("error", r.Error).
		Int64("elapsedMs", r.ElapsedMs).
		Msg("agent trace")
	return nil
}

// ------------------------------ memory -------------------------------------

// Memory keeps the most recent records in a fixed-size ring.
type Memory struct {
	mu      sync.RWMutex
	size    int
	records []Record
	index   int
	full    bool
}

// NewMemory returns a ring holding up to size records (minimum 1).
func NewMemory(size int) *Memory {
	if size < 1 {
		size = 1
	}
	return &Memory{size: size, records: make([]Record, size)}
}

func (m *Memory) Publish(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[m.index] = r
	m.index = (m.index + 1) % m.size
	if m.index == 0 {
		m.full = true
	}
	return nil
}

// Snapshot returns records oldest first.
func (m *Memory) Snapshot() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.full {
		return append([]Record{}, m.records[:m.index]...)
	}
	out := make([]Record, 0, m.size)
	out = append(out, m.records[m.index:]...)
	out = append(out, m.records[:m.index]...)
	return out
}

// ------------------------------ sqlite -------------------------------------

// SQLite appends records to the agent_traces table.
type SQLite struct {
	DB *sql.DB
}

func (s SQLite) Publish(ctx context.Context, r Record) error {
	_, err := s.DB.ExecContext(ctx, `
        INSERT INTO agent_traces
            (run_id, game_id, agent, backend, attempt, input, output, success, error, elapsed_ms, ts)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.GameID, r.Agent, r.Backend, r.Attempt, r.Input, r.Output,
		r.Success, r.Error, r.ElapsedMs, r.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	return nil
}

// Recent returns the latest records for a run, newest first.
func (s SQLite) Recent(ctx context.Context, runID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
        SELECT run_id, game_id, agent, backend, attempt, input, output, success, error, elapsed_ms, ts
        FROM agent_traces
        WHERE run_id=?
        ORDER BY id DESC
        LIMIT ?`, runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		var ts string
		if err := rows.Scan(&r.RunID, &r.GameID, &r.Agent, &r.Backend, &r.Attempt, &r.Input, &r.Output,
			&r.Success, &r.Error, &r.ElapsedMs, &ts); err != nil {
			return nil, err
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ------------------------------- mqtt --------------------------------------

// MQTT publishes records as JSON to a broker topic for external aggregation.
type MQTT struct {
	client  paho.Client
	topic   string
	timeout time.Duration
}

// NewMQTT builds a publisher for brokerURL. Call Connect before use.
func NewMQTT(brokerURL, clientID, topic string) *MQTT {
	opts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)
	return &MQTT{client: paho.NewClient(opts), topic: topic, timeout: 2 * time.Second}
}

// Connect dials the broker, waiting at most ten seconds.
func (m *MQTT) Connect() error {
	token := m.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect: timed out")
	}
	return token.Error()
}

func (m *MQTT) Publish(_ context.Context, r Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.topic+"/"+r.Agent, 0, false, payload)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("mqtt publish %s: timed out", m.topic)
	}
	return token.Error()
}

// Close disconnects from the broker.
func (m *MQTT) Close() { m.client.Disconnect(250) }
