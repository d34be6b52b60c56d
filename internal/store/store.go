// Package store implements the Event Store (C8): a single unified `events`
// table with the seven indexes required for correlation queries, opened
// via modernc.org/sqlite (a pure-Go driver, no cgo toolchain required for
// a client-embedded daemon).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"bilan/internal/event"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	event_id        TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	timestamp       INTEGER NOT NULL CHECK (timestamp > 0),
	properties      TEXT NOT NULL,
	prompt_text     TEXT,
	ai_response     TEXT,
	journey_id      TEXT,
	conversation_id TEXT,
	turn_sequence   INTEGER,
	turn_id         TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_user_ts ON events(user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events(event_type, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id);
CREATE INDEX IF NOT EXISTS idx_events_journey_ts ON events(journey_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_conv_seq_ts ON events(conversation_id, turn_sequence, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_turn_ts ON events(turn_id, timestamp);
`

// Store is the Event Store's persistence surface. AllowRawSQL gates the
// Exec method: production/hosted deployments must not expose it.
type Store struct {
	db          *sql.DB
	allowRawSQL bool
}

// Open creates (or attaches to) the sqlite database at path and ensures the
// schema exists. allowRawSQL should be cfg.AllowRawSQL() from ServerConfig.
func Open(path string, allowRawSQL bool) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db, allowRawSQL: allowRawSQL}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying connection pool for the Correlation Query Layer
// (internal/query), which needs direct SELECT access the Store interface
// doesn't otherwise expose.
func (s *Store) DB() *sql.DB { return s.db }

// Exists reports whether eventID is already present, for ingest-side dedup.
func (s *Store) Exists(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM events WHERE event_id = ?`, eventID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check event_id existence: %w", err)
	}
	return true, nil
}

// InsertBatch inserts events in a single transaction. Every event must
// already have passed event.Validate(); InsertBatch enforces event_id
// uniqueness as a no-op (idempotent insert), not an error, per §3.
func (s *Store) InsertBatch(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op if Commit already ran

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (
			event_id, user_id, event_type, timestamp, properties,
			prompt_text, ai_response, journey_id, conversation_id, turn_sequence, turn_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		propsJSON, err := json.Marshal(e.Properties)
		if err != nil {
			return fmt.Errorf("marshal properties for %s: %w", e.EventID, err)
		}
		if _, err := stmt.ExecContext(ctx, e.EventID, e.UserID, string(e.EventType), e.Timestamp, string(propsJSON),
			e.PromptText, e.AIResponse, e.JourneyID, e.ConversationID, e.TurnSequence, e.TurnID); err != nil {
			return fmt.Errorf("insert event %s: %w", e.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Exec runs a raw SQL statement. It refuses outside development/test
// environments (spec.md §6: "production/hosted-deployment indicators must
// disable any raw-SQL execution path").
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if !s.allowRawSQL {
		return nil, fmt.Errorf("raw SQL execution is disabled outside development/test environments")
	}
	return s.db.ExecContext(ctx, query, args...)
}

func scanEvent(row rowScanner) (event.Event, error) {
	var e event.Event
	var propsJSON string
	var et string
	if err := row.Scan(&e.EventID, &e.UserID, &et, &e.Timestamp, &propsJSON,
		&e.PromptText, &e.AIResponse, &e.JourneyID, &e.ConversationID, &e.TurnSequence, &e.TurnID); err != nil {
		return event.Event{}, err
	}
	e.EventType = event.Type(et)
	if err := json.Unmarshal([]byte(propsJSON), &e.Properties); err != nil {
		return event.Event{}, fmt.Errorf("unmarshal properties for %s: %w", e.EventID, err)
	}
	return e, nil
}

// rowScanner abstracts *sql.Row/*sql.Rows so scanEvent works for both.
type rowScanner interface {
	Scan(dest ...any) error
}
