// Package query implements the Correlation Query Layer (C9): filtered event
// retrieval and turn/vote/conversation/journey correlation over the Event
// Store's sqlite table.
package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"bilan/internal/event"
)

// Filters narrows get_events/get_events_count. Zero-valued fields are
// unconstrained; EventTypes matches any of the listed types (OR semantics).
type Filters struct {
	UserID     string
	EventTypes []event.Type
	TurnID     string
	StartTS    int64
	EndTS      int64
	Limit      int
	Offset     int
}

// Correlation is the result of GetTurnVoteCorrelation: the turn lifecycle
// event joined to its (optional) vote_cast counterpart.
type Correlation struct {
	TurnID         string
	TurnEvent      event.Event
	Vote           *event.Event
	JourneyID      *string
	ConversationID *string
	TurnSequence   *int
}

// Querier is the Correlation Query Layer over a Store's sqlite connection.
type Querier struct {
	db    *sql.DB
	cache *resultCache
}

// New builds a Querier. cacheCapacity bounds the get_turn_vote_correlation
// result cache (a sensible default is in the low hundreds). Values below 2,
// including 0, are clamped to 2; the cache cannot be disabled.
func New(db *sql.DB, cacheCapacity int) *Querier {
	return &Querier{db: db, cache: newResultCache(cacheCapacity)}
}

func (f Filters) where() (string, []any) {
	var clauses []string
	var args []any

	if f.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, f.UserID)
	}
	if len(f.EventTypes) > 0 {
		placeholders := strings.Repeat("?,", len(f.EventTypes))
		placeholders = strings.TrimSuffix(placeholders, ",")
		clauses = append(clauses, fmt.Sprintf("event_type IN (%s)", placeholders))
		for _, t := range f.EventTypes {
			args = append(args, string(t))
		}
	}
	if f.TurnID != "" {
		clauses = append(clauses, "(turn_id = ? OR json_extract(properties, '$.turn_id') = ? OR json_extract(properties, '$.turnId') = ?)")
		args = append(args, f.TurnID, f.TurnID, f.TurnID)
	}
	if f.StartTS > 0 {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, f.StartTS)
	}
	if f.EndTS > 0 {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, f.EndTS)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

const selectCols = `event_id, user_id, event_type, timestamp, properties,
	prompt_text, ai_response, journey_id, conversation_id, turn_sequence, turn_id`

// GetEvents returns events matching filters, ordered timestamp DESC.
func (q *Querier) GetEvents(ctx context.Context, f Filters) ([]event.Event, error) {
	where, args := f.where()
	query := fmt.Sprintf(`SELECT %s FROM events %s ORDER BY timestamp DESC`, selectCols, where)
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}
	return q.queryEvents(ctx, query, args)
}

// GetEventsCount returns the count of events matching filters.
func (q *Querier) GetEventsCount(ctx context.Context, f Filters) (int, error) {
	where, args := f.where()
	query := fmt.Sprintf(`SELECT COUNT(*) FROM events %s`, where)
	var n int
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// GetEventsByTurnID returns all events for turnID (top-level column or
// properties.turn_id/turnId), ordered timestamp ASC.
func (q *Querier) GetEventsByTurnID(ctx context.Context, turnID string) ([]event.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM events
		WHERE turn_id = ? OR json_extract(properties, '$.turn_id') = ? OR json_extract(properties, '$.turnId') = ?
		ORDER BY timestamp ASC`, selectCols)
	return q.queryEvents(ctx, query, []any{turnID, turnID, turnID})
}

// GetTurnVoteCorrelation left-joins a turn lifecycle event to its vote_cast
// counterpart by turn id, returning the single most-recent pairing. Results
// are cached by turn id; InvalidateTurnID must be called after any write
// that could change the answer (a new vote lands, a turn is re-emitted).
func (q *Querier) GetTurnVoteCorrelation(ctx context.Context, turnID string) (*Correlation, error) {
	if cached, ok := q.cache.get(turnID); ok {
		var c Correlation
		if err := json.Unmarshal([]byte(cached), &c); err == nil {
			return &c, nil
		}
	}

	turnEvents, err := q.queryEvents(ctx, fmt.Sprintf(`SELECT %s FROM events
		WHERE (turn_id = ? OR json_extract(properties, '$.turn_id') = ?)
		AND event_type IN (?, ?, ?)
		ORDER BY timestamp DESC LIMIT 1`, selectCols),
		[]any{turnID, turnID, string(event.TypeTurnCompleted), string(event.TypeTurnFailed), string(event.TypeTurnCreated)})
	if err != nil {
		return nil, err
	}
	if len(turnEvents) == 0 {
		return nil, nil
	}
	turnEvent := turnEvents[0]

	voteEvents, err := q.queryEvents(ctx, fmt.Sprintf(`SELECT %s FROM events
		WHERE (turn_id = ? OR json_extract(properties, '$.turn_id') = ? OR json_extract(properties, '$.prompt_id') = ?)
		AND event_type = ?
		ORDER BY timestamp DESC LIMIT 1`, selectCols),
		[]any{turnID, turnID, turnID, string(event.TypeVoteCast)})
	if err != nil {
		return nil, err
	}

	c := &Correlation{
		TurnID:         turnID,
		TurnEvent:      turnEvent,
		JourneyID:      turnEvent.JourneyID,
		ConversationID: turnEvent.ConversationID,
		TurnSequence:   turnEvent.TurnSequence,
	}
	if len(voteEvents) > 0 {
		c.Vote = &voteEvents[0]
	}

	if encoded, err := json.Marshal(c); err == nil {
		q.cache.set(turnID, string(encoded))
	}
	return c, nil
}

// InvalidateTurnID drops any cached GetTurnVoteCorrelation result for
// turnID. Callers should invoke this after inserting a new event carrying
// that turn id.
func (q *Querier) InvalidateTurnID(turnID string) {
	q.cache.invalidate(turnID)
}

// MigrationStats is the per-event-type row returned by
// ValidateTurnIDMigration.
type MigrationStats struct {
	EventType    event.Type
	Total        int
	WithTurnID   int
	WithPromptID int
}

// ValidateTurnIDMigration reports, per event type, how many rows carry a
// top-level turn_id and how many carry a legacy properties.prompt_id (a row
// with both counts toward both) — a diagnostic aggregate for tracking
// migration off the legacy shim.
func (q *Querier) ValidateTurnIDMigration(ctx context.Context) ([]MigrationStats, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT event_type,
			COUNT(*) AS total,
			SUM(CASE WHEN turn_id IS NOT NULL THEN 1 ELSE 0 END) AS with_turn_id,
			SUM(CASE WHEN json_extract(properties, '$.prompt_id') IS NOT NULL THEN 1 ELSE 0 END) AS with_prompt_id
		FROM events
		GROUP BY event_type
	`)
	if err != nil {
		return nil, fmt.Errorf("validate turn_id migration: %w", err)
	}
	defer rows.Close()

	var out []MigrationStats
	for rows.Next() {
		var s MigrationStats
		var et string
		if err := rows.Scan(&et, &s.Total, &s.WithTurnID, &s.WithPromptID); err != nil {
			return nil, fmt.Errorf("scan migration stats: %w", err)
		}
		s.EventType = event.Type(et)
		out = append(out, s)
	}
	return out, rows.Err()
}

// RelationshipStats summarizes correlation-column population within a time
// window, returned by ValidateRelationshipCapture.
type RelationshipStats struct {
	Total              int
	WithJourneyID      int
	WithConversationID int
	WithTurnID         int
}

// ValidateRelationshipCapture reports correlation-column population rates
// over the last windowHours.
func (q *Querier) ValidateRelationshipCapture(ctx context.Context, windowHours int) (RelationshipStats, error) {
	windowMS := int64(windowHours) * 3600 * 1000
	var s RelationshipStats
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			SUM(CASE WHEN journey_id IS NOT NULL THEN 1 ELSE 0 END),
			SUM(CASE WHEN conversation_id IS NOT NULL THEN 1 ELSE 0 END),
			SUM(CASE WHEN turn_id IS NOT NULL THEN 1 ELSE 0 END)
		FROM events
		WHERE timestamp >= (unixepoch('now') * 1000 - ?)
	`, windowMS).Scan(&s.Total, &s.WithJourneyID, &s.WithConversationID, &s.WithTurnID)
	if err != nil {
		return RelationshipStats{}, fmt.Errorf("validate relationship capture: %w", err)
	}
	return s, nil
}

func (q *Querier) queryEvents(ctx context.Context, query string, args []any) ([]event.Event, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var e event.Event
		var propsJSON string
		var et string
		if err := rows.Scan(&e.EventID, &e.UserID, &et, &e.Timestamp, &propsJSON,
			&e.PromptText, &e.AIResponse, &e.JourneyID, &e.ConversationID, &e.TurnSequence, &e.TurnID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.EventType = event.Type(et)
		if err := json.Unmarshal([]byte(propsJSON), &e.Properties); err != nil {
			return nil, fmt.Errorf("unmarshal properties for %s: %w", e.EventID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
