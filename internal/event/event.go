// Package event defines the unified Event record shared across the queue,
// tracker, transport, store, and query layers, plus the wire codec that
// accepts either snake_case or camelCase top-level field names.
package event

import (
	"encoding/json"
	"fmt"
)

// Type is one of the closed set of event types.
type Type string

// Closed set of event types.
const (
	TypeTurnCreated            Type = "turn_created"
	TypeTurnCompleted          Type = "turn_completed"
	TypeTurnFailed             Type = "turn_failed"
	TypeUserAction             Type = "user_action"
	TypeVoteCast               Type = "vote_cast"
	TypeJourneyStep            Type = "journey_step"
	TypeConversationStarted    Type = "conversation_started"
	TypeConversationEnded      Type = "conversation_ended"
	TypeRegenerationRequested  Type = "regeneration_requested"
	TypeFrustrationDetected    Type = "frustration_detected"
)

var validTypes = map[Type]bool{
	TypeTurnCreated: true, TypeTurnCompleted: true, TypeTurnFailed: true,
	TypeUserAction: true, TypeVoteCast: true, TypeJourneyStep: true,
	TypeConversationStarted: true, TypeConversationEnded: true,
	TypeRegenerationRequested: true, TypeFrustrationDetected: true,
}

// ValidType reports whether t is one of the closed set of event types.
func ValidType(t Type) bool { return validTypes[t] }

// Event is the single unified telemetry record.
type Event struct {
	EventID   string         `json:"event_id"`
	UserID    string         `json:"user_id"`
	EventType Type           `json:"event_type"`
	Timestamp int64          `json:"timestamp"`
	Properties map[string]any `json:"properties"`

	PromptText *string `json:"prompt_text,omitempty"`
	AIResponse *string `json:"ai_response,omitempty"`

	JourneyID      *string `json:"journey_id,omitempty"`
	ConversationID *string `json:"conversation_id,omitempty"`
	TurnSequence   *int    `json:"turn_sequence,omitempty"`
	TurnID         *string `json:"turn_id,omitempty"`
}

// Validate checks the §3 invariants that can be enforced without a store
// lookup: closed event_type, positive timestamp, non-empty user_id, a
// well-formed properties object, and event-type-specific shape checks.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if !ValidType(e.EventType) {
		return fmt.Errorf("event_type %q is not in the closed set", e.EventType)
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("timestamp must be positive")
	}
	if e.Properties == nil {
		e.Properties = map[string]any{}
	}
	if e.EventType == TypeVoteCast {
		if err := validateVoteCast(e); err != nil {
			return err
		}
	}
	return nil
}

func validateVoteCast(e *Event) error {
	v, ok := e.Properties["value"]
	if !ok {
		return fmt.Errorf("vote_cast requires properties.value")
	}
	f, ok := toFloat(v)
	if !ok || (f != 1 && f != -1) {
		return fmt.Errorf("vote_cast properties.value must be 1 or -1")
	}
	if _, hasTurnID := e.Properties["turn_id"]; hasTurnID {
		return nil
	}
	if _, hasPromptID := e.Properties["prompt_id"]; hasPromptID {
		return nil
	}
	if e.TurnID != nil && *e.TurnID != "" {
		return nil
	}
	return fmt.Errorf("vote_cast requires properties.turn_id or legacy properties.prompt_id")
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// NormalizeLegacyTurnID promotes properties.prompt_id to properties.turn_id
// (and the top-level TurnID field) when turn_id is absent, bridging legacy
// vote_cast records into the current correlation scheme.
func (e *Event) NormalizeLegacyTurnID() {
	if e.Properties == nil {
		return
	}
	if _, ok := e.Properties["turn_id"]; ok {
		return
	}
	if promptID, ok := e.Properties["prompt_id"].(string); ok && promptID != "" {
		e.Properties["turn_id"] = promptID
		if e.TurnID == nil {
			e.TurnID = &promptID
		}
	}
}

// wireEvent accepts either snake_case or camelCase top-level keys. Unknown
// top-level keys are ignored; properties.* fields are preserved verbatim by
// the generic map[string]any decode.
type wireEvent struct {
	EventID   string `json:"event_id"`
	EventID2  string `json:"eventId"`
	UserID    string `json:"user_id"`
	UserID2   string `json:"userId"`
	EventType Type   `json:"event_type"`
	EventType2 Type  `json:"eventType"`
	Timestamp int64  `json:"timestamp"`

	Properties map[string]any `json:"properties"`

	PromptText  *string `json:"prompt_text"`
	PromptText2 *string `json:"promptText"`
	AIResponse  *string `json:"ai_response"`
	AIResponse2 *string `json:"aiResponse"`

	JourneyID      *string `json:"journey_id"`
	JourneyID2     *string `json:"journeyId"`
	ConversationID *string `json:"conversation_id"`
	ConversationID2 *string `json:"conversationId"`
	TurnSequence   *int    `json:"turn_sequence"`
	TurnSequence2  *int    `json:"turnSequence"`
	TurnID         *string `json:"turn_id"`
	TurnID2        *string `json:"turnId"`
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstNonNilStr(a, b *string) *string {
	if a != nil {
		return a
	}
	return b
}

func firstNonNilInt(a, b *int) *int {
	if a != nil {
		return a
	}
	return b
}

// UnmarshalJSON decodes either casing of the canonical wire shape.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.EventID = firstNonEmpty(w.EventID, w.EventID2)
	e.UserID = firstNonEmpty(w.UserID, w.UserID2)
	if w.EventType != "" {
		e.EventType = w.EventType
	} else {
		e.EventType = w.EventType2
	}
	e.Timestamp = w.Timestamp
	e.Properties = w.Properties
	e.PromptText = firstNonNilStr(w.PromptText, w.PromptText2)
	e.AIResponse = firstNonNilStr(w.AIResponse, w.AIResponse2)
	e.JourneyID = firstNonNilStr(w.JourneyID, w.JourneyID2)
	e.ConversationID = firstNonNilStr(w.ConversationID, w.ConversationID2)
	e.TurnSequence = firstNonNilInt(w.TurnSequence, w.TurnSequence2)
	e.TurnID = firstNonNilStr(w.TurnID, w.TurnID2)
	return nil
}

// Batch decodes a POST body that may be a bare Event or {"events": [...]}.
func Batch(body []byte) ([]Event, error) {
	var wrapped struct {
		Events []Event `json:"events"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Events != nil {
		return wrapped.Events, nil
	}
	var single Event
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, fmt.Errorf("decode event batch: %w", err)
	}
	return []Event{single}, nil
}
