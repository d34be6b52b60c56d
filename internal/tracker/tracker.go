// Package tracker implements the Event Tracker (C4) and Turn Tracker (C5):
// event assembly with ID/timestamp stamping and privacy processing, and an
// async AI-call wrapper with a timeout race and exponential-backoff retry.
package tracker

import (
	"fmt"

	"bilan/internal/event"
	"bilan/internal/ids"
	"bilan/internal/logger"
	"bilan/internal/privacy"
)

// Content carries the raw, not-yet-privacy-processed prompt/response text
// for a tracked event.
type Content struct {
	PromptText *string
	AIResponse *string
}

// EnqueueFunc hands a fully assembled event to the Event Queue.
type EnqueueFunc func(event.Event) error

// EventTracker assembles events (IDs, timestamps, sanitized content) and
// enqueues them.
type EventTracker struct {
	userID        string
	privacy       *privacy.Controller
	enqueue       EnqueueFunc
	log           *logger.Logger
	tagHasPII     bool
}

// NewEventTracker builds an EventTracker. tagHasPII enables the has_pii
// metadata tag on emitted turn events (on when hash-instead-of-redact mode
// is off, so callers can distinguish "redacted" from "nothing detected").
func NewEventTracker(userID string, priv *privacy.Controller, enqueue EnqueueFunc, log *logger.Logger, tagHasPII bool) *EventTracker {
	return &EventTracker{userID: userID, privacy: priv, enqueue: enqueue, log: log, tagHasPII: tagHasPII}
}

// ContainsPII exposes the Privacy Controller's auxiliary predicate so
// callers (the Turn Tracker) can tag events without re-redacting content.
func (t *EventTracker) ContainsPII(content string) bool {
	if t.privacy == nil {
		return false
	}
	return t.privacy.ContainsPII(content)
}

// Track builds an Event from eventType/properties/content, routes prompt
// and response content through the Privacy Controller, and enqueues it.
func (t *EventTracker) Track(eventType event.Type, properties map[string]any, content Content) (event.Event, error) {
	props := cloneProps(properties)

	e := event.Event{
		EventID:    ids.NewEventID(),
		UserID:     t.userID,
		EventType:  eventType,
		Timestamp:  ids.NowMS(),
		Properties: props,
	}

	if content.PromptText != nil {
		if processed, ok := t.privacy.Process(*content.PromptText, "prompts"); ok {
			e.PromptText = &processed
		}
	}
	if content.AIResponse != nil {
		if processed, ok := t.privacy.Process(*content.AIResponse, "responses"); ok {
			e.AIResponse = &processed
		}
	}

	if turnID, ok := props["turn_id"].(string); ok && turnID != "" {
		e.TurnID = &turnID
	}
	if journeyID, ok := props["journey_id"].(string); ok && journeyID != "" {
		e.JourneyID = &journeyID
	}
	if conversationID, ok := props["conversation_id"].(string); ok && conversationID != "" {
		e.ConversationID = &conversationID
	}

	if err := e.Validate(); err != nil {
		return event.Event{}, fmt.Errorf("assembled event failed validation: %w", err)
	}

	if err := t.enqueue(e); err != nil {
		return e, fmt.Errorf("enqueue event: %w", err)
	}
	return e, nil
}

func cloneProps(properties map[string]any) map[string]any {
	props := make(map[string]any, len(properties))
	for k, v := range properties {
		props[k] = v
	}
	return props
}
