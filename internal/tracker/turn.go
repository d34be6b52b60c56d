package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bilan/internal/classify"
	"bilan/internal/event"
	"bilan/internal/ids"
	"bilan/internal/logger"
)

// timeoutCanonicalMessage is the fixed timeout message, preserved literally
// regardless of the configured timeout so callers matching on its text keep
// working across configuration changes.
const timeoutCanonicalMessage = "AI request timed out after 30 seconds"

// defaultTimeoutMS is used when TurnTracker is built with a non-positive
// timeout.
const defaultTimeoutMS = 30000

// AICall is a caller-supplied async AI invocation. It must respect ctx
// cancellation; the timeout race wraps it but does not itself cancel it.
type AICall func(ctx context.Context) (any, error)

// TurnTracker wraps AICall invocations with start/complete/fail event
// emission, a timeout race, and exponential-backoff retry.
type TurnTracker struct {
	tracker   *EventTracker
	timeoutMS int
	log       *logger.Logger
	sleep     func(time.Duration)
	onRetry   func(attempt int)
}

// NewTurnTracker builds a TurnTracker over tracker, racing each AI call
// against timeoutMS (defaulting to 30000 if non-positive). onRetry, if
// non-nil, is called once per retried attempt (not the initial attempt) so
// callers can hook retry counters without this package importing metrics
// directly; pass nil to skip the hook.
func NewTurnTracker(tracker *EventTracker, timeoutMS int, log *logger.Logger, onRetry func(attempt int)) *TurnTracker {
	if timeoutMS <= 0 {
		timeoutMS = defaultTimeoutMS
	}
	return &TurnTracker{tracker: tracker, timeoutMS: timeoutMS, log: log, sleep: time.Sleep, onRetry: onRetry}
}

type turnResult struct {
	value any
	err   error
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// TrackTurn wraps a single AI call with turn lifecycle events. Returns the
// call's result, the classified error kind (zero value on success), and the
// error to re-raise to the caller (nil on success).
func (tt *TurnTracker) TrackTurn(ctx context.Context, promptText string, call AICall, properties map[string]any) (any, classify.Kind, error) {
	turnID := ids.NewTurnID()
	t0 := ids.NowMS()

	startedProps := cloneProps(properties)
	startedProps["turn_id"] = turnID
	startedProps["started_at"] = t0
	if _, ok := startedProps["retry_count"]; !ok {
		startedProps["retry_count"] = 0
	}
	promptCopy := promptText
	if _, err := tt.tracker.Track(event.TypeTurnCreated, startedProps, Content{PromptText: &promptCopy}); err != nil {
		tt.log.Warnf("track_turn", "failed to emit turn_created: %v", err)
	}

	resultCh := make(chan turnResult, 1)
	go func() {
		v, err := call(ctx)
		resultCh <- turnResult{value: v, err: err}
	}()

	var res turnResult
	timedOut := false
	select {
	case res = <-resultCh:
	case <-time.After(time.Duration(tt.timeoutMS) * time.Millisecond):
		timedOut = true
		res = turnResult{err: errors.New(timeoutCanonicalMessage)}
	}

	if res.err == nil {
		return tt.emitSuccess(turnID, t0, promptText, res.value, properties)
	}
	return tt.emitFailure(turnID, t0, promptText, res.err, timedOut, properties)
}

func (tt *TurnTracker) emitSuccess(turnID string, t0 int64, promptText string, value any, properties map[string]any) (any, classify.Kind, error) {
	t1 := ids.NowMS()
	responseTime := float64(t1-t0) / 1000.0
	responseStr := stringify(value)

	completedProps := cloneProps(properties)
	completedProps["turn_id"] = turnID
	completedProps["status"] = "success"
	completedProps["response_time"] = responseTime
	completedProps["response_length"] = len(responseStr)
	completedProps["completed_at"] = t1
	if _, ok := completedProps["retry_count"]; !ok {
		completedProps["retry_count"] = 0
	}
	if tt.tracker.tagHasPII {
		completedProps["has_pii"] = tt.tracker.ContainsPII(promptText) || tt.tracker.ContainsPII(responseStr)
	}

	promptCopy := promptText
	if _, err := tt.tracker.Track(event.TypeTurnCompleted, completedProps, Content{PromptText: &promptCopy, AIResponse: &responseStr}); err != nil {
		tt.log.Warnf("track_turn", "failed to emit turn_completed: %v", err)
	}
	return value, "", nil
}

func (tt *TurnTracker) emitFailure(turnID string, t0 int64, promptText string, rawErr error, timedOut bool, properties map[string]any) (any, classify.Kind, error) {
	var kind classify.Kind
	var canonicalMsg string
	if timedOut {
		kind = classify.KindTimeout
		canonicalMsg = timeoutCanonicalMessage
	} else {
		c := classify.Classify(rawErr.Error())
		kind = c.Kind
		canonicalMsg = c.CanonicalMessage
	}

	t1 := ids.NowMS()
	failedProps := cloneProps(properties)
	failedProps["turn_id"] = turnID
	failedProps["status"] = "failed"
	failedProps["error_type"] = string(kind)
	failedProps["attempted_duration"] = float64(t1-t0) / 1000.0
	failedProps["failed_at"] = t1
	if _, ok := failedProps["retry_count"]; !ok {
		failedProps["retry_count"] = 0
	}

	if processed, ok := tt.tracker.privacy.Process(canonicalMsg, "errors"); ok {
		failedProps["error_message"] = processed
	}
	if tt.tracker.tagHasPII {
		failedProps["has_pii"] = tt.tracker.ContainsPII(promptText)
	}

	promptCopy := promptText
	if _, err := tt.tracker.Track(event.TypeTurnFailed, failedProps, Content{PromptText: &promptCopy}); err != nil {
		tt.log.Warnf("track_turn", "failed to emit turn_failed: %v", err)
	}

	if timedOut {
		return nil, kind, errors.New(timeoutCanonicalMessage)
	}
	return nil, kind, rawErr
}

// TrackTurnWithRetry retries TrackTurn up to maxRetries+1 total attempts,
// with exponential backoff (2^attempt seconds, no jitter) between attempts.
// auth_error and context_limit classifications are never retried.
func (tt *TurnTracker) TrackTurnWithRetry(ctx context.Context, promptText string, call AICall, properties map[string]any, maxRetries int) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		props := cloneProps(properties)
		props["retry_count"] = attempt

		result, kind, err := tt.TrackTurn(ctx, promptText, call, props)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if kind == classify.KindAuthError || kind == classify.KindContextLimit {
			break
		}
		if attempt == maxRetries {
			break
		}
		if tt.onRetry != nil {
			tt.onRetry(attempt)
		}
		tt.sleep(time.Duration(1<<uint(attempt)) * time.Second)
	}
	return nil, lastErr
}
