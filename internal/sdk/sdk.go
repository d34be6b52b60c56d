// Package sdk implements the BilanSDK façade (§9): the composition root
// wiring Privacy Controller, Event Queue, Transport, Event Tracker, and Turn
// Tracker into a single mutable instance, plus a process-wide convenience
// singleton for ergonomic top-level calls.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"bilan/internal/config"
	"bilan/internal/event"
	"bilan/internal/kvstore"
	"bilan/internal/logger"
	"bilan/internal/metrics"
	"bilan/internal/privacy"
	"bilan/internal/queue"
	"bilan/internal/tracker"
	"bilan/internal/transport"
)

// errNotInitialized is wrapped by VoteError/StatsError when a package-level
// call with BILAN_DEBUG=true runs before Init (§7: non-debug mode gets a
// safe zero-valued fallback instead).
var errNotInitialized = errors.New("bilan sdk not initialized")

func debugEnabled() bool {
	return strings.EqualFold(os.Getenv("BILAN_DEBUG"), "true")
}

// BilanSDK composes the tracking pipeline behind a single entry point.
// Construct one with Init; cyclic-looking dependencies (Turn Tracker embeds
// Event Tracker embeds Queue embeds Transport) are wired here by
// constructor injection, never through package-level globals.
type BilanSDK struct {
	cfg     *config.InitConfig
	log     *logger.Logger
	metrics *metrics.Metrics
	privacy *privacy.Controller
	store   kvstore.Store
	queue   *queue.Queue
	tr      transport.Transport
	tracker *tracker.EventTracker
	turn    *tracker.TurnTracker
}

// Stats is a point-in-time summary of local pipeline health, returned by
// Stats(). The zero value is the safe fallback for an uninitialized SDK.
type Stats struct {
	Mode         config.Mode
	QueueSize    int
	QueueCap     int
	UptimeSecs   float64
	EventsTotal  int64
	FlushSuccess int64
	FlushFailure int64
}

var (
	instanceMu sync.Mutex
	instance   *BilanSDK
)

// Init validates cfg, wires every component, starts the periodic flush
// loop, and returns the new instance. It also installs the instance as the
// process-wide default used by package-level Track/Vote/GetStats/Flush/Shutdown
// helpers. Configuration problems return an *InitError with an actionable
// Suggestion and never partially initialize the process-wide singleton.
func Init(cfg *config.InitConfig) (*BilanSDK, error) {
	if cfg == nil {
		cfg = config.DefaultInitConfig()
	}
	if cfg.UserID == "" {
		return nil, newInitError("userId required", "set InitConfig.UserID to a stable per-end-user identifier")
	}
	if cfg.Mode == config.ModeServer && cfg.Endpoint == "" {
		return nil, newInitError("endpoint required for server mode", "set InitConfig.Endpoint or switch Mode to \"local\"")
	}
	if cfg.BatchSize <= 0 || cfg.MaxBatches <= 0 {
		return nil, newInitError("batchSize and maxBatches must be positive", "check InitConfig.BatchSize/MaxBatches or use DefaultInitConfig()")
	}

	var log *logger.Logger
	if cfg.Debug {
		log = logger.New("BILAN", "debug")
	} else {
		log = logger.NewJSON("BILAN", "info")
	}

	var store kvstore.Store
	if cfg.StorePath != "" {
		opened, err := kvstore.Open(cfg.StorePath)
		if err != nil {
			return nil, newInitError(fmt.Sprintf("could not open local store %q: %v", cfg.StorePath, err),
				"check that StorePath's directory exists and is writable, or clear StorePath to run in-memory only")
		}
		store = opened
	} else {
		store = kvstore.NewMemoryStore()
	}

	m := metrics.New()
	priv := privacy.New(cfg.Privacy)

	var tp transport.Transport
	if cfg.Mode == config.ModeServer {
		tp = transport.NewServer(cfg.Endpoint, cfg.APIKey, log)
	} else {
		tp = transport.NewLocal(store)
	}

	sdk := &BilanSDK{cfg: cfg, log: log, metrics: m, privacy: priv, store: store, tr: tp}

	sink := func(ctx context.Context, batch []event.Event) error {
		t0 := time.Now()
		err := tp.Send(ctx, cfg.UserID, batch)
		sdk.metrics.RecordFlushLatency(time.Since(t0))
		sdk.metrics.FlushAttempts.Add(1)
		if err != nil {
			sdk.metrics.FlushFailures.Add(1)
			return err
		}
		sdk.metrics.FlushSuccesses.Add(1)
		return nil
	}

	q := queue.New(store, sink, log, cfg.BatchSize, cfg.MaxBatches, cfg.FlushIntervalMS)
	if err := q.LoadPersisted(); err != nil {
		log.Warnf("init", "failed to load persisted queue snapshot: %v", err)
	}
	q.StartPeriodicFlush()
	sdk.queue = q

	enqueue := func(e event.Event) error {
		evicting := q.Size() >= cfg.Capacity()
		err := q.Enqueue(e)
		sdk.metrics.EventsEnqueued.Add(1)
		if evicting {
			sdk.metrics.EventsEvicted.Add(1)
		}
		if err != nil {
			return &StorageError{Op: "enqueue", Err: err}
		}
		return nil
	}

	tagHasPII := !cfg.Privacy.HashInsteadOfRedact
	et := tracker.NewEventTracker(cfg.UserID, priv, enqueue, log, tagHasPII)
	sdk.tracker = et
	onRetry := func(attempt int) {
		sdk.metrics.RetriesAttempted.Add(1)
	}
	sdk.turn = tracker.NewTurnTracker(et, cfg.TimeoutMS, log, onRetry)

	instanceMu.Lock()
	instance = sdk
	instanceMu.Unlock()

	return sdk, nil
}

// GetInstance returns the process-wide SDK installed by the last successful
// Init call, or nil if none has run yet.
func GetInstance() *BilanSDK {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	return instance
}

// Track assembles and enqueues an arbitrary event. Tracking failures are
// logged and swallowed in normal mode; in debug mode they re-raise, per the
// propagation policy in §7.
func (s *BilanSDK) Track(eventType event.Type, properties map[string]any) error {
	_, err := s.tracker.Track(eventType, properties, tracker.Content{})
	if err != nil {
		s.log.Warnf("track", "event tracking failed: %v", err)
		if s.cfg.Debug {
			return err
		}
	}
	return nil
}

// TrackTurn wraps a single AI call with turn lifecycle events (§4.5). AI
// call errors always re-raise to the caller after the turn_failed event is
// emitted — the caller owns recovery.
func (s *BilanSDK) TrackTurn(ctx context.Context, promptText string, call tracker.AICall, properties map[string]any) (any, error) {
	s.metrics.TurnsStarted.Add(1)
	t0 := time.Now()
	result, _, err := s.turn.TrackTurn(ctx, promptText, call, properties)
	s.metrics.RecordTurnLatency(time.Since(t0))
	if err != nil {
		s.metrics.TurnsFailed.Add(1)
		return nil, err
	}
	s.metrics.TurnsCompleted.Add(1)
	return result, nil
}

// TrackTurnWithRetry wraps TrackTurn with exponential-backoff retry,
// skipping retry for auth_error and context_limit classifications (§4.5).
func (s *BilanSDK) TrackTurnWithRetry(ctx context.Context, promptText string, call tracker.AICall, properties map[string]any, maxRetries int) (any, error) {
	s.metrics.TurnsStarted.Add(1)
	t0 := time.Now()
	result, err := s.turn.TrackTurnWithRetry(ctx, promptText, call, properties, maxRetries)
	s.metrics.RecordTurnLatency(time.Since(t0))
	if err != nil {
		s.metrics.TurnsFailed.Add(1)
		return nil, err
	}
	s.metrics.TurnsCompleted.Add(1)
	return result, nil
}

// Vote records a vote_cast event correlating a user's feedback with
// turnID. value must be 1 (positive) or -1 (negative). Returns a *VoteError
// wrapping the underlying failure; never panics on a bad turnID — storage
// and store-layer referential checks are best-effort (§3).
func (s *BilanSDK) Vote(turnID string, value int, comment string) error {
	properties := map[string]any{
		"turn_id": turnID,
		"value":   value,
	}
	if comment != "" {
		properties["comment"] = comment
	}
	if _, err := s.tracker.Track(event.TypeVoteCast, properties, tracker.Content{}); err != nil {
		return &VoteError{TurnID: turnID, Err: err}
	}
	return nil
}

// Stats returns a point-in-time summary of local pipeline health.
func (s *BilanSDK) Stats() (Stats, error) {
	snap := s.metrics.Snapshot()
	return Stats{
		Mode:         s.cfg.Mode,
		QueueSize:    s.queue.Size(),
		QueueCap:     s.cfg.Capacity(),
		UptimeSecs:   snap.UptimeSecs,
		EventsTotal:  snap.Queue.Enqueued,
		FlushSuccess: snap.Queue.FlushSuccesses,
		FlushFailure: snap.Queue.FlushFailures,
	}, nil
}

// Flush forces an immediate delivery attempt of the head batch (at most
// BatchSize events), bypassing the periodic flush interval; events beyond
// that batch stay queued for later flushes. A sink failure is reported
// as a *NetworkError; the batch is requeued by the Event Queue itself
// (§8: "retry on failure is permitted").
func (s *BilanSDK) Flush(ctx context.Context) error {
	if err := s.queue.Flush(ctx, true); err != nil {
		return &NetworkError{Endpoint: s.cfg.Endpoint, Err: err}
	}
	return nil
}

// Shutdown forces a final flush and releases the local store handle. It
// does not clear the process-wide singleton; a fresh Init call replaces it.
func (s *BilanSDK) Shutdown(ctx context.Context) error {
	if err := s.queue.Destroy(ctx); err != nil {
		s.log.Warnf("shutdown", "final flush failed: %v", err)
	}
	if err := s.store.Close(); err != nil {
		return &StorageError{Op: "close", Err: err}
	}
	return nil
}

// Track, Vote, GetStats, Flush, and Shutdown below operate on the
// process-wide instance installed by Init; they return the safe zero-valued
// fallback described in §7 when called before Init, except that Vote and
// GetStats return an error instead when BILAN_DEBUG=true.

// Track delegates to the process-wide instance.
func Track(eventType event.Type, properties map[string]any) error {
	s := GetInstance()
	if s == nil {
		return nil
	}
	return s.Track(eventType, properties)
}

// Vote delegates to the process-wide instance. Called before Init, it
// returns nil unless BILAN_DEBUG=true, in which case it returns a
// *VoteError so misconfiguration isn't silently swallowed during
// development (§7).
func Vote(turnID string, value int, comment string) error {
	s := GetInstance()
	if s == nil {
		if debugEnabled() {
			return &VoteError{TurnID: turnID, Err: errNotInitialized}
		}
		return nil
	}
	return s.Vote(turnID, value, comment)
}

// GetStats delegates to the process-wide instance, returning the zero
// Stats value when the SDK has not been initialized (or a *StatsError when
// BILAN_DEBUG=true; see Vote).
func GetStats() (Stats, error) {
	s := GetInstance()
	if s == nil {
		if debugEnabled() {
			return Stats{}, &StatsError{Err: errNotInitialized}
		}
		return Stats{}, nil
	}
	return s.Stats()
}

// Flush delegates to the process-wide instance.
func Flush(ctx context.Context) error {
	s := GetInstance()
	if s == nil {
		return nil
	}
	return s.Flush(ctx)
}

// Shutdown delegates to the process-wide instance.
func Shutdown(ctx context.Context) error {
	s := GetInstance()
	if s == nil {
		return nil
	}
	return s.Shutdown(ctx)
}
