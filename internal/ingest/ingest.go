// Package ingest implements the Ingest API (C7): the authenticated HTTP
// surface the client SDK's server-mode transport posts batches to. It
// validates and deduplicates events against the Event Store, invalidates
// the Correlation Query Layer's cache for any touched turn, and reports a
// health check for operators.
package ingest

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"bilan/internal/event"
	"bilan/internal/logger"
	"bilan/internal/metrics"
	"bilan/internal/query"
	"bilan/internal/store"
)

// defaultMaxBatchEvents is the hard cap on events accepted in a single POST
// /api/events request when the configured batch cap is non-positive (spec
// §6: "Batch size too large" above this), matching
// config.DefaultServerConfig's BatchCap.
const defaultMaxBatchEvents = 1000

// maxBodyBytes bounds the request body read, independent of the event
// count cap, so an attacker can't submit a small number of huge properties
// blobs to exhaust memory.
const maxBodyBytes = 10 << 20 // 10MiB

// Server is the Ingest API's HTTP surface.
type Server struct {
	store    *store.Store
	querier  *query.Querier
	metrics  *metrics.Metrics
	log      *logger.Logger
	apiKey   string
	batchCap int
}

// New builds an ingest Server. apiKey empty disables authentication
// (development only; operators are expected to set BILAN_API_KEY). batchCap
// non-positive falls back to defaultMaxBatchEvents.
func New(st *store.Store, q *query.Querier, m *metrics.Metrics, log *logger.Logger, apiKey string, batchCap int) *Server {
	if batchCap <= 0 {
		batchCap = defaultMaxBatchEvents
	}
	return &Server{
		store:    st,
		querier:  q,
		metrics:  m,
		log:      log,
		apiKey:   apiKey,
		batchCap: batchCap,
	}
}

// Handler returns the complete HTTP handler, with CORS and auth middleware
// applied per corsOrigins (spec §6: configurable allow-list; "*" wide open).
func (s *Server) Handler(corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)
	r.Use(s.traceMiddleware)

	r.Get("/health", s.handleHealth)
	r.With(s.authMiddleware).Post("/api/events", s.handleEvents)

	return r
}

// traceMiddleware stamps a per-request trace id into the request context's
// logger scope; it is not carried onto the event itself.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := uuid.NewString()
		w.Header().Set("X-Trace-Id", traceID)
		s.log.Debugf("request", "trace=%s method=%s path=%s", traceID, r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// authMiddleware enforces Bearer auth when apiKey is configured, with
// distinct messages for a missing vs. wrong key (spec §6/§7).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing Authorization header"})
			return
		}
		if len(auth) < len(prefix) || auth[:len(prefix)] != prefix {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing Authorization header"})
			return
		}
		got := auth[len(prefix):]
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ingestStats struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

type ingestResponse struct {
	Success bool        `json:"success"`
	Stats   ingestStats `json:"stats"`
}

// handleEvents is POST /api/events. It accepts a bare event or
// {"events": [...]}, validates and dedups each one, and inserts the valid
// subset in a single transaction. Per §4.7, a malformed individual event
// does not fail the whole batch: it is counted under errors and the
// response is still 200, unless the batch itself is malformed JSON or over
// the size cap.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request body too large or unreadable"})
		return
	}

	events, err := event.Batch(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(events) > s.batchCap {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Batch size too large"})
		return
	}

	ctx := r.Context()
	stats := ingestStats{}
	var toInsert []event.Event
	var touchedTurnIDs []string

	for i := range events {
		e := events[i]
		e.NormalizeLegacyTurnID()
		if err := e.Validate(); err != nil {
			stats.Errors++
			s.metrics.IngestErrors.Add(1)
			s.log.Warnf("validate", "rejected event %s: %v", e.EventID, err)
			continue
		}
		exists, err := s.store.Exists(ctx, e.EventID)
		if err != nil {
			stats.Errors++
			s.metrics.IngestErrors.Add(1)
			s.log.Errorf("dedup", "existence check failed for %s: %v", e.EventID, err)
			continue
		}
		if exists {
			stats.Skipped++
			s.metrics.IngestSkipped.Add(1)
			continue
		}
		toInsert = append(toInsert, e)
		if e.TurnID != nil && *e.TurnID != "" {
			touchedTurnIDs = append(touchedTurnIDs, *e.TurnID)
		} else if turnID, ok := e.Properties["turn_id"].(string); ok && turnID != "" {
			touchedTurnIDs = append(touchedTurnIDs, turnID)
		}
	}

	if len(toInsert) > 0 {
		if err := s.store.InsertBatch(ctx, toInsert); err != nil {
			s.log.Errorf("insert", "batch insert failed: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage failure"})
			return
		}
		stats.Processed = len(toInsert)
		s.metrics.IngestProcessed.Add(int64(len(toInsert)))
	}

	if s.querier != nil {
		for _, turnID := range touchedTurnIDs {
			s.querier.InvalidateTurnID(turnID)
		}
	}

	writeJSON(w, http.StatusOK, ingestResponse{Success: true, Stats: stats})
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Timestamp: time.Now().UnixMilli()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort; client disconnect is not actionable
}

