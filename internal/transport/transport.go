// Package transport implements the Transport (C6) variants that deliver
// flushed batches: a local durable-store writer, and an authenticated HTTP
// poster to a remote ingest endpoint.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"bilan/internal/event"
	"bilan/internal/kvstore"
	"bilan/internal/logger"
)

// Transport delivers a flushed batch for a given user. A non-nil error means
// the batch must be requeued by the Event Queue.
type Transport interface {
	Send(ctx context.Context, userID string, batch []event.Event) error
}

const (
	localBucket  = "events"
	localCapLast = 1000
)

// Local appends flushed batches to a per-user key (events:<user_id>) in the
// "events" bucket of a durable store, capped at the most recent 1000 events.
type Local struct {
	store kvstore.Store
}

// NewLocal builds a local-mode Transport over store.
func NewLocal(store kvstore.Store) *Local {
	return &Local{store: store}
}

// Send appends batch to the events:<user_id> key, trimming to the most
// recent 1000 entries.
func (l *Local) Send(ctx context.Context, userID string, batch []event.Event) error {
	key := "events:" + userID
	var existing []event.Event
	if raw, ok := l.store.Get(localBucket, key); ok {
		if err := json.Unmarshal(raw, &existing); err != nil {
			return fmt.Errorf("decode local event store for %s: %w", userID, err)
		}
	}
	existing = append(existing, batch...)
	if len(existing) > localCapLast {
		existing = existing[len(existing)-localCapLast:]
	}
	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("encode local event store for %s: %w", userID, err)
	}
	return l.store.Put(localBucket, key, data)
}

// Server POSTs flushed batches to a remote ingest endpoint, authenticated
// with a bearer API key. No retry happens at this layer — a failed POST
// returns an error so the Event Queue requeues the batch for the next flush
// cycle.
type Server struct {
	endpoint string
	apiKey   string
	client   *http.Client
	log      *logger.Logger
}

// NewServer builds a server-mode Transport targeting endpoint, forcing
// HTTP/2 the same way the teacher's outbound proxy transport does.
func NewServer(endpoint, apiKey string, log *logger.Logger) *Server {
	base := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          200,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	_ = http2.ConfigureTransport(base) //nolint:errcheck // best-effort HTTP/2 upgrade; plain HTTP/1.1 still works

	return &Server{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Transport: base, Timeout: 30 * time.Second},
		log:      log,
	}
}

type postBody struct {
	Events []event.Event `json:"events"`
}

// Send POSTs {endpoint}/api/events with the batch. Non-2xx responses and
// network errors both become flush errors; userID is not sent on the wire
// (each event already carries its own user_id).
func (s *Server) Send(ctx context.Context, userID string, batch []event.Event) error {
	payload, err := json.Marshal(postBody{Events: batch})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/api/events", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to ingest endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ingest endpoint returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
