// Package queue implements the Event Queue (C3): a bounded, durable,
// reentrancy-guarded buffer that persists its snapshot after every mutation
// and flushes batches to a caller-supplied sink on demand or on a timer.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"bilan/internal/event"
	"bilan/internal/kvstore"
	"bilan/internal/logger"
)

const (
	bucketName = "event_queue"
	snapshotKey = "snapshot"
)

// Sink delivers a flushed batch. A non-nil error means the batch did not
// reach its destination and must be requeued.
type Sink func(ctx context.Context, batch []event.Event) error

// Queue is a bounded durable buffer of pending events.
type Queue struct {
	mu     sync.Mutex
	events []event.Event

	batchSize       int
	capacity        int
	flushIntervalMS int

	isProcessing bool

	store kvstore.Store
	sink  Sink
	log   *logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New builds a Queue. batchSize and maxBatches derive capacity = batchSize *
// maxBatches, per spec. sink is called with the head batch on each flush.
func New(store kvstore.Store, sink Sink, log *logger.Logger, batchSize, maxBatches, flushIntervalMS int) *Queue {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Queue{
		batchSize:       batchSize,
		capacity:        batchSize * maxBatches,
		flushIntervalMS: flushIntervalMS,
		store:           store,
		sink:            sink,
		log:             log,
		stopCh:          make(chan struct{}),
	}
}

// LoadPersisted populates the queue from the persisted snapshot, if any.
// Call once at startup before accepting new events.
func (q *Queue) LoadPersisted() error {
	raw, ok := q.store.Get(bucketName, snapshotKey)
	if !ok {
		return nil
	}
	var events []event.Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return fmt.Errorf("load persisted queue snapshot: %w", err)
	}
	q.mu.Lock()
	q.events = events
	q.mu.Unlock()
	return nil
}

// Enqueue appends an event, evicting the oldest event (FIFO) if the queue is
// already at capacity, persists the snapshot, and triggers a background
// flush once the queue reaches batch_size.
func (q *Queue) Enqueue(e event.Event) error {
	q.mu.Lock()
	if len(q.events) >= q.capacity {
		q.events = q.events[1:]
	}
	q.events = append(q.events, e)
	shouldFlush := len(q.events) >= q.batchSize
	persistErr := q.persistLocked()
	q.mu.Unlock()

	if persistErr != nil {
		q.log.Errorf("enqueue", "failed to persist queue snapshot: %v", persistErr)
	}
	if shouldFlush {
		q.triggerFlush()
	}
	return persistErr
}

// triggerFlush fires a background, best-effort flush. Errors are logged and
// swallowed, matching the periodic flush's fire-and-forget contract.
func (q *Queue) triggerFlush() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.Flush(context.Background(), false); err != nil {
			q.log.Warnf("flush", "background flush failed: %v", err)
		}
	}()
}

// Flush extracts up to batch_size events from the head of the queue and
// delivers them to the sink. Reentrancy-guarded: if a flush is already in
// flight, returns immediately without error. If the queue is empty and force
// is false, returns immediately. The in-flight batch is copied, not removed,
// and is only trimmed from the head once the sink succeeds; on sink failure
// it is still at the head in its original order and the error is returned.
func (q *Queue) Flush(ctx context.Context, force bool) error {
	q.mu.Lock()
	if q.isProcessing {
		q.mu.Unlock()
		return nil
	}
	if len(q.events) == 0 && !force {
		q.mu.Unlock()
		return nil
	}
	q.isProcessing = true
	n := q.batchSize
	if n > len(q.events) {
		n = len(q.events)
	}
	inFlight := append([]event.Event(nil), q.events[:n]...)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.isProcessing = false
		q.mu.Unlock()
	}()

	if len(inFlight) == 0 {
		return nil
	}

	if err := q.sink(ctx, inFlight); err != nil {
		return fmt.Errorf("flush sink failed: %w", err)
	}

	q.mu.Lock()
	q.events = q.events[len(inFlight):]
	persistErr := q.persistLocked()
	q.mu.Unlock()
	if persistErr != nil {
		q.log.Errorf("flush", "failed to persist trimmed snapshot: %v", persistErr)
	}
	return nil
}

// StartPeriodicFlush launches the background ticker that calls Flush(false)
// every flush_interval_ms. Safe to call once; subsequent calls are no-ops.
func (q *Queue) StartPeriodicFlush() {
	q.once.Do(func() {
		q.wg.Add(1)
		go q.periodicFlushLoop()
	})
}

func (q *Queue) periodicFlushLoop() {
	defer q.wg.Done()
	interval := time.Duration(q.flushIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := q.Flush(context.Background(), false); err != nil {
				q.log.Warnf("periodic_flush", "flush failed: %v", err)
			}
		case <-q.stopCh:
			return
		}
	}
}

// Clear empties the queue and persists the empty snapshot.
func (q *Queue) Clear() error {
	q.mu.Lock()
	q.events = nil
	err := q.persistLocked()
	q.mu.Unlock()
	return err
}

// Size returns the number of resident events.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Snapshot returns a copy of the resident events, oldest first.
func (q *Queue) Snapshot() []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]event.Event(nil), q.events...)
}

// Destroy stops the periodic flush timer and forces a final flush.
func (q *Queue) Destroy(ctx context.Context) error {
	close(q.stopCh)
	q.wg.Wait()
	return q.Flush(ctx, true)
}

// persistLocked writes the current event slice as the store snapshot.
// Caller must hold q.mu.
func (q *Queue) persistLocked() error {
	data, err := json.Marshal(q.events)
	if err != nil {
		return fmt.Errorf("marshal queue snapshot: %w", err)
	}
	return q.store.Put(bucketName, snapshotKey, data)
}
