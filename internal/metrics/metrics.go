// Package metrics provides lightweight, lock-minimal performance counters
// for the telemetry pipeline, plus a Prometheus exposition surface.
//
// Counters use sync/atomic so hot paths (enqueue, turn tracking) incur no
// mutex contention. Latency statistics use a single mutex per dimension;
// they are updated at most once per flush or turn.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all runtime counters for a running pipeline instance.
// The zero value is valid and ready to use; prefer New() for clarity.
type Metrics struct {
	// Queue counters
	EventsEnqueued atomic.Int64
	EventsEvicted  atomic.Int64
	FlushAttempts  atomic.Int64
	FlushSuccesses atomic.Int64
	FlushFailures  atomic.Int64

	// Turn counters
	TurnsStarted   atomic.Int64
	TurnsCompleted atomic.Int64
	TurnsFailed    atomic.Int64
	RetriesAttempted atomic.Int64

	// Ingest counters
	IngestProcessed atomic.Int64
	IngestSkipped   atomic.Int64
	IngestErrors    atomic.Int64

	// Latency statistics (mutex-guarded because they accumulate floats)
	flushMu   sync.Mutex
	flushStat latencyStats

	turnMu   sync.Mutex
	turnStat latencyStats

	startTime time.Time

	prom *promCollectors
}

// New returns a new Metrics with the start time recorded and Prometheus
// collectors wired but not yet registered.
func New() *Metrics {
	m := &Metrics{startTime: time.Now()}
	m.prom = newPromCollectors(m)
	return m
}

// Register adds the Prometheus collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return reg.Register(m.prom)
}

// RecordFlushLatency records the duration of one Event Queue flush.
func (m *Metrics) RecordFlushLatency(d time.Duration) {
	m.flushMu.Lock()
	m.flushStat.record(float64(d.Microseconds()) / 1000.0)
	m.flushMu.Unlock()
}

// RecordTurnLatency records the duration of one track_turn call.
func (m *Metrics) RecordTurnLatency(d time.Duration) {
	m.turnMu.Lock()
	m.turnStat.record(float64(d.Microseconds()) / 1000.0)
	m.turnMu.Unlock()
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.flushMu.Lock()
	flush := m.flushStat.snapshot()
	m.flushMu.Unlock()

	m.turnMu.Lock()
	turn := m.turnStat.snapshot()
	m.turnMu.Unlock()

	return Snapshot{
		Queue: QueueSnapshot{
			Enqueued:       m.EventsEnqueued.Load(),
			Evicted:        m.EventsEvicted.Load(),
			FlushAttempts:  m.FlushAttempts.Load(),
			FlushSuccesses: m.FlushSuccesses.Load(),
			FlushFailures:  m.FlushFailures.Load(),
		},
		Turns: TurnSnapshot{
			Started:   m.TurnsStarted.Load(),
			Completed: m.TurnsCompleted.Load(),
			Failed:    m.TurnsFailed.Load(),
			Retries:   m.RetriesAttempted.Load(),
		},
		Ingest: IngestSnapshot{
			Processed: m.IngestProcessed.Load(),
			Skipped:   m.IngestSkipped.Load(),
			Errors:    m.IngestErrors.Load(),
		},
		Latency: LatencyGroup{
			FlushMs: flush,
			TurnMs:  turn,
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Queue      QueueSnapshot  `json:"queue"`
	Turns      TurnSnapshot   `json:"turns"`
	Ingest     IngestSnapshot `json:"ingest"`
	Latency    LatencyGroup   `json:"latency"`
	UptimeSecs float64        `json:"uptimeSecs"`
}

// QueueSnapshot holds Event Queue counters.
type QueueSnapshot struct {
	Enqueued       int64 `json:"enqueued"`
	Evicted        int64 `json:"evicted"`
	FlushAttempts  int64 `json:"flushAttempts"`
	FlushSuccesses int64 `json:"flushSuccesses"`
	FlushFailures  int64 `json:"flushFailures"`
}

// TurnSnapshot holds Turn Tracker counters.
type TurnSnapshot struct {
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retries   int64 `json:"retries"`
}

// IngestSnapshot holds Ingest API per-event outcome counters.
type IngestSnapshot struct {
	Processed int64 `json:"processed"`
	Skipped   int64 `json:"skipped"`
	Errors    int64 `json:"errors"`
}

// LatencyGroup groups the two latency dimensions.
type LatencyGroup struct {
	FlushMs LatencySnapshot `json:"flushMs"`
	TurnMs  LatencySnapshot `json:"turnMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
