// Package ids generates process-lifetime-unique identifiers for events and
// turns. Uniqueness does not rely on cryptographic randomness — a
// millisecond timestamp concatenated with a short random suffix is
// sufficient, with residual collisions resolved by idempotent dedup at
// ingest time.
package ids

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	mu  sync.Mutex
	rng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randSuffix(n int) string {
	mu.Lock()
	defer mu.Unlock()
	b := make([]byte, n)
	for i := range b {
		b[i] = suffixAlphabet[rng.Intn(len(suffixAlphabet))]
	}
	return string(b)
}

// NewEventID returns a new event_id in the form evt_<ms>_<rand9>.
func NewEventID() string {
	return fmt.Sprintf("evt_%d_%s", NowMS(), randSuffix(9))
}

// NewTurnID returns a new turn_id in the form turn_<ms>_<rand9>.
func NewTurnID() string {
	return fmt.Sprintf("turn_%d_%s", NowMS(), randSuffix(9))
}

// NowMS returns the current time as milliseconds since epoch.
func NowMS() int64 {
	return time.Now().UnixMilli()
}
