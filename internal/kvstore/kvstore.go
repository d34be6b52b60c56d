// Package kvstore provides the persistent key-value namespace backing the
// Event Queue's snapshot store and the local-mode Transport's per-user event
// store. Two implementations are provided: an in-memory store for tests and
// a bbolt-backed store for production, mirroring the pluggable-backing-store
// shape of a value cache, generalized from single-bucket to bucket-per-purpose.
package kvstore

import (
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// Store is the persistent key-value interface. All implementations must be
// safe for concurrent use. Buckets are created on first use.
type Store interface {
	// Get returns the value stored at (bucket, key), if present.
	Get(bucket, key string) (value []byte, ok bool)

	// Put stores value at (bucket, key), overwriting any existing entry.
	Put(bucket, key string, value []byte) error

	// Delete removes (bucket, key). No-op if absent.
	Delete(bucket, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// --- memoryStore ---------------------------------------------------------

// memoryStore is a thread-safe in-memory Store, used in tests and local
// development when no on-disk path is configured.
type memoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemoryStore returns an in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{data: make(map[string]map[string][]byte)}
}

func (s *memoryStore) Get(bucket, key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[bucket]
	if !ok {
		return nil, false
	}
	v, ok := b[key]
	return v, ok
}

func (s *memoryStore) Put(bucket, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[bucket]
	if !ok {
		b = make(map[string][]byte)
		s.data[bucket] = b
	}
	b[key] = value
	return nil
}

func (s *memoryStore) Delete(bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.data[bucket]; ok {
		delete(b, key)
	}
	return nil
}

func (s *memoryStore) Close() error { return nil }

// --- boltStore -------------------------------------------------------------

// boltStore is a Store backed by an embedded bbolt database. Entries survive
// process restarts. The database file is created at the given path if it
// does not exist; buckets are created lazily on first Put.
type boltStore struct {
	db *bolt.DB
}

// Open opens (or creates) the bbolt database at path.
func Open(path string) (Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt store %q: %w", path, err)
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Get(bucket, key string) ([]byte, bool) {
	var value []byte
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	return value, value != nil
}

func (s *boltStore) Put(bucket, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return fmt.Errorf("create bucket %q: %w", bucket, err)
		}
		return b.Put([]byte(key), value)
	})
}

func (s *boltStore) Delete(bucket, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (s *boltStore) Close() error {
	return s.db.Close()
}
