package kvstore

import (
	"path/filepath"
	"testing"
)

func TestMemoryStoreBasicOperations(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	if _, ok := s.Get("b1", "k1"); ok {
		t.Fatal("expected miss on empty store")
	}

	if err := s.Put("b1", "k1", []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok := s.Get("b1", "k1")
	if !ok || string(v) != "v1" {
		t.Fatalf("Get: got %q ok=%v, want v1", v, ok)
	}

	if err := s.Delete("b1", "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Get("b1", "k1"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestMemoryStoreBucketIsolation(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	_ = s.Put("events:u1", "key", []byte("a"))
	_ = s.Put("events:u2", "key", []byte("b"))

	v1, _ := s.Get("events:u1", "key")
	v2, _ := s.Get("events:u2", "key")
	if string(v1) != "a" || string(v2) != "b" {
		t.Errorf("bucket isolation broken: v1=%q v2=%q", v1, v2)
	}
}

func TestBoltStoreBasicOperations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Put("event_queue", "snapshot", []byte(`[]`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok := s.Get("event_queue", "snapshot")
	if !ok || string(v) != `[]` {
		t.Fatalf("Get: got %q ok=%v", v, ok)
	}
}

func TestBoltStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.Put("bucket", "key", []byte("persisted")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	v, ok := s2.Get("bucket", "key")
	if !ok || string(v) != "persisted" {
		t.Fatalf("Get after restart: got %q ok=%v", v, ok)
	}
}

func TestBoltStoreGetMissingBucket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, ok := s.Get("nonexistent", "key"); ok {
		t.Fatal("expected miss for nonexistent bucket")
	}
}
