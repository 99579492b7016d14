package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps the metrics document in process memory only. State is
// lost on restart; it exists for tests and for running the estimator with
// persistence disabled. Safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	doc   Document
	saved bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the last saved document, or found=false if Save was never
// called.
func (s *MemoryStore) Load(ctx context.Context) (Document, bool, error) {
	select {
	case <-ctx.Done():
		return Document{}, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc, s.saved, nil
}

// Save replaces the stored document.
func (s *MemoryStore) Save(ctx context.Context, doc Document) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	s.saved = true
	return nil
}
