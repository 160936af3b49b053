package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[string]map[string][]byte
	cursors map[string]uint64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    make(map[string]map[string][]byte),
		cursors: make(map[string]uint64),
	}
}

func (s *MemoryStore) Get(_ context.Context, kind, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.docs[kind][id]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy to avoid external mutation.
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Put(_ context.Context, kind, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.docs[kind]
	if !ok {
		byID = make(map[string][]byte)
		s.docs[kind] = byID
	}
	byID[id] = append([]byte(nil), data...)
	return nil
}

// PutBatch applies docs under a single lock.
func (s *MemoryStore) PutBatch(_ context.Context, docs []Doc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range docs {
		byID, ok := s.docs[d.Kind]
		if !ok {
			byID = make(map[string][]byte)
			s.docs[d.Kind] = byID
		}
		byID[d.ID] = append([]byte(nil), d.Data...)
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, kind string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := s.docs[kind]
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		out = append(out, append([]byte(nil), byID[id]...))
	}
	return out, nil
}

// Count returns the number of stored entities of a kind.
func (s *MemoryStore) Count(kind string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[kind])
}

func (s *MemoryStore) Cursor(_ context.Context, source string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	block, ok := s.cursors[source]
	return block, ok, nil
}

func (s *MemoryStore) SetCursor(_ context.Context, source string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[source] = block
	return nil
}
