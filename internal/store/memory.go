package store

import (
	"context"
	"sync"
	"time"

	"github.com/uwase8/MedPredi/internal/clinical"
)

type memoryEntry struct {
	result    *clinical.PredictionResult
	expiresAt time.Time
}

// MemoryStore keeps results in process memory. Expired entries are dropped on access.
type MemoryStore struct {
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
}

// NewMemoryStore creates a memory store; a zero ttl keeps results until deleted
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put stores result for sessionID, replacing any previous one
func (s *MemoryStore) Put(ctx context.Context, sessionID string, result *clinical.PredictionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{result: result}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}
	s.entries[sessionID] = entry
	return nil
}

// Get returns the stored result or ErrNotFound
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*clinical.PredictionResult, error) {
	s.mu.RLock()
	entry, ok := s.entries[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		s.mu.Lock()
		// Re-check: a Put may have landed between the locks
		if current, ok := s.entries[sessionID]; ok && current.expiresAt.Equal(entry.expiresAt) {
			delete(s.entries, sessionID)
		}
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	return entry.result, nil
}

// Delete removes the result; deleting a missing entry is not an error
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	return nil
}

// Len returns the number of stored entries, expired ones included
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error {
	return nil
}
