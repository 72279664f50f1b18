package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/transitops/movi/internal/domain"
)

// MemoryStore implements Store with an in-process map. It is used by tests
// and useful for single-node development without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*domain.ThreadState
}

// NewMemory creates an empty in-memory checkpoint store.
func NewMemory() *MemoryStore {
	return &MemoryStore{threads: make(map[string]*domain.ThreadState)}
}

// Load retrieves a deep copy of the state for a thread.
func (s *MemoryStore) Load(_ context.Context, threadID string) (*domain.ThreadState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.threads[threadID]
	if !ok {
		return nil, nil
	}
	return state.Clone(), nil
}

// Save stores a deep copy of the state.
func (s *MemoryStore) Save(_ context.Context, state *domain.ThreadState) error {
	cp := state.Clone()
	cp.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[state.ThreadID] = cp
	return nil
}

// Delete removes the checkpoint for a thread.
func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	return nil
}

// PruneOlderThan removes checkpoints idle for longer than ttl.
func (s *MemoryStore) PruneOlderThan(_ context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64
	for id, state := range s.threads {
		if state.UpdatedAt.Before(cutoff) {
			delete(s.threads, id)
			pruned++
		}
	}
	return pruned, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
