package memory

import (
	"context"
	"sync"
	"time"

	"blockchain-collector/internal/domain"
	"blockchain-collector/internal/storage"
)

// StateStore is an in-memory implementation of storage.StateStore.
type StateStore struct {
	mu    sync.RWMutex
	state *domain.CollectionState
}

var _ storage.StateStore = (*StateStore)(nil)

// NewStateStore creates a new in-memory state store.
func NewStateStore() *StateStore {
	return &StateStore{}
}

// Get returns the current collection state.
func (s *StateStore) Get(_ context.Context) (*domain.CollectionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return nil, storage.ErrNotFound
	}

	copied := *s.state
	return &copied, nil
}

// SetRunning marks collection as started and resets cumulative totals.
func (s *StateStore) SetRunning(_ context.Context, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = &domain.CollectionState{
		IsRunning: true,
		StartedAt: startedAt,
		UpdatedAt: time.Now(),
	}
	return nil
}

// SetStopped marks collection as stopped.
func (s *StateStore) SetStopped(_ context.Context, stoppedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		s.state = &domain.CollectionState{}
	}
	s.state.IsRunning = false
	s.state.StoppedAt = stoppedAt
	s.state.UpdatedAt = time.Now()
	return nil
}

// UpdateTotals overwrites the cumulative counters.
func (s *StateStore) UpdateTotals(_ context.Context, totalRecords, totalSizeBytes uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		s.state = &domain.CollectionState{}
	}
	s.state.TotalRecords = totalRecords
	s.state.TotalSizeBytes = totalSizeBytes
	s.state.UpdatedAt = time.Now()
	return nil
}

// Seed replaces the stored state. Intended for tests.
func (s *StateStore) Seed(state *domain.CollectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state == nil {
		s.state = nil
		return
	}
	copied := *state
	s.state = &copied
}
