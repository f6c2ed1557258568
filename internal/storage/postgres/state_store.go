package postgres

import (
	"context"
	"fmt"
	"time"

	"blockchain-collector/internal/domain"
	"blockchain-collector/internal/storage"
)

// StateStore is the Postgres implementation of storage.StateStore. Unlike
// the analytical tables, control state is a single row upserted in place,
// which Postgres handles better than an append-only engine.
type StateStore struct {
	pool *Pool
}

var _ storage.StateStore = (*StateStore)(nil)

// NewStateStore creates a Postgres state store.
func NewStateStore(pool *Pool) *StateStore {
	return &StateStore{pool: pool}
}

// Get returns the current collection state.
func (s *StateStore) Get(ctx context.Context) (*domain.CollectionState, error) {
	const query = `
		SELECT is_running, started_at, stopped_at, total_records, total_size_bytes, updated_at
		FROM collection_state
		WHERE id = 1`

	var (
		startedAt, stoppedAt *time.Time
		records, sizeBytes   int64
		state                domain.CollectionState
	)
	err := s.pool.QueryRow(ctx, query).Scan(
		&state.IsRunning, &startedAt, &stoppedAt,
		&records, &sizeBytes, &state.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query collection state: %w", err)
	}

	state.TotalRecords = uint64(records)
	state.TotalSizeBytes = uint64(sizeBytes)
	if startedAt != nil {
		state.StartedAt = *startedAt
	}
	if stoppedAt != nil {
		state.StoppedAt = *stoppedAt
	}
	return &state, nil
}

// SetRunning marks collection as started and resets cumulative totals.
func (s *StateStore) SetRunning(ctx context.Context, startedAt time.Time) error {
	const query = `
		INSERT INTO collection_state (id, is_running, started_at, stopped_at, total_records, total_size_bytes, updated_at)
		VALUES (1, TRUE, $1, NULL, 0, 0, now())
		ON CONFLICT (id) DO UPDATE SET
			is_running       = TRUE,
			started_at       = EXCLUDED.started_at,
			stopped_at       = NULL,
			total_records    = 0,
			total_size_bytes = 0,
			updated_at       = now()`

	if _, err := s.pool.Exec(ctx, query, startedAt); err != nil {
		return fmt.Errorf("set running state: %w", err)
	}
	return nil
}

// SetStopped marks collection as stopped, keeping totals and start time.
func (s *StateStore) SetStopped(ctx context.Context, stoppedAt time.Time) error {
	const query = `
		INSERT INTO collection_state (id, is_running, stopped_at, updated_at)
		VALUES (1, FALSE, $1, now())
		ON CONFLICT (id) DO UPDATE SET
			is_running = FALSE,
			stopped_at = EXCLUDED.stopped_at,
			updated_at = now()`

	if _, err := s.pool.Exec(ctx, query, stoppedAt); err != nil {
		return fmt.Errorf("set stopped state: %w", err)
	}
	return nil
}

// UpdateTotals overwrites the cumulative counters, keeping the rest.
func (s *StateStore) UpdateTotals(ctx context.Context, totalRecords, totalSizeBytes uint64) error {
	const query = `
		INSERT INTO collection_state (id, total_records, total_size_bytes, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE SET
			total_records    = EXCLUDED.total_records,
			total_size_bytes = EXCLUDED.total_size_bytes,
			updated_at       = now()`

	if _, err := s.pool.Exec(ctx, query, int64(totalRecords), int64(totalSizeBytes)); err != nil {
		return fmt.Errorf("update totals: %w", err)
	}
	return nil
}
