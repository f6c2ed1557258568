package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"blockchain-collector/internal/domain"
	"blockchain-collector/internal/storage"
)

// StateStore is the ClickHouse implementation of storage.StateStore. The
// singleton state lives in a ReplacingMergeTree versioned by updated_at;
// every change inserts a full new row and Get reads the latest one.
type StateStore struct {
	conn *Conn
}

var _ storage.StateStore = (*StateStore)(nil)

// NewStateStore creates a ClickHouse state store.
func NewStateStore(conn *Conn) *StateStore {
	return &StateStore{conn: conn}
}

// Get returns the current collection state.
func (s *StateStore) Get(ctx context.Context) (*domain.CollectionState, error) {
	const query = `
		SELECT is_running, started_at, stopped_at, total_records, total_size_bytes, updated_at
		FROM collection_state
		WHERE id = 1
		ORDER BY updated_at DESC
		LIMIT 1`

	var (
		isRunning            bool
		startedAt, stoppedAt *time.Time
		state                domain.CollectionState
	)
	err := s.conn.QueryRow(ctx, query).Scan(
		&isRunning, &startedAt, &stoppedAt,
		&state.TotalRecords, &state.TotalSizeBytes, &state.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query collection state: %w", err)
	}

	state.IsRunning = isRunning
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
	return s.write(ctx, &domain.CollectionState{
		IsRunning: true,
		StartedAt: startedAt,
	})
}

// SetStopped marks collection as stopped, keeping totals and start time.
func (s *StateStore) SetStopped(ctx context.Context, stoppedAt time.Time) error {
	state, err := s.current(ctx)
	if err != nil {
		return err
	}
	state.IsRunning = false
	state.StoppedAt = stoppedAt
	return s.write(ctx, state)
}

// UpdateTotals overwrites the cumulative counters, keeping the rest.
func (s *StateStore) UpdateTotals(ctx context.Context, totalRecords, totalSizeBytes uint64) error {
	state, err := s.current(ctx)
	if err != nil {
		return err
	}
	state.TotalRecords = totalRecords
	state.TotalSizeBytes = totalSizeBytes
	return s.write(ctx, state)
}

// current returns the stored state or a zero value when none exists.
func (s *StateStore) current(ctx context.Context) (*domain.CollectionState, error) {
	state, err := s.Get(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &domain.CollectionState{}, nil
		}
		return nil, err
	}
	return state, nil
}

// write inserts a new state version.
func (s *StateStore) write(ctx context.Context, state *domain.CollectionState) error {
	const query = `
		INSERT INTO collection_state
			(id, is_running, started_at, stopped_at, total_records, total_size_bytes, updated_at)`

	batch, err := s.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare state insert: %w", err)
	}

	err = batch.Append(
		uint8(1), state.IsRunning,
		nullableTime(state.StartedAt), nullableTime(state.StoppedAt),
		state.TotalRecords, state.TotalSizeBytes, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("append state row: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send state row: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
