// Package storage defines the persistence contracts for the collector.
package storage

import (
	"context"
	"time"

	"blockchain-collector/internal/domain"
)

// RecordSink appends rows to a named table. Implementations are append-only;
// duplicate delivery after a crash is acceptable.
type RecordSink interface {
	Insert(ctx context.Context, table string, columns []string, rows [][]any) error
}

// StateStore persists the singleton collection control state.
type StateStore interface {
	// Get returns the current state, ErrNotFound when none was ever written.
	Get(ctx context.Context) (*domain.CollectionState, error)

	// SetRunning marks collection as started and resets the cumulative totals.
	SetRunning(ctx context.Context, startedAt time.Time) error

	// SetStopped marks collection as stopped.
	SetStopped(ctx context.Context, stoppedAt time.Time) error

	// UpdateTotals overwrites the cumulative record and byte counters.
	UpdateTotals(ctx context.Context, totalRecords, totalSizeBytes uint64) error
}

// TotalsReader reports the cumulative volume held by the sink.
type TotalsReader interface {
	RecordTotals(ctx context.Context) (records uint64, sizeBytes uint64, err error)
}

// SourceHealth summarizes recent collection activity for one source.
type SourceHealth struct {
	Source           string
	LastCollect      time.Time
	RecordsCollected uint64
	ErrorCount       uint64
	AvgDurationMS    float64
}

// MetricsReader aggregates collection metrics for health reporting.
type MetricsReader interface {
	// RecentMetrics returns per-source aggregates over the trailing window.
	RecentMetrics(ctx context.Context, window time.Duration) ([]SourceHealth, error)
}
