// Package memory provides in-memory storage implementations for tests and
// local runs without a database.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"blockchain-collector/internal/domain"
	"blockchain-collector/internal/storage"
)

type table struct {
	columns []string
	rows    [][]any
}

// Sink is an in-memory implementation of storage.RecordSink. It also serves
// totals and recent-metrics queries over the rows it holds.
type Sink struct {
	mu     sync.RWMutex
	tables map[string]*table
}

var (
	_ storage.RecordSink    = (*Sink)(nil)
	_ storage.TotalsReader  = (*Sink)(nil)
	_ storage.MetricsReader = (*Sink)(nil)
)

// NewSink creates a new in-memory sink.
func NewSink() *Sink {
	return &Sink{tables: make(map[string]*table)}
}

// Insert appends rows to the named table.
func (s *Sink) Insert(_ context.Context, name string, columns []string, rows [][]any) error {
	if name == "" || len(columns) == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[name]
	if !ok {
		t = &table{columns: append([]string(nil), columns...)}
		s.tables[name] = t
	}

	for _, row := range rows {
		if len(row) != len(t.columns) {
			return fmt.Errorf("%w: row has %d values, table %s has %d columns",
				storage.ErrInvalidInput, len(row), name, len(t.columns))
		}
		t.rows = append(t.rows, append([]any(nil), row...))
	}
	return nil
}

// Rows returns a copy of all rows in the named table.
func (s *Sink) Rows(name string) [][]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[name]
	if !ok {
		return nil
	}

	out := make([][]any, len(t.rows))
	for i, row := range t.rows {
		out[i] = append([]any(nil), row...)
	}
	return out
}

// RowCount returns the number of rows in the named table.
func (s *Sink) RowCount(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[name]
	if !ok {
		return 0
	}
	return len(t.rows)
}

// recordTables are the tables counted toward cumulative record totals.
var recordTables = []string{
	domain.TableBitcoinBlocks,
	domain.TableBitcoinTransactions,
	domain.TableSolanaBlocks,
	domain.TableSolanaTransactions,
}

// RecordTotals returns the number of stored records and an estimate of
// their size in bytes.
func (s *Sink) RecordTotals(_ context.Context) (uint64, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records, size uint64
	for _, name := range recordTables {
		t, ok := s.tables[name]
		if !ok {
			continue
		}
		records += uint64(len(t.rows))
		for _, row := range t.rows {
			for _, v := range row {
				size += uint64(len(fmt.Sprint(v)))
			}
		}
	}
	return records, size, nil
}

// RecentMetrics aggregates collection_metrics rows per source over the
// trailing window.
func (s *Sink) RecentMetrics(_ context.Context, window time.Duration) ([]storage.SourceHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	bySource := make(map[string]*storage.SourceHealth)
	counts := make(map[string]int)
	durations := make(map[string]float64)

	t, ok := s.tables[domain.TableCollectionMetrics]
	if !ok {
		return nil, nil
	}

	// Rows follow domain.CollectionMetricColumns order.
	for _, row := range t.rows {
		metricTime, ok := row[0].(time.Time)
		if !ok || metricTime.Before(cutoff) {
			continue
		}
		source, _ := row[1].(string)
		recordsCollected, _ := row[2].(uint32)
		durationMS, _ := row[3].(int64)
		errorCount, _ := row[4].(uint32)

		h, ok := bySource[source]
		if !ok {
			h = &storage.SourceHealth{Source: source}
			bySource[source] = h
		}
		if metricTime.After(h.LastCollect) {
			h.LastCollect = metricTime
		}
		h.RecordsCollected += uint64(recordsCollected)
		h.ErrorCount += uint64(errorCount)
		durations[source] += float64(durationMS)
		counts[source]++
	}

	out := make([]storage.SourceHealth, 0, len(bySource))
	for source, h := range bySource {
		if counts[source] > 0 {
			h.AvgDurationMS = durations[source] / float64(counts[source])
		}
		out = append(out, *h)
	}
	return out, nil
}
