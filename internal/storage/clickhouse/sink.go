package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"blockchain-collector/internal/storage"
)

// Sink is the ClickHouse implementation of storage.RecordSink. It also
// serves the totals and recent-metrics queries used by the orchestrator
// and the health endpoint.
type Sink struct {
	conn *Conn
}

var (
	_ storage.RecordSink    = (*Sink)(nil)
	_ storage.TotalsReader  = (*Sink)(nil)
	_ storage.MetricsReader = (*Sink)(nil)
)

// NewSink creates a ClickHouse sink.
func NewSink(conn *Conn) *Sink {
	return &Sink{conn: conn}
}

// Insert appends rows to the named table in a single batch. Table and
// column names come from domain constants, never from external input.
func (s *Sink) Insert(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", table, strings.Join(columns, ", ")))
	if err != nil {
		return fmt.Errorf("prepare batch for %s: %w", table, err)
	}

	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("append row to %s: %w", table, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch to %s: %w", table, err)
	}
	return nil
}

// RecordTotals counts all stored chain records and sums their on-disk size
// from system.parts.
func (s *Sink) RecordTotals(ctx context.Context) (uint64, uint64, error) {
	const countQuery = `
		SELECT sum(cnt) FROM (
			SELECT count() AS cnt FROM bitcoin_blocks
			UNION ALL SELECT count() FROM bitcoin_transactions
			UNION ALL SELECT count() FROM solana_blocks
			UNION ALL SELECT count() FROM solana_transactions
		)`

	var records uint64
	if err := s.conn.QueryRow(ctx, countQuery).Scan(&records); err != nil {
		return 0, 0, fmt.Errorf("count records: %w", err)
	}

	const sizeQuery = `
		SELECT coalesce(sum(bytes_on_disk), 0)
		FROM system.parts
		WHERE database = currentDatabase()
		  AND active = 1
		  AND table IN ('bitcoin_blocks', 'bitcoin_transactions', 'solana_blocks', 'solana_transactions')`

	var sizeBytes uint64
	if err := s.conn.QueryRow(ctx, sizeQuery).Scan(&sizeBytes); err != nil {
		return 0, 0, fmt.Errorf("sum data size: %w", err)
	}

	return records, sizeBytes, nil
}

// RecentMetrics aggregates collection_metrics per source over the trailing
// window.
func (s *Sink) RecentMetrics(ctx context.Context, window time.Duration) ([]storage.SourceHealth, error) {
	const query = `
		SELECT source,
		       max(metric_time)            AS last_collect,
		       sum(records_collected)      AS records,
		       sum(error_count)            AS errors,
		       avg(collection_duration_ms) AS avg_duration_ms
		FROM collection_metrics
		WHERE metric_time >= ?
		GROUP BY source`

	rows, err := s.conn.Query(ctx, query, time.Now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("query recent metrics: %w", err)
	}
	defer rows.Close()

	var out []storage.SourceHealth
	for rows.Next() {
		var h storage.SourceHealth
		if err := rows.Scan(&h.Source, &h.LastCollect, &h.RecordsCollected, &h.ErrorCount, &h.AvgDurationMS); err != nil {
			return nil, fmt.Errorf("scan recent metrics: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent metrics: %w", err)
	}
	return out, nil
}
