// Package collector implements the per-chain source adapters and the shared
// fetch retry policy.
package collector

import (
	"context"
	"log"
	"strings"
	"time"

	"blockchain-collector/internal/domain"
	"blockchain-collector/internal/observability"
	"blockchain-collector/internal/quality"
	"blockchain-collector/internal/storage"
)

// DefaultMaxAttempts is the per-fetch retry budget.
const DefaultMaxAttempts = 3

// Collector is a single-chain source adapter driven by the orchestrator.
type Collector interface {
	Name() string
	Enabled() bool
	// Collect performs one incremental collection cycle: fetch the next
	// unit of work, validate it, persist it and advance the cursor.
	Collect(ctx context.Context) error
}

// failureKind classifies a fetch error.
type failureKind int

const (
	// failureTransient covers timeouts, connection errors and unexpected
	// HTTP statuses; retried with escalating delay up to the budget.
	failureTransient failureKind = iota
	// failureRateLimited is a 429 rejection; waited out and retried
	// without consuming the attempt budget.
	failureRateLimited
	// failureNotFound means the resource does not exist yet; terminal for
	// this cycle but not an error.
	failureNotFound
	// failureFatal is not retryable.
	failureFatal
)

type classification struct {
	kind       failureKind
	retryAfter time.Duration
}

type classifier func(error) classification

// fetchWithRetry runs fn until it succeeds, fails terminally, or the attempt
// budget is spent. Rate-limit rejections wait out the server-declared delay
// (or the current adaptive delay) and grow the backoff; they do not consume
// the budget. A fully successful fetch relaxes the backoff.
func fetchWithRetry[T any](ctx context.Context, b *Backoff, classify classifier, maxAttempts int, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	attempt := 0
	for {
		v, err := fn(ctx)
		if err == nil {
			b.Relax()
			return v, nil
		}

		c := classify(err)
		switch c.kind {
		case failureNotFound, failureFatal:
			return zero, err
		case failureRateLimited:
			wait := c.retryAfter
			if wait <= 0 {
				wait = b.Delay()
			}
			if serr := sleep(ctx, wait); serr != nil {
				return zero, serr
			}
			b.Grow()
			continue
		}

		attempt++
		if attempt >= maxAttempts {
			return zero, err
		}
		if serr := sleep(ctx, b.AttemptDelay(attempt-1)); serr != nil {
			return zero, serr
		}
	}
}

// sleep waits for d or until ctx is canceled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// recordMetric writes the per-cycle collection metric. Best effort: a sink
// failure is logged, never propagated.
func recordMetric(ctx context.Context, sink storage.RecordSink, logger *log.Logger, m *domain.CollectionMetric) {
	err := sink.Insert(ctx, domain.TableCollectionMetrics, domain.CollectionMetricColumns, [][]any{m.Row()})
	if err != nil {
		logger.Printf("record metric for %s: %v", m.Source, err)
	}
	observability.RecordCollect(m.Source, m.RecordsCollected, float64(m.DurationMS)/1000, m.ErrorCount > 0)
}

// auditQuality writes a data_quality row when validation flagged anything.
// Best effort.
func auditQuality(ctx context.Context, sink storage.RecordSink, logger *log.Logger, source, recordType, recordID string, res quality.Result) {
	if len(res.Issues) == 0 && len(res.Warnings) == 0 {
		return
	}

	q := &domain.QualityIssue{
		DetectedAt:   time.Now(),
		Source:       source,
		RecordType:   recordType,
		RecordID:     recordID,
		QualityLevel: string(res.Level),
		QualityScore: res.Score(),
		IssueCount:   len(res.Issues),
		WarningCount: len(res.Warnings),
		Issues:       strings.Join(res.Issues, "; "),
		Warnings:     strings.Join(res.Warnings, "; "),
	}
	if err := sink.Insert(ctx, domain.TableDataQuality, domain.QualityIssueColumns, [][]any{q.Row()}); err != nil {
		logger.Printf("audit quality for %s %s: %v", recordType, recordID, err)
	}
}
