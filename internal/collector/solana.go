package collector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"blockchain-collector/internal/domain"
	"blockchain-collector/internal/observability"
	"blockchain-collector/internal/quality"
	"blockchain-collector/internal/solana"
	"blockchain-collector/internal/storage"
)

const solanaSource = "solana"

// DefaultSolanaSampleSize is how many transactions are collected per block.
const DefaultSolanaSampleSize = 50

// SolanaOptions configures the Solana adapter.
type SolanaOptions struct {
	Client      *solana.Client
	Sink        storage.RecordSink
	Validator   *quality.Validator
	Enabled     bool
	SampleSize  int
	MaxAttempts int
	Backoff     *Backoff
	Logger      *log.Logger
}

// Solana collects Solana blocks and transactions incrementally over
// JSON-RPC, one slot per cycle.
type Solana struct {
	client      *solana.Client
	sink        storage.RecordSink
	validator   *quality.Validator
	backoff     *Backoff
	enabled     bool
	sampleSize  int
	maxAttempts int
	logger      *log.Logger

	mu         sync.Mutex
	lastSlot   int64
	haveCursor bool
}

var _ Collector = (*Solana)(nil)

// NewSolana creates the Solana adapter.
func NewSolana(opts SolanaOptions) *Solana {
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSolanaSampleSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff == nil {
		opts.Backoff = NewBackoff(DefaultBackoffFloor, DefaultBackoffCeiling)
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[solana] ", log.LstdFlags)
	}
	if opts.Validator == nil {
		opts.Validator = quality.NewValidator()
	}

	return &Solana{
		client:      opts.Client,
		sink:        opts.Sink,
		validator:   opts.Validator,
		backoff:     opts.Backoff,
		enabled:     opts.Enabled,
		sampleSize:  opts.SampleSize,
		maxAttempts: opts.MaxAttempts,
		logger:      opts.Logger,
	}
}

// Name returns the source name.
func (c *Solana) Name() string { return solanaSource }

// Enabled reports whether the adapter participates in collection.
func (c *Solana) Enabled() bool { return c.enabled }

// Cursor returns the last collected slot. ok is false until the cursor has
// been initialized from the current slot.
func (c *Solana) Cursor() (slot int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSlot, c.haveCursor
}

func (c *Solana) setCursor(slot int64) {
	c.mu.Lock()
	c.lastSlot = slot
	c.haveCursor = true
	c.mu.Unlock()
}

// Collect fetches the next Solana slot, validates and persists its block,
// and writes exactly one collection metric for the cycle.
func (c *Solana) Collect(ctx context.Context) error {
	if !c.enabled {
		return nil
	}

	start := time.Now()
	var records int
	var collectErr error

	defer func() {
		m := &domain.CollectionMetric{
			MetricTime:       start,
			Source:           solanaSource,
			RecordsCollected: records,
			DurationMS:       time.Since(start).Milliseconds(),
		}
		if collectErr != nil {
			m.ErrorCount = 1
			m.ErrorMessage = collectErr.Error()
		}
		recordMetric(ctx, c.sink, c.logger, m)
		observability.UpdateBackoffDelay(solanaSource, c.backoff.Delay().Seconds())
		if collectErr == nil {
			observability.RecordCollectSuccess(solanaSource, float64(time.Now().Unix()))
		}
	}()

	collectErr = c.collect(ctx, &records)
	if collectErr != nil {
		c.logger.Printf("collection failed: %v", collectErr)
	}
	return collectErr
}

func (c *Solana) collect(ctx context.Context, records *int) error {
	tip, err := fetchWithRetry(ctx, c.backoff, classifySolana, c.maxAttempts, func(ctx context.Context) (int64, error) {
		return c.client.GetSlot(ctx)
	})
	if err != nil {
		return fmt.Errorf("fetch current slot: %w", err)
	}

	cursor, ok := c.Cursor()
	if !ok {
		cursor = tip - 1
		c.setCursor(cursor)
		c.logger.Printf("initialized cursor at slot %d (tip %d)", cursor, tip)
	}
	if cursor >= tip {
		return nil
	}
	slot := cursor + 1

	raw, err := fetchWithRetry(ctx, c.backoff, classifySolana, c.maxAttempts, func(ctx context.Context) (*solana.Block, error) {
		return c.client.GetBlock(ctx, slot)
	})
	if err != nil {
		if errors.Is(err, solana.ErrBlockNotAvailable) {
			c.logger.Printf("slot %d has no block yet", slot)
			return nil
		}
		return fmt.Errorf("fetch block for slot %d: %w", slot, err)
	}

	block := &domain.SolanaBlock{
		Slot:              slot,
		Hash:              raw.Blockhash,
		ParentSlot:        raw.ParentSlot,
		PreviousBlockHash: raw.PreviousBlockhash,
		TransactionCount:  len(raw.Transactions),
	}
	if raw.BlockHeight != nil {
		block.BlockHeight = *raw.BlockHeight
	}
	if raw.BlockTime != nil {
		block.Timestamp = time.Unix(*raw.BlockTime, 0).UTC()
	} else {
		// getBlock may omit blockTime; stamp with receipt time rather
		// than flagging the block for a missing field.
		block.Timestamp = time.Now().UTC()
	}

	res := c.validator.ValidateSolanaBlock(block)
	if !res.IsValid {
		c.logger.Printf("slot %d failed validation: %v", slot, res.Issues)
	} else if len(res.Warnings) > 0 {
		c.logger.Printf("slot %d validation warnings: %v", slot, res.Warnings)
	}
	auditQuality(ctx, c.sink, c.logger, solanaSource, "block", strconv.FormatInt(slot, 10), res)

	if err := c.sink.Insert(ctx, domain.TableSolanaBlocks, domain.SolanaBlockColumns, [][]any{block.Row()}); err != nil {
		return fmt.Errorf("store block for slot %d: %w", slot, err)
	}
	*records++

	sample := raw.Transactions
	if len(sample) > c.sampleSize {
		sample = sample[:c.sampleSize]
	}

	txRows := make([][]any, 0, len(sample))
	for _, rawTx := range sample {
		if rawTx.Signature == "" {
			continue
		}

		status := domain.TxStatusSuccess
		if rawTx.Failed {
			status = domain.TxStatusFailed
		}
		tx := &domain.SolanaTransaction{
			Signature: rawTx.Signature,
			Slot:      slot,
			BlockHash: block.Hash,
			Fee:       rawTx.Fee,
			Status:    status,
			Timestamp: block.Timestamp,
		}
		if txRes := c.validator.ValidateSolanaTransaction(tx); !txRes.IsValid {
			c.logger.Printf("transaction %s failed validation: %v", tx.Signature, txRes.Issues)
		}
		txRows = append(txRows, tx.Row())
	}

	if len(txRows) > 0 {
		if err := c.sink.Insert(ctx, domain.TableSolanaTransactions, domain.SolanaTransactionColumns, txRows); err != nil {
			return fmt.Errorf("store transactions for slot %d: %w", slot, err)
		}
		*records += len(txRows)
	}

	c.setCursor(slot)
	c.logger.Printf("collected slot %d with %d of %d transactions", slot, len(txRows), block.TransactionCount)
	return nil
}

// classifySolana maps solana client errors onto the retry taxonomy.
func classifySolana(err error) classification {
	var rateErr *solana.RateLimitError
	if errors.As(err, &rateErr) {
		return classification{kind: failureRateLimited, retryAfter: rateErr.RetryAfter}
	}
	if errors.Is(err, solana.ErrBlockNotAvailable) {
		return classification{kind: failureNotFound}
	}
	var rpcErr *solana.RPCError
	if errors.As(err, &rpcErr) {
		// Protocol-level errors do not heal with retries.
		return classification{kind: failureFatal}
	}
	return classification{kind: failureTransient}
}
