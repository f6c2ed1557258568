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
	"blockchain-collector/internal/esplora"
	"blockchain-collector/internal/observability"
	"blockchain-collector/internal/quality"
	"blockchain-collector/internal/storage"
)

const bitcoinSource = "bitcoin"

// DefaultBitcoinSampleSize is how many transactions are collected per block.
const DefaultBitcoinSampleSize = 25

// BitcoinOptions configures the Bitcoin adapter.
type BitcoinOptions struct {
	Client      *esplora.Client
	Sink        storage.RecordSink
	Validator   *quality.Validator
	Enabled     bool
	SampleSize  int
	MaxAttempts int
	Backoff     *Backoff
	Logger      *log.Logger
}

// Bitcoin collects Bitcoin blocks and transactions incrementally from an
// Esplora API, one block per cycle.
type Bitcoin struct {
	client      *esplora.Client
	sink        storage.RecordSink
	validator   *quality.Validator
	backoff     *Backoff
	enabled     bool
	sampleSize  int
	maxAttempts int
	logger      *log.Logger

	mu         sync.Mutex
	lastHeight int64
	haveCursor bool
}

var _ Collector = (*Bitcoin)(nil)

// NewBitcoin creates the Bitcoin adapter.
func NewBitcoin(opts BitcoinOptions) *Bitcoin {
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultBitcoinSampleSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff == nil {
		opts.Backoff = NewBackoff(DefaultBackoffFloor, DefaultBackoffCeiling)
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[bitcoin] ", log.LstdFlags)
	}
	if opts.Validator == nil {
		opts.Validator = quality.NewValidator()
	}

	return &Bitcoin{
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
func (c *Bitcoin) Name() string { return bitcoinSource }

// Enabled reports whether the adapter participates in collection.
func (c *Bitcoin) Enabled() bool { return c.enabled }

// Cursor returns the last collected block height. ok is false until the
// cursor has been initialized from the chain tip.
func (c *Bitcoin) Cursor() (height int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeight, c.haveCursor
}

func (c *Bitcoin) setCursor(height int64) {
	c.mu.Lock()
	c.lastHeight = height
	c.haveCursor = true
	c.mu.Unlock()
}

// Collect fetches the next Bitcoin block, validates and persists it, and
// writes exactly one collection metric for the cycle.
func (c *Bitcoin) Collect(ctx context.Context) error {
	if !c.enabled {
		return nil
	}

	start := time.Now()
	var records int
	var collectErr error

	defer func() {
		m := &domain.CollectionMetric{
			MetricTime:       start,
			Source:           bitcoinSource,
			RecordsCollected: records,
			DurationMS:       time.Since(start).Milliseconds(),
		}
		if collectErr != nil {
			m.ErrorCount = 1
			m.ErrorMessage = collectErr.Error()
		}
		recordMetric(ctx, c.sink, c.logger, m)
		observability.UpdateBackoffDelay(bitcoinSource, c.backoff.Delay().Seconds())
		if collectErr == nil {
			observability.RecordCollectSuccess(bitcoinSource, float64(time.Now().Unix()))
		}
	}()

	collectErr = c.collect(ctx, &records)
	if collectErr != nil {
		c.logger.Printf("collection failed: %v", collectErr)
	}
	return collectErr
}

func (c *Bitcoin) collect(ctx context.Context, records *int) error {
	tip, err := fetchWithRetry(ctx, c.backoff, classifyEsplora, c.maxAttempts, func(ctx context.Context) (int64, error) {
		return c.client.GetTipHeight(ctx)
	})
	if err != nil {
		if errors.Is(err, esplora.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("fetch tip height: %w", err)
	}

	cursor, ok := c.Cursor()
	if !ok {
		cursor = tip - 1
		c.setCursor(cursor)
		c.logger.Printf("initialized cursor at height %d (tip %d)", cursor, tip)
	}
	if cursor >= tip {
		return nil
	}
	height := cursor + 1

	hash, err := fetchWithRetry(ctx, c.backoff, classifyEsplora, c.maxAttempts, func(ctx context.Context) (string, error) {
		return c.client.GetBlockHash(ctx, height)
	})
	if err != nil {
		if errors.Is(err, esplora.ErrNotFound) {
			c.logger.Printf("block %d not yet available", height)
			return nil
		}
		return fmt.Errorf("fetch hash for block %d: %w", height, err)
	}

	raw, err := fetchWithRetry(ctx, c.backoff, classifyEsplora, c.maxAttempts, func(ctx context.Context) (*esplora.Block, error) {
		return c.client.GetBlock(ctx, hash)
	})
	if err != nil {
		if errors.Is(err, esplora.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("fetch block %s: %w", hash, err)
	}

	txids, err := fetchWithRetry(ctx, c.backoff, classifyEsplora, c.maxAttempts, func(ctx context.Context) ([]string, error) {
		return c.client.GetBlockTxIDs(ctx, hash)
	})
	if err != nil {
		if errors.Is(err, esplora.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("fetch txids for block %s: %w", hash, err)
	}

	block := &domain.BitcoinBlock{
		Height:            height,
		Hash:              raw.ID,
		Timestamp:         time.Unix(raw.Timestamp, 0).UTC(),
		PreviousBlockHash: raw.PreviousBlockHash,
		MerkleRoot:        raw.MerkleRoot,
		Difficulty:        uint64(raw.Difficulty),
		Nonce:             raw.Nonce,
		Size:              raw.Size,
		Weight:            raw.Weight,
		TransactionCount:  raw.TxCount,
	}

	res := c.validator.ValidateBitcoinBlock(block)
	if !res.IsValid {
		c.logger.Printf("block %d failed validation: %v", height, res.Issues)
	} else if len(res.Warnings) > 0 {
		c.logger.Printf("block %d validation warnings: %v", height, res.Warnings)
	}
	auditQuality(ctx, c.sink, c.logger, bitcoinSource, "block", strconv.FormatInt(height, 10), res)

	if err := c.sink.Insert(ctx, domain.TableBitcoinBlocks, domain.BitcoinBlockColumns, [][]any{block.Row()}); err != nil {
		return fmt.Errorf("store block %d: %w", height, err)
	}
	*records++

	sample := txids
	if len(sample) > c.sampleSize {
		sample = sample[:c.sampleSize]
	}

	txRows := make([][]any, 0, len(sample))
	for _, txid := range sample {
		rawTx, err := fetchWithRetry(ctx, c.backoff, classifyEsplora, c.maxAttempts, func(ctx context.Context) (*esplora.Transaction, error) {
			return c.client.GetTransaction(ctx, txid)
		})
		if err != nil {
			// One bad transaction must not fail the block.
			c.logger.Printf("fetch transaction %s: %v", txid, err)
			continue
		}

		tx := &domain.BitcoinTransaction{
			Hash:        rawTx.TxID,
			BlockHeight: height,
			BlockHash:   block.Hash,
			Size:        rawTx.Size,
			Weight:      rawTx.Weight,
			Fee:         rawTx.Fee,
			InputCount:  len(rawTx.Vin),
			OutputCount: len(rawTx.Vout),
			Timestamp:   block.Timestamp,
		}
		if txRes := c.validator.ValidateBitcoinTransaction(tx); !txRes.IsValid {
			c.logger.Printf("transaction %s failed validation: %v", txid, txRes.Issues)
		}
		txRows = append(txRows, tx.Row())
	}

	if len(txRows) > 0 {
		if err := c.sink.Insert(ctx, domain.TableBitcoinTransactions, domain.BitcoinTransactionColumns, txRows); err != nil {
			return fmt.Errorf("store transactions for block %d: %w", height, err)
		}
		*records += len(txRows)
	}

	c.setCursor(height)
	c.logger.Printf("collected block %d with %d of %d transactions", height, len(txRows), block.TransactionCount)
	return nil
}

// classifyEsplora maps esplora client errors onto the retry taxonomy.
func classifyEsplora(err error) classification {
	var rateErr *esplora.RateLimitError
	if errors.As(err, &rateErr) {
		return classification{kind: failureRateLimited, retryAfter: rateErr.RetryAfter}
	}
	if errors.Is(err, esplora.ErrNotFound) {
		return classification{kind: failureNotFound}
	}
	return classification{kind: failureTransient}
}
