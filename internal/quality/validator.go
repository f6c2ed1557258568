// Package quality validates collected records and scores their quality.
package quality

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"blockchain-collector/internal/domain"
)

// Level classifies a validated record.
type Level string

// Quality levels, best to worst.
const (
	LevelHigh    Level = "high"
	LevelMedium  Level = "medium"
	LevelLow     Level = "low"
	LevelInvalid Level = "invalid"
)

// Validation thresholds.
const (
	bitcoinBlockSizeMax   = 4_000_000
	bitcoinWeightMax      = 4_000_000
	bitcoinTxPerBlockMax  = 10_000
	bitcoinDifficultyMin  = 1
	bitcoinClockTolerance = 2 * time.Hour

	solanaTxPerBlockMax  = 50_000
	solanaFeeMinLamports = 5_000
	solanaClockTolerance = 60 * time.Second
	solanaSkippedSlotMax = 10

	hashHexLength      = 64
	signatureByteCount = 64

	issueDeduction   = 0.2
	warningDeduction = 0.05
)

// Result is the outcome of validating a single record.
type Result struct {
	IsValid  bool
	Level    Level
	Issues   []string
	Warnings []string
	Metrics  map[string]float64
}

// Score returns the quality score in [0, 1].
func (r *Result) Score() float64 {
	return r.Metrics["quality_score"]
}

// Summary holds cumulative validation counters.
type Summary struct {
	Total    int
	Passed   int
	Failed   int
	Warnings int
}

// PassRate returns the fraction of validated records that passed.
func (s Summary) PassRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.Total)
}

// Validator checks collected records against per-chain consistency rules.
// Safe for concurrent use.
type Validator struct {
	mu      sync.Mutex
	summary Summary
	now     func() time.Time
}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{now: time.Now}
}

// Summary returns a snapshot of the cumulative counters.
func (v *Validator) Summary() Summary {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.summary
}

// ValidateBitcoinBlock checks a Bitcoin block record.
func (v *Validator) ValidateBitcoinBlock(b *domain.BitcoinBlock) Result {
	var issues, warnings []string
	metrics := map[string]float64{}

	var missing []string
	if b.Hash == "" {
		missing = append(missing, "block_hash")
	}
	if b.PreviousBlockHash == "" {
		missing = append(missing, "previous_block_hash")
	}
	if b.MerkleRoot == "" {
		missing = append(missing, "merkle_root")
	}
	if b.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		issues = append(issues, fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")))
	}

	if b.Height < 0 {
		issues = append(issues, fmt.Sprintf("negative block height: %d", b.Height))
	}
	if b.Size <= 0 {
		issues = append(issues, fmt.Sprintf("invalid block size: %d", b.Size))
	} else if b.Size > bitcoinBlockSizeMax {
		warnings = append(warnings, fmt.Sprintf("unusually large block size: %d bytes", b.Size))
	}
	if b.Weight <= 0 {
		issues = append(issues, fmt.Sprintf("invalid block weight: %d", b.Weight))
	} else if b.Weight > bitcoinWeightMax {
		warnings = append(warnings, fmt.Sprintf("block weight above consensus limit: %d", b.Weight))
	}
	if b.Difficulty < bitcoinDifficultyMin {
		issues = append(issues, fmt.Sprintf("difficulty below minimum: %d", b.Difficulty))
	}

	if b.TransactionCount < 0 {
		issues = append(issues, fmt.Sprintf("negative transaction count: %d", b.TransactionCount))
	} else if b.TransactionCount == 0 {
		warnings = append(warnings, "block has no transactions")
	} else if b.TransactionCount > bitcoinTxPerBlockMax {
		warnings = append(warnings, fmt.Sprintf("unusually high transaction count: %d", b.TransactionCount))
	}
	metrics["transaction_count"] = float64(b.TransactionCount)

	if !b.Timestamp.IsZero() {
		age := v.now().Sub(b.Timestamp)
		metrics["timestamp_age_hours"] = age.Hours()
		if age < -bitcoinClockTolerance {
			issues = append(issues, fmt.Sprintf("timestamp too far in the future: %s", b.Timestamp.UTC().Format(time.RFC3339)))
		} else if age > 365*24*time.Hour {
			warnings = append(warnings, "block timestamp older than one year")
		}
	}

	if b.Hash != "" && !isHexHash(b.Hash, hashHexLength) {
		issues = append(issues, fmt.Sprintf("malformed block hash: %q", b.Hash))
	}
	if b.MerkleRoot != "" && !isHexHash(b.MerkleRoot, hashHexLength) {
		warnings = append(warnings, fmt.Sprintf("malformed merkle root: %q", b.MerkleRoot))
	}

	return v.finish(issues, warnings, metrics)
}

// ValidateBitcoinTransaction checks a Bitcoin transaction record.
func (v *Validator) ValidateBitcoinTransaction(t *domain.BitcoinTransaction) Result {
	var issues, warnings []string
	metrics := map[string]float64{}

	if t.Hash == "" {
		issues = append(issues, "missing required fields: tx_hash")
	} else if !isHexHash(t.Hash, hashHexLength) {
		issues = append(issues, fmt.Sprintf("malformed transaction hash: %q", t.Hash))
	}

	if t.Fee < 0 {
		issues = append(issues, fmt.Sprintf("negative fee: %d", t.Fee))
	} else if t.Fee == 0 {
		warnings = append(warnings, "zero fee transaction")
	}
	metrics["fee"] = float64(t.Fee)

	if t.InputCount < 0 || t.OutputCount < 0 {
		issues = append(issues, "negative input or output count")
	} else {
		if t.InputCount == 0 {
			// Coinbase transactions have no inputs.
			warnings = append(warnings, "transaction has no inputs")
		}
		if t.OutputCount == 0 {
			issues = append(issues, "transaction has no outputs")
		}
	}

	if t.Size <= 0 {
		issues = append(issues, fmt.Sprintf("invalid transaction size: %d", t.Size))
	}

	return v.finish(issues, warnings, metrics)
}

// ValidateSolanaBlock checks a Solana block record.
func (v *Validator) ValidateSolanaBlock(b *domain.SolanaBlock) Result {
	var issues, warnings []string
	metrics := map[string]float64{}

	var missing []string
	if b.Hash == "" {
		missing = append(missing, "block_hash")
	}
	if b.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		issues = append(issues, fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")))
	}

	if b.Slot < 0 {
		issues = append(issues, fmt.Sprintf("negative slot: %d", b.Slot))
	}
	if b.BlockHeight > b.Slot {
		issues = append(issues, fmt.Sprintf("block height %d exceeds slot %d", b.BlockHeight, b.Slot))
	}
	if b.ParentSlot >= b.Slot {
		issues = append(issues, fmt.Sprintf("parent slot %d not before slot %d", b.ParentSlot, b.Slot))
	} else {
		skipped := b.Slot - b.ParentSlot - 1
		metrics["skipped_slots"] = float64(skipped)
		if skipped > solanaSkippedSlotMax {
			warnings = append(warnings, fmt.Sprintf("%d slots skipped before this block", skipped))
		}
	}

	if b.TransactionCount < 0 {
		issues = append(issues, fmt.Sprintf("negative transaction count: %d", b.TransactionCount))
	} else if b.TransactionCount > solanaTxPerBlockMax {
		warnings = append(warnings, fmt.Sprintf("unusually high transaction count: %d", b.TransactionCount))
	}
	metrics["transaction_count"] = float64(b.TransactionCount)

	if !b.Timestamp.IsZero() {
		age := v.now().Sub(b.Timestamp)
		metrics["timestamp_age_seconds"] = age.Seconds()
		if age < -solanaClockTolerance {
			issues = append(issues, fmt.Sprintf("timestamp too far in the future: %s", b.Timestamp.UTC().Format(time.RFC3339)))
		}
	}

	return v.finish(issues, warnings, metrics)
}

// ValidateSolanaTransaction checks a Solana transaction record.
func (v *Validator) ValidateSolanaTransaction(t *domain.SolanaTransaction) Result {
	var issues, warnings []string
	metrics := map[string]float64{}

	if t.Signature == "" {
		issues = append(issues, "missing required fields: signature")
	} else if !isSolanaSignature(t.Signature) {
		warnings = append(warnings, fmt.Sprintf("signature does not decode to %d bytes: %q", signatureByteCount, t.Signature))
	}

	if t.Slot < 0 {
		issues = append(issues, fmt.Sprintf("negative slot: %d", t.Slot))
	}

	if t.Fee > 0 && t.Fee < solanaFeeMinLamports {
		warnings = append(warnings, fmt.Sprintf("fee %d below network minimum", t.Fee))
	}
	metrics["fee_lamports"] = float64(t.Fee)

	switch t.Status {
	case domain.TxStatusSuccess:
		metrics["is_failed"] = 0
	case domain.TxStatusFailed:
		metrics["is_failed"] = 1
	default:
		issues = append(issues, fmt.Sprintf("unknown transaction status: %q", t.Status))
	}

	return v.finish(issues, warnings, metrics)
}

// finish computes score and level from collected issues and warnings and
// updates the cumulative counters.
func (v *Validator) finish(issues, warnings []string, metrics map[string]float64) Result {
	score := 1.0 - issueDeduction*float64(len(issues)) - warningDeduction*float64(len(warnings))
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	metrics["quality_score"] = score

	var level Level
	switch {
	case len(issues) > 2:
		level = LevelInvalid
	case len(issues) > 0:
		level = LevelLow
	case len(warnings) > 0:
		level = LevelMedium
	default:
		level = LevelHigh
	}

	// Any hard issue fails the record, even when the level stays low.
	res := Result{
		IsValid:  len(issues) == 0,
		Level:    level,
		Issues:   issues,
		Warnings: warnings,
		Metrics:  metrics,
	}

	v.mu.Lock()
	v.summary.Total++
	if res.IsValid {
		v.summary.Passed++
	} else {
		v.summary.Failed++
	}
	if len(warnings) > 0 {
		v.summary.Warnings++
	}
	v.mu.Unlock()

	return res
}

// isHexHash reports whether s is a hex string of exactly n characters.
func isHexHash(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// isSolanaSignature reports whether s is base58 and decodes to 64 bytes.
func isSolanaSignature(s string) bool {
	raw, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(raw) == signatureByteCount
}
