// Package domain defines the records the collector persists.
package domain

import "time"

// Table names used by the record sink.
const (
	TableBitcoinBlocks       = "bitcoin_blocks"
	TableBitcoinTransactions = "bitcoin_transactions"
	TableSolanaBlocks        = "solana_blocks"
	TableSolanaTransactions  = "solana_transactions"
	TableCollectionMetrics   = "collection_metrics"
	TableDataQuality         = "data_quality"
)

// BitcoinBlock is a normalized Bitcoin block record.
type BitcoinBlock struct {
	Height            int64
	Hash              string
	Timestamp         time.Time
	PreviousBlockHash string
	MerkleRoot        string
	Difficulty        uint64
	Nonce             uint32
	Size              int64
	Weight            int64
	TransactionCount  int
}

// BitcoinBlockColumns is the column order for bitcoin_blocks inserts.
var BitcoinBlockColumns = []string{
	"block_height", "block_hash", "timestamp", "previous_block_hash",
	"merkle_root", "difficulty", "nonce", "size", "weight", "transaction_count",
}

// Row returns the record values in BitcoinBlockColumns order.
func (b *BitcoinBlock) Row() []any {
	return []any{
		b.Height, b.Hash, b.Timestamp, b.PreviousBlockHash,
		b.MerkleRoot, b.Difficulty, b.Nonce, b.Size, b.Weight,
		uint32(b.TransactionCount),
	}
}

// BitcoinTransaction is a normalized Bitcoin transaction record.
type BitcoinTransaction struct {
	Hash        string
	BlockHeight int64
	BlockHash   string
	Size        int64
	Weight      int64
	Fee         int64
	InputCount  int
	OutputCount int
	Timestamp   time.Time
}

// BitcoinTransactionColumns is the column order for bitcoin_transactions inserts.
var BitcoinTransactionColumns = []string{
	"tx_hash", "block_height", "block_hash", "size", "weight",
	"fee", "input_count", "output_count", "timestamp",
}

// Row returns the record values in BitcoinTransactionColumns order.
func (t *BitcoinTransaction) Row() []any {
	return []any{
		t.Hash, t.BlockHeight, t.BlockHash, t.Size, t.Weight,
		t.Fee, uint32(t.InputCount), uint32(t.OutputCount), t.Timestamp,
	}
}

// SolanaBlock is a normalized Solana block record.
type SolanaBlock struct {
	Slot              int64
	BlockHeight       int64
	Hash              string
	Timestamp         time.Time
	ParentSlot        int64
	PreviousBlockHash string
	TransactionCount  int
}

// SolanaBlockColumns is the column order for solana_blocks inserts.
var SolanaBlockColumns = []string{
	"slot", "block_height", "block_hash", "timestamp",
	"parent_slot", "previous_block_hash", "transaction_count",
}

// Row returns the record values in SolanaBlockColumns order.
func (b *SolanaBlock) Row() []any {
	return []any{
		b.Slot, b.BlockHeight, b.Hash, b.Timestamp,
		b.ParentSlot, b.PreviousBlockHash, uint32(b.TransactionCount),
	}
}

// Transaction status values for Solana records.
const (
	TxStatusSuccess = "success"
	TxStatusFailed  = "failed"
)

// SolanaTransaction is a normalized Solana transaction record.
type SolanaTransaction struct {
	Signature string
	Slot      int64
	BlockHash string
	Fee       uint64
	Status    string
	Timestamp time.Time
}

// SolanaTransactionColumns is the column order for solana_transactions inserts.
var SolanaTransactionColumns = []string{
	"signature", "slot", "block_hash", "fee", "status", "timestamp",
}

// Row returns the record values in SolanaTransactionColumns order.
func (t *SolanaTransaction) Row() []any {
	return []any{t.Signature, t.Slot, t.BlockHash, t.Fee, t.Status, t.Timestamp}
}

// CollectionMetric records the outcome of a single collection attempt
// for one source. Exactly one metric is written per attempt.
type CollectionMetric struct {
	MetricTime       time.Time
	Source           string
	RecordsCollected int
	DurationMS       int64
	ErrorCount       int
	ErrorMessage     string
}

// CollectionMetricColumns is the column order for collection_metrics inserts.
var CollectionMetricColumns = []string{
	"metric_time", "source", "records_collected",
	"collection_duration_ms", "error_count", "error_message",
}

// Row returns the record values in CollectionMetricColumns order.
func (m *CollectionMetric) Row() []any {
	return []any{
		m.MetricTime, m.Source, uint32(m.RecordsCollected),
		m.DurationMS, uint32(m.ErrorCount), m.ErrorMessage,
	}
}

// QualityIssue is an audit record written when validation of a collected
// record raises issues or warnings.
type QualityIssue struct {
	DetectedAt   time.Time
	Source       string
	RecordType   string
	RecordID     string
	QualityLevel string
	QualityScore float64
	IssueCount   int
	WarningCount int
	Issues       string
	Warnings     string
}

// QualityIssueColumns is the column order for data_quality inserts.
var QualityIssueColumns = []string{
	"detected_at", "source", "record_type", "record_id", "quality_level",
	"quality_score", "issue_count", "warning_count", "issues", "warnings",
}

// Row returns the record values in QualityIssueColumns order.
func (q *QualityIssue) Row() []any {
	return []any{
		q.DetectedAt, q.Source, q.RecordType, q.RecordID, q.QualityLevel,
		q.QualityScore, uint32(q.IssueCount), uint32(q.WarningCount),
		q.Issues, q.Warnings,
	}
}

// CollectionState is the singleton control-state row for the collector.
type CollectionState struct {
	IsRunning      bool
	StartedAt      time.Time
	StoppedAt      time.Time
	TotalRecords   uint64
	TotalSizeBytes uint64
	UpdatedAt      time.Time
}
