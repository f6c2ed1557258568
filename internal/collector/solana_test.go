package collector

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"blockchain-collector/internal/domain"
	"blockchain-collector/internal/solana"
	"blockchain-collector/internal/storage/memory"
)

// fakeSolanaRPC answers getSlot with slot and getBlock from blocks.
type fakeSolanaRPC struct {
	slot      atomic.Int64
	getBlocks atomic.Int64
	blocks    map[int64]string // slot -> raw result JSON, missing slots are skipped
}

func (f *fakeSolanaRPC) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		switch req.Method {
		case "getSlot":
			json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": f.slot.Load()})
		case "getBlock":
			f.getBlocks.Add(1)
			slot := int64(req.Params[0].(float64))
			raw, ok := f.blocks[slot]
			if !ok {
				json.NewEncoder(w).Encode(map[string]any{
					"jsonrpc": "2.0", "id": req.ID,
					"error": map[string]any{"code": -32007, "message": "Slot was skipped"},
				})
				return
			}
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + raw + `}`))
		default:
			t.Errorf("unexpected method %s", req.Method)
		}
	}
}

func blockJSON(slot int64, now time.Time, txs string) string {
	b, _ := json.Marshal(map[string]any{
		"blockHeight":       slot - 20_000_000,
		"blockhash":         "9mXwLk2eR1vT",
		"parentSlot":        slot - 1,
		"previousBlockhash": "8nYxMl3fS2wU",
		"blockTime":         now.Unix(),
	})
	return string(b[:len(b)-1]) + `,"transactions":` + txs + `}`
}

func newTestSolana(srvURL string, sink *memory.Sink) *Solana {
	b := NewBackoff(time.Millisecond, 50*time.Millisecond)
	b.attemptBase = time.Millisecond

	return NewSolana(SolanaOptions{
		Client:  solana.NewClient(srvURL),
		Sink:    sink,
		Enabled: true,
		Backoff: b,
		Logger:  log.New(io.Discard, "", 0),
	})
}

func TestSolanaCursorInitAndCollect(t *testing.T) {
	now := time.Now()
	fake := &fakeSolanaRPC{
		blocks: map[int64]string{
			500: blockJSON(500, now, `[
				{"transaction": {"signatures": ["sig1"]}, "meta": {"err": null, "fee": 5000}},
				{"transaction": {"signatures": ["sig2"]}, "meta": {"err": {"InstructionError": [0, 1]}, "fee": 10000}}
			]`),
		},
	}
	fake.slot.Store(500)
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	sink := memory.NewSink()
	c := newTestSolana(srv.URL, sink)

	if err := c.Collect(context.Background()); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if cursor, ok := c.Cursor(); !ok || cursor != 500 {
		t.Errorf("cursor = %d (%v), want 500", cursor, ok)
	}
	if n := sink.RowCount(domain.TableSolanaBlocks); n != 1 {
		t.Errorf("block rows = %d, want 1", n)
	}

	txs := sink.Rows(domain.TableSolanaTransactions)
	if len(txs) != 2 {
		t.Fatalf("tx rows = %d, want 2", len(txs))
	}
	// Columns: signature, slot, block_hash, fee, status, timestamp.
	if txs[0][0] != "sig1" || txs[0][4] != domain.TxStatusSuccess {
		t.Errorf("tx0 = %v, want sig1/success", txs[0])
	}
	if txs[1][0] != "sig2" || txs[1][4] != domain.TxStatusFailed {
		t.Errorf("tx1 = %v, want sig2/failed", txs[1])
	}

	metrics := sink.Rows(domain.TableCollectionMetrics)
	if len(metrics) != 1 {
		t.Fatalf("metric rows = %d, want exactly 1", len(metrics))
	}
	if metrics[0][1] != "solana" || metrics[0][2] != uint32(3) {
		t.Errorf("metric = %v, want solana with 3 records", metrics[0])
	}
}

func TestSolanaSkippedSlotIsBenign(t *testing.T) {
	fake := &fakeSolanaRPC{blocks: map[int64]string{}}
	fake.slot.Store(500)
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	sink := memory.NewSink()
	c := newTestSolana(srv.URL, sink)

	if err := c.Collect(context.Background()); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	// No block for slot 500: cursor stays at 499, nothing stored, clean metric.
	if cursor, ok := c.Cursor(); !ok || cursor != 499 {
		t.Errorf("cursor = %d (%v), want 499", cursor, ok)
	}
	if n := sink.RowCount(domain.TableSolanaBlocks); n != 0 {
		t.Errorf("block rows = %d, want 0", n)
	}
	metrics := sink.Rows(domain.TableCollectionMetrics)
	if len(metrics) != 1 || metrics[0][4] != uint32(0) {
		t.Errorf("metrics = %v, want one clean row", metrics)
	}
	// The skipped-slot probe is terminal for the cycle, not retried.
	if fake.getBlocks.Load() != 1 {
		t.Errorf("getBlock calls = %d, want 1", fake.getBlocks.Load())
	}
}

func TestSolanaMissingBlockTimeStampedWithReceiptTime(t *testing.T) {
	fake := &fakeSolanaRPC{
		blocks: map[int64]string{
			500: `{"blockHeight": 480, "blockhash": "9mXwLk2eR1vT", "parentSlot": 499,
				"previousBlockhash": "8nYxMl3fS2wU", "blockTime": null,
				"transactions": [{"transaction": {"signatures": ["sig1"]}, "meta": {"err": null, "fee": 5000}}]}`,
		},
	}
	fake.slot.Store(500)
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	sink := memory.NewSink()
	c := newTestSolana(srv.URL, sink)

	before := time.Now()
	if err := c.Collect(context.Background()); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	blocks := sink.Rows(domain.TableSolanaBlocks)
	if len(blocks) != 1 {
		t.Fatalf("block rows = %d, want 1", len(blocks))
	}
	// Columns: slot, block_height, block_hash, timestamp, parent_slot, ...
	ts, ok := blocks[0][3].(time.Time)
	if !ok || ts.Before(before) || ts.After(time.Now()) {
		t.Errorf("timestamp = %v, want receipt time substituted for null blockTime", blocks[0][3])
	}

	// No missing-field issue, so nothing lands in the audit table.
	if n := sink.RowCount(domain.TableDataQuality); n != 0 {
		t.Errorf("data_quality rows = %d, want 0: %v", n, sink.Rows(domain.TableDataQuality))
	}
	metrics := sink.Rows(domain.TableCollectionMetrics)
	if len(metrics) != 1 || metrics[0][4] != uint32(0) {
		t.Errorf("metrics = %v, want one clean row", metrics)
	}
}

func TestSolanaCursorMonotonic(t *testing.T) {
	now := time.Now()
	fake := &fakeSolanaRPC{
		blocks: map[int64]string{
			500: blockJSON(500, now, `[{"transaction": {"signatures": ["sig1"]}, "meta": {"err": null, "fee": 5000}}]`),
			501: blockJSON(501, now, `[{"transaction": {"signatures": ["sig2"]}, "meta": {"err": null, "fee": 5000}}]`),
		},
	}
	fake.slot.Store(500)
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	sink := memory.NewSink()
	c := newTestSolana(srv.URL, sink)

	var cursors []int64
	for i := 0; i < 3; i++ {
		if err := c.Collect(context.Background()); err != nil {
			t.Fatalf("Collect %d: %v", i, err)
		}
		cursor, _ := c.Cursor()
		cursors = append(cursors, cursor)
		if i == 0 {
			fake.slot.Store(501) // chain advances after first cycle
		}
	}

	for i := 1; i < len(cursors); i++ {
		if cursors[i] < cursors[i-1] {
			t.Fatalf("cursor went backwards: %v", cursors)
		}
	}
	if cursors[2] != 501 {
		t.Errorf("final cursor = %d, want 501", cursors[2])
	}
	if n := sink.RowCount(domain.TableSolanaBlocks); n != 2 {
		t.Errorf("block rows = %d, want 2", n)
	}
	if n := sink.RowCount(domain.TableCollectionMetrics); n != 3 {
		t.Errorf("metric rows = %d, want 3 (one per cycle)", n)
	}
}

func TestSolanaRPCErrorNotRetried(t *testing.T) {
	var getSlotCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		getSlotCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": 1,
			"error": map[string]any{"code": -32602, "message": "Invalid params"},
		})
	}))
	defer srv.Close()

	sink := memory.NewSink()
	c := newTestSolana(srv.URL, sink)

	if err := c.Collect(context.Background()); err == nil {
		t.Fatal("Collect succeeded, want error for RPC error")
	}
	if getSlotCalls.Load() != 1 {
		t.Errorf("getSlot calls = %d, want 1 (no retries)", getSlotCalls.Load())
	}

	metrics := sink.Rows(domain.TableCollectionMetrics)
	if len(metrics) != 1 || metrics[0][4] != uint32(1) {
		t.Errorf("metrics = %v, want one row with error_count 1", metrics)
	}
}
