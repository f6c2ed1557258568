package esplora

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetTipHeight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/blocks/tip/height" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte("850123\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	height, err := c.GetTipHeight(context.Background())
	if err != nil {
		t.Fatalf("GetTipHeight: %v", err)
	}
	if height != 850123 {
		t.Errorf("height = %d, want 850123", height)
	}
}

func TestGetBlockHash(t *testing.T) {
	const hash = "00000000000000000002b4c1b9ad0dbd5b2a0a2dbe2a1dd3e4f5a6b7c8d9e0f1"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/block-height/850123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(hash))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	got, err := c.GetBlockHash(context.Background(), 850123)
	if err != nil {
		t.Fatalf("GetBlockHash: %v", err)
	}
	if got != hash {
		t.Errorf("hash = %q, want %q", got, hash)
	}
}

func TestGetBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": "abc123",
			"height": 850123,
			"timestamp": 1741608000,
			"previousblockhash": "def456",
			"merkle_root": "789abc",
			"difficulty": 90666502495565.78,
			"nonce": 1765503561,
			"size": 1536170,
			"weight": 3993575,
			"tx_count": 2412
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	block, err := c.GetBlock(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if block.Height != 850123 || block.TxCount != 2412 || block.Nonce != 1765503561 {
		t.Errorf("unexpected block %+v", block)
	}
	if block.Timestamp != 1741608000 {
		t.Errorf("timestamp = %d", block.Timestamp)
	}
}

func TestGetBlockTxIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/block/abc123/txids" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`["tx1","tx2","tx3"]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	txids, err := c.GetBlockTxIDs(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("GetBlockTxIDs: %v", err)
	}
	if len(txids) != 3 || txids[0] != "tx1" {
		t.Errorf("txids = %v", txids)
	}
}

func TestGetTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"txid":"tx1","size":250,"weight":1000,"fee":1500,"vin":[{},{}],"vout":[{}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	tx, err := c.GetTransaction(context.Background(), "tx1")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx.Fee != 1500 || len(tx.Vin) != 2 || len(tx.Vout) != 1 {
		t.Errorf("unexpected tx %+v", tx)
	}
}

func TestNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Block not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetBlockHash(context.Background(), 999999999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetTipHeight(context.Background())

	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rateErr.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", rateErr.RetryAfter)
	}
}

func TestRateLimitedWithoutHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetTipHeight(context.Background())

	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rateErr.RetryAfter != 0 {
		t.Errorf("RetryAfter = %v, want 0", rateErr.RetryAfter)
	}
}

func TestServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetTipHeight(context.Background())

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if statusErr.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", statusErr.Code)
	}
}
