// Package solana implements a Solana JSON-RPC 2.0 client.
package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// RPC error codes that mean the slot produced no block.
const (
	codeBlockNotAvailable   = -32004
	codeSlotSkipped         = -32007
	codeSlotSkippedLongTerm = -32009
)

// ErrBlockNotAvailable indicates the slot was skipped or its block is not
// (yet) available. Callers treat this as a benign outcome, not a failure.
var ErrBlockNotAvailable = errors.New("block not available for slot")

// RateLimitError indicates the RPC endpoint rejected the request with 429.
type RateLimitError struct {
	// RetryAfter is the server-declared wait, zero if the header was absent.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// StatusError indicates an unexpected HTTP status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// RPCError is a JSON-RPC 2.0 error envelope.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Client is a Solana JSON-RPC HTTP client. Each call is a single attempt;
// retry policy belongs to the caller.
type Client struct {
	endpoint  string
	client    *http.Client
	requestID atomic.Uint64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a new Solana RPC client.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// call performs a single JSON-RPC call. The raw result is unmarshaled into
// result when both are non-nil; a null result leaves it untouched and
// returns ok=false.
func (c *Client) call(ctx context.Context, method string, params []any, result any) (ok bool, err error) {
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return false, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("http request: %w", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return false, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return false, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode != http.StatusOK:
		return false, &StatusError{Code: resp.StatusCode, Body: truncate(string(respBody), 200)}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return false, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		switch rpcResp.Error.Code {
		case codeBlockNotAvailable, codeSlotSkipped, codeSlotSkippedLongTerm:
			return false, fmt.Errorf("%w: %s", ErrBlockNotAvailable, rpcResp.Error.Message)
		}
		return false, rpcResp.Error
	}

	if rpcResp.Result == nil || string(rpcResp.Result) == "null" {
		return false, nil
	}

	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return false, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return true, nil
}

// parseRetryAfter parses the delay-seconds form of the Retry-After header.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// GetSlot retrieves the current slot.
func (c *Client) GetSlot(ctx context.Context) (int64, error) {
	var result int64
	ok, err := c.call(ctx, "getSlot", nil, &result)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("getSlot returned empty result")
	}
	return result, nil
}

// Block is a Solana block with full transaction details.
type Block struct {
	BlockHeight       *int64 `json:"blockHeight"`
	Blockhash         string `json:"blockhash"`
	ParentSlot        int64  `json:"parentSlot"`
	PreviousBlockhash string `json:"previousBlockhash"`
	BlockTime         *int64 `json:"blockTime"`
	Transactions      []BlockTransaction
}

// BlockTransaction is one transaction inside a block.
type BlockTransaction struct {
	Signature string
	Fee       uint64
	// Failed is true when the transaction meta carries an error.
	Failed bool
}

// getBlockResult is the raw RPC response for getBlock.
type getBlockResult struct {
	BlockHeight       *int64              `json:"blockHeight"`
	Blockhash         string              `json:"blockhash"`
	ParentSlot        int64               `json:"parentSlot"`
	PreviousBlockhash string              `json:"previousBlockhash"`
	BlockTime         *int64              `json:"blockTime"`
	Transactions      []getBlockTxWrapper `json:"transactions"`
}

type getBlockTxWrapper struct {
	Transaction getBlockTx      `json:"transaction"`
	Meta        *getBlockTxMeta `json:"meta"`
}

type getBlockTx struct {
	Signatures []string `json:"signatures"`
}

type getBlockTxMeta struct {
	Err json.RawMessage `json:"err"`
	Fee uint64          `json:"fee"`
}

// GetBlock retrieves a block by slot number with full transaction details.
// Returns ErrBlockNotAvailable when the slot was skipped or has no block.
func (c *Client) GetBlock(ctx context.Context, slot int64) (*Block, error) {
	params := []any{
		slot,
		map[string]any{
			"encoding":                       "json",
			"transactionDetails":             "full",
			"rewards":                        false,
			"maxSupportedTransactionVersion": 0,
		},
	}

	var result getBlockResult
	ok, err := c.call(ctx, "getBlock", params, &result)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBlockNotAvailable
	}

	block := &Block{
		BlockHeight:       result.BlockHeight,
		Blockhash:         result.Blockhash,
		ParentSlot:        result.ParentSlot,
		PreviousBlockhash: result.PreviousBlockhash,
		BlockTime:         result.BlockTime,
	}

	for _, wrapper := range result.Transactions {
		tx := BlockTransaction{}
		if len(wrapper.Transaction.Signatures) > 0 {
			tx.Signature = wrapper.Transaction.Signatures[0]
		}
		if wrapper.Meta != nil {
			tx.Fee = wrapper.Meta.Fee
			tx.Failed = len(wrapper.Meta.Err) > 0 && string(wrapper.Meta.Err) != "null"
		}
		block.Transactions = append(block.Transactions, tx)
	}

	return block, nil
}
