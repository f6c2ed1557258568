// Package esplora implements a client for Esplora-style Bitcoin REST APIs.
package esplora

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// ErrNotFound indicates the requested resource does not exist (yet).
var ErrNotFound = errors.New("resource not found")

// RateLimitError indicates the API rejected the request with 429.
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

// Client is an Esplora REST API client.
type Client struct {
	baseURL string
	client  *http.Client
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

// NewClient creates a new Esplora client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get performs a single GET request and maps HTTP statuses to typed errors.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 400:
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	return body, nil
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

// Block is the raw Esplora block representation.
type Block struct {
	ID                string  `json:"id"`
	Height            int64   `json:"height"`
	Timestamp         int64   `json:"timestamp"`
	PreviousBlockHash string  `json:"previousblockhash"`
	MerkleRoot        string  `json:"merkle_root"`
	Difficulty        float64 `json:"difficulty"`
	Nonce             uint32  `json:"nonce"`
	Size              int64   `json:"size"`
	Weight            int64   `json:"weight"`
	TxCount           int     `json:"tx_count"`
}

// Transaction is the raw Esplora transaction representation.
type Transaction struct {
	TxID   string            `json:"txid"`
	Size   int64             `json:"size"`
	Weight int64             `json:"weight"`
	Fee    int64             `json:"fee"`
	Vin    []json.RawMessage `json:"vin"`
	Vout   []json.RawMessage `json:"vout"`
}

// GetTipHeight returns the height of the current chain tip.
func (c *Client) GetTipHeight(ctx context.Context) (int64, error) {
	body, err := c.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}

	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse tip height %q: %w", string(body), err)
	}
	return height, nil
}

// GetBlockHash returns the hash of the block at the given height.
// Returns ErrNotFound if the height is beyond the chain tip.
func (c *Client) GetBlockHash(ctx context.Context, height int64) (string, error) {
	body, err := c.get(ctx, fmt.Sprintf("/block-height/%d", height))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// GetBlock returns the block with the given hash.
func (c *Client) GetBlock(ctx context.Context, hash string) (*Block, error) {
	body, err := c.get(ctx, "/block/"+hash)
	if err != nil {
		return nil, err
	}

	var block Block
	if err := json.Unmarshal(body, &block); err != nil {
		return nil, fmt.Errorf("unmarshal block: %w", err)
	}
	return &block, nil
}

// GetBlockTxIDs returns all transaction ids in the block, in block order.
func (c *Client) GetBlockTxIDs(ctx context.Context, hash string) ([]string, error) {
	body, err := c.get(ctx, "/block/"+hash+"/txids")
	if err != nil {
		return nil, err
	}

	var txids []string
	if err := json.Unmarshal(body, &txids); err != nil {
		return nil, fmt.Errorf("unmarshal txids: %w", err)
	}
	return txids, nil
}

// GetTransaction returns the transaction with the given id.
func (c *Client) GetTransaction(ctx context.Context, txid string) (*Transaction, error) {
	body, err := c.get(ctx, "/tx/"+txid)
	if err != nil {
		return nil, err
	}

	var tx Transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}
	return &tx, nil
}
