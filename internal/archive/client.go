package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/evmproc-dev/evmproc/internal/mapping"
	"github.com/evmproc-dev/evmproc/internal/metrics"
	"github.com/evmproc-dev/evmproc/internal/rpc"
	"github.com/evmproc-dev/evmproc/pkg/config"
)

// Client talks to the archive HTTP endpoint. It owns request encoding,
// response decoding and the shared retry policy; query semantics live in
// Source.
type Client struct {
	baseURL string
	http    *http.Client
	retry   *config.RetryConfig
}

// NewClient creates an archive client for the given base URL.
func NewClient(baseURL string, queryTimeout time.Duration, retry *config.RetryConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: queryTimeout},
		retry:   retry,
	}
}

// heightResponse is the body of GET /height.
type heightResponse struct {
	Height uint64 `json:"height"`
}

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	FromBlock        uint64       `json:"fromBlock"`
	ToBlock          *uint64      `json:"toBlock,omitempty"`
	IncludeAllBlocks bool         `json:"includeAllBlocks,omitempty"`
	Transactions     []TxRequest  `json:"transactions,omitempty"`
	Logs             []LogRequest `json:"logs,omitempty"`
}

// TxRequest is one transaction sub-query with its projection.
type TxRequest struct {
	From           []string       `json:"from,omitempty"`
	To             []string       `json:"to,omitempty"`
	Sighash        []string       `json:"sighash,omitempty"`
	FieldSelection FieldSelection `json:"fieldSelection"`
}

// LogRequest is one log sub-query with its projection.
type LogRequest struct {
	Address        []string       `json:"address,omitempty"`
	Topics         [][]string     `json:"topics,omitempty"`
	FieldSelection FieldSelection `json:"fieldSelection"`
}

// FieldSelection is the per-entity field mask sent upstream.
type FieldSelection struct {
	Block       map[string]bool `json:"block,omitempty"`
	Transaction map[string]bool `json:"transaction,omitempty"`
	Log         map[string]bool `json:"log,omitempty"`
}

// QueryResponse is the body of POST /query responses.
type QueryResponse struct {
	Data          [][]mapping.BlockData `json:"data"`
	NextBlock     uint64                `json:"nextBlock"`
	ArchiveHeight uint64                `json:"archiveHeight"`
}

// Height fetches the archive's current height (GET /height).
func (c *Client) Height(ctx context.Context) (uint64, error) {
	var result heightResponse
	err := rpc.RetryWithBackoff(ctx, c.retry, "archiveHeight", func() error {
		return c.get(ctx, "/height", &result)
	})
	if err != nil {
		return 0, fmt.Errorf("archiveQuery /height: %w", err)
	}
	return result.Height, nil
}

// Query submits one range query (POST /query).
func (c *Client) Query(ctx context.Context, q *QueryRequest) (*QueryResponse, error) {
	var result QueryResponse
	err := rpc.RetryWithBackoff(ctx, c.retry, "archiveQuery", func() error {
		return c.post(ctx, "/query", q, &result)
	})
	if err != nil {
		return nil, fmt.Errorf("archiveQuery {fromBlock=%d}: %w", q.FromBlock, err)
	}
	return &result, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	metrics.ArchiveQueryInc(path, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		// Carry the status text so the retry classifier sees 5xx/429 responses.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("HTTP %d %s: %s", resp.StatusCode, http.StatusText(resp.StatusCode), bytes.TrimSpace(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
