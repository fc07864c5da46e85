package rpc

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/evmproc-dev/evmproc/internal/mapping"
	"github.com/evmproc-dev/evmproc/pkg/config"
	"golang.org/x/sync/semaphore"
)

// Client wraps the node JSON-RPC connection with batch helpers returning
// wire-shaped records. In-flight requests are capped by the configured
// capacity; every call runs under the shared retry policy.
type Client struct {
	rpc   *rpc.Client
	sem   *semaphore.Weighted
	retry *config.RetryConfig
}

// NewClient creates a new RPC client connected to the given endpoint.
func NewClient(ctx context.Context, endpoint string, capacity int, retry *config.RetryConfig) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	if capacity <= 0 {
		capacity = 1
	}

	return &Client{
		rpc:   rpcClient,
		sem:   semaphore.NewWeighted(int64(capacity)),
		retry: retry,
	}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// BlockWithTxs is a header together with full transaction bodies.
type BlockWithTxs struct {
	mapping.Header
	Transactions []mapping.Transaction `json:"transactions"`
}

// Receipt carries the receipt fields the pipeline consumes.
type Receipt struct {
	TransactionIndex mapping.Uint64 `json:"transactionIndex"`
	Logs             []mapping.Log  `json:"logs"`
}

// RangeLog is an eth_getLogs entry, which carries its block number.
type RangeLog struct {
	mapping.Log
	BlockNumber mapping.Uint64 `json:"blockNumber"`
	BlockHash   string         `json:"blockHash"`
}

// HeadHeight returns the current chain head height (eth_blockNumber).
func (c *Client) HeadHeight(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	err := c.call(ctx, "eth_blockNumber", func() error {
		return c.rpc.CallContext(ctx, &result, "eth_blockNumber")
	})
	if err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// Headers retrieves headers for multiple block numbers in batched calls.
// A nil entry means the node does not know the block yet.
func (c *Client) Headers(ctx context.Context, heights []uint64) ([]*mapping.Header, error) {
	results := make([]*mapping.Header, len(heights))
	batch := make([]rpc.BatchElem, len(heights))
	for i, height := range heights {
		batch[i] = rpc.BatchElem{
			Method: "eth_getBlockByNumber",
			Args:   []any{toBlockNumArg(height), false}, // false = don't include transactions
			Result: &results[i],
		}
	}

	if err := c.batchCall(ctx, "eth_getBlockByNumber", batch); err != nil {
		return nil, err
	}
	return results, nil
}

// BlocksWithTransactions retrieves blocks with full transaction bodies.
func (c *Client) BlocksWithTransactions(ctx context.Context, heights []uint64) ([]*BlockWithTxs, error) {
	results := make([]*BlockWithTxs, len(heights))
	batch := make([]rpc.BatchElem, len(heights))
	for i, height := range heights {
		batch[i] = rpc.BatchElem{
			Method: "eth_getBlockByNumber",
			Args:   []any{toBlockNumArg(height), true},
			Result: &results[i],
		}
	}

	if err := c.batchCall(ctx, "eth_getBlockByNumber", batch); err != nil {
		return nil, err
	}
	return results, nil
}

// BlockReceipts retrieves all receipts of the given blocks (eth_getBlockReceipts).
func (c *Client) BlockReceipts(ctx context.Context, heights []uint64) ([][]Receipt, error) {
	results := make([][]Receipt, len(heights))
	batch := make([]rpc.BatchElem, len(heights))
	for i, height := range heights {
		batch[i] = rpc.BatchElem{
			Method: "eth_getBlockReceipts",
			Args:   []any{toBlockNumArg(height)},
			Result: &results[i],
		}
	}

	if err := c.batchCall(ctx, "eth_getBlockReceipts", batch); err != nil {
		return nil, err
	}
	return results, nil
}

// Logs retrieves logs for a block range with the given address and topic
// filters (eth_getLogs). Empty filters match everything.
func (c *Client) Logs(ctx context.Context, from, to uint64, addresses []string, topics [][]string) ([]RangeLog, error) {
	arg := map[string]any{
		"fromBlock": toBlockNumArg(from),
		"toBlock":   toBlockNumArg(to),
	}
	if len(addresses) > 0 {
		arg["address"] = addresses
	}
	if len(topics) > 0 {
		arg["topics"] = topics
	}

	var result []RangeLog
	err := c.call(ctx, "eth_getLogs", func() error {
		return c.rpc.CallContext(ctx, &result, "eth_getLogs", arg)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) call(ctx context.Context, operation string, fn func() error) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	return RetryWithBackoff(ctx, c.retry, operation, fn)
}

func (c *Client) batchCall(ctx context.Context, operation string, batch []rpc.BatchElem) error {
	const maxBatch = 100

	for start := 0; start < len(batch); start += maxBatch {
		end := min(start+maxBatch, len(batch))
		chunk := batch[start:end]

		err := c.call(ctx, operation, func() error {
			if err := c.rpc.BatchCallContext(ctx, chunk); err != nil {
				return err
			}
			// Check for individual errors
			for _, elem := range chunk {
				if elem.Error != nil {
					return elem.Error
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("%s batch: %w", operation, err)
		}
	}

	return nil
}

// toBlockNumArg converts a block number to hex format.
func toBlockNumArg(blockNum uint64) string {
	return fmt.Sprintf("0x%x", blockNum)
}
