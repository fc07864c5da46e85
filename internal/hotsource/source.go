package hotsource

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evmproc-dev/evmproc/internal/logger"
	"github.com/evmproc-dev/evmproc/internal/mapping"
	"github.com/evmproc-dev/evmproc/internal/plan"
	"github.com/evmproc-dev/evmproc/internal/rpc"
	"github.com/evmproc-dev/evmproc/pkg/evm"
)

// Source follows the chain tip over the node RPC. It produces the same
// canonical batch shape as the archive source and surfaces parent-hash
// mismatches as ForkDetectedError.
type Source struct {
	client       *rpc.Client
	fields       plan.FieldMasks
	pollInterval time.Duration
	log          *logger.Logger
}

// NewSource creates a hot source on top of the shared RPC client.
func NewSource(client *rpc.Client, fields plan.FieldMasks, pollInterval time.Duration, log *logger.Logger) *Source {
	return &Source{
		client:       client,
		fields:       fields,
		pollInterval: pollInterval,
		log:          log.WithComponent("hot-source"),
	}
}

// WaitForHeight polls the head until it reaches at least the given height,
// returning the observed head.
func (s *Source) WaitForHeight(ctx context.Context, height uint64) (uint64, error) {
	for {
		head, err := s.client.HeadHeight(ctx)
		if err != nil {
			return 0, fmt.Errorf("eth_blockNumber: %w", err)
		}
		if head >= height {
			return head, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// HeaderHash returns the node's current hash at the given height. Used by
// the runner to locate the surviving ancestor after a fork.
func (s *Source) HeaderHash(ctx context.Context, height uint64) (common.Hash, error) {
	headers, err := s.client.Headers(ctx, []uint64{height})
	if err != nil {
		return common.Hash{}, err
	}
	if headers[0] == nil {
		return common.Hash{}, fmt.Errorf("blockHeight=%d: node has no block", height)
	}
	return common.HexToHash(headers[0].Hash), nil
}

// GetBatch fetches blocks [req.Range.From .. to] with the requested items.
// prevHash is the hash of the committed block right below the range; a
// mismatch against the first block's parent raises ForkDetectedError.
// Every height in the range yields a block: hot blocks must all reach the
// handler so their mutations can be tracked for rollback.
func (s *Source) GetBatch(ctx context.Context, req *evm.BatchRequest, to uint64, prevHash common.Hash) (*evm.BatchResponse, error) {
	from := req.Range.From
	heights := make([]uint64, 0, to-from+1)
	for h := from; h <= to; h++ {
		heights = append(heights, h)
	}

	// The processor-wide projection, not the merged request, decides the
	// log-to-transaction join (global fields win after merging).
	wantTxs := len(req.Request.Transactions) > 0 ||
		(len(req.Request.Logs) > 0 && s.fields.LogWantsTransaction())
	wantLogs := len(req.Request.Logs) > 0

	data, err := s.fetchBlocks(ctx, heights, wantTxs)
	if err != nil {
		return nil, err
	}

	// Verify parent linkage before anything else: a stale prefix means the
	// whole poll is invalid.
	if prevHash != (common.Hash{}) {
		if parent := common.HexToHash(data[0].Block.ParentHash); parent != prevHash {
			return nil, NewForkError(from,
				fmt.Sprintf("parent_hash=%s last_seen_hash=%s", parent.Hex(), prevHash.Hex()))
		}
	}
	for i := 1; i < len(data); i++ {
		expected := data[i-1].Block.Hash
		if actual := data[i].Block.ParentHash; !strings.EqualFold(actual, expected) {
			return nil, NewForkError(uint64(data[i].Block.Number),
				fmt.Sprintf("expected_parent=%s actual_parent=%s", expected, actual))
		}
	}

	if wantLogs {
		// When transaction bodies are fetched anyway the receipts deliver the
		// logs per block; otherwise one ranged eth_getLogs call is cheaper.
		if wantTxs {
			if err := s.attachReceiptLogs(ctx, data, heights); err != nil {
				return nil, err
			}
		} else if err := s.attachLogs(ctx, data, from, to); err != nil {
			return nil, err
		}
	}

	head, err := s.client.HeadHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("eth_blockNumber: %w", err)
	}

	blocks := make([]evm.FullBlockData, 0, len(data))
	for i := range data {
		s.filterBlock(&data[i], &req.Request)
		applyFieldMasks(&data[i], s.fields)

		full, err := mapping.MapBlock(&data[i])
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, *full)
	}

	return &evm.BatchResponse{
		Range:       evm.NewRange(from, to),
		Blocks:      blocks,
		ChainHeight: head,
	}, nil
}

// fetchBlocks retrieves headers, with transaction bodies when needed.
func (s *Source) fetchBlocks(ctx context.Context, heights []uint64, wantTxs bool) ([]mapping.BlockData, error) {
	data := make([]mapping.BlockData, len(heights))

	if wantTxs {
		blocks, err := s.client.BlocksWithTransactions(ctx, heights)
		if err != nil {
			return nil, fmt.Errorf("eth_getBlockByNumber: %w", err)
		}
		for i, block := range blocks {
			if block == nil {
				return nil, fmt.Errorf("blockHeight=%d: node has no block", heights[i])
			}
			data[i] = mapping.BlockData{Block: block.Header, Transactions: block.Transactions}
		}
		return data, nil
	}

	headers, err := s.client.Headers(ctx, heights)
	if err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber: %w", err)
	}
	for i, header := range headers {
		if header == nil {
			return nil, fmt.Errorf("blockHeight=%d: node has no block", heights[i])
		}
		data[i] = mapping.BlockData{Block: *header}
	}
	return data, nil
}

// attachReceiptLogs collects each block's logs from its receipts
// (eth_getBlockReceipts).
func (s *Source) attachReceiptLogs(ctx context.Context, data []mapping.BlockData, heights []uint64) error {
	receipts, err := s.client.BlockReceipts(ctx, heights)
	if err != nil {
		return fmt.Errorf("eth_getBlockReceipts: %w", err)
	}

	for i := range data {
		for _, receipt := range receipts[i] {
			data[i].Logs = append(data[i].Logs, receipt.Logs...)
		}
	}

	return nil
}

// attachLogs fetches the range's logs and distributes them to their blocks.
// Log block hashes are checked against the fetched headers: a mismatch means
// the chain moved between the two calls.
func (s *Source) attachLogs(ctx context.Context, data []mapping.BlockData, from, to uint64) error {
	logs, err := s.fetchLogsSplitting(ctx, from, to)
	if err != nil {
		return fmt.Errorf("eth_getLogs: %w", err)
	}

	byHeight := make(map[uint64]*mapping.BlockData, len(data))
	for i := range data {
		byHeight[uint64(data[i].Block.Number)] = &data[i]
	}

	for _, log := range logs {
		block, ok := byHeight[uint64(log.BlockNumber)]
		if !ok {
			continue
		}
		if log.BlockHash != "" && !strings.EqualFold(log.BlockHash, block.Block.Hash) {
			return NewForkError(uint64(log.BlockNumber),
				fmt.Sprintf("log_block_hash=%s header_hash=%s", log.BlockHash, block.Block.Hash))
		}
		block.Logs = append(block.Logs, log.Log)
	}

	return nil
}

// fetchLogsSplitting fetches logs for a range, splitting it when the node
// rejects the query for returning too many results.
func (s *Source) fetchLogsSplitting(ctx context.Context, from, to uint64) ([]rpc.RangeLog, error) {
	logs, err := s.client.Logs(ctx, from, to, nil, nil)
	if err == nil {
		return logs, nil
	}

	ok, errData := rpc.IsTooManyResultsError(err)
	if !ok {
		return nil, err
	}

	splitFrom, splitTo, parsed := rpc.ParseSuggestedBlockRange(errData)
	if !parsed || splitFrom != from || splitTo >= to {
		if from == to {
			return nil, fmt.Errorf("single block %d has too many logs: %w", from, err)
		}
		splitFrom, splitTo = from, from+(to-from)/2
	}

	s.log.Infof("too many logs in range [%d, %d], splitting at %d", from, to, splitTo)

	head, err := s.fetchLogsSplitting(ctx, splitFrom, splitTo)
	if err != nil {
		return nil, err
	}
	tail, err := s.fetchLogsSplitting(ctx, splitTo+1, to)
	if err != nil {
		return nil, err
	}
	return append(head, tail...), nil
}

// filterBlock keeps only the transactions and logs the merged request asks
// for. Parent transactions of matched logs survive when the log.transaction
// projection is on.
func (s *Source) filterBlock(bd *mapping.BlockData, req *evm.DataRequest) {
	matchedLogs := bd.Logs[:0:0]
	for _, log := range bd.Logs {
		if matchesAnyLog(&log, req.Logs) {
			matchedLogs = append(matchedLogs, log)
		}
	}
	bd.Logs = matchedLogs

	wantParents := make(map[uint64]struct{})
	if s.fields.LogWantsTransaction() {
		for _, log := range bd.Logs {
			wantParents[uint64(log.TransactionIndex)] = struct{}{}
		}
	}

	matchedTxs := bd.Transactions[:0:0]
	for _, tx := range bd.Transactions {
		_, isParent := wantParents[uint64(tx.TransactionIndex)]
		if isParent || matchesAnyTx(&tx, req.Transactions) {
			matchedTxs = append(matchedTxs, tx)
		}
	}
	bd.Transactions = matchedTxs
}

func matchesAnyLog(log *mapping.Log, criteria []evm.LogCriterion) bool {
	for _, criterion := range criteria {
		if matchesLog(log, &criterion) {
			return true
		}
	}
	return false
}

func matchesLog(log *mapping.Log, criterion *evm.LogCriterion) bool {
	if len(criterion.Address) > 0 && !containsFold(criterion.Address, log.Address) {
		return false
	}
	for i, topicSet := range criterion.Topics {
		if len(topicSet) == 0 {
			continue
		}
		if i >= len(log.Topics) || !containsFold(topicSet, log.Topics[i]) {
			return false
		}
	}
	return true
}

func matchesAnyTx(tx *mapping.Transaction, criteria []evm.TxCriterion) bool {
	for _, criterion := range criteria {
		if matchesTx(tx, &criterion) {
			return true
		}
	}
	return false
}

func matchesTx(tx *mapping.Transaction, criterion *evm.TxCriterion) bool {
	if len(criterion.From) > 0 && !containsFold(criterion.From, tx.From) {
		return false
	}
	if len(criterion.To) > 0 {
		if tx.To == nil || !containsFold(criterion.To, *tx.To) {
			return false
		}
	}
	if len(criterion.Sighash) > 0 {
		const sighashLen = len("0x") + 8
		if len(tx.Input) < sighashLen || !containsFold(criterion.Sighash, tx.Input[:sighashLen]) {
			return false
		}
	}
	return true
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
