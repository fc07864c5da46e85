package archive

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/evmproc-dev/evmproc/internal/logger"
	"github.com/evmproc-dev/evmproc/internal/mapping"
	"github.com/evmproc-dev/evmproc/internal/plan"
	"github.com/evmproc-dev/evmproc/pkg/config"
	"github.com/evmproc-dev/evmproc/pkg/evm"
)

// Source serves finalized block ranges from the archive endpoint.
type Source struct {
	client   *Client
	fields   plan.FieldMasks
	batchCap uint64
	log      *logger.Logger
}

// NewSource creates an archive source using the processor-wide field masks.
func NewSource(cfg config.ProcessorConfig, fields plan.FieldMasks, log *logger.Logger) *Source {
	return &Source{
		client:   NewClient(cfg.ArchiveURL, cfg.QueryTimeout.Duration, cfg.Retry),
		fields:   fields,
		batchCap: cfg.ArchiveBatchCap,
		log:      log.WithComponent("archive-source"),
	}
}

// GetFinalizedHeight returns the archive's current height.
func (s *Source) GetFinalizedHeight(ctx context.Context) (uint64, error) {
	return s.client.Height(ctx)
}

// GetFinalizedBatch fetches one batch for the request's range. The archive
// decides the actual upper bound: nextBlock-1 of the response closes the
// returned range, clamped to the requested To. A missing trailing block is
// backfilled with a stub header so the batch always ends at Range.To.
func (s *Source) GetFinalizedBatch(ctx context.Context, req *evm.BatchRequest) (*evm.BatchResponse, error) {
	query := s.buildQuery(req)

	start := time.Now()
	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	rangeTo := resp.NextBlock - 1
	if req.Range.To != nil && rangeTo > *req.Range.To {
		rangeTo = *req.Range.To
	}
	if rangeTo < req.Range.From {
		return nil, fmt.Errorf("archiveQuery {fromBlock=%d}: archive returned nextBlock %d below requested range",
			req.Range.From, resp.NextBlock)
	}

	blocks := make([]evm.FullBlockData, 0, len(resp.Data))
	for _, chunk := range resp.Data {
		for i := range chunk {
			if uint64(chunk[i].Block.Number) > rangeTo {
				continue
			}
			full, err := mapping.MapBlock(&chunk[i])
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, *full)
		}
	}

	slices.SortFunc(blocks, func(a, b evm.FullBlockData) int {
		if a.Header.Height < b.Header.Height {
			return -1
		}
		if a.Header.Height > b.Header.Height {
			return 1
		}
		return 0
	})

	// The archive omits blocks no filter matched. The batch contract requires
	// the trailing block to be present so progress can be committed with its
	// hash; fetch its header alone when it is missing.
	if len(blocks) == 0 || blocks[len(blocks)-1].Header.Height != rangeTo {
		stub, err := s.fetchHeaderStub(ctx, rangeTo)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, *stub)
	}

	s.log.Debugf("fetched batch from %d to %d: blocks=%d archive_height=%d took=%v",
		req.Range.From, rangeTo, len(blocks), resp.ArchiveHeight, time.Since(start))

	return &evm.BatchResponse{
		Range:       evm.NewRange(req.Range.From, rangeTo),
		Blocks:      blocks,
		ChainHeight: resp.ArchiveHeight,
	}, nil
}

func (s *Source) buildQuery(req *evm.BatchRequest) *QueryRequest {
	query := &QueryRequest{
		FromBlock:        req.Range.From,
		IncludeAllBlocks: req.Request.IncludeAllBlocks,
	}

	to := req.Range.From + s.batchCap - 1
	if req.Range.To != nil && *req.Range.To < to {
		to = *req.Range.To
	}
	query.ToBlock = &to

	txFields := FieldSelection{
		Block:       s.fields.Block,
		Transaction: s.fields.Transaction,
	}
	logFields := FieldSelection{
		Block: s.fields.Block,
		Log:   s.fields.Log,
	}
	// The per-log sub-query carries the transaction projection only when the
	// user asked for the log-to-transaction join.
	if s.fields.LogWantsTransaction() {
		logFields.Transaction = s.fields.Transaction
	}

	for _, criterion := range req.Request.Transactions {
		query.Transactions = append(query.Transactions, TxRequest{
			From:           criterion.From,
			To:             criterion.To,
			Sighash:        criterion.Sighash,
			FieldSelection: txFields,
		})
	}
	for _, criterion := range req.Request.Logs {
		query.Logs = append(query.Logs, LogRequest{
			Address:        criterion.Address,
			Topics:         criterion.Topics,
			FieldSelection: logFields,
		})
	}

	return query
}

// fetchHeaderStub queries a single height with includeAllBlocks and a
// header-only projection, returning the block with no items.
func (s *Source) fetchHeaderStub(ctx context.Context, height uint64) (*evm.FullBlockData, error) {
	to := height
	resp, err := s.client.Query(ctx, &QueryRequest{
		FromBlock:        height,
		ToBlock:          &to,
		IncludeAllBlocks: true,
	})
	if err != nil {
		return nil, fmt.Errorf("blockHeight=%d: %w", height, err)
	}

	for _, chunk := range resp.Data {
		for i := range chunk {
			if uint64(chunk[i].Block.Number) != height {
				continue
			}
			full, err := mapping.MapBlock(&mapping.BlockData{Block: chunk[i].Block})
			if err != nil {
				return nil, err
			}
			return full, nil
		}
	}

	return nil, fmt.Errorf("blockHeight=%d: archive returned no header for trailing block", height)
}
