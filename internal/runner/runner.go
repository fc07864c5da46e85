package runner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evmproc-dev/evmproc/internal/hotsource"
	"github.com/evmproc-dev/evmproc/internal/hotstate"
	"github.com/evmproc-dev/evmproc/internal/logger"
	"github.com/evmproc-dev/evmproc/internal/metrics"
	"github.com/evmproc-dev/evmproc/internal/store"
	"github.com/evmproc-dev/evmproc/pkg/config"
	"github.com/evmproc-dev/evmproc/pkg/evm"
	"github.com/evmproc-dev/evmproc/pkg/handler"
)

const archiveSourceLabel = "archive"
const hotSourceLabel = "hot"

// ArchiveSource serves finalized, batched history.
type ArchiveSource interface {
	GetFinalizedHeight(ctx context.Context) (uint64, error)
	GetFinalizedBatch(ctx context.Context, req *evm.BatchRequest) (*evm.BatchResponse, error)
}

// HotSource follows the unfinalized head.
type HotSource interface {
	WaitForHeight(ctx context.Context, height uint64) (uint64, error)
	GetBatch(ctx context.Context, req *evm.BatchRequest, to uint64, prevHash common.Hash) (*evm.BatchResponse, error)
	HeaderHash(ctx context.Context, height uint64) (common.Hash, error)
}

// Runner drives the processing pipeline: it resumes from the committed
// position, serves each merged range from the archive while the range is
// safely below the archive head, follows the chain tip over the hot source
// afterwards, and rolls hot blocks back when the tip forks.
//
// The handler sees batches strictly in ascending height order; handler
// execution and the progress commit share one store transaction.
type Runner struct {
	db      *sql.DB
	cfg     config.ProcessorConfig
	archive ArchiveSource
	hot     HotSource
	hdl     handler.Handler
	status  *StatusStore
	log     *logger.Logger

	requests []evm.BatchRequest

	// position of the pipeline: next height to process and the hash of the
	// block right below it (zero when unknown, e.g. at a range gap).
	pos      uint64
	prevHash common.Hash
	started  bool
}

// New creates a runner over the given sources. Either source may be nil,
// but not both.
func New(
	db *sql.DB,
	cfg config.ProcessorConfig,
	requests []evm.BatchRequest,
	archiveSource ArchiveSource,
	hotSource HotSource,
	hdl handler.Handler,
	log *logger.Logger,
) *Runner {
	return &Runner{
		db:       db,
		cfg:      cfg,
		requests: requests,
		archive:  archiveSource,
		hot:      hotSource,
		hdl:      hdl,
		status:   NewStatusStore(db, cfg.StatusSchema, log),
		log:      log.WithComponent("runner"),
	}
}

// Run processes every merged range in order. It returns nil once the last
// closed range is committed, or when the context is cancelled between
// batches.
func (r *Runner) Run(ctx context.Context) error {
	position, err := r.status.Load()
	if err != nil {
		return err
	}
	if position != nil {
		r.pos = position.Height + 1
		r.prevHash = position.Hash
		r.started = true
		r.log.Infof("resuming from committed block %d (%s)", position.Height, position.Hash.Hex())
		metrics.LastCommittedBlockSet(position.Height)
	}

	for _, req := range r.requests {
		if req.Range.To != nil && r.started && *req.Range.To < r.pos {
			continue
		}
		if err := r.processRange(ctx, &req); err != nil {
			if errors.Is(err, context.Canceled) {
				r.log.Info("processing cancelled")
				return nil
			}
			return err
		}
	}

	r.log.Info("reached the end of the requested block range")
	return nil
}

// processRange runs the archive/hot state machine for one merged range.
func (r *Runner) processRange(ctx context.Context, req *evm.BatchRequest) error {
	if !r.started || r.pos < req.Range.From {
		// Entering a new range, possibly across a gap: parent linkage does
		// not carry over.
		r.pos = max(r.pos, req.Range.From)
		r.prevHash = common.Hash{}
		r.started = true
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if req.Range.To != nil && r.pos > *req.Range.To {
			return nil
		}

		if r.archive != nil {
			archiveHeight, err := r.archive.GetFinalizedHeight(ctx)
			if err != nil {
				return err
			}
			closedBelowArchive := req.Range.To != nil && *req.Range.To <= archiveHeight
			if r.pos+r.cfg.SafetyDepth <= archiveHeight || closedBelowArchive {
				if err := r.archivePhase(ctx, req, archiveHeight); err != nil {
					return err
				}
				continue
			}
			if r.hot == nil {
				// Archive-only setup: wait for the archive to advance.
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(r.cfg.PollInterval.Duration):
				}
				continue
			}
		}

		if r.hot == nil {
			return fmt.Errorf("no data source can serve block %d", r.pos)
		}

		if err := r.hotPhase(ctx, req); err != nil {
			var fork *hotsource.ForkDetectedError
			if errors.As(err, &fork) {
				if err := r.handleReorg(ctx, fork); err != nil {
					return fmt.Errorf("failed to handle reorg: %w", err)
				}
				continue
			}
			return err
		}
	}
}

type fetchResult struct {
	batch *evm.BatchResponse
	err   error
}

// archivePhase streams archive batches while the position stays safely
// below the archive head. The next batch is prefetched while the current
// one is handled and committed; that is the only concurrency in the path.
func (r *Runner) archivePhase(ctx context.Context, req *evm.BatchRequest, archiveHeight uint64) error {
	fetch := func(from uint64, out chan<- fetchResult) {
		sub := evm.BatchRequest{Range: evm.Range{From: from, To: req.Range.To}, Request: req.Request}
		batch, err := r.archive.GetFinalizedBatch(ctx, &sub)
		out <- fetchResult{batch: batch, err: err}
	}

	next := make(chan fetchResult, 1)
	go fetch(r.pos, next)

	for {
		res := <-next
		if res.err != nil {
			return res.err
		}
		batch := res.batch
		archiveHeight = batch.ChainHeight
		metrics.ChainHeightSet(archiveHeight)

		if err := r.checkBatch(batch); err != nil {
			return err
		}

		nextFrom := *batch.Range.To + 1
		inRange := req.Range.To == nil || nextFrom <= *req.Range.To
		prefetching := inRange && nextFrom+r.cfg.SafetyDepth <= archiveHeight
		if prefetching {
			go fetch(nextFrom, next)
		}

		if err := r.applyFinalizedBatch(ctx, batch); err != nil {
			if prefetching {
				<-next // release the prefetch goroutine
			}
			return err
		}

		if !prefetching {
			return nil
		}
	}
}

// applyFinalizedBatch runs the handler and commits progress in one store
// transaction. The handler error policy is retry-then-fail.
func (r *Runner) applyFinalizedBatch(ctx context.Context, batch *evm.BatchResponse) error {
	lastHash := batch.Blocks[len(batch.Blocks)-1].Header.Hash
	isHead := *batch.Range.To == batch.ChainHeight

	err := r.withHandlerRetry(ctx, func() error {
		return r.inTx(func(tx *sql.Tx) error {
			bctx := &handler.BatchContext{
				Blocks: batch.Blocks,
				IsHead: isHead,
				Store:  store.NewTxStore(tx),
				Log:    r.log,
			}

			start := time.Now()
			if err := r.hdl.HandleBatch(ctx, bctx); err != nil {
				return fmt.Errorf("handler failed on batch [%d, %d]: %w",
					batch.Range.From, *batch.Range.To, err)
			}
			metrics.BatchProcessingTimeLog(archiveSourceLabel, time.Since(start))

			return r.status.CommitTx(tx, *batch.Range.To, lastHash)
		})
	})
	if err != nil {
		return err
	}

	r.pos = *batch.Range.To + 1
	r.prevHash = lastHash
	metrics.LastCommittedBlockSet(*batch.Range.To)
	metrics.BatchProcessedInc(archiveSourceLabel, len(batch.Blocks))

	r.log.Debugf("committed archive batch [%d, %d]: %d blocks",
		batch.Range.From, *batch.Range.To, len(batch.Blocks))

	return nil
}

// hotPhase follows the tip: it waits for the chain to reach the current
// position, fetches the new blocks and applies them one by one with change
// tracking enabled.
func (r *Runner) hotPhase(ctx context.Context, req *evm.BatchRequest) error {
	head, err := r.hot.WaitForHeight(ctx, r.pos)
	if err != nil {
		return err
	}
	metrics.ChainHeightSet(head)

	to := head
	if req.Range.To != nil && *req.Range.To < to {
		to = *req.Range.To
	}

	sub := evm.BatchRequest{Range: evm.OpenRange(r.pos), Request: req.Request}
	batch, err := r.hot.GetBatch(ctx, &sub, to, r.prevHash)
	if err != nil {
		return err
	}
	if err := r.checkBatch(batch); err != nil {
		return err
	}

	// Blocks at or below this height can no longer be rolled back.
	var finalized uint64
	if batch.ChainHeight > r.cfg.SafetyDepth {
		finalized = batch.ChainHeight - r.cfg.SafetyDepth
	}

	for i := range batch.Blocks {
		block := &batch.Blocks[i]
		isHead := block.Header.Height == batch.ChainHeight
		if err := r.applyHotBlock(ctx, block, isHead, finalized); err != nil {
			return err
		}
	}

	return nil
}

// applyHotBlock runs the handler for one unfinalized block inside a
// transaction wrapped by the change tracker, records the hot block, commits
// progress and prunes state that became finalized.
func (r *Runner) applyHotBlock(ctx context.Context, block *evm.FullBlockData, isHead bool, finalized uint64) error {
	height := block.Header.Height
	hash := block.Header.Hash

	err := r.withHandlerRetry(ctx, func() error {
		return r.inTx(func(tx *sql.Tx) error {
			tracker := hotstate.NewTracker(store.NewTxStore(tx), r.cfg.StatusSchema, height, r.log)
			bctx := &handler.BatchContext{
				Blocks: []evm.FullBlockData{*block},
				IsHead: isHead,
				Store:  tracker,
				Log:    r.log,
			}

			start := time.Now()
			if err := r.hdl.HandleBatch(ctx, bctx); err != nil {
				return fmt.Errorf("handler failed on block %d (%s): %w", height, hash.Hex(), err)
			}
			metrics.BatchProcessingTimeLog(hotSourceLabel, time.Since(start))

			if err := r.status.InsertHotBlockTx(tx, height, hash); err != nil {
				return err
			}
			if err := r.status.CommitTx(tx, height, hash); err != nil {
				return err
			}
			return r.status.PruneFinalizedTx(tx, finalized)
		})
	})
	if err != nil {
		return err
	}

	r.pos = height + 1
	r.prevHash = hash
	metrics.LastCommittedBlockSet(height)
	metrics.BatchProcessedInc(hotSourceLabel, 1)

	return nil
}

// handleReorg walks the committed hot blocks from the top, rolling each one
// back until a block whose hash still matches the chain is found. The
// pipeline resumes right above that ancestor.
func (r *Runner) handleReorg(ctx context.Context, fork *hotsource.ForkDetectedError) error {
	r.log.Warnf("handling reorg: %v", fork)

	hotBlocks, err := r.status.HotBlocksDesc()
	if err != nil {
		return err
	}

	var (
		depth    uint64
		ancestor *Position
	)

	for _, hb := range hotBlocks {
		chainHash, err := r.hot.HeaderHash(ctx, hb.Height)
		if err != nil {
			return err
		}
		if chainHash == hb.Hash {
			ancestor = &Position{Height: hb.Height, Hash: hb.Hash}
			break
		}

		err = r.inTx(func(tx *sql.Tx) error {
			if err := hotstate.Rollback(tx, r.cfg.StatusSchema, hb.Height, r.log); err != nil {
				return err
			}
			// Keep the committed position consistent with the rollback: it
			// drops to the block below, whose hash we know while it is still
			// a hot block.
			parentHash, ok, err := r.status.HotBlockHashTx(tx, hb.Height-1)
			if err != nil {
				return err
			}
			if !ok {
				parentHash = common.Hash{}
			}
			return r.status.CommitTx(tx, hb.Height-1, parentHash)
		})
		if err != nil {
			return fmt.Errorf("rollback of block %d failed: %w", hb.Height, err)
		}
		depth++
	}

	if ancestor == nil {
		// Every hot block was invalidated; the surviving ancestor is the
		// finalized block right below the oldest hot block. Finalized blocks
		// are canonical, so the chain's hash at that height is authoritative.
		if len(hotBlocks) == 0 {
			return fmt.Errorf("fork at block %d but no hot blocks are recorded", fork.Height)
		}
		base := hotBlocks[len(hotBlocks)-1].Height - 1
		hash, err := r.hot.HeaderHash(ctx, base)
		if err != nil {
			return err
		}
		ancestor = &Position{Height: base, Hash: hash}
	}

	if err := r.inTx(func(tx *sql.Tx) error {
		return r.status.CommitTx(tx, ancestor.Height, ancestor.Hash)
	}); err != nil {
		return err
	}

	r.pos = ancestor.Height + 1
	r.prevHash = ancestor.Hash
	metrics.ReorgDepthLog(depth)
	metrics.LastCommittedBlockSet(ancestor.Height)

	r.log.Infof("reorg handled: rolled back %d blocks, resuming above %d (%s)",
		depth, ancestor.Height, ancestor.Hash.Hex())

	return nil
}

// checkBatch enforces the delivery invariants: the batch starts at the
// current position, ends at its own range end and is strictly ascending.
// A violation means the pipeline state is corrupt.
func (r *Runner) checkBatch(batch *evm.BatchResponse) error {
	if batch.Range.From != r.pos {
		return fmt.Errorf("invariant violation: batch starts at %d, expected %d", batch.Range.From, r.pos)
	}
	if len(batch.Blocks) == 0 {
		return fmt.Errorf("invariant violation: empty batch for range [%d, %d]",
			batch.Range.From, *batch.Range.To)
	}
	last := batch.Blocks[len(batch.Blocks)-1].Header.Height
	if batch.Range.To == nil || last != *batch.Range.To {
		return fmt.Errorf("invariant violation: batch ends at %d, range end %v", last, batch.Range.To)
	}
	for i := 1; i < len(batch.Blocks); i++ {
		if batch.Blocks[i-1].Header.Height >= batch.Blocks[i].Header.Height {
			return fmt.Errorf("invariant violation: non-ascending heights %d, %d",
				batch.Blocks[i-1].Header.Height, batch.Blocks[i].Header.Height)
		}
	}
	return nil
}

// withHandlerRetry applies the handler error policy: one retry of the full
// batch by default, then fail.
func (r *Runner) withHandlerRetry(ctx context.Context, fn func() error) error {
	attempts := r.cfg.HandlerRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt < attempts {
			r.log.Warnf("batch attempt %d/%d failed, retrying: %v", attempt, attempts, lastErr)
		}
	}
	return lastErr
}

// inTx runs fn inside a transaction, committing on success.
func (r *Runner) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
