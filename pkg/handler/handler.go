package handler

import (
	"context"

	"github.com/evmproc-dev/evmproc/internal/logger"
	"github.com/evmproc-dev/evmproc/pkg/evm"
)

// Row is one record handed to the store. Every row must carry its primary
// key under the "id" key; the remaining keys are column values.
type Row map[string]any

// ID returns the row's primary key.
func (r Row) ID() any {
	return r["id"]
}

// Store is the narrow row-ops interface handlers persist through. All
// operations run inside the batch transaction: either the whole batch
// commits together with the processor's progress, or none of it does.
//
// While unfinalized blocks are being processed, every mutation is recorded
// in a side log so it can be undone if the block is rolled back.
type Store interface {
	// Insert adds new rows to the table.
	Insert(table string, rows []Row) error

	// Upsert inserts rows, overwriting existing rows with the same id.
	Upsert(table string, rows []Row) error

	// Delete removes the rows with the given ids from the table.
	Delete(table string, ids []any) error
}

// BatchContext is what a handler invocation receives: the blocks of one
// batch in ascending height order, the transactional store, and a logger.
// IsHead reports whether the batch reaches the current chain height.
type BatchContext struct {
	Blocks []evm.FullBlockData
	IsHead bool
	Store  Store
	Log    *logger.Logger
}

// Handler is the user-supplied sink of the pipeline.
type Handler interface {
	// HandleBatch processes one batch. Returning an error aborts the batch
	// transaction; depending on configuration the batch is retried or the
	// processor fails.
	HandleBatch(ctx context.Context, batch *BatchContext) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, batch *BatchContext) error

// HandleBatch calls the wrapped function.
func (f HandlerFunc) HandleBatch(ctx context.Context, batch *BatchContext) error {
	return f(ctx, batch)
}
