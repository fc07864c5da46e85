package hotstate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evmproc-dev/evmproc/internal/logger"
	"github.com/evmproc-dev/evmproc/internal/metrics"
	"github.com/evmproc-dev/evmproc/internal/store"
	"github.com/evmproc-dev/evmproc/pkg/handler"
)

// Compile-time check to ensure Tracker implements handler.Store.
var _ handler.Store = (*Tracker)(nil)

// Tracker wraps the row store while the handler processes an unfinalized
// block. Every mutation is mirrored into the hot change log before it is
// applied, with a per-block monotone index, so the rollback engine can undo
// the block later. One tracker instance serves exactly one block.
type Tracker struct {
	inner  *store.TxStore
	schema string
	height uint64
	next   int
	log    *logger.Logger
}

// NewTracker creates a tracker for the block at the given height.
func NewTracker(inner *store.TxStore, schema string, height uint64, log *logger.Logger) *Tracker {
	return &Tracker{
		inner:  inner,
		schema: schema,
		height: height,
		log:    log.WithComponent("change-tracker"),
	}
}

// Insert records an insert per row, then applies it.
func (t *Tracker) Insert(table string, rows []handler.Row) error {
	records := make([]ChangeRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, ChangeRecord{Kind: ChangeInsert, Table: table, ID: row.ID()})
	}
	if err := t.appendRecords(records); err != nil {
		return err
	}
	return t.inner.Insert(table, rows)
}

// Upsert looks up the pre-image of every targeted row first: rows that
// already exist are recorded as updates with their full prior state, absent
// rows as plain inserts. The write is applied afterwards.
func (t *Tracker) Upsert(table string, rows []handler.Row) error {
	ids := make([]any, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID())
	}

	existing, err := t.inner.SelectRows(table, ids)
	if err != nil {
		return err
	}

	records := make([]ChangeRecord, 0, len(rows))
	for _, row := range rows {
		if prior, ok := existing[row.ID()]; ok {
			records = append(records, ChangeRecord{
				Kind:        ChangeUpdate,
				Table:       table,
				ID:          row.ID(),
				PriorFields: prior,
			})
		} else {
			records = append(records, ChangeRecord{Kind: ChangeInsert, Table: table, ID: row.ID()})
		}
	}
	if err := t.appendRecords(records); err != nil {
		return err
	}
	return t.inner.Upsert(table, rows)
}

// Delete records the full pre-image of every row to be deleted, then
// applies the delete.
func (t *Tracker) Delete(table string, ids []any) error {
	existing, err := t.inner.SelectRows(table, ids)
	if err != nil {
		return err
	}

	records := make([]ChangeRecord, 0, len(existing))
	for _, id := range ids {
		prior, ok := existing[id]
		if !ok {
			continue
		}
		records = append(records, ChangeRecord{
			Kind:        ChangeDelete,
			Table:       table,
			ID:          id,
			PriorFields: prior,
		})
	}
	if err := t.appendRecords(records); err != nil {
		return err
	}
	return t.inner.Delete(table, ids)
}

// appendRecords bulk-inserts the records into the hot change log.
func (t *Tracker) appendRecords(records []ChangeRecord) error {
	if len(records) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(records))
	args := make([]any, 0, len(records)*3)
	for _, record := range records {
		change, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encoding change record for %s: %w", record.Table, err)
		}
		placeholders = append(placeholders, "(?, ?, ?)")
		args = append(args, t.height, t.next, string(change))
		t.next++
	}

	query := fmt.Sprintf("INSERT INTO %s_hot_change_log (block_height, idx, change) VALUES %s",
		t.schema, strings.Join(placeholders, ", "))
	if _, err := t.inner.Tx().Exec(query, args...); err != nil {
		return fmt.Errorf("appending to hot change log: %w", err)
	}

	metrics.ChangeRecordsWrittenAdd(len(records))
	t.log.Debugf("recorded %d changes for block %d", len(records), t.height)

	return nil
}
