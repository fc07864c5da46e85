package hotstate

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evmproc-dev/evmproc/internal/db"
	"github.com/evmproc-dev/evmproc/internal/logger"
	"github.com/evmproc-dev/evmproc/internal/metrics"
	"github.com/evmproc-dev/evmproc/internal/store"
	"github.com/evmproc-dev/evmproc/pkg/handler"
)

// Rollback undoes every mutation the handler performed for the block at the
// given height by replaying its change records newest-first: inserts are
// deleted, updates restored from their pre-image, deletes re-inserted. The
// block's hot_block row is removed last. Everything runs inside the supplied
// transaction; any failure leaves the store in an inconsistent state and is
// therefore fatal to the processor.
func Rollback(tx *sql.Tx, schema string, height uint64, log *logger.Logger) error {
	log = log.WithComponent("rollback")

	records, err := readRecords(tx, schema, height)
	if err != nil {
		return err
	}

	st := store.NewTxStore(tx)
	for _, record := range records {
		if err := invert(st, &record); err != nil {
			return fmt.Errorf("rolling back block %d: %w", height, err)
		}
	}

	if _, err := tx.Exec(
		fmt.Sprintf("DELETE FROM %s_hot_change_log WHERE block_height = ?", schema), height,
	); err != nil {
		return fmt.Errorf("clearing change log for block %d: %w", height, err)
	}
	if _, err := tx.Exec(
		fmt.Sprintf("DELETE FROM %s_hot_block WHERE height = ?", schema), height,
	); err != nil {
		return fmt.Errorf("removing hot block %d: %w", height, err)
	}

	metrics.RollbackInc()
	log.Infof("rolled back block %d: %d changes undone", height, len(records))

	return nil
}

// readRecords loads the block's change records sorted by index descending.
func readRecords(tx *sql.Tx, schema string, height uint64) ([]ChangeRecord, error) {
	rows, err := tx.Query(
		fmt.Sprintf("SELECT change FROM %s_hot_change_log WHERE block_height = ? ORDER BY idx DESC", schema),
		height,
	)
	if err != nil {
		return nil, fmt.Errorf("reading change log for block %d: %w", height, err)
	}
	defer rows.Close()

	var records []ChangeRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var record ChangeRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("decoding change record for block %d: %w", height, err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

func invert(st *store.TxStore, record *ChangeRecord) error {
	switch record.Kind {
	case ChangeInsert:
		return st.Delete(record.Table, []any{record.ID})

	case ChangeUpdate:
		return restoreRow(st, record)

	case ChangeDelete:
		if record.PriorFields == nil {
			return fmt.Errorf("delete record for %s id %v has no pre-image", record.Table, record.ID)
		}
		return st.Insert(record.Table, []handler.Row{handler.Row(record.PriorFields)})

	default:
		return fmt.Errorf("unknown change kind %q", record.Kind)
	}
}

// restoreRow writes the recorded pre-image back over the current row.
func restoreRow(st *store.TxStore, record *ChangeRecord) error {
	if record.PriorFields == nil {
		return fmt.Errorf("update record for %s id %v has no pre-image", record.Table, record.ID)
	}

	quotedTable, err := db.EscapeIdent(record.Table)
	if err != nil {
		return fmt.Errorf("table %q: %w", record.Table, err)
	}

	prior := handler.Row(record.PriorFields)
	cols := store.RowColumns(prior)
	assignments := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		if col == "id" {
			continue
		}
		quoted, err := db.EscapeIdent(col)
		if err != nil {
			return fmt.Errorf("table %q column %q: %w", record.Table, col, err)
		}
		assignments = append(assignments, quoted+" = ?")
		args = append(args, prior[col])
	}

	if len(assignments) == 0 {
		return nil
	}

	args = append(args, record.ID)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", quotedTable, strings.Join(assignments, ", "))
	if _, err := st.Tx().Exec(query, args...); err != nil {
		return fmt.Errorf("restoring %s id %v: %w", record.Table, record.ID, err)
	}

	return nil
}
