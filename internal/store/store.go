package store

import (
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/evmproc-dev/evmproc/internal/db"
	"github.com/evmproc-dev/evmproc/pkg/handler"
)

// Compile-time check to ensure TxStore implements handler.Store.
var _ handler.Store = (*TxStore)(nil)

// TxStore implements the row-ops interface over a single store transaction.
// It performs no change tracking; during hot batches the change tracker
// wraps it.
type TxStore struct {
	tx *sql.Tx
}

// NewTxStore builds a store bound to the given transaction.
func NewTxStore(tx *sql.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// Tx exposes the underlying transaction for components layered on top.
func (s *TxStore) Tx() *sql.Tx {
	return s.tx
}

// Insert adds new rows to the table.
func (s *TxStore) Insert(table string, rows []handler.Row) error {
	return s.write(table, rows, false)
}

// Upsert inserts rows, overwriting existing rows with the same id.
func (s *TxStore) Upsert(table string, rows []handler.Row) error {
	return s.write(table, rows, true)
}

func (s *TxStore) write(table string, rows []handler.Row, upsert bool) error {
	quotedTable, err := db.EscapeIdent(table)
	if err != nil {
		return fmt.Errorf("table %q: %w", table, err)
	}

	for _, row := range rows {
		if row.ID() == nil {
			return fmt.Errorf("table %q: row without id", table)
		}

		cols := RowColumns(row)
		quoted := make([]string, len(cols))
		placeholders := make([]string, len(cols))
		args := make([]any, len(cols))
		for i, col := range cols {
			if quoted[i], err = db.EscapeIdent(col); err != nil {
				return fmt.Errorf("table %q column %q: %w", table, col, err)
			}
			placeholders[i] = "?"
			args[i] = row[col]
		}

		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quotedTable, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
		if upsert {
			assignments := make([]string, 0, len(cols))
			for i, col := range cols {
				if col == "id" {
					continue
				}
				assignments = append(assignments, quoted[i]+" = excluded."+quoted[i])
			}
			if len(assignments) > 0 {
				query += " ON CONFLICT(id) DO UPDATE SET " + strings.Join(assignments, ", ")
			} else {
				query += " ON CONFLICT(id) DO NOTHING"
			}
		}

		if _, err := s.tx.Exec(query, args...); err != nil {
			return fmt.Errorf("writing %s: %w", table, err)
		}
	}

	return nil
}

// Delete removes the rows with the given ids from the table.
func (s *TxStore) Delete(table string, ids []any) error {
	if len(ids) == 0 {
		return nil
	}

	quotedTable, err := db.EscapeIdent(table)
	if err != nil {
		return fmt.Errorf("table %q: %w", table, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	query := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", quotedTable, placeholders)
	if _, err := s.tx.Exec(query, ids...); err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}

	return nil
}

// SelectRows fetches the full pre-image of the rows with the given ids.
// Used by the change tracker to record state before overwriting it.
func (s *TxStore) SelectRows(table string, ids []any) (map[any]handler.Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	quotedTable, err := db.EscapeIdent(table)
	if err != nil {
		return nil, fmt.Errorf("table %q: %w", table, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	query := fmt.Sprintf("SELECT * FROM %s WHERE id IN (%s)", quotedTable, placeholders)

	rows, err := s.tx.Query(query, ids...)
	if err != nil {
		return nil, fmt.Errorf("selecting from %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make(map[any]handler.Row)
	for rows.Next() {
		values := make([]any, len(cols))
		targets := make([]any, len(cols))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}

		row := make(handler.Row, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out[row.ID()] = row
	}

	return out, rows.Err()
}

// RowColumns returns the row's column names in deterministic order.
func RowColumns(row handler.Row) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	slices.Sort(cols)
	return cols
}
