package runner

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evmproc-dev/evmproc/internal/logger"
	"github.com/russross/meddler"
)

// Position is the committed progress of the processor.
// Uses meddler tags for automatic struct-to-db mapping.
type Position struct {
	Height uint64      `meddler:"height"`
	Hash   common.Hash `meddler:"hash,hash"`
}

// HotBlock is one committed but unfinalized block.
type HotBlock struct {
	Height uint64      `meddler:"height"`
	Hash   common.Hash `meddler:"hash,hash"`
}

// StatusStore persists the processor's progress and the hot block index
// under the configured schema prefix.
type StatusStore struct {
	db     *sql.DB
	schema string
	log    *logger.Logger
}

// NewStatusStore creates a status store for the given schema prefix.
func NewStatusStore(db *sql.DB, schema string, log *logger.Logger) *StatusStore {
	return &StatusStore{
		db:     db,
		schema: schema,
		log:    log.WithComponent("status-store"),
	}
}

// Load returns the last committed position, or nil when the processor has
// never committed.
func (s *StatusStore) Load() (*Position, error) {
	var pos Position
	err := meddler.QueryRow(s.db, &pos,
		fmt.Sprintf("SELECT height, hash FROM %s_status WHERE id = 0", s.schema))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load status: %w", err)
	}
	return &pos, nil
}

// CommitTx records the committed position inside the batch transaction.
func (s *StatusStore) CommitTx(tx *sql.Tx, height uint64, hash common.Hash) error {
	_, err := tx.Exec(
		fmt.Sprintf(`INSERT INTO %s_status (id, height, hash) VALUES (0, ?, ?)
			ON CONFLICT(id) DO UPDATE SET height = excluded.height, hash = excluded.hash`, s.schema),
		height, hash.Hex(),
	)
	if err != nil {
		return fmt.Errorf("failed to commit position %d: %w", height, err)
	}
	return nil
}

// InsertHotBlockTx records an unfinalized committed block.
func (s *StatusStore) InsertHotBlockTx(tx *sql.Tx, height uint64, hash common.Hash) error {
	_, err := tx.Exec(
		fmt.Sprintf("INSERT INTO %s_hot_block (height, hash) VALUES (?, ?)", s.schema),
		height, hash.Hex(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert hot block %d: %w", height, err)
	}
	return nil
}

// HotBlocksDesc returns all hot blocks, highest first.
func (s *StatusStore) HotBlocksDesc() ([]*HotBlock, error) {
	var blocks []*HotBlock
	err := meddler.QueryAll(s.db, &blocks,
		fmt.Sprintf("SELECT height, hash FROM %s_hot_block ORDER BY height DESC", s.schema))
	if err != nil {
		return nil, fmt.Errorf("failed to load hot blocks: %w", err)
	}
	return blocks, nil
}

// HotBlockHashTx returns the stored hash at the given height inside a
// transaction, or false when the height is not a hot block.
func (s *StatusStore) HotBlockHashTx(tx *sql.Tx, height uint64) (common.Hash, bool, error) {
	var block HotBlock
	err := meddler.QueryRow(tx, &block,
		fmt.Sprintf("SELECT height, hash FROM %s_hot_block WHERE height = ?", s.schema), height)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Hash{}, false, nil
	}
	if err != nil {
		return common.Hash{}, false, err
	}
	return block.Hash, true, nil
}

// PruneFinalizedTx drops hot blocks and their change records at or below
// the finalized height. Finalized blocks cannot be rolled back, so the side
// log must not retain records for them.
func (s *StatusStore) PruneFinalizedTx(tx *sql.Tx, finalized uint64) error {
	result, err := tx.Exec(
		fmt.Sprintf("DELETE FROM %s_hot_block WHERE height <= ?", s.schema), finalized)
	if err != nil {
		return fmt.Errorf("failed to prune hot blocks: %w", err)
	}
	if _, err := tx.Exec(
		fmt.Sprintf("DELETE FROM %s_hot_change_log WHERE block_height <= ?", s.schema), finalized,
	); err != nil {
		return fmt.Errorf("failed to prune change log: %w", err)
	}

	if pruned, _ := result.RowsAffected(); pruned > 0 {
		s.log.Debugf("pruned %d finalized hot blocks at or below %d", pruned, finalized)
	}

	return nil
}
