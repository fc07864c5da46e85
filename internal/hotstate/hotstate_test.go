package hotstate

import (
	"database/sql"
	"testing"

	"github.com/evmproc-dev/evmproc/internal/db"
	"github.com/evmproc-dev/evmproc/internal/logger"
	"github.com/evmproc-dev/evmproc/internal/migrations"
	"github.com/evmproc-dev/evmproc/internal/store"
	"github.com/evmproc-dev/evmproc/pkg/config"
	"github.com/evmproc-dev/evmproc/pkg/handler"
	"github.com/stretchr/testify/require"
)

const schema = "test_processor"

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbConfig := config.DatabaseConfig{Path: t.TempDir() + "/hotstate_test.db"}
	dbConfig.ApplyDefaults()

	database, err := db.NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, migrations.RunMigrations(database, schema, logger.NewNopLogger()))

	_, err = database.Exec(`CREATE TABLE accounts (id TEXT PRIMARY KEY, balance INTEGER, owner TEXT)`)
	require.NoError(t, err)

	return database
}

// applyBlock runs fn against a tracker for the given height in its own
// transaction, the way the runner wraps hot blocks.
func applyBlock(t *testing.T, database *sql.DB, height uint64, fn func(tracker *Tracker)) {
	t.Helper()

	tx, err := database.Begin()
	require.NoError(t, err)
	fn(NewTracker(store.NewTxStore(tx), schema, height, logger.NewNopLogger()))
	require.NoError(t, tx.Commit())
}

func rollbackBlock(t *testing.T, database *sql.DB, height uint64) {
	t.Helper()

	tx, err := database.Begin()
	require.NoError(t, err)
	require.NoError(t, Rollback(tx, schema, height, logger.NewNopLogger()))
	require.NoError(t, tx.Commit())
}

// snapshot reads the whole accounts table keyed by id.
func snapshot(t *testing.T, database *sql.DB) map[string]handler.Row {
	t.Helper()

	rows, err := database.Query(`SELECT id, balance, owner FROM accounts ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	out := make(map[string]handler.Row)
	for rows.Next() {
		var (
			id      string
			balance sql.NullInt64
			owner   sql.NullString
		)
		require.NoError(t, rows.Scan(&id, &balance, &owner))
		out[id] = handler.Row{"id": id, "balance": balance.Int64, "owner": owner.String}
	}
	return out
}

func changeLogCount(t *testing.T, database *sql.DB, height uint64) int {
	t.Helper()

	var count int
	require.NoError(t, database.QueryRow(
		`SELECT COUNT(*) FROM `+schema+`_hot_change_log WHERE block_height = ?`, height,
	).Scan(&count))
	return count
}

func TestTracker_RecordsChanges(t *testing.T) {
	database := setupTestDB(t)

	applyBlock(t, database, 10, func(tracker *Tracker) {
		require.NoError(t, tracker.Insert("accounts", []handler.Row{
			{"id": "a", "balance": int64(10), "owner": "alice"},
		}))
		require.NoError(t, tracker.Upsert("accounts", []handler.Row{
			{"id": "a", "balance": int64(20), "owner": "alice"}, // update: pre-image recorded
			{"id": "b", "balance": int64(5), "owner": "bob"},    // insert
		}))
		require.NoError(t, tracker.Delete("accounts", []any{"b"}))
	})

	// insert + update + insert + delete
	require.Equal(t, 4, changeLogCount(t, database, 10))
}

func TestRollback_InvertsApplies(t *testing.T) {
	database := setupTestDB(t)

	// Pre-existing state from finalized history.
	applyBlock(t, database, 0, func(tracker *Tracker) {
		require.NoError(t, tracker.Insert("accounts", []handler.Row{
			{"id": "a", "balance": int64(100), "owner": "alice"},
			{"id": "b", "balance": int64(200), "owner": "bob"},
		}))
	})
	// Block 0 is treated as finalized: forget its records.
	_, err := database.Exec(`DELETE FROM ` + schema + `_hot_change_log`)
	require.NoError(t, err)

	before := snapshot(t, database)

	// Two hot blocks full of inserts, updates and deletes.
	applyBlock(t, database, 11, func(tracker *Tracker) {
		require.NoError(t, tracker.Upsert("accounts", []handler.Row{
			{"id": "a", "balance": int64(150), "owner": "alice"},
			{"id": "c", "balance": int64(1), "owner": "carol"},
		}))
		require.NoError(t, tracker.Delete("accounts", []any{"b"}))
	})
	applyBlock(t, database, 12, func(tracker *Tracker) {
		require.NoError(t, tracker.Insert("accounts", []handler.Row{
			{"id": "d", "balance": int64(7), "owner": "dave"},
		}))
		require.NoError(t, tracker.Upsert("accounts", []handler.Row{
			{"id": "c", "balance": int64(2), "owner": "carol"},
		}))
	})

	require.NotEqual(t, before, snapshot(t, database))

	// Undo newest-first: the store must return to the exact pre-batch state.
	rollbackBlock(t, database, 12)
	rollbackBlock(t, database, 11)

	require.Equal(t, before, snapshot(t, database))
	require.Zero(t, changeLogCount(t, database, 11))
	require.Zero(t, changeLogCount(t, database, 12))
}

func TestRollback_OnlyTargetBlockReverted(t *testing.T) {
	database := setupTestDB(t)

	applyBlock(t, database, 10, func(tracker *Tracker) {
		require.NoError(t, tracker.Insert("accounts", []handler.Row{
			{"id": "x", "balance": int64(1), "owner": "xavier"},
		}))
	})
	afterTen := snapshot(t, database)

	applyBlock(t, database, 11, func(tracker *Tracker) {
		require.NoError(t, tracker.Insert("accounts", []handler.Row{
			{"id": "y", "balance": int64(2), "owner": "yana"},
		}))
		require.NoError(t, tracker.Upsert("accounts", []handler.Row{
			{"id": "x", "balance": int64(9), "owner": "xavier"},
		}))
	})

	rollbackBlock(t, database, 11)

	require.Equal(t, afterTen, snapshot(t, database))
	require.Equal(t, 1, changeLogCount(t, database, 10), "other blocks' records are untouched")
}

func TestRollback_RemovesHotBlockRow(t *testing.T) {
	database := setupTestDB(t)

	_, err := database.Exec(
		`INSERT INTO `+schema+`_hot_block (height, hash) VALUES (?, ?)`, 11, "0xdead")
	require.NoError(t, err)

	applyBlock(t, database, 11, func(tracker *Tracker) {
		require.NoError(t, tracker.Insert("accounts", []handler.Row{
			{"id": "y", "balance": int64(2), "owner": "yana"},
		}))
	})

	rollbackBlock(t, database, 11)

	var count int
	require.NoError(t, database.QueryRow(
		`SELECT COUNT(*) FROM `+schema+`_hot_block WHERE height = 11`).Scan(&count))
	require.Zero(t, count)
}
