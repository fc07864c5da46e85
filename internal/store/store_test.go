package store

import (
	"database/sql"
	"testing"

	"github.com/evmproc-dev/evmproc/internal/db"
	"github.com/evmproc-dev/evmproc/pkg/config"
	"github.com/evmproc-dev/evmproc/pkg/handler"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbConfig := config.DatabaseConfig{Path: t.TempDir() + "/store_test.db"}
	dbConfig.ApplyDefaults()

	database, err := db.NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	_, err = database.Exec(`CREATE TABLE accounts (id TEXT PRIMARY KEY, balance INTEGER, owner TEXT)`)
	require.NoError(t, err)

	return database
}

func inTx(t *testing.T, database *sql.DB, fn func(st *TxStore)) {
	t.Helper()

	tx, err := database.Begin()
	require.NoError(t, err)
	fn(NewTxStore(tx))
	require.NoError(t, tx.Commit())
}

func TestTxStore_InsertAndSelect(t *testing.T) {
	database := setupTestDB(t)

	inTx(t, database, func(st *TxStore) {
		require.NoError(t, st.Insert("accounts", []handler.Row{
			{"id": "a", "balance": int64(10), "owner": "alice"},
			{"id": "b", "balance": int64(20), "owner": "bob"},
		}))
	})

	inTx(t, database, func(st *TxStore) {
		rows, err := st.SelectRows("accounts", []any{"a", "b", "missing"})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		require.Equal(t, int64(10), rows["a"]["balance"])
		require.Equal(t, "bob", rows["b"]["owner"])
	})
}

func TestTxStore_Upsert(t *testing.T) {
	database := setupTestDB(t)

	inTx(t, database, func(st *TxStore) {
		require.NoError(t, st.Insert("accounts", []handler.Row{
			{"id": "a", "balance": int64(10), "owner": "alice"},
		}))
	})

	inTx(t, database, func(st *TxStore) {
		require.NoError(t, st.Upsert("accounts", []handler.Row{
			{"id": "a", "balance": int64(99), "owner": "alice"},
			{"id": "c", "balance": int64(5), "owner": "carol"},
		}))
	})

	inTx(t, database, func(st *TxStore) {
		rows, err := st.SelectRows("accounts", []any{"a", "c"})
		require.NoError(t, err)
		require.Equal(t, int64(99), rows["a"]["balance"])
		require.Equal(t, int64(5), rows["c"]["balance"])
	})
}

func TestTxStore_Delete(t *testing.T) {
	database := setupTestDB(t)

	inTx(t, database, func(st *TxStore) {
		require.NoError(t, st.Insert("accounts", []handler.Row{
			{"id": "a", "balance": int64(10), "owner": "alice"},
			{"id": "b", "balance": int64(20), "owner": "bob"},
		}))
	})

	inTx(t, database, func(st *TxStore) {
		require.NoError(t, st.Delete("accounts", []any{"a"}))
	})

	inTx(t, database, func(st *TxStore) {
		rows, err := st.SelectRows("accounts", []any{"a", "b"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Contains(t, rows, "b")
	})
}

func TestTxStore_RejectsRowWithoutID(t *testing.T) {
	database := setupTestDB(t)

	inTx(t, database, func(st *TxStore) {
		err := st.Insert("accounts", []handler.Row{{"balance": int64(1)}})
		require.Error(t, err)
		require.Contains(t, err.Error(), "row without id")
	})
}

func TestTxStore_RejectsBadIdentifiers(t *testing.T) {
	database := setupTestDB(t)

	inTx(t, database, func(st *TxStore) {
		err := st.Insert("", []handler.Row{{"id": "a"}})
		require.Error(t, err)

		err = st.Delete("bad\x00table", []any{"a"})
		require.Error(t, err)
	})
}

func TestTxStore_QuotedIdentifiers(t *testing.T) {
	database := setupTestDB(t)

	_, err := database.Exec(`CREATE TABLE "odd name" (id TEXT PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)

	inTx(t, database, func(st *TxStore) {
		require.NoError(t, st.Insert("odd name", []handler.Row{{"id": "x", "v": "1"}}))
	})

	inTx(t, database, func(st *TxStore) {
		rows, err := st.SelectRows("odd name", []any{"x"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
	})
}
