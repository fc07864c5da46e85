package db

import (
	"database/sql"
	"fmt"
	"net/url"

	"github.com/evmproc-dev/evmproc/pkg/config"
	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB opens a processor store with the settings every deployment
// needs: immediate transactions (the batch commit takes the write lock up
// front), WAL journaling, and a generous busy timeout so the handler's
// transaction never fails spuriously against a checkpointing reader.
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	return sql.Open("sqlite3", sqliteDSN(dbPath, "WAL", true, 30000))
}

// NewSQLiteDBFromConfig opens a processor store honoring the tuning knobs
// of the database configuration.
func NewSQLiteDBFromConfig(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(cfg.Path, cfg.JournalMode, cfg.EnableForeignKeys, cfg.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)

	// Synchronous level and cache size are per-connection pragmas that the
	// driver does not accept in the DSN.
	pragmas := []string{
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.Synchronous),
		fmt.Sprintf("PRAGMA cache_size = %d", cfg.CacheSize),
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	return db, nil
}

func sqliteDSN(path, journalMode string, foreignKeys bool, busyTimeout int) string {
	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Set("_journal_mode", journalMode)
	params.Set("_busy_timeout", fmt.Sprintf("%d", busyTimeout))
	if foreignKeys {
		params.Set("_foreign_keys", "on")
	} else {
		params.Set("_foreign_keys", "off")
	}

	return fmt.Sprintf("file:%s?%s", path, params.Encode())
}
