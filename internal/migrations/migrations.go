package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/evmproc-dev/evmproc/internal/db"
	"github.com/evmproc-dev/evmproc/internal/logger"
)

//go:embed 001_processor_status_1.sql
var mig001 string

// RunMigrations creates the processor's own state tables (status checkpoint,
// hot block index, hot change log) under the configured schema prefix.
func RunMigrations(database *sql.DB, schema string, log *logger.Logger) error {
	migrations := []db.Migration{
		{
			ID:     "001_processor_status_1.sql",
			SQL:    mig001,
			Prefix: schema + "_",
		},
	}

	return db.RunMigrationsDB(log, database, migrations)
}
