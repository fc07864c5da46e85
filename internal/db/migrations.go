package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/evmproc-dev/evmproc/internal/logger"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"

	// schemaPrefixToken is replaced with the configured status-schema prefix,
	// so one migration file serves any number of processors sharing a store.
	schemaPrefixToken = "/*dbprefix*/"
)

// Migration is one embedded SQL migration. Prefix is prepended to the
// migration id and substituted for the schema prefix token in the SQL.
type Migration struct {
	ID     string
	SQL    string
	Prefix string
}

// RunMigrations opens the database at the given path and applies all
// pending migrations.
func RunMigrations(dbPath string, migrations []Migration) error {
	db, err := NewSQLiteDB(dbPath)
	if err != nil {
		return fmt.Errorf("error creating DB %w", err)
	}
	return RunMigrationsDB(logger.GetDefaultLogger(), db, migrations)
}

// RunMigrationsDB applies all pending migrations on an open database. Each
// migration's SQL must carry a "-- +migrate Up" section; an optional
// "-- +migrate Down" section before it is parsed as well. Only the up
// direction is executed here, the down sections are kept so operators can
// roll a schema back by hand.
func RunMigrationsDB(log *logger.Logger, db *sql.DB, migrations []Migration) error {
	source := &migrate.MemoryMigrationSource{}

	ids := make([]string, 0, len(migrations))
	for _, m := range migrations {
		parsed, err := m.parse()
		if err != nil {
			return err
		}
		source.Migrations = append(source.Migrations, parsed)
		ids = append(ids, parsed.Id)
	}

	log.Debugf("running %d migrations: %s", len(ids), strings.Join(ids, ", "))

	applied, err := migrate.Exec(db, "sqlite3", source, migrate.Up)
	if err != nil {
		return fmt.Errorf("error executing migrations %s: %w", strings.Join(ids, ", "), err)
	}

	log.Infof("successfully ran %d migrations from migrations: %s", applied, strings.Join(ids, ", "))
	return nil
}

// parse splits the migration into its up and down statements with the
// schema prefix substituted.
func (m Migration) parse() (*migrate.Migration, error) {
	sql := strings.ReplaceAll(m.SQL, schemaPrefixToken, m.Prefix)

	up := strings.Index(sql, upMarker)
	if up == -1 {
		return nil, fmt.Errorf("migration %s missing '-- +migrate Up' separator", m.ID)
	}

	downSQL := sql[:up]
	if idx := strings.Index(downSQL, downMarker); idx != -1 {
		downSQL = downSQL[idx+len(downMarker):]
	}

	return &migrate.Migration{
		Id:   m.Prefix + m.ID,
		Up:   []string{strings.TrimSpace(sql[up+len(upMarker):])},
		Down: []string{strings.TrimSpace(downSQL)},
	}, nil
}
