// Package migrations holds the SQLite schema shared by every indexer: checkpoints
// and the tracked block window. Projection tables are generated from their schema.
package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/goran-ethernal/StarkIndexor/internal/db"
	"github.com/goran-ethernal/StarkIndexor/internal/logger"
)

//go:embed 001_core.sql
var mig001 string

// Core returns the core migrations.
func Core() []db.Migration {
	return []db.Migration{
		{
			ID:  "001_core.sql",
			SQL: mig001,
		},
	}
}

// RunMigrations applies the core migrations followed by the projection ones.
func RunMigrations(log *logger.Logger, database *sql.DB, projection []db.Migration) error {
	_, err := db.Migrate(log, database, append(Core(), projection...))
	return err
}
