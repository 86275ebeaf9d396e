package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	migrate "github.com/rubenv/sql-migrate"
)

const (
	UpDownSeparator  = "-- +migrate Up"
	downMarker       = "-- +migrate Down"
	dbPrefixReplacer = "/*dbprefix*/"

	// MigrationsTable records applied migrations in every indexer database.
	MigrationsTable = "starkindexor_migrations"
)

// Migration is one sql-migrate script: a Down section, the separator, then Up.
// Prefix replaces /*dbprefix*/ in the script and is prepended to the id.
type Migration struct {
	ID     string
	SQL    string
	Prefix string
}

// parse splits m into the sql-migrate representation.
func (m Migration) parse() (*migrate.Migration, error) {
	prefixed := strings.ReplaceAll(m.SQL, dbPrefixReplacer, m.Prefix)
	down, up, ok := strings.Cut(prefixed, UpDownSeparator)
	if !ok {
		return nil, fmt.Errorf("migration %s missing %q separator", m.ID, UpDownSeparator)
	}

	if _, rest, found := strings.Cut(down, downMarker); found {
		down = rest
	}

	return &migrate.Migration{
		Id:   m.Prefix + m.ID,
		Up:   []string{strings.TrimSpace(up)},
		Down: []string{strings.TrimSpace(down)},
	}, nil
}

// Migrate applies every pending migration of one indexer database, in order, and
// returns how many ran.
func Migrate(log *logger.Logger, db *sql.DB, migrations []Migration) (int, error) {
	source := &migrate.MemoryMigrationSource{}
	ids := make([]string, 0, len(migrations))
	for _, m := range migrations {
		parsed, err := m.parse()
		if err != nil {
			return 0, err
		}
		source.Migrations = append(source.Migrations, parsed)
		ids = append(ids, parsed.Id)
	}

	set := migrate.MigrationSet{TableName: MigrationsTable}
	n, err := set.Exec(db, "sqlite3", source, migrate.Up)
	if err != nil {
		return n, fmt.Errorf("failed to apply migrations [%s]: %w", strings.Join(ids, ", "), err)
	}

	if n > 0 {
		log.Infof("applied %d of %d migrations", n, len(ids))
	} else {
		log.Debugf("schema up to date: %s", strings.Join(ids, ", "))
	}
	return n, nil
}
