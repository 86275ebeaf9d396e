// Package sqlstore implements the storage gateway on top of database/sql. The SQLite
// and PostgreSQL adapters share it and only differ in their Dialect.
package sqlstore

import (
	"fmt"
	"strings"

	"github.com/goran-ethernal/StarkIndexor/internal/db"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
	"github.com/russross/meddler"
)

// Dialect holds what differs between SQL engines.
type Dialect struct {
	// Name is the driver name, used by sqlx for placeholder rebinding and by metrics.
	Name string
	// ColumnTypes maps logical column types to SQL types.
	ColumnTypes map[storage.ColumnType]string
	// Meddler is the meddler database flavour for checkpoint and block rows.
	Meddler *meddler.Database
	// TablePrefix is prepended to projection table names. Core tables are shared
	// and keyed by indexer.
	TablePrefix string
}

// SQLite is the dialect of mattn/go-sqlite3.
func SQLite() Dialect {
	return Dialect{
		Name: "sqlite3",
		ColumnTypes: map[storage.ColumnType]string{
			storage.ColumnText:    "TEXT",
			storage.ColumnInteger: "INTEGER",
			storage.ColumnBool:    "INTEGER",
			storage.ColumnNumeric: "TEXT",
			storage.ColumnFelt:    "TEXT",
		},
		Meddler: meddler.SQLite,
	}
}

// Postgres is the dialect of the pgx stdlib driver.
func Postgres(prefix string) Dialect {
	return Dialect{
		Name: "pgx",
		ColumnTypes: map[storage.ColumnType]string{
			storage.ColumnText:    "TEXT",
			storage.ColumnInteger: "BIGINT",
			storage.ColumnBool:    "BOOLEAN",
			storage.ColumnNumeric: "NUMERIC(78, 0)",
			storage.ColumnFelt:    "TEXT",
		},
		Meddler:     meddler.PostgreSQL,
		TablePrefix: prefix,
	}
}

func (d Dialect) table(name string) string {
	return d.TablePrefix + name
}

// CreateTable returns the statements creating t and its block index.
func (d Dialect) CreateTable(t storage.Table) []string {
	name := d.table(t.Name)

	cols := make([]string, 0, len(t.AllColumns()))
	for _, c := range t.AllColumns() {
		def := fmt.Sprintf("%s %s", c.Name, d.ColumnTypes[c.Type])
		if c.Name == t.IDColumn || storage.IsReservedColumn(c.Name) {
			def += " NOT NULL"
		}
		cols = append(cols, def)
	}

	pk := fmt.Sprintf("PRIMARY KEY (%s, %s)", t.IDColumn, storage.ColumnBlockNumber)
	if t.Kind == storage.HistoryTable {
		pk = fmt.Sprintf("PRIMARY KEY (%s, %s, %s)", t.IDColumn, storage.ColumnTxHash, storage.ColumnEventIndex)
	}
	cols = append(cols, pk)

	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", name, strings.Join(cols, ",\n\t")),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_block_idx ON %s (%s)", name, name, storage.ColumnBlockNumber),
	}
}

// DropTable returns the statement dropping t.
func (d Dialect) DropTable(t storage.Table) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", d.table(t.Name))
}

// Migrations renders the projection tables as sql-migrate migrations, one per table.
func (d Dialect) Migrations(tables *storage.Schema) []db.Migration {
	out := make([]db.Migration, 0, len(tables.Tables()))
	for _, t := range tables.Tables() {
		var sb strings.Builder
		sb.WriteString("-- +migrate Down\n")
		sb.WriteString(d.DropTable(t) + ";\n\n")
		sb.WriteString(db.UpDownSeparator + "\n")
		for _, stmt := range d.CreateTable(t) {
			sb.WriteString(stmt + ";\n")
		}

		out = append(out, db.Migration{
			ID:     "projection_" + t.Name,
			SQL:    sb.String(),
			Prefix: d.TablePrefix,
		})
	}
	return out
}
