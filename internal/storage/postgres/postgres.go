// Package postgres stores indexers in a shared PostgreSQL database. Core tables are
// keyed by indexer name and projection tables are prefixed with it.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/goran-ethernal/StarkIndexor/internal/common"
	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/internal/storage/sqlstore"
	"github.com/goran-ethernal/StarkIndexor/pkg/config"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var coreMigrations embed.FS

var _ storage.Gateway = (*Gateway)(nil)

// Gateway is a storage.Gateway over PostgreSQL.
type Gateway struct {
	*sqlstore.Store

	log *logger.Logger
}

// TablePrefix returns the prefix of an indexer's projection tables.
func TablePrefix(indexer string) string {
	return common.SQLIdentifier(indexer) + "_"
}

// New connects, applies the core migrations and creates the projection tables.
func New(
	ctx context.Context,
	cfg config.PostgresConfig,
	indexer string,
	tables *storage.Schema,
	log *logger.Logger,
) (*Gateway, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.WithComponent(common.ComponentStorage)
	cfg.ApplyDefaults()

	database, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	database.SetMaxOpenConns(cfg.MaxOpenConnections)
	database.SetMaxIdleConns(cfg.MaxIdleConnections)
	database.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)

	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := migrateCore(ctx, database); err != nil {
		database.Close()
		return nil, err
	}

	dialect := sqlstore.Postgres(TablePrefix(indexer))
	if err := createTables(ctx, database, dialect, tables); err != nil {
		database.Close()
		return nil, err
	}

	log.Infof("postgres storage ready: indexer=%s prefix=%s tables=%d",
		indexer, dialect.TablePrefix, len(tables.Tables()))

	return &Gateway{
		Store: sqlstore.New(database, dialect, indexer, tables),
		log:   log,
	}, nil
}

// Begin opens a transaction.
func (g *Gateway) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := g.Store.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func migrateCore(ctx context.Context, database *sql.DB) error {
	goose.SetBaseFS(coreMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, database, "migrations"); err != nil {
		return fmt.Errorf("failed to run core migrations: %w", err)
	}
	return nil
}

func createTables(ctx context.Context, database *sql.DB, dialect sqlstore.Dialect, tables *storage.Schema) error {
	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, t := range tables.Tables() {
		for _, stmt := range dialect.CreateTable(t) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create table %s: %w", t.Name, err)
			}
		}
	}
	return tx.Commit()
}
