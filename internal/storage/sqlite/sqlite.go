// Package sqlite is the default storage gateway: one SQLite file per indexer.
package sqlite

import (
	"context"
	"fmt"

	"github.com/goran-ethernal/StarkIndexor/internal/common"
	"github.com/goran-ethernal/StarkIndexor/internal/db"
	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/internal/migrations"
	"github.com/goran-ethernal/StarkIndexor/internal/storage/sqlstore"
	"github.com/goran-ethernal/StarkIndexor/pkg/config"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
)

var _ storage.Gateway = (*Gateway)(nil)

// Gateway stores one indexer in a SQLite database. Every transaction holds the
// maintenance operation lock, so WAL checkpoints and VACUUM never run mid-batch.
type Gateway struct {
	*sqlstore.Store

	maintenance db.Maintenance
	log         *logger.Logger
}

// New opens (or creates) the database at cfg.Path and migrates the core and projection tables.
func New(
	cfg config.DatabaseConfig,
	indexer string,
	tables *storage.Schema,
	maintenance *config.MaintenanceConfig,
	log *logger.Logger,
) (*Gateway, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.WithComponent(common.ComponentStorage)

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sqlite config: %w", err)
	}

	database, err := db.OpenSQLite(cfg)
	if err != nil {
		return nil, err
	}

	dialect := sqlstore.SQLite()
	if err := migrations.RunMigrations(log, database, dialect.Migrations(tables)); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", cfg.Path, err)
	}

	log.Infof("sqlite storage ready: indexer=%s path=%s tables=%d", indexer, cfg.Path, len(tables.Tables()))

	return &Gateway{
		Store:       sqlstore.New(database, dialect, indexer, tables),
		maintenance: db.NewMaintenanceCoordinator(indexer, cfg.Path, database, maintenance, log),
		log:         log,
	}, nil
}

// Begin opens a transaction under the maintenance operation lock. Its commit is
// reported to maintenance, which checkpoints the WAL on a commit cadence.
func (g *Gateway) Begin(ctx context.Context) (storage.Tx, error) {
	release := g.maintenance.AcquireOperationLock()
	tx, err := g.Store.BeginTx(ctx, release)
	if err != nil {
		return nil, err
	}
	return &batchTx{Tx: tx, maintenance: g.maintenance}, nil
}

type batchTx struct {
	*sqlstore.Tx
	maintenance db.Maintenance
}

func (t *batchTx) Commit() error {
	if err := t.Tx.Commit(); err != nil {
		return err
	}
	t.maintenance.BatchCommitted()
	return nil
}

// StartMaintenance starts the background maintenance worker, if configured.
func (g *Gateway) StartMaintenance(ctx context.Context) error {
	return g.maintenance.Start(ctx)
}

// Maintenance exposes the coordinator for manual runs and metrics.
func (g *Gateway) Maintenance() db.Maintenance {
	return g.maintenance
}

// Close stops maintenance and closes the database.
func (g *Gateway) Close() error {
	if err := g.maintenance.Stop(); err != nil {
		g.log.Warnf("failed to stop maintenance: %v", err)
	}
	return g.Store.Close()
}
