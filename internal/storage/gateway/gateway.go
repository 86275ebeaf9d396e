// Package gateway opens the storage gateway configured for an indexer.
package gateway

import (
	"context"
	"fmt"

	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/internal/storage/badgerstore"
	"github.com/goran-ethernal/StarkIndexor/internal/storage/postgres"
	"github.com/goran-ethernal/StarkIndexor/internal/storage/sqlite"
	"github.com/goran-ethernal/StarkIndexor/pkg/config"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
)

// Open creates the gateway selected by cfg.Storage.Driver for the given tables.
func Open(
	ctx context.Context,
	cfg config.IndexerConfig,
	tables *storage.Schema,
	log *logger.Logger,
) (storage.Gateway, error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite, "":
		if cfg.Storage.SQLite == nil {
			return nil, fmt.Errorf("indexer %s: sqlite settings are missing", cfg.Name)
		}
		g, err := sqlite.New(*cfg.Storage.SQLite, cfg.Name, tables, cfg.Maintenance, log)
		if err != nil {
			return nil, err
		}
		if err := g.StartMaintenance(ctx); err != nil {
			g.Close()
			return nil, fmt.Errorf("failed to start maintenance: %w", err)
		}
		return g, nil

	case config.DriverPostgres:
		if cfg.Storage.Postgres == nil {
			return nil, fmt.Errorf("indexer %s: postgres settings are missing", cfg.Name)
		}
		g, err := postgres.New(ctx, *cfg.Storage.Postgres, cfg.Name, tables, log)
		if err != nil {
			return nil, err
		}
		return g, nil

	case config.DriverBadger:
		if cfg.Storage.Badger == nil {
			return nil, fmt.Errorf("indexer %s: badger settings are missing", cfg.Name)
		}
		g, err := badgerstore.New(*cfg.Storage.Badger, cfg.Name, tables, log)
		if err != nil {
			return nil, err
		}
		return g, nil

	default:
		return nil, fmt.Errorf("indexer %s: unknown storage driver %q", cfg.Name, cfg.Storage.Driver)
	}
}
