package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/goran-ethernal/StarkIndexor/pkg/config"
	_ "github.com/mattn/go-sqlite3"
)

// dsn builds the go-sqlite3 connection string. Transactions take the write lock
// at BEGIN so two batches never deadlock upgrading a read lock.
func dsn(cfg config.DatabaseConfig) string {
	foreignKeys := "off"
	if cfg.EnableForeignKeys {
		foreignKeys = "on"
	}

	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Set("_foreign_keys", foreignKeys)
	params.Set("_journal_mode", cfg.JournalMode)
	params.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout))
	params.Set("_synchronous", cfg.Synchronous)
	params.Set("_cache_size", strconv.Itoa(cfg.CacheSize))

	return "file:" + cfg.Path + "?" + params.Encode()
}

// OpenSQLite opens the database of one indexer, creating its directory when needed.
// The pragmas are part of the DSN so every pooled connection gets them.
func OpenSQLite(cfg config.DatabaseConfig) (*sql.DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:mnd
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Path, err)
	}

	return db, nil
}
