// Package badgerstore implements the storage gateway on an embedded Badger key-value store.
package badgerstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goran-ethernal/StarkIndexor/internal/common"
	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/internal/metrics"
	"github.com/goran-ethernal/StarkIndexor/pkg/config"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
)

const (
	dbName       = "badger"
	defaultLimit = 100
	gcRatio      = 0.5
)

var (
	_ storage.Gateway  = (*Gateway)(nil)
	_ storage.Resetter = (*Gateway)(nil)
)

// Gateway is a storage.Gateway over Badger. Entity versions and history rows are
// JSON documents; every row is also listed in a per table block index so rollbacks
// are range scans.
type Gateway struct {
	db      *badger.DB
	indexer string
	tables  *storage.Schema
	log     *logger.Logger
}

// badgerLogger adapts the zap logger to badger.Logger.
type badgerLogger struct {
	*logger.Logger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}

// New opens the store described by cfg.
func New(cfg config.BadgerConfig, indexer string, tables *storage.Schema, log *logger.Logger) (*Gateway, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.WithComponent(common.ComponentStorage)

	opts := badger.DefaultOptions(cfg.Path).WithLogger(badgerLogger{log})
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(badgerLogger{log})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", cfg.Path, err)
	}

	log.Infof("badger storage ready: indexer=%s path=%s in_memory=%t", indexer, cfg.Path, cfg.InMemory)

	return &Gateway{db: db, indexer: indexer, tables: tables, log: log}, nil
}

// Begin opens a read-write transaction.
func (g *Gateway) Begin(ctx context.Context) (storage.Tx, error) {
	observe("begin", time.Now(), nil)
	return &Tx{g: g, txn: g.db.NewTransaction(true)}, nil
}

// Reset wipes the indexer with DropPrefix instead of one transaction, which would
// hit badger.ErrTxnTooBig on a large projection. The checkpoint goes first, so an
// interrupted reset restarts from the starting block and replays over what is left.
func (g *Gateway) Reset(ctx context.Context) error {
	start := time.Now()
	err := g.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(checkpointKey(g.indexer))
	})
	if err != nil {
		observe("reset", start, err)
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	prefixes := [][]byte{blockPrefix()}
	for _, t := range g.tables.Tables() {
		prefixes = append(prefixes, tablePrefixes(t.Name)...)
	}
	err = g.db.DropPrefix(prefixes...)
	observe("reset", start, err)
	if err != nil {
		return fmt.Errorf("failed to drop indexer data: %w", err)
	}

	g.log.Infof("badger storage reset: indexer=%s prefixes=%d", g.indexer, len(prefixes))
	return nil
}

func (g *Gateway) ReadCursor(ctx context.Context) (*storage.Checkpoint, error) {
	var cp *storage.Checkpoint
	err := g.db.View(func(txn *badger.Txn) error {
		var err error
		cp, err = g.readCursor(txn)
		return err
	})
	return cp, err
}

func (g *Gateway) GetEntity(ctx context.Context, table, id string) (storage.Fields, error) {
	var out storage.Fields
	err := g.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = g.getEntity(txn, table, id)
		return err
	})
	return out, err
}

func (g *Gateway) ListEntities(ctx context.Context, table string, q storage.Query) ([]storage.Fields, int, error) {
	t, err := g.tables.TableOfKind(table, storage.EntityTable)
	if err != nil {
		return nil, 0, err
	}
	match, err := matcher(t, q.Filters)
	if err != nil {
		return nil, 0, err
	}

	start := time.Now()
	var rows []storage.Fields
	err = g.db.View(func(txn *badger.Txn) error {
		prefix := entityPrefix(t.Name)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()

		// versions of one id are adjacent and ascending, the last one is current
		var current storage.Fields
		currentID := ""
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			id := string(k[len(prefix) : len(k)-9])
			if current != nil && id != currentID && match(current) {
				rows = append(rows, current)
			}
			row, err := readRow(t, it.Item())
			if err != nil {
				return err
			}
			current, currentID = row, id
		}
		if current != nil && match(current) {
			rows = append(rows, current)
		}
		return nil
	})
	observe("list_entities", start, err)
	if err != nil {
		return nil, 0, err
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Text(t.IDColumn), rows[j].Text(t.IDColumn)
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
	return paginate(rows, q), len(rows), nil
}

func (g *Gateway) ListHistory(
	ctx context.Context,
	table, entityID string,
	q storage.Query,
) ([]storage.Fields, int, error) {
	t, err := g.tables.TableOfKind(table, storage.HistoryTable)
	if err != nil {
		return nil, 0, err
	}
	match, err := matcher(t, q.Filters)
	if err != nil {
		return nil, 0, err
	}

	start := time.Now()
	var rows []storage.Fields
	err = g.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: historyIDPrefix(t.Name, entityID), PrefetchValues: true})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			row, err := readRow(t, it.Item())
			if err != nil {
				return err
			}
			if match(row) {
				rows = append(rows, row)
			}
		}
		return nil
	})
	observe("list_history", start, err)
	if err != nil {
		return nil, 0, err
	}
	return paginate(rows, q), len(rows), nil
}

// RunGC reclaims value log space. It returns nil when there was nothing to collect.
func (g *Gateway) RunGC() error {
	err := g.db.RunValueLogGC(gcRatio)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

func (g *Gateway) Close() error {
	return g.db.Close()
}

func (g *Gateway) readCursor(txn *badger.Txn) (*storage.Checkpoint, error) {
	start := time.Now()
	item, err := txn.Get(checkpointKey(g.indexer))
	if errors.Is(err, badger.ErrKeyNotFound) {
		observe("read_cursor", start, nil)
		return nil, storage.ErrNotFound
	}
	observe("read_cursor", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp storage.Checkpoint
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &cp) }); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &cp, nil
}

func (g *Gateway) getEntity(txn *badger.Txn, table, id string) (storage.Fields, error) {
	t, err := g.tables.TableOfKind(table, storage.EntityTable)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	prefix := entityIDPrefix(t.Name, id)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, Reverse: true})
	defer it.Close()

	// reverse iteration starts at the last key <= seek
	it.Seek(append(bytes.Clone(prefix), bytes.Repeat([]byte{0xff}, 9)...))
	if !it.Valid() {
		observe("get_entity", start, nil)
		return nil, storage.ErrNotFound
	}

	row, err := readRow(t, it.Item())
	observe("get_entity", start, err)
	return row, err
}

func readRow(t storage.Table, item *badger.Item) (storage.Fields, error) {
	var raw map[string]any
	err := item.Value(func(v []byte) error {
		dec := json.NewDecoder(bytes.NewReader(v))
		dec.UseNumber()
		return dec.Decode(&raw)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s row: %w", t.Name, err)
	}
	return storage.NormalizeRow(t, raw)
}

// encodeRow converts fields to their stored representation.
func encodeRow(t storage.Table, fields storage.Fields) ([]byte, error) {
	out := make(map[string]any, len(fields))
	for name, v := range fields {
		col, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("table %s has no column %q", t.Name, name)
		}
		sv, err := storage.SQLValue(col.Type, v)
		if err != nil {
			return nil, fmt.Errorf("table %s column %s: %w", t.Name, name, err)
		}
		out[name] = sv
	}
	return json.Marshal(out)
}

// matcher returns a predicate implementing equality filters on declared columns.
func matcher(t storage.Table, filters storage.Fields) (func(storage.Fields) bool, error) {
	want := make(map[string]any, len(filters))
	for name, v := range filters {
		col, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("table %s has no column %q", t.Name, name)
		}
		sv, err := storage.SQLValue(col.Type, v)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}
		want[name] = sv
	}

	return func(row storage.Fields) bool {
		for name, w := range want {
			col, _ := t.Column(name)
			got, err := storage.SQLValue(col.Type, row[name])
			if err != nil || got != w {
				return false
			}
		}
		return true
	}, nil
}

func paginate(rows []storage.Fields, q storage.Query) []storage.Fields {
	limit, offset := q.Limit, q.Offset
	if limit <= 0 {
		limit = defaultLimit
	}
	if offset < 0 || offset >= len(rows) {
		return []storage.Fields{}
	}
	end := min(offset+limit, len(rows))
	return rows[offset:end]
}

func observe(op string, start time.Time, err error) {
	metrics.DBQueryInc(dbName, op)
	metrics.DBQueryDuration(dbName, op, time.Since(start))
	if err != nil {
		metrics.DBErrorsInc(dbName, op)
	}
}
