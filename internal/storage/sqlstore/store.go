package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goran-ethernal/StarkIndexor/internal/metrics"
	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
	"github.com/jmoiron/sqlx"
	"github.com/russross/meddler"
)

const (
	checkpointsTable   = "checkpoints"
	trackedBlocksTable = "tracked_blocks"

	defaultLimit = 100
)

// conn is satisfied by both *sqlx.DB and *sqlx.Tx.
type conn interface {
	sqlx.ExtContext
	meddler.DB
}

// checkpointRow is the persisted form of storage.Checkpoint.
type checkpointRow struct {
	Indexer   string        `meddler:"indexer"`
	OrderKey  int64         `meddler:"order_key"`
	UniqueKey starknet.Felt `meddler:"unique_key,felt"`
	Finality  string        `meddler:"finality"`
	UpdatedAt int64         `meddler:"updated_at"`
}

func (r *checkpointRow) toCheckpoint() *storage.Checkpoint {
	return &storage.Checkpoint{
		Indexer:   r.Indexer,
		Cursor:    stream.Cursor{OrderKey: uint64(r.OrderKey), UniqueKey: r.UniqueKey},
		Finality:  stream.Finality(r.Finality),
		UpdatedAt: time.Unix(r.UpdatedAt, 0).UTC(),
	}
}

// blockRow is the persisted form of a tracked stream.BlockHeader.
type blockRow struct {
	Indexer    string        `meddler:"indexer"`
	Number     int64         `meddler:"block_number"`
	Hash       starknet.Felt `meddler:"block_hash,felt"`
	ParentHash starknet.Felt `meddler:"parent_hash,felt"`
	Finality   string        `meddler:"finality"`
	Timestamp  int64         `meddler:"timestamp"`
}

func (r *blockRow) toHeader() stream.BlockHeader {
	return stream.BlockHeader{
		Number:     uint64(r.Number),
		Hash:       r.Hash,
		ParentHash: r.ParentHash,
		Timestamp:  time.Unix(r.Timestamp, 0).UTC(),
		Finality:   stream.Finality(r.Finality),
	}
}

// Store is a storage.Reader over a SQL database and the factory of its transactions.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	indexer string
	tables  *storage.Schema
}

// New wraps an open database. The tables must already exist.
func New(db *sql.DB, dialect Dialect, indexer string, tables *storage.Schema) *Store {
	return &Store{
		db:      sqlx.NewDb(db, dialect.Name),
		dialect: dialect,
		indexer: indexer,
		tables:  tables,
	}
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

// BeginTx opens a transaction. release, when not nil, is called once the
// transaction is committed or rolled back.
func (s *Store) BeginTx(ctx context.Context, release func()) (*Tx, error) {
	start := time.Now()
	tx, err := s.db.BeginTxx(ctx, nil)
	s.observe("begin", start, err)
	if err != nil {
		if release != nil {
			release()
		}
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{store: s, tx: tx, release: release}, nil
}

// ReadCursor returns the checkpoint of the indexer.
func (s *Store) ReadCursor(ctx context.Context) (*storage.Checkpoint, error) {
	return s.readCursor(s.db)
}

// GetEntity returns the latest version of an entity.
func (s *Store) GetEntity(ctx context.Context, table, id string) (storage.Fields, error) {
	return s.getEntity(ctx, s.db, table, id)
}

// ListEntities returns the latest version of every entity matching q, ordered by id.
func (s *Store) ListEntities(ctx context.Context, table string, q storage.Query) ([]storage.Fields, int, error) {
	t, err := s.tables.TableOfKind(table, storage.EntityTable)
	if err != nil {
		return nil, 0, err
	}

	name := s.dialect.table(t.Name)
	where, args, err := filterClause(t, "t", q.Filters)
	if err != nil {
		return nil, 0, err
	}

	from := fmt.Sprintf(
		"%s t JOIN (SELECT %s AS lid, MAX(%s) AS lbn FROM %s GROUP BY %s) latest ON t.%s = latest.lid AND t.%s = latest.lbn",
		name, t.IDColumn, storage.ColumnBlockNumber, name, t.IDColumn, t.IDColumn, storage.ColumnBlockNumber,
	)

	var total int
	start := time.Now()
	err = sqlx.GetContext(ctx, s.db, &total, s.db.Rebind("SELECT COUNT(*) FROM "+from+where), args...)
	s.observe("count_entities", start, err)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count %s: %w", table, err)
	}

	query := fmt.Sprintf("SELECT t.* FROM %s%s ORDER BY LENGTH(t.%s), t.%s LIMIT ? OFFSET ?",
		from, where, t.IDColumn, t.IDColumn)
	limit, offset := page(q)
	rows, err := s.selectRows(ctx, s.db, t, "list_entities", query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// ListHistory returns the history rows of an entity in emission order.
func (s *Store) ListHistory(
	ctx context.Context,
	table, entityID string,
	q storage.Query,
) ([]storage.Fields, int, error) {
	t, err := s.tables.TableOfKind(table, storage.HistoryTable)
	if err != nil {
		return nil, 0, err
	}

	filters := q.Filters.Clone()
	filters[t.IDColumn] = entityID
	where, args, err := filterClause(t, "", filters)
	if err != nil {
		return nil, 0, err
	}
	name := s.dialect.table(t.Name)

	var total int
	start := time.Now()
	err = sqlx.GetContext(ctx, s.db, &total, s.db.Rebind("SELECT COUNT(*) FROM "+name+where), args...)
	s.observe("count_history", start, err)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count %s: %w", table, err)
	}

	query := fmt.Sprintf("SELECT * FROM %s%s ORDER BY %s, %s LIMIT ? OFFSET ?",
		name, where, storage.ColumnBlockNumber, storage.ColumnEventIndex)
	limit, offset := page(q)
	rows, err := s.selectRows(ctx, s.db, t, "list_history", query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) readCursor(q conn) (*storage.Checkpoint, error) {
	var row checkpointRow
	start := time.Now()
	err := s.dialect.Meddler.QueryRow(q, &row,
		q.Rebind("SELECT * FROM "+checkpointsTable+" WHERE indexer = ?"), s.indexer)
	if errors.Is(err, sql.ErrNoRows) {
		s.observe("read_cursor", start, nil)
		return nil, storage.ErrNotFound
	}
	s.observe("read_cursor", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return row.toCheckpoint(), nil
}

func (s *Store) getEntity(ctx context.Context, q conn, table, id string) (storage.Fields, error) {
	t, err := s.tables.TableOfKind(table, storage.EntityTable)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ? ORDER BY %s DESC LIMIT 1",
		s.dialect.table(t.Name), t.IDColumn, storage.ColumnBlockNumber)

	rows, err := s.selectRows(ctx, q, t, "get_entity", query, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	return rows[0], nil
}

func (s *Store) selectRows(
	ctx context.Context,
	q conn,
	t storage.Table,
	op, query string,
	args ...any,
) ([]storage.Fields, error) {
	start := time.Now()
	rows, err := q.QueryxContext(ctx, q.Rebind(query), args...)
	if err != nil {
		s.observe(op, start, err)
		return nil, fmt.Errorf("failed to query %s: %w", t.Name, err)
	}
	defer rows.Close()

	var out []storage.Fields
	for rows.Next() {
		raw := make(map[string]any)
		if err := rows.MapScan(raw); err != nil {
			s.observe(op, start, err)
			return nil, fmt.Errorf("failed to scan %s row: %w", t.Name, err)
		}
		fields, err := storage.NormalizeRow(t, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, fields)
	}
	err = rows.Err()
	s.observe(op, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", t.Name, err)
	}
	return out, nil
}

func (s *Store) observe(op string, start time.Time, err error) {
	metrics.DBQueryInc(s.dialect.Name, op)
	metrics.DBQueryDuration(s.dialect.Name, op, time.Since(start))
	if err != nil {
		metrics.DBErrorsInc(s.dialect.Name, op)
	}
}

// filterClause renders equality filters on declared columns as a WHERE clause.
func filterClause(t storage.Table, alias string, filters storage.Fields) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}

	conds := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for _, name := range filters.Keys() {
		col, ok := t.Column(name)
		if !ok {
			return "", nil, fmt.Errorf("table %s has no column %q", t.Name, name)
		}
		v, err := storage.SQLValue(col.Type, filters[name])
		if err != nil {
			return "", nil, fmt.Errorf("filter %s: %w", name, err)
		}
		conds = append(conds, prefix+name+" = ?")
		args = append(args, v)
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func page(q storage.Query) (int, int) {
	limit, offset := q.Limit, q.Offset
	if limit <= 0 {
		limit = defaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
