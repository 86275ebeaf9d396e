package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
	"github.com/jmoiron/sqlx"
)

var _ storage.Tx = (*Tx)(nil)

// Tx is a storage.Tx over one database transaction.
type Tx struct {
	store   *Store
	tx      *sqlx.Tx
	release func()
	once    sync.Once
}

func (t *Tx) GetEntity(ctx context.Context, table, id string) (storage.Fields, error) {
	return t.store.getEntity(ctx, t.tx, table, id)
}

func (t *Tx) UpsertEntity(ctx context.Context, table, id string, block uint64, fields storage.Fields) error {
	tbl, err := t.store.tables.TableOfKind(table, storage.EntityTable)
	if err != nil {
		return err
	}

	cols, args, err := rowValues(tbl, fields, []string{tbl.IDColumn, storage.ColumnBlockNumber}, id, block)
	if err != nil {
		return err
	}

	conflict := "DO NOTHING"
	if len(cols) > 2 { //nolint:mnd
		sets := make([]string, 0, len(cols)-2) //nolint:mnd
		for _, c := range cols[2:] {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s, %s) %s",
		t.store.dialect.table(tbl.Name), strings.Join(cols, ", "), placeholders(len(cols)),
		tbl.IDColumn, storage.ColumnBlockNumber, conflict)

	_, err = t.exec(ctx, "upsert_entity", query, args...)
	if err != nil {
		return fmt.Errorf("failed to upsert %s %s at block %d: %w", table, id, block, err)
	}
	return nil
}

func (t *Tx) InsertHistoryIfAbsent(
	ctx context.Context,
	table string,
	key storage.HistoryKey,
	block uint64,
	fields storage.Fields,
) (bool, error) {
	tbl, err := t.store.tables.TableOfKind(table, storage.HistoryTable)
	if err != nil {
		return false, err
	}

	cols, args, err := rowValues(tbl, fields,
		[]string{tbl.IDColumn, storage.ColumnBlockNumber, storage.ColumnTxHash, storage.ColumnEventIndex},
		key.EntityID, block, key.TxHash.PaddedHex(), key.EventIndex,
	)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s, %s, %s) DO NOTHING",
		t.store.dialect.table(tbl.Name), strings.Join(cols, ", "), placeholders(len(cols)),
		tbl.IDColumn, storage.ColumnTxHash, storage.ColumnEventIndex)

	n, err := t.exec(ctx, "insert_history", query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to insert %s history for %s: %w", table, key.EntityID, err)
	}
	return n > 0, nil
}

func (t *Tx) DeleteByBlockRange(ctx context.Context, table string, fromBlock uint64) (int64, error) {
	tbl, err := t.store.tables.Table(table)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s >= ?", t.store.dialect.table(tbl.Name), storage.ColumnBlockNumber)
	n, err := t.exec(ctx, "delete_range", query, fromBlock)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s rows from block %d: %w", table, fromBlock, err)
	}
	return n, nil
}

func (t *Tx) ReadCursor(ctx context.Context) (*storage.Checkpoint, error) {
	return t.store.readCursor(t.tx)
}

func (t *Tx) WriteCursor(ctx context.Context, cp storage.Checkpoint) error {
	if err := t.DeleteCursor(ctx); err != nil {
		return err
	}

	row := &checkpointRow{
		Indexer:   t.store.indexer,
		OrderKey:  int64(cp.Cursor.OrderKey),
		UniqueKey: cp.Cursor.UniqueKey,
		Finality:  cp.Finality.String(),
		UpdatedAt: cp.UpdatedAt.Unix(),
	}

	start := time.Now()
	err := t.store.dialect.Meddler.Insert(t.tx, checkpointsTable, row)
	t.store.observe("write_cursor", start, err)
	if err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

func (t *Tx) DeleteCursor(ctx context.Context) error {
	_, err := t.exec(ctx, "delete_cursor", "DELETE FROM "+checkpointsTable+" WHERE indexer = ?", t.store.indexer)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func (t *Tx) RecordBlock(ctx context.Context, header stream.BlockHeader) error {
	_, err := t.exec(ctx, "delete_block",
		"DELETE FROM "+trackedBlocksTable+" WHERE indexer = ? AND block_number = ?",
		t.store.indexer, header.Number)
	if err != nil {
		return fmt.Errorf("failed to replace tracked block %d: %w", header.Number, err)
	}

	row := &blockRow{
		Indexer:    t.store.indexer,
		Number:     int64(header.Number),
		Hash:       header.Hash,
		ParentHash: header.ParentHash,
		Finality:   header.Finality.String(),
		Timestamp:  header.Timestamp.Unix(),
	}

	start := time.Now()
	err = t.store.dialect.Meddler.Insert(t.tx, trackedBlocksTable, row)
	t.store.observe("record_block", start, err)
	if err != nil {
		return fmt.Errorf("failed to record block %d: %w", header.Number, err)
	}
	return nil
}

func (t *Tx) TrackedBlocks(ctx context.Context, fromBlock uint64) ([]stream.BlockHeader, error) {
	var rows []*blockRow
	start := time.Now()
	err := t.store.dialect.Meddler.QueryAll(t.tx, &rows, t.tx.Rebind(
		"SELECT * FROM "+trackedBlocksTable+" WHERE indexer = ? AND block_number >= ? ORDER BY block_number",
	), t.store.indexer, fromBlock)
	t.store.observe("tracked_blocks", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to load tracked blocks: %w", err)
	}

	out := make([]stream.BlockHeader, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toHeader())
	}
	return out, nil
}

func (t *Tx) DeleteBlocksFrom(ctx context.Context, fromBlock uint64) (int64, error) {
	n, err := t.exec(ctx, "delete_blocks",
		"DELETE FROM "+trackedBlocksTable+" WHERE indexer = ? AND block_number >= ?", t.store.indexer, fromBlock)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tracked blocks from %d: %w", fromBlock, err)
	}
	return n, nil
}

func (t *Tx) PruneBlocks(ctx context.Context, below uint64) (int64, error) {
	if below == 0 {
		return 0, nil
	}
	n, err := t.exec(ctx, "prune_blocks",
		"DELETE FROM "+trackedBlocksTable+" WHERE indexer = ? AND block_number < ?", t.store.indexer, below)
	if err != nil {
		return 0, fmt.Errorf("failed to prune tracked blocks below %d: %w", below, err)
	}
	return n, nil
}

func (t *Tx) Commit() error {
	defer t.done()
	start := time.Now()
	err := t.tx.Commit()
	t.store.observe("commit", start, err)
	return err
}

// Rollback aborts the transaction. Rolling back a committed transaction is a no-op.
func (t *Tx) Rollback() error {
	defer t.done()
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (t *Tx) done() {
	t.once.Do(func() {
		if t.release != nil {
			t.release()
		}
	})
}

func (t *Tx) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	start := time.Now()
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
	t.store.observe(op, start, err)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// rowValues lists the fixed columns followed by fields in name order, converted
// to driver values. Fields must be declared, non-reserved columns of t.
func rowValues(t storage.Table, fields storage.Fields, fixed []string, fixedArgs ...any) ([]string, []any, error) {
	cols := append([]string{}, fixed...)
	args := append([]any{}, fixedArgs...)

	for _, name := range fields.Keys() {
		if name == t.IDColumn || storage.IsReservedColumn(name) {
			return nil, nil, fmt.Errorf("table %s: column %s cannot be set directly", t.Name, name)
		}
		col, ok := t.Column(name)
		if !ok {
			return nil, nil, fmt.Errorf("table %s has no column %q", t.Name, name)
		}
		v, err := storage.SQLValue(col.Type, fields[name])
		if err != nil {
			return nil, nil, fmt.Errorf("table %s column %s: %w", t.Name, name, err)
		}
		cols = append(cols, name)
		args = append(args, v)
	}
	return cols, args, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
