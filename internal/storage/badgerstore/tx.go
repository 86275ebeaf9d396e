package badgerstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
)

var _ storage.Tx = (*Tx)(nil)

// Tx is a storage.Tx over one Badger read-write transaction.
type Tx struct {
	g   *Gateway
	txn *badger.Txn
}

func (t *Tx) GetEntity(ctx context.Context, table, id string) (storage.Fields, error) {
	return t.g.getEntity(t.txn, table, id)
}

func (t *Tx) UpsertEntity(ctx context.Context, table, id string, block uint64, fields storage.Fields) error {
	tbl, err := t.g.tables.TableOfKind(table, storage.EntityTable)
	if err != nil {
		return err
	}
	if err := checkFields(tbl, fields); err != nil {
		return err
	}

	row := fields.Clone()
	row[tbl.IDColumn] = id
	row[storage.ColumnBlockNumber] = block

	value, err := encodeRow(tbl, row)
	if err != nil {
		return err
	}

	start := time.Now()
	rowKey := entityKey(tbl.Name, id, block)
	err = t.set(rowKey, value, indexKey(tbl.Name, block, rowKey))
	observe("upsert_entity", start, err)
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
	tbl, err := t.g.tables.TableOfKind(table, storage.HistoryTable)
	if err != nil {
		return false, err
	}
	if err := checkFields(tbl, fields); err != nil {
		return false, err
	}

	start := time.Now()
	unique := uniqueKey(tbl.Name, key.EntityID, key.TxHash, key.EventIndex)
	_, err = t.txn.Get(unique)
	if err == nil {
		observe("insert_history", start, nil)
		return false, nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		observe("insert_history", start, err)
		return false, fmt.Errorf("failed to check %s history key: %w", table, err)
	}

	row := fields.Clone()
	row[tbl.IDColumn] = key.EntityID
	row[storage.ColumnBlockNumber] = block
	row[storage.ColumnTxHash] = key.TxHash
	row[storage.ColumnEventIndex] = key.EventIndex

	value, err := encodeRow(tbl, row)
	if err != nil {
		return false, err
	}

	rowKey := historyKey(tbl.Name, key.EntityID, block, key.EventIndex, key.TxHash)
	err = t.set(rowKey, value, indexKey(tbl.Name, block, rowKey))
	if err == nil {
		// the uniqueness marker is indexed too, so rollbacks release it
		err = t.set(unique, rowKey, indexKey(tbl.Name, block, unique))
	}
	observe("insert_history", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to insert %s history for %s: %w", table, key.EntityID, err)
	}
	return true, nil
}

// DeleteByBlockRange deletes inside the batch transaction, so it is bounded by
// badger's transaction size. Rollbacks stay within the reorg window; wiping a
// whole indexer goes through Gateway.Reset.
func (t *Tx) DeleteByBlockRange(ctx context.Context, table string, fromBlock uint64) (int64, error) {
	tbl, err := t.g.tables.Table(table)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	prefix := indexPrefix(tbl.Name)
	keys := t.collect(prefix, append(prefix, be64(fromBlock)...), nil)

	var rows int64
	for _, k := range keys {
		target := rowKeyFromIndex(tbl.Name, k)
		if err := t.txn.Delete(target); err != nil {
			observe("delete_range", start, err)
			return 0, fmt.Errorf("failed to delete %s row: %w", table, err)
		}
		if err := t.txn.Delete(k); err != nil {
			observe("delete_range", start, err)
			return 0, fmt.Errorf("failed to delete %s index: %w", table, err)
		}
		if target[0] != prefixUnique {
			rows++
		}
	}
	observe("delete_range", start, nil)
	return rows, nil
}

func (t *Tx) ReadCursor(ctx context.Context) (*storage.Checkpoint, error) {
	return t.g.readCursor(t.txn)
}

func (t *Tx) WriteCursor(ctx context.Context, cp storage.Checkpoint) error {
	cp.Indexer = t.g.indexer
	value, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	start := time.Now()
	err = t.txn.Set(checkpointKey(t.g.indexer), value)
	observe("write_cursor", start, err)
	if err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

func (t *Tx) DeleteCursor(ctx context.Context) error {
	if err := t.txn.Delete(checkpointKey(t.g.indexer)); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func (t *Tx) RecordBlock(ctx context.Context, header stream.BlockHeader) error {
	value, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to encode block %d: %w", header.Number, err)
	}

	start := time.Now()
	err = t.txn.Set(blockKey(header.Number), value)
	observe("record_block", start, err)
	if err != nil {
		return fmt.Errorf("failed to record block %d: %w", header.Number, err)
	}
	return nil
}

func (t *Tx) TrackedBlocks(ctx context.Context, fromBlock uint64) ([]stream.BlockHeader, error) {
	start := time.Now()
	var out []stream.BlockHeader

	it := t.txn.NewIterator(badger.IteratorOptions{Prefix: blockPrefix(), PrefetchValues: true})
	defer it.Close()

	for it.Seek(blockKey(fromBlock)); it.Valid(); it.Next() {
		var h stream.BlockHeader
		if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &h) }); err != nil {
			observe("tracked_blocks", start, err)
			return nil, fmt.Errorf("failed to decode tracked block: %w", err)
		}
		out = append(out, h)
	}
	observe("tracked_blocks", start, nil)
	return out, nil
}

func (t *Tx) DeleteBlocksFrom(ctx context.Context, fromBlock uint64) (int64, error) {
	keys := t.collect(blockPrefix(), blockKey(fromBlock), nil)
	return t.deleteAll(keys, "delete_blocks")
}

func (t *Tx) PruneBlocks(ctx context.Context, below uint64) (int64, error) {
	if below == 0 {
		return 0, nil
	}
	keys := t.collect(blockPrefix(), blockPrefix(), func(k []byte) bool {
		return binary.BigEndian.Uint64(k[len(blockPrefix()):]) < below
	})
	return t.deleteAll(keys, "prune_blocks")
}

func (t *Tx) Commit() error {
	start := time.Now()
	err := t.txn.Commit()
	observe("commit", start, err)
	return err
}

// Rollback discards the transaction. It is a no-op after Commit.
func (t *Tx) Rollback() error {
	t.txn.Discard()
	return nil
}

func (t *Tx) set(rowKey, value, index []byte) error {
	if err := t.txn.Set(rowKey, value); err != nil {
		return err
	}
	return t.txn.Set(index, nil)
}

// collect returns copies of the keys under prefix starting at seek, while keep
// returns true. A nil keep accepts every key.
func (t *Tx) collect(prefix, seek []byte, keep func([]byte) bool) [][]byte {
	it := t.txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()

	var keys [][]byte
	for it.Seek(seek); it.Valid(); it.Next() {
		k := it.Item().KeyCopy(nil)
		if keep != nil && !keep(k) {
			break
		}
		keys = append(keys, k)
	}
	return keys
}

func (t *Tx) deleteAll(keys [][]byte, op string) (int64, error) {
	start := time.Now()
	for _, k := range keys {
		if err := t.txn.Delete(k); err != nil {
			observe(op, start, err)
			return 0, fmt.Errorf("failed to %s: %w", op, err)
		}
	}
	observe(op, start, nil)
	return int64(len(keys)), nil
}

func checkFields(t storage.Table, fields storage.Fields) error {
	for name := range fields {
		if name == t.IDColumn || storage.IsReservedColumn(name) {
			return fmt.Errorf("table %s: column %s cannot be set directly", t.Name, name)
		}
	}
	return nil
}
