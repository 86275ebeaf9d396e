package engine

import (
	"context"
	"errors"

	"github.com/goran-ethernal/StarkIndexor/internal/decoder"
	"github.com/goran-ethernal/StarkIndexor/pkg/indexer"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
)

var _ indexer.View = (*batchView)(nil)

type entityKey struct {
	table string
	id    string
}

type entityState struct {
	fields  storage.Fields
	exists  bool
	touched bool
}

// batchView buffers entity state for one batch. Entities are read from the
// transaction once, merged field by field in memory and written back as a single
// version at the batch block. History goes straight to the transaction.
type batchView struct {
	tx     storage.Tx
	tables *storage.Schema
	block  uint64

	entities map[entityKey]*entityState
	order    []entityKey

	mutations int
}

func newBatchView(tx storage.Tx, tables *storage.Schema, block uint64) *batchView {
	return &batchView{
		tx:       tx,
		tables:   tables,
		block:    block,
		entities: make(map[entityKey]*entityState),
	}
}

func (v *batchView) load(ctx context.Context, table, id string) (*entityState, error) {
	key := entityKey{table: table, id: id}
	if st, ok := v.entities[key]; ok {
		return st, nil
	}

	t, err := v.tables.TableOfKind(table, storage.EntityTable)
	if err != nil {
		return nil, err
	}

	st := &entityState{}
	fields, err := v.tx.GetEntity(ctx, table, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		st.fields = storage.Fields{}
	case err != nil:
		return nil, NewStorageError("get entity", err)
	default:
		st.fields = stripImplicit(t, fields)
		st.exists = true
	}

	v.entities[key] = st
	return st, nil
}

func (v *batchView) Entity(ctx context.Context, table, id string) (storage.Fields, bool, error) {
	st, err := v.load(ctx, table, id)
	if err != nil {
		return nil, false, err
	}
	return st.fields.Clone(), st.exists, nil
}

func (v *batchView) SetEntity(ctx context.Context, table, id string, changes storage.Fields) error {
	st, err := v.load(ctx, table, id)
	if err != nil {
		return err
	}

	t, _ := v.tables.Table(table)
	normalized, err := storage.NormalizeRow(t, changes)
	if err != nil {
		return err
	}

	st.fields = st.fields.Merge(stripImplicit(t, normalized))
	st.exists = true
	if !st.touched {
		st.touched = true
		v.order = append(v.order, entityKey{table: table, id: id})
	}
	return nil
}

func (v *batchView) AppendHistory(
	ctx context.Context, table, id string, meta decoder.Meta, fields storage.Fields,
) error {
	t, err := v.tables.TableOfKind(table, storage.HistoryTable)
	if err != nil {
		return err
	}

	normalized, err := storage.NormalizeRow(t, fields)
	if err != nil {
		return err
	}

	key := storage.HistoryKey{EntityID: id, TxHash: meta.TxHash, EventIndex: meta.EventIndex}
	inserted, err := v.tx.InsertHistoryIfAbsent(ctx, table, key, v.block, normalized)
	if err != nil {
		return NewStorageError("insert history", err)
	}
	if inserted {
		v.mutations++
	}
	return nil
}

// flush writes one version per touched entity, in first-touch order.
func (v *batchView) flush(ctx context.Context) error {
	for _, key := range v.order {
		st := v.entities[key]
		v.mutations++
		if err := v.tx.UpsertEntity(ctx, key.table, key.id, v.block, st.fields); err != nil {
			return NewStorageError("upsert entity", err)
		}
	}
	return nil
}

func stripImplicit(t storage.Table, fields storage.Fields) storage.Fields {
	out := fields.Clone()
	delete(out, t.IDColumn)
	delete(out, storage.ColumnBlockNumber)
	return out
}
