package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goran-ethernal/StarkIndexor/internal/cursor"
	"github.com/goran-ethernal/StarkIndexor/internal/decoder"
	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/internal/metrics"
	"github.com/goran-ethernal/StarkIndexor/pkg/indexer"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
)

// Skip reasons reported in ApplyResult and metrics.
const (
	SkipUnknown     = "unknown_event"
	SkipDecodeError = "decode_error"
)

// ApplyResult summarizes a committed batch.
type ApplyResult struct {
	CommittedCursor stream.Cursor
	Events          int
	MutationCount   int
	Skipped         map[string]int
}

// SkippedTotal returns the number of events that were not applied.
func (r *ApplyResult) SkippedTotal() int {
	n := 0
	for _, c := range r.Skipped {
		n += c
	}
	return n
}

// Engine applies decoded batches to one projection through one storage gateway.
type Engine struct {
	name        string
	gateway     storage.Gateway
	projection  indexer.Projection
	decoder     *decoder.Decoder
	reorgWindow uint64
	log         *logger.Logger
}

// New creates the engine of one indexer.
func New(
	name string,
	gateway storage.Gateway,
	projection indexer.Projection,
	reorgWindow uint64,
	log *logger.Logger,
) (*Engine, error) {
	if gateway == nil {
		return nil, errors.New("storage gateway is required")
	}
	if projection == nil {
		return nil, errors.New("projection is required")
	}

	dec, err := decoder.New(projection.Schemas()...)
	if err != nil {
		return nil, fmt.Errorf("failed to build decoder for %s: %w", name, err)
	}

	return &Engine{
		name:        name,
		gateway:     gateway,
		projection:  projection,
		decoder:     dec,
		reorgWindow: reorgWindow,
		log:         log,
	}, nil
}

// Apply decodes the batch and applies it in a single transaction: the optional
// rollback of a Replace verdict, every event, the tracked block and the new cursor.
// Nothing is visible until the commit succeeds. Gateway failures are returned as
// *StorageError and leave the stored state untouched.
func (e *Engine) Apply(ctx context.Context, batch *stream.Batch, verdict cursor.Verdict) (*ApplyResult, error) {
	switch verdict.Kind {
	case cursor.Accept, cursor.Replace:
	default:
		return nil, fmt.Errorf("cannot apply block %d with verdict %s", batch.Header.Number, verdict.Kind)
	}

	start := time.Now()
	result := &ApplyResult{Skipped: map[string]int{}}

	events, failures := e.decoder.DecodeAll(batch.Events)
	for _, f := range failures {
		e.log.Warnf("skipping undecodable event: block=%d tx=%s index=%d err=%v",
			f.Raw.BlockNumber, f.Raw.TransactionHash.Hex(), f.Raw.EventIndex, f.Err)
	}
	result.Skipped[SkipDecodeError] = len(failures)
	sortEvents(events)

	tx, err := e.gateway.Begin(ctx)
	if err != nil {
		return nil, NewStorageError("begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				e.log.Errorf("failed to rollback transaction: %v", err)
			}
		}
	}()

	if verdict.Kind == cursor.Replace {
		if _, err := e.rollbackTx(ctx, tx, verdict.FromBlock); err != nil {
			return nil, err
		}
	}

	view := newBatchView(tx, e.projection.Tables(), batch.Header.Number)
	for _, ev := range events {
		if unknown, ok := ev.(*decoder.Unknown); ok {
			e.log.Debugf("skipping unknown event: block=%d selector=%s", unknown.BlockNumber, unknown.Selector.Hex())
			result.Skipped[SkipUnknown]++
			continue
		}

		if err := e.projection.Apply(ctx, view, ev); err != nil {
			m := ev.EventMeta()
			return nil, fmt.Errorf("failed to apply %s at block %d tx %s index %d: %w",
				ev.Name(), m.BlockNumber, m.TxHash.Hex(), m.EventIndex, err)
		}
		result.Events++
	}

	if err := view.flush(ctx); err != nil {
		return nil, err
	}

	if err := tx.RecordBlock(ctx, batch.Header); err != nil {
		return nil, NewStorageError("record block", err)
	}
	if _, err := tx.PruneBlocks(ctx, cursor.PruneBelow(batch.Header.Number, e.reorgWindow)); err != nil {
		return nil, NewStorageError("prune blocks", err)
	}

	cp := storage.Checkpoint{
		Indexer:   e.name,
		Cursor:    batch.Cursor,
		Finality:  batch.Finality,
		UpdatedAt: time.Now().UTC(),
	}
	if err := tx.WriteCursor(ctx, cp); err != nil {
		return nil, NewStorageError("write cursor", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, NewStorageError("commit", err)
	}
	committed = true

	result.CommittedCursor = batch.Cursor
	result.MutationCount = view.mutations

	metrics.BatchApplyTimeLog(e.name, time.Since(start))
	metrics.BatchAppliedInc(e.name, result.Events, result.MutationCount)
	metrics.LastCommittedBlockSet(e.name, batch.Cursor.OrderKey)
	for reason, n := range result.Skipped {
		metrics.EventsSkippedInc(e.name, reason, n)
	}

	e.log.Debugf("batch committed: block=%d events=%d mutations=%d skipped=%d",
		batch.Header.Number, result.Events, result.MutationCount, result.SkippedTotal())

	return result, nil
}

// Rollback removes every row written at or above fromBlock and moves the cursor
// back to ancestor, in one transaction.
func (e *Engine) Rollback(ctx context.Context, fromBlock uint64, ancestor stream.BlockHeader) error {
	tx, err := e.gateway.Begin(ctx)
	if err != nil {
		return NewStorageError("begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				e.log.Errorf("failed to rollback transaction: %v", err)
			}
		}
	}()

	deleted, err := e.rollbackTx(ctx, tx, fromBlock)
	if err != nil {
		return err
	}

	cp := storage.Checkpoint{
		Indexer:   e.name,
		Cursor:    ancestor.Cursor(),
		Finality:  ancestor.Finality,
		UpdatedAt: time.Now().UTC(),
	}
	if err := tx.WriteCursor(ctx, cp); err != nil {
		return NewStorageError("write cursor", err)
	}

	if err := tx.Commit(); err != nil {
		return NewStorageError("commit", err)
	}
	committed = true

	metrics.RollbacksInc(e.name)
	metrics.LastCommittedBlockSet(e.name, ancestor.Number)
	e.log.Warnf("rolled back projection: from_block=%d ancestor=%d rows_deleted=%d",
		fromBlock, ancestor.Number, deleted)

	return nil
}

// Reset wipes the projection, the tracked blocks and the checkpoint.
func (e *Engine) Reset(ctx context.Context) error {
	if r, ok := e.gateway.(storage.Resetter); ok {
		if err := r.Reset(ctx); err != nil {
			return NewStorageError("reset", err)
		}
		e.log.Info("projection reset")
		return nil
	}

	tx, err := e.gateway.Begin(ctx)
	if err != nil {
		return NewStorageError("begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				e.log.Errorf("failed to rollback transaction: %v", err)
			}
		}
	}()

	deleted, err := e.rollbackTx(ctx, tx, 0)
	if err != nil {
		return err
	}
	if err := tx.DeleteCursor(ctx); err != nil {
		return NewStorageError("delete cursor", err)
	}

	if err := tx.Commit(); err != nil {
		return NewStorageError("commit", err)
	}
	committed = true

	e.log.Infof("projection reset: rows_deleted=%d", deleted)
	return nil
}

// Checkpoint returns the stored checkpoint, nil when the indexer never committed.
func (e *Engine) Checkpoint(ctx context.Context) (*storage.Checkpoint, error) {
	cp, err := e.gateway.ReadCursor(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, NewStorageError("read cursor", err)
	}
	return cp, nil
}

// TrackedBlocks returns the persisted reorg window in ascending order.
func (e *Engine) TrackedBlocks(ctx context.Context) ([]stream.BlockHeader, error) {
	tx, err := e.gateway.Begin(ctx)
	if err != nil {
		return nil, NewStorageError("begin", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil {
			e.log.Debugf("read-only transaction rollback: %v", err)
		}
	}()

	blocks, err := tx.TrackedBlocks(ctx, 0)
	if err != nil {
		return nil, NewStorageError("tracked blocks", err)
	}
	return blocks, nil
}

// Decoder returns the decoder built from the projection schemas.
func (e *Engine) Decoder() *decoder.Decoder {
	return e.decoder
}

func (e *Engine) rollbackTx(ctx context.Context, tx storage.Tx, fromBlock uint64) (int64, error) {
	var total int64
	for _, t := range e.projection.Tables().Tables() {
		n, err := tx.DeleteByBlockRange(ctx, t.Name, fromBlock)
		if err != nil {
			return 0, NewStorageError("delete "+t.Name, err)
		}
		total += n
	}

	if _, err := tx.DeleteBlocksFrom(ctx, fromBlock); err != nil {
		return 0, NewStorageError("delete tracked blocks", err)
	}
	return total, nil
}

// sortEvents orders events by class, then by position in the block.
func sortEvents(events []decoder.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Class() != b.Class() {
			return a.Class() < b.Class()
		}
		ma, mb := a.EventMeta(), b.EventMeta()
		if ma.TxIndex != mb.TxIndex {
			return ma.TxIndex < mb.TxIndex
		}
		return ma.EventIndex < mb.EventIndex
	})
}
