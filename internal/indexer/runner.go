// Package indexer runs configured indexers: one stream, tracker, engine and
// storage gateway per indexer, driven by a single-threaded loop.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goran-ethernal/StarkIndexor/internal/common"
	"github.com/goran-ethernal/StarkIndexor/internal/cursor"
	"github.com/goran-ethernal/StarkIndexor/internal/engine"
	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/internal/metrics"
	"github.com/goran-ethernal/StarkIndexor/internal/notify"
	"github.com/goran-ethernal/StarkIndexor/pkg/config"
	"github.com/goran-ethernal/StarkIndexor/pkg/indexer"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
)

// maxStreamBackoffAttempt caps the exponent of the reconnect backoff; the
// wait then stays at the configured maximum.
const maxStreamBackoffAttempt = 32

var _ indexer.Queryable = (*Runner)(nil)

// Runner drives one indexer: Next, Advance, Apply, Commit, Notify.
type Runner struct {
	cfg        config.IndexerConfig
	projection indexer.Projection
	gateway    storage.Gateway
	client     stream.Client
	sink       notify.Sink
	engine     *engine.Engine
	tracker    *cursor.Tracker

	streamRetry  config.RetryConfig
	storageRetry config.RetryConfig

	log *logger.Logger

	mu        sync.RWMutex
	state     string
	batches   uint64
	rollbacks uint64
	lastErr   error
}

// NewRunner wires the engine and tracker of one indexer. cfg must have its
// defaults applied. A nil sink discards notifications.
func NewRunner(
	cfg config.IndexerConfig,
	projection indexer.Projection,
	gateway storage.Gateway,
	client stream.Client,
	sink notify.Sink,
	streamRetry *config.RetryConfig,
	log *logger.Logger,
) (*Runner, error) {
	if client == nil {
		return nil, errors.New("stream client is required")
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.WithIndexer(cfg.Name)
	if sink == nil {
		sink = notify.Multi{}
	}

	eng, err := engine.New(cfg.Name, gateway, projection, cfg.ReorgWindow, log.WithComponent(common.ComponentEngine))
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:        cfg,
		projection: projection,
		gateway:    gateway,
		client:     client,
		sink:       sink,
		engine:     eng,
		tracker:    cursor.NewTracker(cfg.Name, cfg.ReorgWindow, log.WithComponent(common.ComponentCursorTracker)),
		log:        log.WithComponent(common.ComponentRunner),
		state:      indexer.StateStarting,
	}

	if streamRetry != nil {
		r.streamRetry = *streamRetry
	}
	r.streamRetry.ApplyDefaults()
	if cfg.StorageRetry != nil {
		r.storageRetry = *cfg.StorageRetry
	}
	r.storageRetry.ApplyDefaults()

	return r, nil
}

// Run processes batches until ctx is cancelled or a fatal error occurs.
// Cancellation is observed between batches only; a batch in flight either
// commits or rolls back. Returns nil on cancellation.
func (r *Runner) Run(ctx context.Context) error {
	err := r.run(ctx)
	switch {
	case err == nil || errors.Is(err, context.Canceled):
		r.setState(indexer.StateStopped, nil)
		r.log.Infow("indexer stopped")
		return nil
	default:
		r.setState(indexer.StateFailed, err)
		metrics.ErrorsInc(common.ComponentRunner, "fatal")
		r.log.Errorw("indexer failed", "error", err)
		return fmt.Errorf("indexer %s: %w", r.cfg.Name, err)
	}
}

func (r *Runner) run(ctx context.Context) error {
	if err := r.start(ctx); err != nil {
		return err
	}

	filters := r.projection.EventsToIndex()
	streamAttempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := r.client.Next(ctx, r.tracker.Current(), filters)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !stream.IsStreamError(err) {
				return fmt.Errorf("failed to receive batch: %w", err)
			}
			streamAttempt++
			if err := r.waitStream(ctx, streamAttempt, err); err != nil {
				return err
			}
			continue
		}
		streamAttempt = 0

		if err := r.handle(ctx, batch); err != nil {
			if stream.IsStreamError(err) {
				streamAttempt++
				if err := r.waitStream(ctx, streamAttempt, err); err != nil {
					return err
				}
				continue
			}
			return err
		}
	}
}

// start wipes the projection when state is not persisted, then restores the
// tracker from the stored checkpoint and tracked blocks.
func (r *Runner) start(ctx context.Context) error {
	if !r.cfg.ShouldPersistState() {
		r.log.Infow("persist_state disabled, wiping projection")
		if err := r.withStorageRetry(ctx, "reset", func() error { return r.engine.Reset(ctx) }); err != nil {
			return err
		}
	}

	var (
		cp     *storage.Checkpoint
		blocks []stream.BlockHeader
	)
	err := r.withStorageRetry(ctx, "load checkpoint", func() error {
		var err error
		cp, err = r.engine.Checkpoint(ctx)
		return err
	})
	if err != nil {
		return err
	}
	err = r.withStorageRetry(ctx, "load tracked blocks", func() error {
		var err error
		blocks, err = r.engine.TrackedBlocks(ctx)
		return err
	})
	if err != nil {
		return err
	}
	r.tracker.Load(cp, blocks)

	if cp == nil {
		r.log.Infow("starting fresh", "starting_block", r.cfg.StartingBlock)
	} else {
		r.log.Infow("resuming", "cursor", cp.Cursor.String(), "finality", cp.Finality)
	}

	metrics.ComponentHealthSet(common.ComponentRunner, true)
	r.setState(indexer.StateSyncing, nil)
	return nil
}

func (r *Runner) handle(ctx context.Context, batch *stream.Batch) error {
	previous := r.tracker.Current()
	verdict := r.tracker.Advance(batch.Header)

	switch verdict.Kind {
	case cursor.Reject:
		r.log.Warnw("batch rejected, requesting again",
			"block", batch.Header.Number, "reason", verdict.Reason)
		return stream.NewStreamError("continuity", verdict.Err())

	case cursor.Reorg:
		return r.rollback(ctx, verdict)
	}

	var result *engine.ApplyResult
	err := r.withStorageRetry(ctx, "apply", func() error {
		var err error
		result, err = r.engine.Apply(ctx, batch, verdict)
		return err
	})
	if err != nil {
		return err
	}
	r.tracker.Commit(batch.Header)

	r.mu.Lock()
	r.batches++
	r.state = indexer.StateSyncing
	r.lastErr = nil
	r.mu.Unlock()

	if verdict.Kind == cursor.Replace && replacesCommitted(previous, batch.Header) {
		var parent stream.Cursor
		if batch.Header.Number > 0 {
			parent = stream.Cursor{OrderKey: batch.Header.Number - 1, UniqueKey: batch.Header.ParentHash}
		}
		r.notify(ctx, notify.Rollback(r.cfg.Name, parent, verdict.FromBlock))
	}
	r.notify(ctx, notify.BatchCommitted(r.cfg.Name, result.CommittedCursor, batch.Finality,
		result.Events, result.MutationCount, result.SkippedTotal()))

	if batch.Header.Number%100 == 0 || len(batch.Events) > 0 {
		r.log.Infow("batch committed",
			"block", batch.Header.Number,
			"finality", batch.Finality,
			"events", result.Events,
			"mutations", result.MutationCount,
			"skipped", result.SkippedTotal())
	}
	return nil
}

// rollback resolves the common ancestor and removes everything above it.
func (r *Runner) rollback(ctx context.Context, verdict cursor.Verdict) error {
	r.setState(indexer.StateRollback, verdict.Err())
	r.log.Warnw("chain discontinuity, rolling back", "reason", verdict.Reason)

	ancestor, err := r.tracker.ResolveAncestor(ctx, r.client)
	if err != nil {
		if errors.Is(err, cursor.ErrAncestorNotFound) {
			return fmt.Errorf("reorg deeper than reorg_window %d: %w", r.cfg.ReorgWindow, err)
		}
		return stream.NewStreamError("ancestor", err)
	}

	from := ancestor.Number + 1
	if err := r.withStorageRetry(ctx, "rollback", func() error {
		return r.engine.Rollback(ctx, from, ancestor)
	}); err != nil {
		return err
	}
	r.tracker.Reset(&ancestor)

	r.mu.Lock()
	r.rollbacks++
	r.state = indexer.StateSyncing
	r.mu.Unlock()

	r.notify(ctx, notify.Rollback(r.cfg.Name, ancestor.Cursor(), from))
	return nil
}

// withStorageRetry retries fn on *engine.StorageError up to storage_retry.max_attempts.
// Any other error is returned immediately.
func (r *Runner) withStorageRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= r.storageRetry.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !engine.IsStorageError(err) {
			return err
		}
		if attempt == r.storageRetry.MaxAttempts {
			break
		}

		metrics.StorageRetriesInc(r.cfg.Name)
		r.setState(indexer.StateRetrying, err)
		wait := common.Backoff(attempt+1, r.storageRetry.InitialBackoff.Duration,
			r.storageRetry.MaxBackoff.Duration, r.storageRetry.BackoffMultiplier)
		r.log.Warnw("storage failure, retrying batch",
			"op", op, "attempt", attempt, "wait", wait, "error", err)

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}

	metrics.ComponentHealthSet(common.ComponentStorage, false)
	return fmt.Errorf("%s failed after %d attempts: %w", op, r.storageRetry.MaxAttempts, err)
}

// waitStream backs off before reconnecting. Stream failures are never fatal.
func (r *Runner) waitStream(ctx context.Context, attempt int, cause error) error {
	metrics.ErrorsInc(common.ComponentStream, "transient")
	r.setState(indexer.StateRetrying, cause)

	wait := common.Backoff(min(attempt, maxStreamBackoffAttempt)+1, r.streamRetry.InitialBackoff.Duration,
		r.streamRetry.MaxBackoff.Duration, r.streamRetry.BackoffMultiplier)
	r.log.Warnw("stream failure, reconnecting",
		"attempt", attempt, "wait", wait, "error", cause)

	return sleep(ctx, wait)
}

func (r *Runner) notify(ctx context.Context, msg notify.Message) {
	if err := r.sink.Notify(ctx, msg); err != nil {
		metrics.ErrorsInc(common.ComponentNotifier, "warning")
		r.log.Warnw("failed to publish notification", "type", msg.Type, "error", err)
	}
}

func (r *Runner) setState(state string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	r.lastErr = err
}

// GetName returns the configured indexer name.
func (r *Runner) GetName() string {
	return r.cfg.Name
}

// GetType returns the projection type.
func (r *Runner) GetType() string {
	return r.projection.GetType()
}

// EntityTable names the main entity table of the projection.
func (r *Runner) EntityTable() string {
	return r.projection.EntityTable()
}

// Tables returns the projection tables.
func (r *Runner) Tables() *storage.Schema {
	return r.projection.Tables()
}

// Store returns read access to the projection.
func (r *Runner) Store() storage.Reader {
	return r.gateway
}

// Status reports the stored checkpoint together with the runner state.
func (r *Runner) Status(ctx context.Context) (*indexer.Status, error) {
	r.mu.RLock()
	st := &indexer.Status{
		Name:           r.cfg.Name,
		Type:           r.projection.GetType(),
		Driver:         r.cfg.Storage.Driver,
		State:          r.state,
		BatchesApplied: r.batches,
		Rollbacks:      r.rollbacks,
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	r.mu.RUnlock()

	cp, err := r.engine.Checkpoint(ctx)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		c := cp.Cursor
		updated := cp.UpdatedAt
		st.Cursor = &c
		st.Finality = cp.Finality
		st.UpdatedAt = &updated
	}
	return st, nil
}

// Close closes the stream client and the storage gateway. The sink is owned
// by whoever passed it in.
func (r *Runner) Close() error {
	r.client.Close()
	return r.gateway.Close()
}

// replacesCommitted reports whether a Replace verdict discarded committed blocks,
// as opposed to refreshing the pending head or redelivering the same block.
func replacesCommitted(previous *stream.Cursor, header stream.BlockHeader) bool {
	switch {
	case previous == nil:
		return false
	case previous.OrderKey > header.Number:
		return true
	case previous.OrderKey == header.Number:
		return !previous.IsPending() && previous.UniqueKey != header.Hash
	default:
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
