package indexer

import (
	"context"

	"github.com/goran-ethernal/StarkIndexor/internal/decoder"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
)

// Projection turns decoded contract events into entity and history rows.
// One projection instance serves one configured indexer.
type Projection interface {
	// GetName returns the configured indexer name.
	GetName() string

	// GetType returns the registered projection type.
	GetType() string

	// StartBlock returns the first block to stream when there is no checkpoint.
	StartBlock() uint64

	// EventsToIndex returns the contract addresses and event selectors to stream.
	EventsToIndex() []stream.EventFilter

	// Schemas returns the decoder schemas of the events the projection handles.
	Schemas() []decoder.Schema

	// Tables returns the entity and history tables the projection writes.
	Tables() *storage.Schema

	// EntityTable names the main entity table, served by the entities endpoint.
	EntityTable() string

	// Apply folds one event into the view. Events arrive in batch order:
	// creations first, then mutations, then history-only events.
	Apply(ctx context.Context, view View, ev decoder.Event) error
}

// View is the batch-local state a projection reads and writes. Entity changes are
// merged field by field and flushed as one version per entity when the batch commits.
type View interface {
	// Entity returns the current state of an entity, including changes made earlier
	// in the batch. The bool is false when the entity does not exist yet.
	Entity(ctx context.Context, table, id string) (storage.Fields, bool, error)

	// SetEntity merges changes into the entity, creating it when missing.
	SetEntity(ctx context.Context, table, id string, changes storage.Fields) error

	// AppendHistory records an event against an entity. The record is keyed by the
	// event's transaction hash and index, so replays do not duplicate it.
	AppendHistory(ctx context.Context, table, id string, meta decoder.Meta, fields storage.Fields) error
}
