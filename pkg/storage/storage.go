package storage

import (
	"context"
	"errors"
	"time"

	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
)

// Reserved column names present in every projection table.
const (
	ColumnBlockNumber = "block_number"
	ColumnTxHash      = "tx_hash"
	ColumnEventIndex  = "event_index"
)

// ErrNotFound is returned when an entity or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// Checkpoint is the last committed position of an indexer.
type Checkpoint struct {
	Indexer   string          `json:"indexer"`
	Cursor    stream.Cursor   `json:"cursor"`
	Finality  stream.Finality `json:"finality"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// HistoryKey uniquely identifies a history record. Inserting the same key twice
// is a no-op, which makes replayed batches harmless.
type HistoryKey struct {
	EntityID   string
	TxHash     starknet.Felt
	EventIndex uint32
}

// Query selects a page of rows. Filters are equality matches on declared columns.
type Query struct {
	Limit   int
	Offset  int
	Filters Fields
}

// Reader exposes read-only access for the API and CLI.
type Reader interface {
	// ReadCursor returns the stored checkpoint or ErrNotFound.
	ReadCursor(ctx context.Context) (*Checkpoint, error)

	// GetEntity returns the current (latest version) state of an entity or ErrNotFound.
	GetEntity(ctx context.Context, table, id string) (Fields, error)

	// ListEntities returns current entity states ordered by id, with the total count.
	ListEntities(ctx context.Context, table string, q Query) ([]Fields, int, error)

	// ListHistory returns the history of an entity in emission order, with the total count.
	ListHistory(ctx context.Context, table, entityID string, q Query) ([]Fields, int, error)
}

// Tx is one atomic unit of work. Nothing it writes is visible to readers
// until Commit returns nil.
type Tx interface {
	// GetEntity returns the latest version of an entity as seen inside the transaction.
	GetEntity(ctx context.Context, table, id string) (Fields, error)

	// UpsertEntity writes the full state of an entity as of block. Writing the same
	// (id, block) again replaces that version.
	UpsertEntity(ctx context.Context, table, id string, block uint64, fields Fields) error

	// InsertHistoryIfAbsent appends a history record unless its key already exists.
	InsertHistoryIfAbsent(ctx context.Context, table string, key HistoryKey, block uint64, fields Fields) (bool, error)

	// DeleteByBlockRange removes every row of table with block_number >= fromBlock.
	DeleteByBlockRange(ctx context.Context, table string, fromBlock uint64) (int64, error)

	// ReadCursor returns the stored checkpoint or ErrNotFound.
	ReadCursor(ctx context.Context) (*Checkpoint, error)

	// WriteCursor replaces the stored checkpoint.
	WriteCursor(ctx context.Context, cp Checkpoint) error

	// DeleteCursor removes the stored checkpoint so the indexer starts over.
	DeleteCursor(ctx context.Context) error

	// RecordBlock stores a header in the tracked block window, replacing any header at the same height.
	RecordBlock(ctx context.Context, header stream.BlockHeader) error

	// TrackedBlocks returns tracked headers with number >= fromBlock in ascending order.
	TrackedBlocks(ctx context.Context, fromBlock uint64) ([]stream.BlockHeader, error)

	// DeleteBlocksFrom removes tracked headers with number >= fromBlock.
	DeleteBlocksFrom(ctx context.Context, fromBlock uint64) (int64, error)

	// PruneBlocks removes tracked headers with number < below.
	PruneBlocks(ctx context.Context, below uint64) (int64, error)

	Commit() error
	Rollback() error
}

// Gateway is the storage of a single indexer. Implementations are created for one
// indexer and one set of projection tables.
type Gateway interface {
	Reader

	// Begin opens a transaction.
	Begin(ctx context.Context) (Tx, error)

	// Close releases the underlying resources.
	Close() error
}

// Resetter is implemented by gateways that wipe an indexer outside a batch
// transaction, because deleting every row in one transaction would not fit.
type Resetter interface {
	// Reset removes the checkpoint, the tracked blocks and every projection row.
	Reset(ctx context.Context) error
}
