package indexer

import (
	"context"
	"time"

	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
)

// Runner states reported in Status.
const (
	StateStarting = "starting"
	StateSyncing  = "syncing"
	StateRollback = "rolling_back"
	StateRetrying = "retrying"
	StateStopped  = "stopped"
	StateFailed   = "failed"
)

// Status is a point-in-time view of a running indexer.
type Status struct {
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	Driver         string          `json:"storage_driver"`
	State          string          `json:"state"`
	Cursor         *stream.Cursor  `json:"cursor,omitempty"`
	Finality       stream.Finality `json:"finality,omitempty"`
	UpdatedAt      *time.Time      `json:"updated_at,omitempty"`
	BatchesApplied uint64          `json:"batches_applied"`
	Rollbacks      uint64          `json:"rollbacks"`
	LastError      string          `json:"last_error,omitempty"`
}

// Queryable is a configured indexer whose projection can be read.
type Queryable interface {
	GetName() string
	GetType() string

	// EntityTable names the main entity table.
	EntityTable() string

	// Tables returns the projection tables.
	Tables() *storage.Schema

	// Store returns read access to the projection.
	Store() storage.Reader

	// Status reports the committed position and runner state.
	Status(ctx context.Context) (*Status, error)
}
