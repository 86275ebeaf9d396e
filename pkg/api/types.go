package api

import (
	"time"

	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
)

// EntityResponse is a page of entities in their current state.
type EntityResponse struct {
	Entities   []storage.Fields `json:"entities"`
	Pagination PaginationResult `json:"pagination"`
}

// HistoryResponse is a page of history rows of one entity, oldest first.
type HistoryResponse struct {
	Table      string           `json:"table"`
	EntityID   string           `json:"entity_id"`
	Rows       []storage.Fields `json:"rows"`
	Pagination PaginationResult `json:"pagination"`
}

// PaginationResult contains pagination metadata.
type PaginationResult struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Indexers  []IndexerHealth `json:"indexers"`
}

// IndexerHealth is the health of a single indexer.
type IndexerHealth struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	State       string `json:"state"`
	LatestBlock uint64 `json:"latest_block"`
	Healthy     bool   `json:"healthy"`
}

// IndexerInfo describes a configured indexer and what can be queried.
type IndexerInfo struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	EntityTable string      `json:"entity_table"`
	Tables      []TableInfo `json:"tables"`
	Endpoints   []string    `json:"endpoints"`
}

// TableInfo describes one projection table.
type TableInfo struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	IDColumn string   `json:"id_column"`
	Columns  []string `json:"columns"`
}
