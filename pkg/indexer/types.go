package indexer

import (
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// QueryParams represents common query parameters for entity and history retrieval.
type QueryParams struct {
	// Pagination
	Limit  int
	Offset int

	// Owner filters entities by their owner column when set.
	Owner string
}

func NewDefaultQueryParams() *QueryParams {
	return &QueryParams{
		Limit:  defaultPageLimit,
		Offset: 0,
	}
}

// Normalize clamps pagination into the accepted range.
func (q *QueryParams) Normalize() {
	if q.Limit <= 0 {
		q.Limit = defaultPageLimit
	}
	if q.Limit > maxPageLimit {
		q.Limit = maxPageLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}

// ToStorageQuery converts the parameters to a storage query.
func (q *QueryParams) ToStorageQuery() storage.Query {
	q.Normalize()

	sq := storage.Query{Limit: q.Limit, Offset: q.Offset}
	if q.Owner != "" {
		sq.Filters = storage.Fields{"owner": q.Owner}
	}
	return sq
}
