package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/pkg/indexer"
	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
)

const maxLimit = 1000

// IndexerRegistry defines the interface for accessing configured indexers.
type IndexerRegistry interface {
	GetByName(name string) indexer.Queryable
	ListAll() []indexer.Queryable
}

// Handler handles HTTP requests for the API.
type Handler struct {
	registry IndexerRegistry
	log      *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(registry IndexerRegistry, log *logger.Logger) *Handler {
	return &Handler{
		registry: registry,
		log:      log,
	}
}

// ListIndexers returns every configured indexer with its tables.
// @Summary List all indexers
// @Description Get every configured indexer with its projection tables and available endpoints
// @Tags Indexers
// @Produce json
// @Success 200 {array} IndexerInfo "List of indexers"
// @Router /indexers [get]
func (h *Handler) ListIndexers(w http.ResponseWriter, r *http.Request) {
	infos := make([]IndexerInfo, 0)
	for _, idx := range h.registry.ListAll() {
		name := idx.GetName()
		info := IndexerInfo{
			Name:        name,
			Type:        idx.GetType(),
			EntityTable: idx.EntityTable(),
			Endpoints: []string{
				fmt.Sprintf("/api/v1/indexers/%s/status", name),
				fmt.Sprintf("/api/v1/indexers/%s/entities", name),
			},
		}

		for _, t := range idx.Tables().Tables() {
			ti := TableInfo{Name: t.Name, Kind: t.Kind.String(), IDColumn: t.IDColumn}
			for _, c := range t.AllColumns() {
				ti.Columns = append(ti.Columns, c.Name)
			}
			info.Tables = append(info.Tables, ti)

			if t.Kind == storage.HistoryTable {
				info.Endpoints = append(info.Endpoints,
					fmt.Sprintf("/api/v1/indexers/%s/entities/{id}/history/%s", name, t.Name))
			}
		}
		infos = append(infos, info)
	}

	respondJSON(w, http.StatusOK, infos)
}

// GetStatus returns the committed cursor and runner state of an indexer.
// @Summary Get indexer status
// @Description Committed cursor, finality and runner state of an indexer
// @Tags Indexers
// @Produce json
// @Param name path string true "Indexer name"
// @Success 200 {object} indexer.Status "Indexer status"
// @Failure 404 {object} ErrorResponse "Indexer not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /indexers/{name}/status [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.lookup(w, r)
	if !ok {
		return
	}

	status, err := idx.Status(r.Context())
	if err != nil {
		h.log.Errorw("failed to read status", "indexer", idx.GetName(), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read status")
		return
	}

	respondJSON(w, http.StatusOK, status)
}

// GetEntities lists entities of an indexer in their current state.
// @Summary List entities
// @Description Current state of the indexer's entities ordered by id, optionally filtered by owner
// @Tags Entities
// @Produce json
// @Param name path string true "Indexer name"
// @Param limit query int false "Maximum number of entities to return" default(100)
// @Param offset query int false "Number of entities to skip" default(0)
// @Param owner query string false "Owner address (hex)"
// @Success 200 {object} EntityResponse "Entities with pagination info"
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 404 {object} ErrorResponse "Indexer not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /indexers/{name}/entities [get]
func (h *Handler) GetEntities(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.lookup(w, r)
	if !ok {
		return
	}

	params, err := parseQueryParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid query parameters: %v", err))
		return
	}
	if owner := r.URL.Query().Get("owner"); owner != "" {
		felt, err := starknet.FeltFromHex(owner)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid owner: %v", err))
			return
		}
		params.Owner = felt.Hex()
	}

	rows, total, err := idx.Store().ListEntities(r.Context(), idx.EntityTable(), params.ToStorageQuery())
	if err != nil {
		h.log.Errorw("failed to list entities", "indexer", idx.GetName(), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list entities")
		return
	}

	respondJSON(w, http.StatusOK, EntityResponse{
		Entities:   nonNil(rows),
		Pagination: pagination(params, len(rows), total),
	})
}

// GetEntity returns the current state of one entity.
// @Summary Get entity
// @Description Current state of one entity
// @Tags Entities
// @Produce json
// @Param name path string true "Indexer name"
// @Param id path string true "Entity id"
// @Success 200 {object} map[string]any "Entity"
// @Failure 404 {object} ErrorResponse "Indexer or entity not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /indexers/{name}/entities/{id} [get]
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.lookup(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	row, err := idx.Store().GetEntity(r.Context(), idx.EntityTable(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, fmt.Sprintf("entity '%s' not found", id))
		return
	case err != nil:
		h.log.Errorw("failed to get entity", "indexer", idx.GetName(), "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get entity")
		return
	}

	respondJSON(w, http.StatusOK, row)
}

// GetHistory lists the history rows of one entity.
// @Summary Get entity history
// @Description History rows of one entity from a history table, in emission order
// @Tags Entities
// @Produce json
// @Param name path string true "Indexer name"
// @Param id path string true "Entity id"
// @Param table path string true "History table"
// @Param limit query int false "Maximum number of rows to return" default(100)
// @Param offset query int false "Number of rows to skip" default(0)
// @Success 200 {object} HistoryResponse "History rows with pagination info"
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 404 {object} ErrorResponse "Indexer or table not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /indexers/{name}/entities/{id}/history/{table} [get]
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.lookup(w, r)
	if !ok {
		return
	}

	table := r.PathValue("table")
	if _, err := idx.Tables().TableOfKind(table, storage.HistoryTable); err != nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("history table '%s' not found", table))
		return
	}

	params, err := parseQueryParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid query parameters: %v", err))
		return
	}

	id := r.PathValue("id")
	rows, total, err := idx.Store().ListHistory(r.Context(), table, id, params.ToStorageQuery())
	if err != nil {
		h.log.Errorw("failed to list history", "indexer", idx.GetName(), "table", table, "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list history")
		return
	}

	respondJSON(w, http.StatusOK, HistoryResponse{
		Table:      table,
		EntityID:   id,
		Rows:       nonNil(rows),
		Pagination: pagination(params, len(rows), total),
	})
}

// Health returns the health status of the API and all indexers.
// @Summary Health check
// @Description Check the health status of the API and all configured indexers
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "API and indexer health status"
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	statuses := make([]IndexerHealth, 0)
	overall := "ok"

	for _, idx := range h.registry.ListAll() {
		ih := IndexerHealth{Name: idx.GetName(), Type: idx.GetType()}

		st, err := idx.Status(r.Context())
		if err == nil {
			ih.State = st.State
			ih.Healthy = st.State != indexer.StateFailed
			if st.Cursor != nil {
				ih.LatestBlock = st.Cursor.OrderKey
			}
		}
		if !ih.Healthy {
			overall = "degraded"
		}
		statuses = append(statuses, ih)
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    overall,
		Timestamp: time.Now(),
		Indexers:  statuses,
	})
}

// lookup resolves the {name} path value, writing the error response when absent.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (indexer.Queryable, bool) {
	name := r.PathValue("name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "indexer name is required")
		return nil, false
	}

	idx := h.registry.GetByName(name)
	if idx == nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("indexer '%s' not found", name))
		return nil, false
	}
	return idx, true
}

// parseQueryParams parses pagination parameters.
func parseQueryParams(r *http.Request) (*indexer.QueryParams, error) {
	params := indexer.NewDefaultQueryParams()

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > maxLimit {
			return params, fmt.Errorf("invalid limit: must be between 1 and %d", maxLimit)
		}
		params.Limit = limit
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return params, fmt.Errorf("invalid offset: must be non-negative")
		}
		params.Offset = offset
	}

	return params, nil
}

func pagination(params *indexer.QueryParams, returned, total int) PaginationResult {
	return PaginationResult{
		Total:   total,
		Limit:   params.Limit,
		Offset:  params.Offset,
		HasMore: params.Offset+returned < total,
	}
}

func nonNil(rows []storage.Fields) []storage.Fields {
	if rows == nil {
		return []storage.Fields{}
	}
	return rows
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	// Encode first so a failure can still change the status
	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
