package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Strob0t/personagov/internal/adapter/datastore"
)

// Stores is the slice of the datastore manager the ops endpoints read.
type Stores interface {
	HealthCheck(ctx context.Context) map[string]bool
	Status() datastore.Status
	SlowQueries() []datastore.SlowQuery
}

// Handlers serves the operational endpoints.
type Handlers struct {
	Stores Stores
}

type healthResponse struct {
	Status string          `json:"status"`
	Stores map[string]bool `json:"stores"`
}

// Health handles GET /health. It answers 200 when the relational store and
// the broker respond and 503 otherwise. The graph store is reported but
// optional.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	stores := h.Stores.HealthCheck(r.Context())
	if datastore.Healthy(stores) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Stores: stores})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Stores: stores})
}

// PoolStatus handles GET /pool-status.
func (h *Handlers) PoolStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Stores.Status())
}

// SlowQueries handles GET /slow-queries?limit=N, newest first.
func (h *Handlers) SlowQueries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	snap := h.Stores.SlowQueries()
	out := make([]datastore.SlowQuery, 0, len(snap))
	for i := len(snap) - 1; i >= 0; i-- {
		out = append(out, snap[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, out)
}
