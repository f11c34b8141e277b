package handler

import (
	"context"
	"net/http"
	"time"
)

const pingTimeout = 2 * time.Second

// HealthHandler serves the liveness probe endpoint. When a store ping is
// configured it also reports whether the document store is reachable.
type HealthHandler struct {
	ping func(ctx context.Context) error
}

// NewHealthHandler accepts a nil ping for backends that have nothing to dial.
func NewHealthHandler(ping func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{ping: ping}
}

// Health handles GET /health
//
// @Summary  Liveness probe
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]string
// @Failure  503  {object}  map[string]string
// @Router   /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "store": err.Error()})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
