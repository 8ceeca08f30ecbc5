package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/opinionproxy/internal/cache/memory"
	"github.com/alanyoungcy/opinionproxy/internal/governor"
)

// HealthHandler serves the health-check endpoint with cache and circuit
// breaker visibility.
type HealthHandler struct {
	cache *memory.Cache
	gov   *governor.Governor
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cache *memory.Cache, gov *governor.Governor) *HealthHandler {
	return &HealthHandler{cache: cache, gov: gov}
}

// Health responds with the server status, cache stats, and governor stats.
// GET /api/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"cache":     h.cache.Stats(),
		"governor":  h.gov.Stats(),
	})
}
