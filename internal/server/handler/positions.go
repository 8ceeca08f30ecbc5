package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/opinionproxy/internal/cache/memory"
	"github.com/alanyoungcy/opinionproxy/internal/domain"
)

// PositionService is the slice of the Opinion client the position handler needs.
type PositionService interface {
	UserPositions(ctx context.Context, address string) ([]domain.UserPosition, error)
}

// PositionHandler serves the user-positions endpoint.
type PositionHandler struct {
	positions PositionService
	cache     *memory.Cache
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionService, cache *memory.Cache, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		cache:     cache,
		logger:    logger.With(slog.String("handler", "positions")),
	}
}

// UserPositions returns the holdings of a wallet address. Fetch failures
// degrade to an empty array; this endpoint never reports an upstream error to
// the dashboard.
// GET /api/user/positions?address=
func (h *PositionHandler) UserPositions(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeValidation(w, "address is required")
		return
	}

	cacheKey := "positions:" + address
	if cached, ok := h.cache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	positions, err := h.positions.UserPositions(r.Context(), address)
	if err != nil {
		h.logger.Warn("positions fetch failed, returning empty",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusOK, []domain.UserPosition{})
		return
	}

	h.cache.Set(cacheKey, positions, ttlPositions)
	writeJSON(w, http.StatusOK, positions)
}
