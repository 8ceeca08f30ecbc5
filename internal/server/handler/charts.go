package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/opinionproxy/internal/analytics"
	"github.com/alanyoungcy/opinionproxy/internal/cache/memory"
	"github.com/alanyoungcy/opinionproxy/internal/domain"
)

// ChartService is the slice of the Opinion client the chart handler needs.
type ChartService interface {
	PriceHistory(ctx context.Context, tokenID, interval string) ([]domain.PriceHistoryPoint, error)
	Orderbook(ctx context.Context, tokenID string) (domain.Orderbook, error)
}

// ChartHandler serves the price-history and orderbook endpoints.
type ChartHandler struct {
	charts ChartService
	cache  *memory.Cache
	logger *slog.Logger
}

// NewChartHandler creates a ChartHandler.
func NewChartHandler(charts ChartService, cache *memory.Cache, logger *slog.Logger) *ChartHandler {
	return &ChartHandler{
		charts: charts,
		cache:  cache,
		logger: logger.With(slog.String("handler", "charts")),
	}
}

// PriceHistory returns the YES series and NO-as-YES series of a market
// reduced to their shared timestamps.
// GET /api/charts/price-history?yesTokenId=&noTokenId=&interval=1h|1d
func (h *ChartHandler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	yesTokenID := q.Get("yesTokenId")
	noTokenID := q.Get("noTokenId")
	if yesTokenID == "" || noTokenID == "" {
		writeValidation(w, "yesTokenId and noTokenId are required")
		return
	}
	interval := q.Get("interval")
	if interval == "" {
		interval = "1h"
	}
	if !validInterval(interval) {
		writeValidation(w, "interval must be 1h or 1d")
		return
	}

	cacheKey := "chart:" + yesTokenID + ":" + noTokenID + ":" + interval
	if cached, ok := h.cache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	yesHistory, err := h.charts.PriceHistory(r.Context(), yesTokenID, interval)
	if err != nil {
		writeErr(w, err)
		return
	}
	noHistory, err := h.charts.PriceHistory(r.Context(), noTokenID, interval)
	if err != nil {
		writeErr(w, err)
		return
	}

	synced := analytics.SyncHistories(yesHistory, noHistory)
	if len(synced.Timestamps) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error: "no overlapping price history for the given tokens",
			Type:  typeNotFound,
		})
		return
	}

	h.cache.Set(cacheKey, synced, ttlHistory)
	writeJSON(w, http.StatusOK, synced)
}

// RawHistory returns a single token's price series unchanged.
// GET /api/history?tokenId=&interval=1h|1d
func (h *ChartHandler) RawHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tokenID := q.Get("tokenId")
	if tokenID == "" {
		writeValidation(w, "tokenId is required")
		return
	}
	interval := q.Get("interval")
	if interval == "" {
		interval = "1h"
	}
	if !validInterval(interval) {
		writeValidation(w, "interval must be 1h or 1d")
		return
	}

	cacheKey := "history:" + tokenID + ":" + interval
	if cached, ok := h.cache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	history, err := h.charts.PriceHistory(r.Context(), tokenID, interval)
	if err != nil {
		writeErr(w, err)
		return
	}

	h.cache.Set(cacheKey, history, ttlHistory)
	writeJSON(w, http.StatusOK, history)
}

// Orderbook returns the current orderbook snapshot for a token.
// GET /api/orderbook?tokenId=
func (h *ChartHandler) Orderbook(w http.ResponseWriter, r *http.Request) {
	tokenID := r.URL.Query().Get("tokenId")
	if tokenID == "" {
		writeValidation(w, "tokenId is required")
		return
	}

	book, err := h.charts.Orderbook(r.Context(), tokenID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}
