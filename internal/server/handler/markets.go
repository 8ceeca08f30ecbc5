package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/opinionproxy/internal/analytics"
	"github.com/alanyoungcy/opinionproxy/internal/cache/memory"
	"github.com/alanyoungcy/opinionproxy/internal/domain"
)

// Freshness windows per endpoint. These are part of the upstream-protection
// contract, not tuning knobs: shortening them multiplies upstream traffic.
const (
	ttlMovers     = 30 * time.Second
	ttlArbitrage  = 30 * time.Second
	ttlMarketList = 30 * time.Second
	ttlDetail     = 30 * time.Second
	ttlEndingSoon = 60 * time.Second
	ttlHistory    = 60 * time.Second
	ttlPositions  = 15 * time.Second
)

// moversUniverse is how many top-volume markets the ranking endpoints scan.
const moversUniverse = 50

// MarketService is the slice of the Opinion client the market handler needs.
type MarketService interface {
	Markets(ctx context.Context, page int, sortBy string, limit int) (domain.MarketList, error)
	MarketDetail(ctx context.Context, id int64, categorical bool) (domain.Market, error)
	MultiplePrices(ctx context.Context, tokenIDs []string) map[string]domain.PriceData
	PriceHistory(ctx context.Context, tokenID, interval string) ([]domain.PriceHistoryPoint, error)
}

// MarketHandler serves the market listing and analytics endpoints.
type MarketHandler struct {
	markets MarketService
	cache   *memory.Cache
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, cache *memory.Cache, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		cache:   cache,
		logger:  logger.With(slog.String("handler", "markets")),
	}
}

// Movers returns markets ranked by price change over the timeframe.
// GET /api/markets/movers?timeframe=1h|24h
func (h *MarketHandler) Movers(w http.ResponseWriter, r *http.Request) {
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "24h"
	}
	if timeframe != "1h" && timeframe != "24h" {
		writeValidation(w, "timeframe must be 1h or 24h")
		return
	}

	cacheKey := "movers:" + timeframe
	if cached, ok := h.cache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	markets, prices, err := h.marketUniverse(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	interval := "1d"
	if timeframe == "1h" {
		interval = "1h"
	}

	movers := make([]domain.MarketMover, 0, len(markets))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(r.Context())
	g.SetLimit(10)
	for _, m := range markets {
		g.Go(func() error {
			history, err := h.markets.PriceHistory(gctx, m.YesTokenID, interval)
			if err != nil {
				// Per-item failure: skip this market, the batch still succeeds.
				h.logger.Warn("price history fetch failed, skipping market",
					slog.Int64("market_id", m.ID),
					slog.String("error", err.Error()),
				)
				return nil
			}

			yesPrice := analytics.ParsePrice(prices[m.YesTokenID].Price)
			noPrice := analytics.ParsePrice(prices[m.NoTokenID].Price)
			previous := yesPrice
			if len(history) > 0 {
				previous = analytics.ParsePrice(history[0].P)
			}

			mu.Lock()
			movers = append(movers, domain.MarketMover{
				MarketID:  m.ID,
				Title:     m.Title,
				YesPrice:  yesPrice,
				NoPrice:   noPrice,
				ChangePct: analytics.ChangePct(yesPrice, previous),
				Volume24h: analytics.ParsePrice(m.Volume24h),
				Timeframe: timeframe,
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	analytics.SortMovers(movers)
	h.cache.Set(cacheKey, movers, ttlMovers)
	writeJSON(w, http.StatusOK, movers)
}

// Arbitrage returns markets whose YES/NO prices diverge from summing to 1.
// GET /api/markets/arbitrage
func (h *MarketHandler) Arbitrage(w http.ResponseWriter, r *http.Request) {
	const cacheKey = "arbitrage"
	if cached, ok := h.cache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	markets, prices, err := h.marketUniverse(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	opportunities := analytics.FindArbitrage(markets, prices)
	h.cache.Set(cacheKey, opportunities, ttlArbitrage)
	writeJSON(w, http.StatusOK, opportunities)
}

// EndingSoon returns markets whose trading cutoff falls within the window.
// GET /api/markets/ending-soon?hours=1..8760
func (h *MarketHandler) EndingSoon(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", 24)
	if err != nil || hours < 1 || hours > 8760 {
		writeValidation(w, "hours must be an integer between 1 and 8760")
		return
	}

	cacheKey := "ending-soon:" + strconv.Itoa(hours)
	if cached, ok := h.cache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	markets, prices, err := h.marketUniverse(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	ending := analytics.EndingSoon(markets, prices, time.Now(), hours)
	h.cache.Set(cacheKey, ending, ttlEndingSoon)
	writeJSON(w, http.StatusOK, ending)
}

// listResponse wraps the list endpoint output with the upstream total.
type listResponse struct {
	Markets []domain.MarketWithPrices `json:"markets"`
	Total   int                       `json:"total"`
}

// List returns one page of markets with their current prices.
// GET /api/markets/list?page=1
func (h *MarketHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil || page < 1 {
		writeValidation(w, "page must be a positive integer")
		return
	}

	cacheKey := "markets:list:" + strconv.Itoa(page)
	if cached, ok := h.cache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	list, err := h.markets.Markets(r.Context(), page, "volume", 20)
	if err != nil {
		writeErr(w, err)
		return
	}

	var tokenIDs []string
	for _, m := range list.Markets {
		tokenIDs = append(tokenIDs, m.TokenIDs()...)
	}
	prices := h.markets.MultiplePrices(r.Context(), tokenIDs)

	withPrices := make([]domain.MarketWithPrices, 0, len(list.Markets))
	for _, m := range list.Markets {
		withPrices = append(withPrices, domain.MarketWithPrices{
			Market:   m,
			YesPrice: analytics.ParsePrice(prices[m.YesTokenID].Price),
			NoPrice:  analytics.ParsePrice(prices[m.NoTokenID].Price),
		})
	}

	resp := listResponse{Markets: withPrices, Total: list.Total}
	h.cache.Set(cacheKey, resp, ttlMarketList)
	writeJSON(w, http.StatusOK, resp)
}

// Detail returns a single market.
// GET /api/markets/{id}?type=0|1
func (h *MarketHandler) Detail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeValidation(w, "market id must be a positive integer")
		return
	}

	marketType := r.URL.Query().Get("type")
	if marketType == "" {
		marketType = "0"
	}
	if marketType != "0" && marketType != "1" {
		writeValidation(w, "type must be 0 or 1")
		return
	}
	categorical := marketType == "1"

	cacheKey := "market:" + strconv.FormatInt(id, 10) + ":" + marketType
	if cached, ok := h.cache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	market, err := h.markets.MarketDetail(r.Context(), id, categorical)
	if err != nil {
		writeErr(w, err)
		return
	}

	h.cache.Set(cacheKey, market, ttlDetail)
	writeJSON(w, http.StatusOK, market)
}

// marketUniverse fetches the top markets by volume with their current prices,
// flattening categorical markets into their binary sub-outcomes so every
// returned market has a YES/NO pair.
func (h *MarketHandler) marketUniverse(ctx context.Context) ([]domain.Market, map[string]domain.PriceData, error) {
	list, err := h.markets.Markets(ctx, 1, "volume", moversUniverse)
	if err != nil {
		return nil, nil, err
	}

	var (
		binary   []domain.Market
		tokenIDs []string
	)
	for _, m := range list.Markets {
		if m.IsBinary() {
			binary = append(binary, m)
		} else {
			binary = append(binary, m.ChildMarkets...)
		}
	}
	for _, m := range binary {
		tokenIDs = append(tokenIDs, m.YesTokenID, m.NoTokenID)
	}

	prices := h.markets.MultiplePrices(ctx, tokenIDs)
	return binary, prices, nil
}
