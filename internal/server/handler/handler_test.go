package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/opinionproxy/internal/cache/memory"
	"github.com/alanyoungcy/opinionproxy/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestCache() *memory.Cache {
	return memory.New(100, time.Minute)
}

// fakeMarketService satisfies MarketService with canned data.
type fakeMarketService struct {
	list       domain.MarketList
	listErr    error
	detail     domain.Market
	detailErr  error
	prices     map[string]domain.PriceData
	histories  map[string][]domain.PriceHistoryPoint
	historyErr error
}

func (f *fakeMarketService) Markets(ctx context.Context, page int, sortBy string, limit int) (domain.MarketList, error) {
	return f.list, f.listErr
}

func (f *fakeMarketService) MarketDetail(ctx context.Context, id int64, categorical bool) (domain.Market, error) {
	return f.detail, f.detailErr
}

func (f *fakeMarketService) MultiplePrices(ctx context.Context, tokenIDs []string) map[string]domain.PriceData {
	out := make(map[string]domain.PriceData, len(tokenIDs))
	for _, id := range tokenIDs {
		if id == "" {
			continue
		}
		if p, ok := f.prices[id]; ok {
			out[id] = p
		} else {
			out[id] = domain.FallbackPrice(id)
		}
	}
	return out
}

func (f *fakeMarketService) PriceHistory(ctx context.Context, tokenID, interval string) ([]domain.PriceHistoryPoint, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.histories[tokenID], nil
}

// fakeChartService satisfies ChartService with canned data.
type fakeChartService struct {
	histories  map[string][]domain.PriceHistoryPoint
	historyErr error
	book       domain.Orderbook
	bookErr    error
}

func (f *fakeChartService) PriceHistory(ctx context.Context, tokenID, interval string) ([]domain.PriceHistoryPoint, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.histories[tokenID], nil
}

func (f *fakeChartService) Orderbook(ctx context.Context, tokenID string) (domain.Orderbook, error) {
	return f.book, f.bookErr
}

// fakePositionService satisfies PositionService with canned data.
type fakePositionService struct {
	positions []domain.UserPosition
	err       error
}

func (f *fakePositionService) UserPositions(ctx context.Context, address string) ([]domain.UserPosition, error) {
	return f.positions, f.err
}
