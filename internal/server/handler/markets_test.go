package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionproxy/internal/domain"
	"github.com/alanyoungcy/opinionproxy/internal/governor"
	"github.com/alanyoungcy/opinionproxy/internal/platform/opinion"
)

func binaryMarket(id int64) domain.Market {
	return domain.Market{
		ID:         id,
		Title:      fmt.Sprintf("market %d", id),
		YesTokenID: fmt.Sprintf("y%d", id),
		NoTokenID:  fmt.Sprintf("n%d", id),
		Volume24h:  "100",
		MarketType: domain.MarketTypeBinary,
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestMovers_RanksByPriceChange(t *testing.T) {
	svc := &fakeMarketService{
		list: domain.MarketList{Markets: []domain.Market{binaryMarket(1), binaryMarket(2)}, Total: 2},
		prices: map[string]domain.PriceData{
			"y1": {TokenID: "y1", Price: "0.65"},
			"n1": {TokenID: "n1", Price: "0.35"},
			"y2": {TokenID: "y2", Price: "0.50"},
			"n2": {TokenID: "n2", Price: "0.50"},
		},
		histories: map[string][]domain.PriceHistoryPoint{
			"y1": {{T: 1, P: "0.5"}},  // 0.5 -> 0.65 is +30%
			"y2": {{T: 1, P: "0.48"}}, // small move
		},
	}
	h := NewMarketHandler(svc, newTestCache(), testLogger())

	rec := httptest.NewRecorder()
	h.Movers(rec, httptest.NewRequest(http.MethodGet, "/api/markets/movers?timeframe=24h", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	movers := decodeBody[[]domain.MarketMover](t, rec)
	require.Len(t, movers, 2)
	assert.Equal(t, int64(1), movers[0].MarketID)
	assert.InDelta(t, 30.0, movers[0].ChangePct, 1e-6)
	assert.InDelta(t, 0.65, movers[0].YesPrice, 1e-9)
	assert.InDelta(t, 0.35, movers[0].NoPrice, 1e-9)
	assert.Equal(t, "24h", movers[0].Timeframe)
}

func TestMovers_InvalidTimeframe(t *testing.T) {
	h := NewMarketHandler(&fakeMarketService{}, newTestCache(), testLogger())

	rec := httptest.NewRecorder()
	h.Movers(rec, httptest.NewRequest(http.MethodGet, "/api/markets/movers?timeframe=7d", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[errorResponse](t, rec)
	assert.Equal(t, typeValidation, resp.Type)
}

func TestMovers_PerMarketHistoryFailureSkipsMarket(t *testing.T) {
	svc := &fakeMarketService{
		list: domain.MarketList{Markets: []domain.Market{binaryMarket(1)}, Total: 1},
		prices: map[string]domain.PriceData{
			"y1": {Price: "0.65"}, "n1": {Price: "0.35"},
		},
		historyErr: fmt.Errorf("history unavailable"),
	}
	h := NewMarketHandler(svc, newTestCache(), testLogger())

	rec := httptest.NewRecorder()
	h.Movers(rec, httptest.NewRequest(http.MethodGet, "/api/markets/movers", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]domain.MarketMover](t, rec))
}

func TestMovers_ServedFromCache(t *testing.T) {
	cache := newTestCache()
	cached := []domain.MarketMover{{MarketID: 99, Timeframe: "24h"}}
	cache.Set("movers:24h", cached, time.Minute)

	// A service error proves the handler never reached upstream.
	svc := &fakeMarketService{listErr: fmt.Errorf("must not be called")}
	h := NewMarketHandler(svc, cache, testLogger())

	rec := httptest.NewRecorder()
	h.Movers(rec, httptest.NewRequest(http.MethodGet, "/api/markets/movers", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	movers := decodeBody[[]domain.MarketMover](t, rec)
	require.Len(t, movers, 1)
	assert.Equal(t, int64(99), movers[0].MarketID)
}

func TestArbitrage_FlattensCategoricalMarkets(t *testing.T) {
	parent := domain.Market{
		ID:           10,
		Title:        "which team",
		MarketType:   domain.MarketTypeCategorical,
		ChildMarkets: []domain.Market{binaryMarket(11)},
	}
	svc := &fakeMarketService{
		list: domain.MarketList{Markets: []domain.Market{parent}, Total: 1},
		prices: map[string]domain.PriceData{
			"y11": {Price: "0.60"},
			"n11": {Price: "0.50"}, // sums to 1.10, a 10% spread
		},
	}
	h := NewMarketHandler(svc, newTestCache(), testLogger())

	rec := httptest.NewRecorder()
	h.Arbitrage(rec, httptest.NewRequest(http.MethodGet, "/api/markets/arbitrage", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	opps := decodeBody[[]domain.ArbitrageOpportunity](t, rec)
	require.Len(t, opps, 1)
	assert.Equal(t, int64(11), opps[0].MarketID)
	assert.InDelta(t, 10.0, opps[0].ArbPct, 1e-6)
}

func TestEndingSoon_ValidatesHours(t *testing.T) {
	h := NewMarketHandler(&fakeMarketService{}, newTestCache(), testLogger())

	for _, q := range []string{"hours=0", "hours=9000", "hours=abc"} {
		rec := httptest.NewRecorder()
		h.EndingSoon(rec, httptest.NewRequest(http.MethodGet, "/api/markets/ending-soon?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestEndingSoon_ReturnsMarketsInWindow(t *testing.T) {
	m := binaryMarket(1)
	m.CutoffAt = time.Now().Add(2 * time.Hour).Unix()
	svc := &fakeMarketService{
		list:   domain.MarketList{Markets: []domain.Market{m}, Total: 1},
		prices: map[string]domain.PriceData{"y1": {Price: "0.70"}, "n1": {Price: "0.30"}},
	}
	h := NewMarketHandler(svc, newTestCache(), testLogger())

	rec := httptest.NewRecorder()
	h.EndingSoon(rec, httptest.NewRequest(http.MethodGet, "/api/markets/ending-soon?hours=24", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	ending := decodeBody[[]domain.EndingSoonMarket](t, rec)
	require.Len(t, ending, 1)
	assert.Equal(t, int64(1), ending[0].MarketID)
	assert.InDelta(t, 2.0, ending[0].HoursLeft, 0.1)
}

func TestList_AttachesPrices(t *testing.T) {
	svc := &fakeMarketService{
		list:   domain.MarketList{Markets: []domain.Market{binaryMarket(1)}, Total: 40},
		prices: map[string]domain.PriceData{"y1": {Price: "0.65"}, "n1": {Price: "0.35"}},
	}
	h := NewMarketHandler(svc, newTestCache(), testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/markets/list?page=1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[listResponse](t, rec)
	assert.Equal(t, 40, resp.Total)
	require.Len(t, resp.Markets, 1)
	assert.InDelta(t, 0.65, resp.Markets[0].YesPrice, 1e-9)
	assert.InDelta(t, 0.35, resp.Markets[0].NoPrice, 1e-9)
}

func TestList_InvalidPage(t *testing.T) {
	h := NewMarketHandler(&fakeMarketService{}, newTestCache(), testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/markets/list?page=0", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetail_ReturnsMarket(t *testing.T) {
	svc := &fakeMarketService{detail: binaryMarket(7)}
	h := NewMarketHandler(svc, newTestCache(), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/markets/7", nil)
	req.SetPathValue("id", "7")
	rec := httptest.NewRecorder()
	h.Detail(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	m := decodeBody[domain.Market](t, rec)
	assert.Equal(t, int64(7), m.ID)
}

func TestDetail_NotFoundMapsTo404(t *testing.T) {
	svc := &fakeMarketService{detailErr: fmt.Errorf("market 7: %w", domain.ErrNotFound)}
	h := NewMarketHandler(svc, newTestCache(), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/markets/7", nil)
	req.SetPathValue("id", "7")
	rec := httptest.NewRecorder()
	h.Detail(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeBody[errorResponse](t, rec)
	assert.Equal(t, typeNotFound, resp.Type)
}

func TestDetail_InvalidID(t *testing.T) {
	h := NewMarketHandler(&fakeMarketService{}, newTestCache(), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/markets/abc", nil)
	req.SetPathValue("id", "abc")
	rec := httptest.NewRecorder()
	h.Detail(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetail_UpstreamRateLimitEchoesRetryAfter(t *testing.T) {
	svc := &fakeMarketService{
		detailErr: fmt.Errorf("market 7: %w", &domain.UpstreamError{
			Status:     http.StatusTooManyRequests,
			RetryAfter: 12 * time.Second,
		}),
	}
	h := NewMarketHandler(svc, newTestCache(), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/markets/7", nil)
	req.SetPathValue("id", "7")
	rec := httptest.NewRecorder()
	h.Detail(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "12", rec.Header().Get("Retry-After"))
	resp := decodeBody[errorResponse](t, rec)
	assert.Equal(t, typeRateLimit, resp.Type)
}

// TestMovers_EndToEnd drives the movers endpoint through the real Opinion
// client against a mock upstream.
func TestMovers_EndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/market":
			if r.URL.Query().Get("page") != "1" {
				fmt.Fprint(w, `{"code":0,"result":{"total":1,"list":[]}}`)
				return
			}
			fmt.Fprint(w, `{"code":0,"result":{"total":1,"list":[{"marketId":1,"marketTitle":"who wins","yesTokenId":"y1","noTokenId":"n1","statusEnum":2,"volume24h":"250","marketType":0}]}}`)
		case "/token/latest-price":
			id := r.URL.Query().Get("token_id")
			price := "0.65"
			if id == "n1" {
				price = "0.35"
			}
			fmt.Fprintf(w, `{"code":0,"result":{"tokenId":"%s","price":"%s","timestamp":1}}`, id, price)
		case "/token/price-history":
			fmt.Fprint(w, `{"code":0,"result":{"history":[{"t":1,"p":"0.5"},{"t":2,"p":"0.65"}]}}`)
		default:
			t.Errorf("unexpected upstream path %s", r.URL.Path)
		}
	}))
	defer upstream.Close()

	gov := governor.New(governor.Config{
		RequestsPerSecond: 1000,
		RetryBaseDelay:    time.Millisecond,
	}, testLogger())
	client := opinion.NewClient(opinion.Config{
		BaseURL: upstream.URL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	}, gov, testLogger())
	h := NewMarketHandler(client, newTestCache(), testLogger())

	rec := httptest.NewRecorder()
	h.Movers(rec, httptest.NewRequest(http.MethodGet, "/api/markets/movers?timeframe=24h", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	movers := decodeBody[[]domain.MarketMover](t, rec)
	require.Len(t, movers, 1)
	assert.Equal(t, int64(1), movers[0].MarketID)
	assert.Equal(t, "who wins", movers[0].Title)
	assert.InDelta(t, 0.65, movers[0].YesPrice, 1e-9)
	assert.InDelta(t, 0.35, movers[0].NoPrice, 1e-9)
	assert.InDelta(t, 30.0, movers[0].ChangePct, 1e-6)
}
