package opinion

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionproxy/internal/domain"
	"github.com/alanyoungcy/opinionproxy/internal/governor"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gov := governor.New(governor.Config{
		MaxConcurrent:     10,
		RequestsPerSecond: 1000,
		FailureThreshold:  1000, // keep the breaker out of the way
		RecoveryTimeout:   time.Second,
		RetryBaseDelay:    time.Millisecond,
		RetryMaxDelay:     2 * time.Millisecond,
	}, slog.New(slog.DiscardHandler))

	return NewClient(Config{
		BaseURL:  srv.URL,
		APIKey:   "test-key",
		Timeout:  2 * time.Second,
		PageSize: 2,
	}, gov, slog.New(slog.DiscardHandler))
}

func marketListJSON(total int, ids ...int64) string {
	items := make([]string, 0, len(ids))
	for _, id := range ids {
		items = append(items, fmt.Sprintf(
			`{"marketId":%d,"marketTitle":"m%d","yesTokenId":"y%d","noTokenId":"n%d","statusEnum":2,"volume24h":"100"}`,
			id, id, id, id))
	}
	return fmt.Sprintf(`{"code":0,"result":{"total":%d,"list":[%s]}}`, total, strings.Join(items, ","))
}

func TestMarkets_ConcatenatesUpstreamPages(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/market", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("apikey"))
		require.Equal(t, "activated", r.URL.Query().Get("status"))
		require.Equal(t, "volume", r.URL.Query().Get("sortBy"))

		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, marketListJSON(10, 1, 2))
		case "2":
			fmt.Fprint(w, marketListJSON(10, 3, 4))
		default:
			t.Errorf("unexpected upstream page %q", r.URL.Query().Get("page"))
		}
	}))

	// Page size 2 and limit 4 means two upstream pages per logical page.
	list, err := c.Markets(context.Background(), 1, "volume", 4)

	require.NoError(t, err)
	assert.Equal(t, 10, list.Total)
	require.Len(t, list.Markets, 4)
	assert.Equal(t, int64(1), list.Markets[0].ID)
	assert.Equal(t, int64(4), list.Markets[3].ID)
	assert.Equal(t, "y1", list.Markets[0].YesTokenID)
}

func TestMarkets_SecondLogicalPageOffsetsUpstreamPages(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Query().Get("page")
		assert.Contains(t, []string{"3", "4"}, p)
		fmt.Fprint(w, marketListJSON(10))
	}))

	// Logical page 2 at limit 4 covers upstream pages 3 and 4.
	_, err := c.Markets(context.Background(), 2, "volume", 4)
	require.NoError(t, err)
}

func TestMarkets_LogicalPagesAreContiguousWhenLimitStraddlesUpstreamPages(t *testing.T) {
	// Upstream page N holds rows 2N-1 and 2N (page size 2 in tests).
	byRow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n int
		_, err := fmt.Sscanf(r.URL.Query().Get("page"), "%d", &n)
		require.NoError(t, err)
		fmt.Fprint(w, marketListJSON(10, int64(2*n-1), int64(2*n)))
	})

	c := newTestClient(t, byRow)

	// limit 3 is not a multiple of the upstream page size: logical page 2
	// starts mid-page and must pick up exactly where page 1 ended.
	first, err := c.Markets(context.Background(), 1, "volume", 3)
	require.NoError(t, err)
	second, err := c.Markets(context.Background(), 2, "volume", 3)
	require.NoError(t, err)

	var ids []int64
	for _, m := range append(first.Markets, second.Markets...) {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, ids,
		"no rows may be skipped between consecutive logical pages")
}

func TestMarkets_ErrorEnvelopeYieldsEmptyPage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":500,"result":null}`)
	}))

	list, err := c.Markets(context.Background(), 1, "volume", 2)

	require.NoError(t, err)
	assert.Empty(t, list.Markets)
	assert.Zero(t, list.Total)
}

func TestMarketDetail_Binary(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/market/7", r.URL.Path)
		fmt.Fprint(w, `{"code":0,"result":{"data":{"marketId":7,"marketTitle":"who wins","yesTokenId":"y7","noTokenId":"n7","marketType":0}}}`)
	}))

	m, err := c.MarketDetail(context.Background(), 7, false)

	require.NoError(t, err)
	assert.Equal(t, int64(7), m.ID)
	assert.Equal(t, "who wins", m.Title)
	assert.True(t, m.IsBinary())
}

func TestMarketDetail_FallsBackToCategorical(t *testing.T) {
	var binaryHits, categoricalHits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/market/9":
			binaryHits.Add(1)
			fmt.Fprint(w, `{"code":0,"result":{"data":null}}`)
		case "/market/categorical/9":
			categoricalHits.Add(1)
			fmt.Fprint(w, `{"code":0,"result":{"data":{"marketId":9,"marketTitle":"which team","marketType":1,"childMarkets":[{"marketId":91,"yesTokenId":"y91","noTokenId":"n91"}]}}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	m, err := c.MarketDetail(context.Background(), 9, false)

	require.NoError(t, err)
	assert.Equal(t, int64(9), m.ID)
	assert.False(t, m.IsBinary())
	require.Len(t, m.ChildMarkets, 1)
	assert.True(t, m.ChildMarkets[0].IsBinary())
	assert.Equal(t, int32(1), binaryHits.Load())
	assert.Equal(t, int32(1), categoricalHits.Load())
}

func TestMarketDetail_CategoricalMissIsNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":0,"result":{"data":null}}`)
	}))

	_, err := c.MarketDetail(context.Background(), 9, true)

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLatestPrice_Success(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/token/latest-price", r.URL.Path)
		require.Equal(t, "tok-1", r.URL.Query().Get("token_id"))
		fmt.Fprint(w, `{"code":0,"result":{"tokenId":"tok-1","price":"0.65","timestamp":1700000000000}}`)
	}))

	p := c.LatestPrice(context.Background(), "tok-1")

	assert.Equal(t, "tok-1", p.TokenID)
	assert.Equal(t, "0.65", p.Price)
	assert.Equal(t, int64(1700000000000), p.Timestamp)
}

func TestLatestPrice_UpstreamFailureFallsBackToZero(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))

	p := c.LatestPrice(context.Background(), "tok-1")

	assert.Equal(t, "tok-1", p.TokenID)
	assert.Equal(t, "0", p.Price)
	assert.NotZero(t, p.Timestamp)
}

func TestLatestPrice_EmptyEnvelopeFallsBackToZero(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":1,"result":{}}`)
	}))

	p := c.LatestPrice(context.Background(), "tok-2")

	assert.Equal(t, "0", p.Price)
}

func TestMultiplePrices_AlwaysCompleteMap(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("token_id")
		if id == "bad" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"code":0,"result":{"tokenId":"%s","price":"0.50","timestamp":1}}`, id)
	}))

	// Duplicates and empty ids collapse to three unique tokens.
	prices := c.MultiplePrices(context.Background(), []string{"a", "b", "bad", "a", ""})

	require.Len(t, prices, 3)
	assert.Equal(t, "0.50", prices["a"].Price)
	assert.Equal(t, "0.50", prices["b"].Price)
	assert.Equal(t, "0", prices["bad"].Price, "failed token must carry the fallback")
}

func TestMultiplePrices_TotalUpstreamFailure(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))

	prices := c.MultiplePrices(context.Background(), []string{"a", "b", "c"})

	require.Len(t, prices, 3)
	for id, p := range prices {
		assert.Equal(t, id, p.TokenID)
		assert.Equal(t, "0", p.Price)
	}
}

func TestMultiplePrices_EmptyInput(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no upstream call expected")
	}))

	prices := c.MultiplePrices(context.Background(), nil)

	assert.NotNil(t, prices)
	assert.Empty(t, prices)
}

func TestPriceHistory_ErrorEnvelopeYieldsEmptySeries(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":2,"result":null}`)
	}))

	points, err := c.PriceHistory(context.Background(), "tok-1", "1h")

	require.NoError(t, err)
	assert.NotNil(t, points)
	assert.Empty(t, points)
}

func TestPriceHistory_ReturnsSeries(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "1d", r.URL.Query().Get("interval"))
		fmt.Fprint(w, `{"code":0,"result":{"history":[{"t":1,"p":"0.5"},{"t":2,"p":"0.6"}]}}`)
	}))

	points, err := c.PriceHistory(context.Background(), "tok-1", "1d")

	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, int64(2), points[1].T)
	assert.Equal(t, "0.6", points[1].P)
}

func TestRateLimit_PropagatesWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "7")
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))

	_, err := c.PriceHistory(context.Background(), "tok-1", "1h")

	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, int32(1), hits.Load(), "429 must not be retried")

	var upErr *domain.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusTooManyRequests, upErr.Status)
	assert.Equal(t, 7*time.Second, upErr.RetryAfter)
}

func TestTransientFailure_IsRetried(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"code":0,"result":{"history":[{"t":1,"p":"0.5"}]}}`)
	}))

	points, err := c.PriceHistory(context.Background(), "tok-1", "1h")

	require.NoError(t, err)
	assert.Len(t, points, 1)
	assert.Equal(t, int32(3), hits.Load())
}

func TestUserPositions_ErrnoEnvelopeYieldsEmptySlice(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/positions/user/0xabc", r.URL.Path)
		fmt.Fprint(w, `{"errno":10001,"errmsg":"no such user","result":null}`)
	}))

	positions, err := c.UserPositions(context.Background(), "0xabc")

	require.NoError(t, err)
	assert.NotNil(t, positions)
	assert.Empty(t, positions)
}

func TestUserPositions_ReturnsHoldings(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errno":0,"result":{"total":1,"list":[{"marketId":5,"marketTitle":"m5","tokenId":"y5","outcome":"YES","shares":"12","avgPrice":"0.42"}]}}`)
	}))

	positions, err := c.UserPositions(context.Background(), "0xabc")

	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(5), positions[0].MarketID)
	assert.Equal(t, "YES", positions[0].Outcome)
	assert.Equal(t, "0.42", positions[0].AvgPrice)
}

func TestOrderbook_ReturnsSnapshot(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":0,"result":{"market":"m1","tokenId":"y1","timestamp":1700000000,"bids":[{"price":"0.64","size":"100"}],"asks":[{"price":"0.66","size":"80"}]}}`)
	}))

	book, err := c.Orderbook(context.Background(), "y1")

	require.NoError(t, err)
	assert.Equal(t, "y1", book.TokenID)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)
	assert.Equal(t, "0.64", book.Bids[0].Price)
}
