// Package opinion is the REST client for the Opinion prediction-market API.
// Every outbound call is routed through the request governor and keyed by
// endpoint + encoded params for deduplication. Upstream "no data" envelopes
// normalize to empty or fallback domain values; only transport-level failures
// (timeouts, 429s, non-2xx statuses) surface as errors.
package opinion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/opinionproxy/internal/domain"
	"github.com/alanyoungcy/opinionproxy/internal/governor"
)

// defaultPageSize is the page size the upstream /market endpoint serves
// regardless of the requested limit.
const defaultPageSize = 20

// maxBodyExcerpt bounds how much of an error response body is carried in the
// returned error.
const maxBodyExcerpt = 256

// Config holds the client's connection parameters.
type Config struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration // per-request deadline, default 10s
	PageSize int           // upstream page size, default 20
}

// Client talks to the Opinion API.
type Client struct {
	baseURL    string
	apiKey     string
	pageSize   int
	httpClient *http.Client
	gov        *governor.Governor
	logger     *slog.Logger
}

// NewClient creates a Client that issues every call through gov.
func NewClient(cfg Config, gov *governor.Governor, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: timeout},
		gov:        gov,
		logger:     logger.With(slog.String("component", "opinion")),
	}
}

// Markets returns one logical page of activated markets. When limit exceeds
// the upstream page size the necessary upstream pages are fetched in parallel
// and concatenated.
func (c *Client) Markets(ctx context.Context, page int, sortBy string, limit int) (domain.MarketList, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = c.pageSize
	}
	if sortBy == "" {
		sortBy = "volume"
	}

	// Logical page p covers upstream rows [(p-1)*limit, p*limit). The range
	// may start mid-page and straddle page boundaries when limit is not a
	// multiple of the upstream page size.
	startRow := (page - 1) * limit
	firstUpstream := startRow/c.pageSize + 1
	skip := startRow % c.pageSize
	pages := (skip + limit + c.pageSize - 1) / c.pageSize

	var (
		mu      sync.Mutex
		total   int
		chunks  = make([][]domain.Market, pages)
		g, gctx = errgroup.WithContext(ctx)
	)
	for i := 0; i < pages; i++ {
		g.Go(func() error {
			list, pageTotal, err := c.marketsPage(gctx, firstUpstream+i, sortBy)
			if err != nil {
				return err
			}
			mu.Lock()
			chunks[i] = list
			if pageTotal > total {
				total = pageTotal
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.MarketList{}, fmt.Errorf("opinion: get markets: %w", err)
	}

	markets := make([]domain.Market, 0, pages*c.pageSize)
	for _, chunk := range chunks {
		markets = append(markets, chunk...)
	}
	if skip > len(markets) {
		skip = len(markets)
	}
	markets = markets[skip:]
	if len(markets) > limit {
		markets = markets[:limit]
	}
	return domain.MarketList{Markets: markets, Total: total}, nil
}

// marketsPage fetches a single upstream page.
func (c *Client) marketsPage(ctx context.Context, upstreamPage int, sortBy string) ([]domain.Market, int, error) {
	params := url.Values{}
	params.Set("status", "activated")
	params.Set("limit", strconv.Itoa(c.pageSize))
	params.Set("page", strconv.Itoa(upstreamPage))
	params.Set("sortBy", sortBy)

	body, err := c.governed(ctx, "/market", params, 3)
	if err != nil {
		return nil, 0, err
	}

	var env marketListEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, 0, fmt.Errorf("decode market list: %w", err)
	}
	if env.Code != 0 {
		return nil, 0, nil
	}

	markets := make([]domain.Market, 0, len(env.Result.List))
	for i := range env.Result.List {
		markets = append(markets, env.Result.List[i].ToDomainMarket())
	}
	return markets, env.Result.Total, nil
}

// MarketDetail returns a single market. A binary lookup that comes back empty
// is retried once against the categorical endpoint, since callers cannot
// always tell the two apart.
func (c *Client) MarketDetail(ctx context.Context, id int64, categorical bool) (domain.Market, error) {
	market, err := c.marketDetail(ctx, id, categorical)
	if err == nil || categorical || !errors.Is(err, domain.ErrNotFound) {
		return market, err
	}
	return c.marketDetail(ctx, id, true)
}

func (c *Client) marketDetail(ctx context.Context, id int64, categorical bool) (domain.Market, error) {
	path := "/market/" + strconv.FormatInt(id, 10)
	if categorical {
		path = "/market/categorical/" + strconv.FormatInt(id, 10)
	}

	body, err := c.governed(ctx, path, nil, 2)
	if err != nil {
		return domain.Market{}, fmt.Errorf("opinion: get market %d: %w", id, err)
	}

	var env marketDetailEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.Market{}, fmt.Errorf("opinion: decode market %d: %w", id, err)
	}
	if env.Code != 0 || env.Result.Data == nil {
		return domain.Market{}, fmt.Errorf("opinion: market %d: %w", id, domain.ErrNotFound)
	}
	return env.Result.Data.ToDomainMarket(), nil
}

// LatestPrice returns the latest price for a token. Per the upstream access
// contract it never returns an error: when no price is available for any
// reason the zero-price fallback record is synthesized instead.
func (c *Client) LatestPrice(ctx context.Context, tokenID string) domain.PriceData {
	params := url.Values{}
	params.Set("token_id", tokenID)

	body, err := c.governed(ctx, "/token/latest-price", params, 2)
	if err != nil {
		c.logger.Warn("latest price fetch failed, using fallback",
			slog.String("token_id", tokenID),
			slog.String("error", err.Error()),
		)
		return domain.FallbackPrice(tokenID)
	}

	var env priceEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Code != 0 || env.Result.Price == "" {
		return domain.FallbackPrice(tokenID)
	}
	return domain.PriceData{
		TokenID:   env.Result.TokenID,
		Price:     env.Result.Price,
		Timestamp: env.Result.Timestamp,
	}
}

// MultiplePrices fetches the latest price for every unique token id in
// tokenIDs. The returned map always holds exactly one entry per unique id;
// tokens whose fetch failed carry the zero-price fallback. Parallelism beyond
// the governor's cap is bounded locally as well.
func (c *Client) MultiplePrices(ctx context.Context, tokenIDs []string) map[string]domain.PriceData {
	unique := make([]string, 0, len(tokenIDs))
	seen := make(map[string]struct{}, len(tokenIDs))
	for _, id := range tokenIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	prices := make(map[string]domain.PriceData, len(unique))
	if len(unique) == 0 {
		return prices
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(10)
	for _, id := range unique {
		g.Go(func() error {
			price := c.LatestPrice(gctx, id)
			mu.Lock()
			prices[id] = price
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // LatestPrice never errors

	return prices
}

// PriceHistory returns the price series for a token at the given interval
// ("1h" or "1d"). An empty or error envelope yields an empty series.
func (c *Client) PriceHistory(ctx context.Context, tokenID, interval string) ([]domain.PriceHistoryPoint, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)
	params.Set("interval", interval)

	body, err := c.governed(ctx, "/token/price-history", params, 3)
	if err != nil {
		return nil, fmt.Errorf("opinion: get price history %s: %w", tokenID, err)
	}

	var env historyEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("opinion: decode price history %s: %w", tokenID, err)
	}
	if env.Code != 0 {
		return []domain.PriceHistoryPoint{}, nil
	}
	return env.Result.History, nil
}

// Orderbook returns the current orderbook snapshot for a token.
func (c *Client) Orderbook(ctx context.Context, tokenID string) (domain.Orderbook, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	body, err := c.governed(ctx, "/token/orderbook", params, 2)
	if err != nil {
		return domain.Orderbook{}, fmt.Errorf("opinion: get orderbook %s: %w", tokenID, err)
	}

	var env orderbookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.Orderbook{}, fmt.Errorf("opinion: decode orderbook %s: %w", tokenID, err)
	}
	if env.Code != 0 {
		return domain.Orderbook{}, fmt.Errorf("opinion: orderbook %s: %w", tokenID, domain.ErrNotFound)
	}
	return domain.Orderbook{
		Market:    env.Result.Market,
		TokenID:   env.Result.TokenID,
		Timestamp: env.Result.Timestamp,
		Bids:      env.Result.Bids,
		Asks:      env.Result.Asks,
	}, nil
}

// UserPositions returns the outcome-token holdings of a wallet address. An
// errno envelope or missing result yields an empty slice.
func (c *Client) UserPositions(ctx context.Context, address string) ([]domain.UserPosition, error) {
	body, err := c.governed(ctx, "/positions/user/"+url.PathEscape(address), nil, 2)
	if err != nil {
		return nil, fmt.Errorf("opinion: get positions %s: %w", address, err)
	}

	var env positionsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("opinion: decode positions %s: %w", address, err)
	}
	if env.Errno != 0 {
		return []domain.UserPosition{}, nil
	}

	positions := make([]domain.UserPosition, 0, len(env.Result.List))
	for i := range env.Result.List {
		positions = append(positions, env.Result.List[i].ToDomainPosition())
	}
	return positions, nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// governed issues a GET through the governor with retry. The dedup key is the
// path plus its encoded params, so concurrent identical queries coalesce into
// one upstream call.
func (c *Client) governed(ctx context.Context, path string, params url.Values, maxAttempts int) ([]byte, error) {
	key := path
	if len(params) > 0 {
		key += "?" + params.Encode()
	}

	result, err := c.gov.DoRetry(ctx, key, maxAttempts, func(ctx context.Context) (any, error) {
		return c.doGet(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// doGet sends a single GET request and returns the raw body.
func (c *Client) doGet(ctx context.Context, pathAndQuery string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathAndQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, resp.Header, body); err != nil {
		return nil, err
	}
	return body, nil
}

// wrapTransportError marks deadline and network timeouts with domain.ErrTimeout
// so the retry policy and response mapping can branch on the cause.
func wrapTransportError(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return fmt.Errorf("http request: %w", err)
}

// checkHTTPStatus maps non-2xx statuses onto domain.UpstreamError, carrying
// Retry-After through on 429s.
func checkHTTPStatus(statusCode int, header http.Header, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	excerpt := string(body)
	if len(excerpt) > maxBodyExcerpt {
		excerpt = excerpt[:maxBodyExcerpt]
	}

	upErr := &domain.UpstreamError{Status: statusCode, Body: excerpt}
	if statusCode == http.StatusTooManyRequests {
		if v := header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				upErr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
	}
	return upErr
}
