// Package redis implements domain.SnapshotStore on go-redis/v9. Markets and
// prices are stored as JSON values in two hashes, with a separate key marking
// the last completed sync.
package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/opinionproxy/internal/domain"
)

const (
	marketsKey  = "snapshot:markets"
	pricesKey   = "snapshot:prices"
	lastSyncKey = "snapshot:last_sync_time"
)

// Config holds Redis connection parameters.
type Config struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// SnapshotStore persists market/price snapshots in Redis.
type SnapshotStore struct {
	rdb *redis.Client
}

// NewSnapshotStore connects to Redis and verifies connectivity with a ping.
func NewSnapshotStore(ctx context.Context, cfg Config) (*SnapshotStore, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &SnapshotStore{rdb: rdb}, nil
}

// Close releases the underlying connection pool.
func (s *SnapshotStore) Close() error {
	return s.rdb.Close()
}

// SaveMarkets replaces the markets hash with the given set in one pipeline.
func (s *SnapshotStore) SaveMarkets(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	fields := make(map[string]interface{}, len(markets))
	for _, m := range markets {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("redis: marshal market %d: %w", m.ID, err)
		}
		fields[strconv.FormatInt(m.ID, 10)] = data
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, marketsKey)
	pipe.HSet(ctx, marketsKey, fields)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: save markets: %w", err)
	}
	return nil
}

// SavePrices merges the given price records into the prices hash.
func (s *SnapshotStore) SavePrices(ctx context.Context, prices map[string]domain.PriceData) error {
	if len(prices) == 0 {
		return nil
	}

	fields := make(map[string]interface{}, len(prices))
	for tokenID, price := range prices {
		data, err := json.Marshal(price)
		if err != nil {
			return fmt.Errorf("redis: marshal price %s: %w", tokenID, err)
		}
		fields[tokenID] = data
	}

	if err := s.rdb.HSet(ctx, pricesKey, fields).Err(); err != nil {
		return fmt.Errorf("redis: save prices: %w", err)
	}
	return nil
}

// SetLastSyncTime records the completion time of a sync cycle.
func (s *SnapshotStore) SetLastSyncTime(ctx context.Context, t time.Time) error {
	if err := s.rdb.Set(ctx, lastSyncKey, t.UnixMilli(), 0).Err(); err != nil {
		return fmt.Errorf("redis: set last sync time: %w", err)
	}
	return nil
}

// LastSyncTime returns the recorded completion time of the previous sync, or
// domain.ErrNotFound when no sync has completed yet.
func (s *SnapshotStore) LastSyncTime(ctx context.Context) (time.Time, error) {
	v, err := s.rdb.Get(ctx, lastSyncKey).Int64()
	if err == redis.Nil {
		return time.Time{}, domain.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: get last sync time: %w", err)
	}
	return time.UnixMilli(v), nil
}

// Markets reads back the full market snapshot, mainly for consumers that
// bypass the proxy.
func (s *SnapshotStore) Markets(ctx context.Context) ([]domain.Market, error) {
	vals, err := s.rdb.HGetAll(ctx, marketsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get markets: %w", err)
	}

	markets := make([]domain.Market, 0, len(vals))
	for _, raw := range vals {
		var m domain.Market
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
