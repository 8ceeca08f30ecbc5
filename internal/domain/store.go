package domain

import (
	"context"
	"time"
)

// SnapshotStore persists the periodic denormalized snapshot of markets and
// prices for consumers that cannot afford per-request upstream latency.
// Writes are best effort; implementations must not be assumed transactional.
type SnapshotStore interface {
	SaveMarkets(ctx context.Context, markets []Market) error
	SavePrices(ctx context.Context, prices map[string]PriceData) error
	SetLastSyncTime(ctx context.Context, t time.Time) error
	LastSyncTime(ctx context.Context) (time.Time, error)
}
