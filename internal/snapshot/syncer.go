// Package snapshot maintains a best-effort denormalized copy of all active
// markets and their current prices in an external store, refreshed on a fixed
// interval. A cycle that fails partway reports its partial counts and the
// scheduler keeps ticking; nothing here takes the process down.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/opinionproxy/internal/domain"
)

const (
	defaultInterval = 30 * time.Second
	// hard ceiling on pages per cycle so a misbehaving upstream total cannot
	// cause a runaway loop
	defaultMaxPages = 50
	pageLimit       = 20
	shutdownPoll    = 100 * time.Millisecond
)

// MarketSource is the slice of the Opinion client the syncer needs.
type MarketSource interface {
	Markets(ctx context.Context, page int, sortBy string, limit int) (domain.MarketList, error)
	MultiplePrices(ctx context.Context, tokenIDs []string) map[string]domain.PriceData
}

// SyncResult records one sync cycle for observability.
type SyncResult struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Markets   int           `json:"markets"`
	Prices    int           `json:"prices"`
	Errors    []string      `json:"errors,omitempty"`
	Success   bool          `json:"success"`
}

// Syncer runs the periodic snapshot job. Lifecycle: Start begins the loop
// (firing an immediate sync), Stop cancels it, Shutdown stops and waits for
// an in-flight sync to finish.
type Syncer struct {
	source   MarketSource
	store    domain.SnapshotStore
	interval time.Duration
	maxPages int
	logger   *slog.Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	syncing    bool
	lastResult SyncResult
}

// NewSyncer creates a Syncer. Non-positive interval/maxPages fall back to the
// defaults (30s, 50 pages).
func NewSyncer(source MarketSource, store domain.SnapshotStore, interval time.Duration, maxPages int, logger *slog.Logger) *Syncer {
	if interval <= 0 {
		interval = defaultInterval
	}
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &Syncer{
		source:   source,
		store:    store,
		interval: interval,
		maxPages: maxPages,
		logger:   logger.With(slog.String("component", "snapshot")),
	}
}

// Start launches the sync loop. It returns an error if the syncer is already
// running, or if a previous run's loop has been stopped but not yet drained.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("snapshot: syncer already running")
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return fmt.Errorf("snapshot: previous run still draining")
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done

	go s.run(loopCtx, done)
	s.logger.Info("snapshot syncer started", slog.Duration("interval", s.interval))
	return nil
}

// Stop cancels the sync loop. It does not wait for an in-flight sync.
func (s *Syncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Shutdown stops the loop and waits for any in-flight sync to finish, bounded
// by the context deadline, so the process is not killed mid-write.
func (s *Syncer) Shutdown(ctx context.Context) error {
	s.Stop()

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("snapshot: shutdown: %w", ctx.Err())
		}
	}

	ticker := time.NewTicker(shutdownPoll)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		syncing := s.syncing
		s.mu.Unlock()
		if !syncing {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("snapshot: shutdown: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// LastResult returns the most recent sync cycle's result.
func (s *Syncer) LastResult() SyncResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

func (s *Syncer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.syncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("snapshot syncer stopped")
			return
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

// syncOnce runs a single sync cycle: page through all markets, collect every
// YES/NO token id (child markets included), fetch prices in bulk, and write
// the snapshot.
func (s *Syncer) syncOnce(ctx context.Context) {
	s.mu.Lock()
	s.syncing = true
	s.mu.Unlock()

	result := SyncResult{StartedAt: time.Now()}
	defer func() {
		result.Duration = time.Since(result.StartedAt)
		result.Success = len(result.Errors) == 0

		s.mu.Lock()
		s.syncing = false
		s.lastResult = result
		s.mu.Unlock()

		s.logger.Info("snapshot sync finished",
			slog.Bool("success", result.Success),
			slog.Int("markets", result.Markets),
			slog.Int("prices", result.Prices),
			slog.Int("errors", len(result.Errors)),
			slog.Duration("duration", result.Duration),
		)
	}()

	markets := s.fetchAllMarkets(ctx, &result)
	result.Markets = len(markets)
	if len(markets) == 0 {
		return
	}

	var tokenIDs []string
	for _, m := range markets {
		tokenIDs = append(tokenIDs, m.TokenIDs()...)
	}
	prices := s.source.MultiplePrices(ctx, tokenIDs)
	result.Prices = len(prices)

	if err := s.store.SaveMarkets(ctx, markets); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("save markets: %v", err))
	}
	if err := s.store.SavePrices(ctx, prices); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("save prices: %v", err))
	}
	if err := s.store.SetLastSyncTime(ctx, time.Now()); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("set last sync time: %v", err))
	}
}

// fetchAllMarkets pages through the upstream market list. Each page gets one
// local retry on top of the client's own retry policy; a page that still
// fails is recorded and ends the walk with whatever was gathered.
func (s *Syncer) fetchAllMarkets(ctx context.Context, result *SyncResult) []domain.Market {
	var markets []domain.Market
	for page := 1; page <= s.maxPages; page++ {
		list, err := s.source.Markets(ctx, page, "volume", pageLimit)
		if err != nil {
			list, err = s.source.Markets(ctx, page, "volume", pageLimit)
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("page %d: %v", page, err))
			break
		}
		if len(list.Markets) == 0 {
			break
		}
		markets = append(markets, list.Markets...)
		if list.Total > 0 && len(markets) >= list.Total {
			break
		}
	}
	return markets
}
