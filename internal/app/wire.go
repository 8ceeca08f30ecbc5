package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/opinionproxy/internal/cache/memory"
	"github.com/alanyoungcy/opinionproxy/internal/cache/redis"
	"github.com/alanyoungcy/opinionproxy/internal/config"
	"github.com/alanyoungcy/opinionproxy/internal/governor"
	"github.com/alanyoungcy/opinionproxy/internal/platform/opinion"
	"github.com/alanyoungcy/opinionproxy/internal/server"
	"github.com/alanyoungcy/opinionproxy/internal/server/handler"
	"github.com/alanyoungcy/opinionproxy/internal/snapshot"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Governor *governor.Governor
	Cache    *memory.Cache
	Client   *opinion.Client
	Server   *server.Server
	Syncer   *snapshot.Syncer // nil unless the snapshot job is enabled
}

// needsSnapshot returns true for modes that run the snapshot job.
func needsSnapshot(mode string) bool {
	switch mode {
	case "sync", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependencies from the given configuration and
// returns them together with a cleanup function that should be called on
// shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Request governor + response cache: one shared instance each ---
	deps.Governor = governor.New(governor.Config{
		MaxConcurrent:     int64(cfg.Governor.MaxConcurrent),
		RequestsPerSecond: cfg.Governor.RequestsPerSecond,
		FailureThreshold:  uint32(cfg.Governor.FailureThreshold),
		SuccessThreshold:  uint32(cfg.Governor.SuccessThreshold),
		RecoveryTimeout:   cfg.Governor.RecoveryTimeout.Duration,
		RetryBaseDelay:    cfg.Governor.RetryBaseDelay.Duration,
		RetryMaxDelay:     cfg.Governor.RetryMaxDelay.Duration,
	}, logger)

	deps.Cache = memory.New(cfg.Cache.MaxSize, cfg.Cache.SweepInterval.Duration)
	closers = append(closers, deps.Cache.Close)

	// --- Upstream client ---
	deps.Client = opinion.NewClient(opinion.Config{
		BaseURL:  cfg.Opinion.BaseURL,
		APIKey:   cfg.Opinion.APIKey,
		Timeout:  cfg.Opinion.Timeout.Duration,
		PageSize: cfg.Opinion.PageSize,
	}, deps.Governor, logger)

	// --- Snapshot job (only for modes that run it) ---
	if needsSnapshot(cfg.Mode) && cfg.Snapshot.Enabled {
		store, err := redis.NewSnapshotStore(ctx, redis.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = store.Close() })

		deps.Syncer = snapshot.NewSyncer(
			deps.Client,
			store,
			cfg.Snapshot.Interval.Duration,
			cfg.Snapshot.MaxPages,
			logger,
		)
	}

	// --- HTTP server ---
	deps.Server = server.NewServer(
		server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
		},
		server.Handlers{
			Health:    handler.NewHealthHandler(deps.Cache, deps.Governor),
			Markets:   handler.NewMarketHandler(deps.Client, deps.Cache, logger),
			Charts:    handler.NewChartHandler(deps.Client, deps.Cache, logger),
			Positions: handler.NewPositionHandler(deps.Client, deps.Cache, logger),
		},
		logger,
	)

	return deps, cleanup, nil
}
