package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// shutdownGrace bounds how long graceful shutdown waits for in-flight work.
const shutdownGrace = 30 * time.Second

// ServeMode runs the HTTP API server until the context is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Server.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return deps.Server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("app: serve mode: %w", err)
	}
	return ctx.Err()
}

// SyncMode runs only the snapshot job until the context is cancelled.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	if deps.Syncer == nil {
		return fmt.Errorf("app: sync mode requires snapshot.enabled")
	}
	if err := deps.Syncer.Start(ctx); err != nil {
		return fmt.Errorf("app: sync mode: %w", err)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := deps.Syncer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("snapshot syncer did not stop cleanly", "error", err.Error())
	}
	return ctx.Err()
}

// FullMode runs the HTTP server and the snapshot job together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	if deps.Syncer != nil {
		if err := deps.Syncer.Start(ctx); err != nil {
			return fmt.Errorf("app: full mode: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := deps.Syncer.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("snapshot syncer did not stop cleanly", "error", err.Error())
			}
		}()
	}

	return a.ServeMode(ctx, deps)
}
