// Package app wires configuration, storage, exchange access, and the bot
// fleet into a runnable application.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/windowbot/internal/config"
	"github.com/alanyoungcy/windowbot/internal/server"
	"github.com/alanyoungcy/windowbot/internal/server/handler"
)

// archiveCheckInterval is how often the ledger rollover pass runs. Each pass
// archives every local ledger date before today, so missed passes catch up.
const archiveCheckInterval = time.Hour

// App owns the wired dependency graph and drives its long-running parts.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	deps    *Dependencies
	cleanup func()
}

// New wires all dependencies from the configuration. Call Close when done,
// whether or not Run was called.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	deps, cleanup, err := Wire(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &App{
		cfg:     cfg,
		logger:  logger,
		deps:    deps,
		cleanup: cleanup,
	}, nil
}

// Close releases all wired resources in reverse construction order.
func (a *App) Close() {
	if a.cleanup != nil {
		a.cleanup()
	}
}

// Run starts the price feed, the operator API, the ledger archive loop, and
// every enabled bot, then blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	// Price feed first so bots see prices as soon as they tick.
	g.Go(func() error {
		if err := a.deps.Feed.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("app: price feed: %w", err)
		}
		return nil
	})

	if a.cfg.Server.Enabled {
		srv := server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		}, server.Handlers{
			Health: handler.NewHealthHandler(a.logger),
			Bots:   handler.NewBotHandler(a.deps.Orchestrator, a.cfg, a.logger),
			Ledger: handler.NewLedgerHandler(a.deps.Store, a.deps.BlobReader, a.deps.Mirror, a.logger),
		}, a.logger)

		g.Go(func() error {
			if err := srv.Start(); err != nil && ctx.Err() == nil {
				return fmt.Errorf("app: server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if a.deps.Archiver != nil {
		g.Go(func() error {
			a.archiveLoop(ctx)
			return nil
		})
	}

	a.deps.Orchestrator.StartEnabled(ctx)

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a.deps.Orchestrator.StopAll(stopCtx)

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// archiveLoop periodically rolls completed ledger dates into blob storage.
// Failures are logged and retried on the next pass.
func (a *App) archiveLoop(ctx context.Context) {
	ticker := time.NewTicker(archiveCheckInterval)
	defer ticker.Stop()

	run := func() {
		today := time.Now().UTC().Format("2006-01-02")
		archived, err := a.deps.Archiver.ArchiveBefore(ctx, today)
		if err != nil {
			a.logger.Error("ledger archive pass failed", slog.Any("error", err))
		}
		if len(archived) > 0 {
			a.logger.Info("ledger dates archived", slog.Int("count", len(archived)))
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
