// Package app provides the top-level application lifecycle for lenderd. It
// wires together all dependencies (chain client, signer, stores, caches,
// solvers, flows, and notifications) and runs the background loops.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/openlend/lenderd/internal/config"
	"github.com/openlend/lenderd/internal/notify"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the
// background loops, and blocks until the context is cancelled. On return it
// runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting lenderd",
		slog.String("log_level", a.cfg.LogLevel),
		slog.Bool("use_permit", a.cfg.Flows.UsePermit),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	a.logger.InfoContext(ctx, "dependencies wired",
		slog.String("account", deps.Account.Hex()),
		slog.Int("watched_tokens", len(deps.WatchedTokens)),
	)

	g, ctx := errgroup.WithContext(ctx)

	// Allowance pollers: one per (token, spender) pair, so the engine's
	// variant resolution always has a fresh cache fallback to lean on.
	for _, token := range deps.WatchedTokens {
		for _, spender := range deps.Spenders {
			token, spender := token, spender
			g.Go(func() error {
				deps.Allowances.Poll(ctx, token, deps.Account, spender)
				return nil
			})
		}
	}

	// Record watcher: terminal records become operator notifications.
	watcher := notify.NewRecordWatcher(deps.RecordBus, deps.Notifier, a.logger)
	g.Go(func() error {
		return watcher.Run(ctx)
	})

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down lenderd")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
