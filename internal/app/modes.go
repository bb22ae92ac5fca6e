package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/futbot/internal/domain"
	"github.com/alanyoungcy/futbot/internal/engine"
	"github.com/alanyoungcy/futbot/internal/feed"
	"github.com/alanyoungcy/futbot/internal/ledger"
	"github.com/alanyoungcy/futbot/internal/monitor"
	"github.com/alanyoungcy/futbot/internal/risk"
	"github.com/alanyoungcy/futbot/internal/server"
	"github.com/alanyoungcy/futbot/internal/server/handler"
	"github.com/alanyoungcy/futbot/internal/strategy"
	"github.com/alanyoungcy/futbot/internal/trader"
)

// closeAllTimeout bounds the flatten-everything pass in close mode and is
// reused when trade mode shuts down with positions still open.
const closeAllTimeout = 30 * time.Second

// TradeMode starts the full trading loop: strategy-driven entries through
// the risk gate, the position and liquidation monitors, the mark-price
// feed, trade archival, and the HTTP status server.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Any("symbols", a.cfg.Trading.Symbols),
	)

	g, ctx := errgroup.WithContext(ctx)

	eng := engine.New(
		a.cfg.Trading,
		deps.Exchange,
		deps.Book,
		deps.Notifier,
		deps.TradeStore,
		deps.Marks,
		deps.Stats,
		a.logger,
	)
	gate := risk.New(a.cfg.Risk, deps.Exchange, deps.Book, deps.Equity, deps.Notifier, a.logger)
	strat := strategy.NewCore(a.cfg.Strategy, a.cfg.Trading, deps.Exchange, a.logger)

	tr := trader.New(
		a.cfg.Trading,
		strat,
		gate,
		eng,
		deps.Book,
		deps.Exchange,
		deps.Stats,
		a.cfg.Strategy.CycleInterval.Duration,
		a.logger,
	)
	g.Go(func() error {
		return tr.Run(ctx)
	})

	mon := monitor.New(a.cfg.Monitor, deps.Exchange, deps.Book, eng, deps.Marks, a.logger)
	g.Go(func() error {
		return mon.Run(ctx)
	})

	liq := monitor.NewLiquidationMonitor(a.cfg.Monitor, deps.Exchange, eng, deps.Notifier, a.logger)
	g.Go(func() error {
		return liq.Run(ctx)
	})

	a.startMarkPriceFeed(ctx, g, deps)

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	err := g.Wait()

	// The loops are stopped; flatten whatever is still open under a
	// fresh bounded context so a hung exchange cannot block shutdown.
	flattenCtx, cancel := context.WithTimeout(context.Background(), closeAllTimeout)
	defer cancel()
	a.flattenOnShutdown(flattenCtx, eng, deps.Book)

	return err
}

// flattenOnShutdown closes every position the book still tracks before
// the process exits.
func (a *App) flattenOnShutdown(ctx context.Context, eng *engine.Engine, book *ledger.Ledger) {
	if book.Count() == 0 {
		return
	}
	closed := eng.CloseAllPositions(ctx, domain.CloseReasonShutdown)
	a.logger.Info("shutdown flatten finished",
		slog.Int("closed", len(closed)),
	)
	if n := book.Count(); n > 0 {
		a.logger.Warn("positions still open after shutdown flatten",
			slog.Int("count", n),
		)
	}
}

// MonitorMode starts read-only observation: the mark-price feed, a
// periodic reconciliation loop that mirrors exchange positions into the
// book, and the HTTP server. No orders are placed or cancelled.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startMarkPriceFeed(ctx, g, deps)

	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Monitor.PollInterval.Duration)
		defer ticker.Stop()
		for {
			if _, err := deps.Book.Reconcile(ctx, deps.Exchange); err != nil {
				a.logger.WarnContext(ctx, "monitor mode: reconcile failed",
					slog.String("error", err.Error()),
				)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})

	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// CloseMode flattens every open position and exits. The whole pass is
// bounded so a hung exchange cannot keep the process alive.
func (a *App) CloseMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting close mode")

	ctx, cancel := context.WithTimeout(ctx, closeAllTimeout)
	defer cancel()

	eng := engine.New(
		a.cfg.Trading,
		deps.Exchange,
		deps.Book,
		deps.Notifier,
		deps.TradeStore,
		deps.Marks,
		deps.Stats,
		a.logger,
	)

	if _, err := deps.Book.Reconcile(ctx, deps.Exchange); err != nil {
		return fmt.Errorf("close mode: reconcile: %w", err)
	}

	closed := eng.CloseAllPositions(ctx, domain.CloseReasonManual)
	var pnl float64
	for _, c := range closed {
		pnl += c.PnL
	}
	a.logger.InfoContext(ctx, "close mode finished",
		slog.Int("closed", len(closed)),
		slog.Int("remaining", deps.Book.Count()),
		slog.Float64("realized_pnl", pnl),
	)
	if deps.Book.Count() > 0 {
		return fmt.Errorf("close mode: %d positions still open", deps.Book.Count())
	}
	return nil
}

// startMarkPriceFeed launches the websocket mark-price stream when a
// websocket URL is configured.
func (a *App) startMarkPriceFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if a.cfg.Binance.WsURL == "" || len(a.cfg.Trading.Symbols) == 0 {
		return
	}
	f := feed.NewMarkPriceFeed(a.cfg.Binance.WsURL, a.cfg.Trading.Symbols, deps.Marks, a.logger)
	g.Go(func() error {
		return f.Run(ctx)
	})
}

// startHTTPServer launches the status API and ties its shutdown to the
// group context.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var metricsHandler http.Handler
	if deps.Stats != nil {
		metricsHandler = deps.Stats.Handler()
	}

	srv := server.New(a.cfg.Server, server.Handlers{
		Health:    handler.NewHealthHandler(),
		Status:    handler.NewStatusHandler(a.cfg.Mode, a.cfg.Trading.Symbols, deps.Book),
		Positions: handler.NewPositionHandler(deps.Book, deps.TradeStore, a.logger),
		Metrics:   metricsHandler,
	}, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
