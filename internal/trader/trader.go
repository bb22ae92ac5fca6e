// Package trader runs the trading cycle: analyze each configured
// symbol, pass candidates through the risk gate, and hand admitted
// signals to the order engine.
package trader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/futbot/internal/config"
	"github.com/alanyoungcy/futbot/internal/domain"
	"github.com/alanyoungcy/futbot/internal/ledger"
	"github.com/alanyoungcy/futbot/internal/metrics"
	"github.com/alanyoungcy/futbot/internal/risk"
	"github.com/alanyoungcy/futbot/internal/strategy"
)

const (
	// cycleErrorPause follows a cycle-level failure (reconciliation).
	cycleErrorPause = 30 * time.Second
	// symbolErrorPause follows one symbol's failure before moving on.
	symbolErrorPause = 5 * time.Second
)

// Engine is the slice of the order lifecycle the trader drives.
type Engine interface {
	PlaceOrder(ctx context.Context, sig *domain.Signal) domain.Placement
	ClosePosition(ctx context.Context, symbol, reason string) (*domain.ClosedPosition, error)
}

// Gate admits or rejects trade candidates.
type Gate interface {
	Admit(ctx context.Context, sig *domain.Signal) risk.Decision
	RecordEntry(symbol string)
}

// Trader iterates symbols sequentially. Sequential on purpose: the
// symbols share one rate limit and the gate's capacity check must not
// race itself.
type Trader struct {
	trading config.TradingConfig
	strat   strategy.Strategy
	gate    Gate
	engine  Engine
	book    *ledger.Ledger
	exch    domain.Exchange
	stats   *metrics.Metrics // nil-safe
	logger  *slog.Logger

	interval time.Duration
	sleep    func(ctx context.Context, d time.Duration)
}

func New(trading config.TradingConfig, strat strategy.Strategy, gate Gate, engine Engine, book *ledger.Ledger, exch domain.Exchange, stats *metrics.Metrics, interval time.Duration, logger *slog.Logger) *Trader {
	return &Trader{
		trading:  trading,
		strat:    strat,
		gate:     gate,
		engine:   engine,
		book:     book,
		exch:     exch,
		stats:    stats,
		interval: interval,
		logger:   logger.With(slog.String("component", "trader")),
		sleep:    sleepCtx,
	}
}

// Run cycles until the context is cancelled.
func (t *Trader) Run(ctx context.Context) error {
	t.logger.Info("trading cycle started",
		slog.Any("symbols", t.trading.Symbols),
		slog.Duration("interval", t.interval))

	for {
		pause := t.interval
		if err := t.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Error("trading cycle failed", slog.String("error", err.Error()))
			pause = cycleErrorPause
		}

		t.sleep(ctx, pause)
		if ctx.Err() != nil {
			t.logger.Info("trading cycle stopped")
			return ctx.Err()
		}
	}
}

// Cycle reconciles the book, then works each symbol in order. A
// symbol's failure pauses briefly and moves on; only a failed
// reconciliation aborts the cycle.
func (t *Trader) Cycle(ctx context.Context) error {
	if _, err := t.book.Reconcile(ctx, t.exch); err != nil {
		return fmt.Errorf("trader: %w", err)
	}

	for _, symbol := range t.trading.Symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := t.tradeSymbol(ctx, symbol); err != nil {
			t.logger.Error("symbol cycle failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()))
			t.sleep(ctx, symbolErrorPause)
		}
	}
	return nil
}

// tradeSymbol runs one symbol through analyze, admission, and
// placement.
func (t *Trader) tradeSymbol(ctx context.Context, symbol string) error {
	sig, err := t.strat.AnalyzeMarket(ctx, symbol)
	if err != nil {
		return err
	}
	if sig == nil {
		return nil
	}
	if sig.Size <= 0 || sig.Price <= 0 {
		return fmt.Errorf("unusable signal: size %v price %v", sig.Size, sig.Price)
	}

	dec := t.gate.Admit(ctx, sig)
	if !dec.Allowed {
		t.stats.RiskRejection()
		t.logger.Debug("signal rejected",
			slog.String("symbol", symbol),
			slog.String("error", dec.Err().Error()))
		return nil
	}

	if dec.Displace != nil {
		t.logger.Info("displacing weakest position",
			slog.String("displaced", dec.Displace.Symbol),
			slog.String("for", symbol),
			slog.Float64("old_strength", dec.Displace.Strength),
			slog.Float64("new_strength", sig.Strength))
		if _, err := t.engine.ClosePosition(ctx, dec.Displace.Symbol, domain.CloseReasonDisplaced); err != nil {
			return fmt.Errorf("displace %s: %w", dec.Displace.Symbol, err)
		}
	}

	res := t.engine.PlaceOrder(ctx, sig)
	switch res.Status {
	case domain.PlacementFilled:
		t.gate.RecordEntry(symbol)
		return nil
	case domain.PlacementDeferred:
		// Expected transient; the next cycle re-analyzes.
		return nil
	default:
		return res.Err
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
