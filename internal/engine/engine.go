// Package engine implements the order lifecycle: entries, bracket
// construction with retry, rollback on partial failure, and position
// closure.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/futbot/internal/config"
	"github.com/alanyoungcy/futbot/internal/domain"
	"github.com/alanyoungcy/futbot/internal/ledger"
	"github.com/alanyoungcy/futbot/internal/metrics"
	"github.com/alanyoungcy/futbot/internal/notify"
)

// Timing and retry parameters for the placement path.
const (
	// settleDelay lets exchange state propagate after a destructive
	// operation before the next read.
	settleDelay = time.Second
	// verifyDelay precedes the one re-query of an entry that reported
	// zero executed quantity.
	verifyDelay = 500 * time.Millisecond
	// bracketAttempts caps the bracket placement retry loop.
	bracketAttempts = 3
	// bracketBackoff separates bracket attempts.
	bracketBackoff = 500 * time.Millisecond
	// nudgePct moves bracket prices 0.1% further from market in the
	// safe direction between attempts.
	nudgePct = 0.001
)

// Minimum distances between a protective trigger and the current
// market price. Orders closer than this get rejected as
// would-immediately-trigger, so proposals are clamped first.
const (
	minDistancePct = 0.0005
	slDistancePct  = 0.0015
	tpDistancePct  = 0.002
)

// Alerter delivers operator notifications. Failures are logged, never
// propagated into the trading path.
type Alerter interface {
	Notify(ctx context.Context, sev notify.Severity, title, message string) error
}

// Engine coordinates entry and bracket orders into one logically
// atomic placement, and unwinds partial state when that fails.
type Engine struct {
	cfg    config.TradingConfig
	exch   domain.Exchange
	book   *ledger.Ledger
	alerts Alerter
	store  domain.TradeStore // optional
	marks  domain.PriceCache // optional fast path for mark prices
	stats  *metrics.Metrics  // nil-safe
	logger *slog.Logger

	// sleep and newID are injection points for tests.
	sleep func(ctx context.Context, d time.Duration)
	newID func() string
}

// New creates an Engine. store, marks, and stats may be nil.
func New(cfg config.TradingConfig, exch domain.Exchange, book *ledger.Ledger, alerts Alerter, store domain.TradeStore, marks domain.PriceCache, stats *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		exch:   exch,
		book:   book,
		alerts: alerts,
		store:  store,
		marks:  marks,
		stats:  stats,
		logger: logger.With(slog.String("component", "engine")),
		sleep:  sleepCtx,
		newID:  func() string { return "fb-" + uuid.NewString() },
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

// notifyAsync fires an alert without letting delivery failures touch
// the trading path.
func (e *Engine) notifyAsync(ctx context.Context, sev notify.Severity, title, message string) {
	if e.alerts == nil {
		return
	}
	if err := e.alerts.Notify(ctx, sev, title, message); err != nil {
		e.logger.Warn("alert delivery failed", slog.String("title", title), slog.String("error", err.Error()))
	}
}

// currentPrice returns the freshest mark price, preferring the shared
// cache over a REST round trip.
func (e *Engine) currentPrice(ctx context.Context, symbol string) (float64, error) {
	if e.marks != nil {
		if price, ok, err := e.marks.GetMark(ctx, symbol); err == nil && ok && price > 0 {
			return price, nil
		}
	}
	return e.exch.MarkPrice(ctx, symbol)
}

// persistClosed records a closed trade in durable history. Storage
// failures are logged; the trade is already reflected in the ledger.
func (e *Engine) persistClosed(ctx context.Context, closed *domain.ClosedPosition) {
	e.stats.PositionClosed(closed.Reason)
	e.stats.SetOpenPositions(e.book.Count())
	e.stats.SetRealizedPnL(e.book.TotalPnL())
	if e.store == nil {
		return
	}
	if err := e.store.SaveClosed(ctx, closed); err != nil {
		e.logger.Error("closed trade not persisted",
			slog.String("symbol", closed.Symbol),
			slog.String("error", err.Error()))
	}
}
