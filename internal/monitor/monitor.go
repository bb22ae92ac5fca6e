// Package monitor watches open positions: it polls prices, fires
// stop-loss and take-profit exits through the lifecycle engine, keeps
// the local book reconciled with the exchange, and escalates
// liquidation risk.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/futbot/internal/config"
	"github.com/alanyoungcy/futbot/internal/domain"
	"github.com/alanyoungcy/futbot/internal/ledger"
)

// Lifecycle is the slice of the order engine the monitor drives.
type Lifecycle interface {
	ClosePosition(ctx context.Context, symbol, reason string) (*domain.ClosedPosition, error)
	ApplyTrailingStop(ctx context.Context, symbol string, mark float64) (bool, error)
	EnsureBrackets(ctx context.Context, symbol string) error
}

// Monitor runs the position poll loop.
type Monitor struct {
	cfg    config.MonitorConfig
	exch   domain.Exchange
	book   *ledger.Ledger
	engine Lifecycle
	marks  domain.PriceCache // optional
	logger *slog.Logger
}

func New(cfg config.MonitorConfig, exch domain.Exchange, book *ledger.Ledger, engine Lifecycle, marks domain.PriceCache, logger *slog.Logger) *Monitor {
	return &Monitor{
		cfg:    cfg,
		exch:   exch,
		book:   book,
		engine: engine,
		marks:  marks,
		logger: logger.With(slog.String("component", "monitor")),
	}
}

// Run polls until the context is cancelled. A clean cycle schedules
// the next one at the poll interval; a cycle that hit any error backs
// off to the error interval instead.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("position monitor started",
		slog.Duration("interval", m.cfg.PollInterval.Duration))

	timer := time.NewTimer(m.cfg.PollInterval.Duration)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("position monitor stopped")
			return ctx.Err()
		case <-timer.C:
		}

		next := m.cfg.PollInterval.Duration
		if err := m.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Error("monitor cycle failed", slog.String("error", err.Error()))
			next = m.cfg.ErrorBackoff.Duration
		}
		timer.Reset(next)
	}
}

// Cycle runs one pass: reconcile the book against the exchange, arm
// brackets on anything adopted, then evaluate exits per symbol. A
// symbol's error never stops the rest; the first error is returned so
// the loop backs off.
func (m *Monitor) Cycle(ctx context.Context) error {
	report, err := m.book.Reconcile(ctx, m.exch)
	if err != nil {
		return err
	}
	for _, adopted := range report.Adopted {
		if err := m.engine.EnsureBrackets(ctx, adopted.Symbol); err != nil {
			m.logger.Error("brackets not armed for adopted position",
				slog.String("symbol", adopted.Symbol),
				slog.String("error", err.Error()))
		}
	}

	var firstErr error
	for _, pos := range m.book.Open() {
		if err := m.checkPosition(ctx, &pos); err != nil {
			m.logger.Error("position check failed",
				slog.String("symbol", pos.Symbol),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// checkPosition prices one position and exits or trails it. The stop
// is evaluated before any target; the first matching target closes the
// whole position.
func (m *Monitor) checkPosition(ctx context.Context, pos *domain.Position) error {
	price, err := m.currentPrice(ctx, pos.Symbol)
	if err != nil {
		return err
	}

	if reason, hit := triggered(pos, price); hit {
		m.logger.Info("exit trigger hit",
			slog.String("symbol", pos.Symbol),
			slog.String("reason", reason),
			slog.Float64("price", price))
		_, err := m.engine.ClosePosition(ctx, pos.Symbol, reason)
		return err
	}

	if _, err := m.engine.ApplyTrailingStop(ctx, pos.Symbol, price); err != nil {
		return err
	}
	return nil
}

func (m *Monitor) currentPrice(ctx context.Context, symbol string) (float64, error) {
	if m.marks != nil {
		if price, ok, err := m.marks.GetMark(ctx, symbol); err == nil && ok && price > 0 {
			return price, nil
		}
	}
	return m.exch.MarkPrice(ctx, symbol)
}

// triggered reports whether price crosses the position's stop-loss or
// any take-profit, stop first.
func triggered(pos *domain.Position, price float64) (string, bool) {
	if pos.Side == domain.SideBuy {
		if pos.StopLoss > 0 && price <= pos.StopLoss {
			return domain.CloseReasonStopLoss, true
		}
		for _, tp := range pos.TakeProfits {
			if tp.Price > 0 && price >= tp.Price {
				return domain.CloseReasonTakeProfit, true
			}
		}
		return "", false
	}

	if pos.StopLoss > 0 && price >= pos.StopLoss {
		return domain.CloseReasonStopLoss, true
	}
	for _, tp := range pos.TakeProfits {
		if tp.Price > 0 && price <= tp.Price {
			return domain.CloseReasonTakeProfit, true
		}
	}
	return "", false
}
