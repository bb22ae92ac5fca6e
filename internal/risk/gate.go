// Package risk implements the admission gate that every prospective
// trade passes before any order is sent.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/futbot/internal/config"
	"github.com/alanyoungcy/futbot/internal/domain"
	"github.com/alanyoungcy/futbot/internal/ledger"
	"github.com/alanyoungcy/futbot/internal/notify"
)

// EquityStore persists the day-start account equity for the daily-loss
// check.
type EquityStore interface {
	SetDayStart(ctx context.Context, day time.Time, equity float64) error
	GetDayStart(ctx context.Context, day time.Time) (float64, bool, error)
}

// Alerter delivers the daily-loss warning. Delivery failures are
// logged, never propagated.
type Alerter interface {
	Notify(ctx context.Context, sev notify.Severity, title, message string) error
}

// Decision is the gate's verdict on one prospective trade.
type Decision struct {
	Allowed bool
	// Reason explains a rejection; empty when allowed.
	Reason string
	// Displace names the open position that must be closed to make
	// room before the trade proceeds. Only set when Allowed.
	Displace *domain.Position
}

// Err renders a rejection as an error wrapping domain.ErrRiskRejected.
// An allowed decision returns nil.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", domain.ErrRiskRejected, d.Reason)
}

// Gate runs the ordered admission checks. Any error while gathering
// inputs rejects the trade rather than letting it through on stale or
// missing data. Gate is safe for concurrent use.
type Gate struct {
	cfg    config.RiskConfig
	exch   domain.Exchange
	book   *ledger.Ledger
	equity EquityStore // may be nil; falls back to session PnL
	alerts Alerter     // may be nil
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	lastEntry     map[string]time.Time
	lastLossAlert time.Time
}

// New creates a Gate. equity may be nil, in which case the daily-loss
// check uses only the PnL realized this session. alerts may be nil,
// in which case the daily-loss warning is not delivered.
func New(cfg config.RiskConfig, exch domain.Exchange, book *ledger.Ledger, equity EquityStore, alerts Alerter, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:       cfg,
		exch:      exch,
		book:      book,
		equity:    equity,
		alerts:    alerts,
		logger:    logger.With(slog.String("component", "risk")),
		now:       time.Now,
		lastEntry: make(map[string]time.Time),
	}
}

// Admit runs the admission checks in order and returns the first
// failure, or an allowed decision possibly carrying a displacement.
func (g *Gate) Admit(ctx context.Context, sig *domain.Signal) Decision {
	reject := func(format string, args ...any) Decision {
		reason := fmt.Sprintf(format, args...)
		g.logger.Info("trade rejected",
			slog.String("symbol", sig.Symbol),
			slog.Float64("strength", sig.Strength),
			slog.String("reason", reason))
		return Decision{Reason: reason}
	}

	// An exchange-side position on the symbol blocks a new entry even
	// when the local book disagrees.
	pos, err := g.exch.PositionFor(ctx, sig.Symbol)
	if err != nil {
		return reject("position check failed: %v", err)
	}
	if pos != nil {
		return reject("exchange already holds %s %v %s", string(pos.Side()), pos.Quantity(), sig.Symbol)
	}

	if sig.Abs() < g.cfg.MinSignalStrength {
		return reject("strength %.3f below minimum %.3f", sig.Abs(), g.cfg.MinSignalStrength)
	}

	if dec, ok := g.checkDailyLoss(ctx); !ok {
		return reject("%s", dec)
	}

	var displace *domain.Position
	if g.book.Count() >= g.cfg.MaxConcurrent {
		weakest, ok := g.book.Weakest()
		if !ok {
			return reject("at capacity (%d) with no displaceable position", g.cfg.MaxConcurrent)
		}
		threshold := abs(weakest.Strength) * g.cfg.DisplacementFactor
		if sig.Abs() <= threshold {
			return reject("at capacity (%d); strength %.3f does not beat weakest %.3f x%.2f",
				g.cfg.MaxConcurrent, sig.Abs(), abs(weakest.Strength), g.cfg.DisplacementFactor)
		}
		displace = &weakest
	}

	if sig.Price <= 0 {
		return reject("non-positive signal price %v", sig.Price)
	}
	if ratio := sig.ATR / sig.Price; ratio > g.cfg.MaxATRRatio {
		return reject("volatility %.4f exceeds limit %.4f", ratio, g.cfg.MaxATRRatio)
	}

	g.mu.Lock()
	last, seen := g.lastEntry[sig.Symbol]
	g.mu.Unlock()
	if seen {
		if elapsed := g.now().Sub(last); elapsed < g.cfg.Cooldown.Duration {
			return reject("cooldown: %s since last entry, need %s", elapsed.Round(time.Second), g.cfg.Cooldown.Duration)
		}
	}

	return Decision{Allowed: true, Displace: displace}
}

// RecordEntry marks the symbol as freshly traded for the cooldown
// check. Call it after a successful placement.
func (g *Gate) RecordEntry(symbol string) {
	g.mu.Lock()
	g.lastEntry[symbol] = g.now()
	g.mu.Unlock()
}

// checkDailyLoss compares today's drawdown against the configured
// limit. It returns (reason, false) when trading must stop for the
// day, and fails closed on any input error.
func (g *Gate) checkDailyLoss(ctx context.Context) (string, bool) {
	if g.equity == nil {
		// Session-local fallback: realized PnL only.
		bal, err := g.exch.Balance(ctx)
		if err != nil {
			return fmt.Sprintf("balance check failed: %v", err), false
		}
		if pnl := g.book.TotalPnL(); pnl < 0 && -pnl >= bal.WalletBalance*g.cfg.MaxDailyLossPct {
			reason := fmt.Sprintf("session loss %.2f at daily limit", pnl)
			g.warnDailyLoss(ctx, reason)
			return reason, false
		}
		return "", true
	}

	bal, err := g.exch.Balance(ctx)
	if err != nil {
		return fmt.Sprintf("balance check failed: %v", err), false
	}
	day := g.now().UTC().Truncate(24 * time.Hour)
	start, ok, err := g.equity.GetDayStart(ctx, day)
	if err != nil {
		return fmt.Sprintf("day-start equity unavailable: %v", err), false
	}
	if !ok || start <= 0 {
		if err := g.equity.SetDayStart(ctx, day, bal.WalletBalance); err != nil {
			return fmt.Sprintf("day-start equity not recorded: %v", err), false
		}
		return "", true
	}
	drawdown := (start - bal.WalletBalance) / start
	if drawdown >= g.cfg.MaxDailyLossPct {
		reason := fmt.Sprintf("daily drawdown %.2f%% at limit %.2f%%", drawdown*100, g.cfg.MaxDailyLossPct*100)
		g.warnDailyLoss(ctx, reason)
		return reason, false
	}
	return "", true
}

// warnDailyLoss sends the trading-halted warning at most once per UTC
// day. Every rejection after the first that day stays silent.
func (g *Gate) warnDailyLoss(ctx context.Context, detail string) {
	if g.alerts == nil {
		return
	}
	day := g.now().UTC().Truncate(24 * time.Hour)
	g.mu.Lock()
	if g.lastLossAlert.Equal(day) {
		g.mu.Unlock()
		return
	}
	g.lastLossAlert = day
	g.mu.Unlock()

	if err := g.alerts.Notify(ctx, notify.SeverityWarning, "Daily loss limit reached", detail); err != nil {
		g.logger.Warn("alert delivery failed", slog.String("error", err.Error()))
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
