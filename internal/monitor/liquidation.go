package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/futbot/internal/config"
	"github.com/alanyoungcy/futbot/internal/domain"
	"github.com/alanyoungcy/futbot/internal/notify"
)

// Alerter delivers operator notifications.
type Alerter interface {
	Notify(ctx context.Context, sev notify.Severity, title, message string) error
}

// priceSample is one observation used for the velocity estimate.
type priceSample struct {
	mark float64
	at   time.Time
}

// LiquidationMonitor tracks each exchange position's distance to its
// liquidation price. Inside the warning band it alerts; inside the
// exit band it force-closes the position.
type LiquidationMonitor struct {
	cfg    config.MonitorConfig
	exch   domain.Exchange
	engine Lifecycle
	alerts Alerter
	logger *slog.Logger

	prev map[string]priceSample
	now  func() time.Time
}

func NewLiquidationMonitor(cfg config.MonitorConfig, exch domain.Exchange, engine Lifecycle, alerts Alerter, logger *slog.Logger) *LiquidationMonitor {
	return &LiquidationMonitor{
		cfg:    cfg,
		exch:   exch,
		engine: engine,
		alerts: alerts,
		logger: logger.With(slog.String("component", "liquidation_monitor")),
		prev:   make(map[string]priceSample),
		now:    time.Now,
	}
}

// Run polls position risk until the context is cancelled.
func (lm *LiquidationMonitor) Run(ctx context.Context) error {
	lm.logger.Info("liquidation monitor started",
		slog.Float64("warn_pct", lm.cfg.LiquidationWarnPct),
		slog.Float64("exit_pct", lm.cfg.LiquidationExitPct))

	ticker := time.NewTicker(lm.cfg.PollInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			lm.logger.Info("liquidation monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := lm.Cycle(ctx); err != nil {
				lm.logger.Error("liquidation cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Cycle evaluates every live exchange position once.
func (lm *LiquidationMonitor) Cycle(ctx context.Context) error {
	positions, err := lm.exch.Positions(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(positions))
	for i := range positions {
		ep := &positions[i]
		seen[ep.Symbol] = true
		lm.checkPosition(ctx, ep)
	}
	// Forget velocity state for symbols that went flat.
	for symbol := range lm.prev {
		if !seen[symbol] {
			delete(lm.prev, symbol)
		}
	}
	return nil
}

func (lm *LiquidationMonitor) checkPosition(ctx context.Context, ep *domain.ExchangePosition) {
	if ep.LiquidationPrice <= 0 || ep.MarkPrice <= 0 {
		return
	}
	dist := distanceToLiquidation(ep.MarkPrice, ep.LiquidationPrice)
	tta := lm.timeToLiquidation(ep)

	switch {
	case dist <= lm.cfg.LiquidationExitPct:
		lm.logger.Error("liquidation imminent, closing position",
			slog.String("symbol", ep.Symbol),
			slog.Float64("mark", ep.MarkPrice),
			slog.Float64("liquidation", ep.LiquidationPrice),
			slog.Float64("distance_pct", dist*100))
		lm.notify(ctx, notify.SeverityEmergency, "Liquidation imminent",
			fmt.Sprintf("%s mark %v is %.2f%% from liquidation %v%s, force closing",
				ep.Symbol, ep.MarkPrice, dist*100, ep.LiquidationPrice, ttaSuffix(tta)))
		if _, err := lm.engine.ClosePosition(ctx, ep.Symbol, domain.CloseReasonLiquidation); err != nil {
			lm.logger.Error("emergency close failed",
				slog.String("symbol", ep.Symbol),
				slog.String("error", err.Error()))
		}
	case dist <= lm.cfg.LiquidationWarnPct:
		lm.logger.Warn("position nearing liquidation",
			slog.String("symbol", ep.Symbol),
			slog.Float64("mark", ep.MarkPrice),
			slog.Float64("liquidation", ep.LiquidationPrice),
			slog.Float64("distance_pct", dist*100))
		lm.notify(ctx, notify.SeverityWarning, "Liquidation warning",
			fmt.Sprintf("%s mark %v is %.2f%% from liquidation %v%s",
				ep.Symbol, ep.MarkPrice, dist*100, ep.LiquidationPrice, ttaSuffix(tta)))
	}
}

// timeToLiquidation extrapolates the latest price move linearly toward
// the liquidation price. Zero means no estimate: first observation, or
// price moving away from liquidation.
func (lm *LiquidationMonitor) timeToLiquidation(ep *domain.ExchangePosition) time.Duration {
	now := lm.now()
	last, ok := lm.prev[ep.Symbol]
	lm.prev[ep.Symbol] = priceSample{mark: ep.MarkPrice, at: now}
	if !ok || now.Sub(last.at) <= 0 {
		return 0
	}

	velocity := (ep.MarkPrice - last.mark) / now.Sub(last.at).Seconds()
	towardLiq := ep.LiquidationPrice - ep.MarkPrice
	// Moving away from (or parallel to) the liquidation price.
	if velocity == 0 || towardLiq == 0 || (velocity > 0) != (towardLiq > 0) {
		return 0
	}
	return time.Duration(towardLiq / velocity * float64(time.Second))
}

func (lm *LiquidationMonitor) notify(ctx context.Context, sev notify.Severity, title, message string) {
	if lm.alerts == nil {
		return
	}
	if err := lm.alerts.Notify(ctx, sev, title, message); err != nil {
		lm.logger.Warn("alert delivery failed", slog.String("error", err.Error()))
	}
}

func distanceToLiquidation(mark, liquidation float64) float64 {
	return math.Abs(mark-liquidation) / mark
}

func ttaSuffix(tta time.Duration) string {
	if tta <= 0 {
		return ""
	}
	return fmt.Sprintf(", ~%s at current velocity", tta.Round(time.Second))
}
