package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/futbot/internal/domain"
)

// EnsureBrackets re-arms a tracked position whose stop-loss is not
// resting on the exchange, e.g. one adopted by reconciliation. Levels
// missing from the position are derived from the configured
// percentages off the entry price.
func (e *Engine) EnsureBrackets(ctx context.Context, symbol string) error {
	pos, err := e.book.Get(symbol)
	if err != nil {
		return err
	}

	open, err := e.exch.OpenOrders(ctx, symbol)
	if err != nil {
		return fmt.Errorf("ensure brackets %s: %w", symbol, err)
	}
	for _, o := range open {
		if o.ReduceOnly && o.Type == "STOP_MARKET" {
			return nil // already protected
		}
	}

	market, err := e.currentPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("ensure brackets %s: %w", symbol, err)
	}

	sig := &domain.Signal{Symbol: symbol, Side: pos.Side, StopLoss: pos.StopLoss}
	if len(pos.TakeProfits) > 0 {
		for _, tp := range pos.TakeProfits {
			if tp.Filled {
				continue
			}
			sig.TakeProfits = append(sig.TakeProfits, domain.TargetLevel{
				Price:      tp.Price,
				Percentage: tp.Quantity / pos.Quantity * 100,
			})
		}
	}

	pos.StopLoss = guardStopLoss(pos.Side, market, e.proposedStop(sig, pos.EntryPrice))
	pos.TakeProfits = nil
	for _, lvl := range e.proposedTargets(sig, pos.EntryPrice) {
		pos.TakeProfits = append(pos.TakeProfits, domain.TakeProfit{
			Price:    guardTakeProfit(pos.Side, market, lvl.Price),
			Quantity: pos.Quantity * lvl.Percentage / 100,
		})
	}

	if err := e.placeBrackets(ctx, pos); err != nil {
		return err
	}
	if err := e.book.Update(pos); err != nil {
		return err
	}
	e.logger.Info("brackets re-armed",
		slog.String("symbol", symbol),
		slog.Float64("stop_loss", pos.StopLoss),
		slog.Int("take_profits", len(pos.TakeProfits)))
	return nil
}

// ApplyTrailingStop ratchets the stop-loss toward a favorable mark.
// The stop only ever tightens; an unfavorable move leaves it alone.
// Returns true when the stop moved.
func (e *Engine) ApplyTrailingStop(ctx context.Context, symbol string, mark float64) (bool, error) {
	if !e.cfg.TrailingEnabled || e.cfg.TrailingPct <= 0 {
		return false, nil
	}
	pos, err := e.book.Get(symbol)
	if err != nil {
		return false, err
	}

	var proposed float64
	if pos.Side == domain.SideBuy {
		proposed = mark * (1 - e.cfg.TrailingPct)
		if proposed <= pos.StopLoss {
			return false, nil
		}
	} else {
		proposed = mark * (1 + e.cfg.TrailingPct)
		if pos.StopLoss > 0 && proposed >= pos.StopLoss {
			return false, nil
		}
	}
	newStop := guardStopLoss(pos.Side, mark, proposed)

	if pos.StopOrderID != 0 {
		if err := e.exch.CancelOrder(ctx, symbol, pos.StopOrderID); err != nil {
			return false, fmt.Errorf("trailing stop %s: cancel old stop: %w", symbol, err)
		}
	}
	ack, err := e.exch.PlaceOrder(ctx, domain.NewStopLoss(symbol, pos.Side, pos.Quantity, newStop, e.newID()))
	if err != nil {
		return false, fmt.Errorf("trailing stop %s: %w", symbol, err)
	}

	old := pos.StopLoss
	pos.StopLoss = newStop
	pos.StopOrderID = ack.OrderID
	if err := e.book.Update(pos); err != nil {
		return false, err
	}
	e.logger.Info("trailing stop moved",
		slog.String("symbol", symbol),
		slog.Float64("from", old),
		slog.Float64("to", newStop),
		slog.Float64("mark", mark))
	return true, nil
}
