package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/futbot/internal/domain"
	"github.com/alanyoungcy/futbot/internal/notify"
)

// ClosePosition flattens the symbol's tracked position with a
// reduce-only market order and records the closed trade. An untracked
// symbol is a no-op returning (nil, nil). A failed close keeps the
// position tracked so a later cycle can retry.
func (e *Engine) ClosePosition(ctx context.Context, symbol, reason string) (*domain.ClosedPosition, error) {
	pos, err := e.book.Get(symbol)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Drop the brackets first so a stop cannot race the close.
	if err := e.exch.CancelAllOrders(ctx, symbol); err != nil {
		e.logger.Warn("bracket cancel before close failed",
			slog.String("symbol", symbol), slog.String("error", err.Error()))
	}

	ack, err := e.exch.PlaceOrder(ctx, domain.NewClose(symbol, pos.Side, pos.Quantity, e.newID()))
	if err != nil {
		e.notifyAsync(ctx, notify.SeverityError, "Close failed",
			fmt.Sprintf("%s (%s): %v", symbol, reason, err))
		return nil, fmt.Errorf("close %s: %w", symbol, err)
	}

	exitPrice := ack.FillPrice()
	if exitPrice <= 0 {
		if mark, perr := e.currentPrice(ctx, symbol); perr == nil {
			exitPrice = mark
		} else {
			exitPrice = pos.EntryPrice
		}
	}

	closed, err := e.book.Close(symbol, exitPrice, reason)
	if err != nil {
		return nil, fmt.Errorf("close %s: %w", symbol, err)
	}
	e.persistClosed(ctx, closed)
	e.notifyAsync(ctx, notify.SeveritySuccess, "Position closed",
		fmt.Sprintf("%s %s qty %v @ %v (%s), pnl %.2f",
			closed.Side, symbol, closed.Quantity, exitPrice, reason, closed.PnL))
	return closed, nil
}

// CloseAllPositions flattens every exchange position, one symbol at a
// time; one symbol's failure never blocks the rest. Returns the trades
// that closed cleanly.
func (e *Engine) CloseAllPositions(ctx context.Context, reason string) []domain.ClosedPosition {
	remote, err := e.exch.Positions(ctx)
	if err != nil {
		e.logger.Error("close all: position query failed", slog.String("error", err.Error()))
		return nil
	}

	var closed []domain.ClosedPosition
	for _, ep := range remote {
		if err := e.exch.CancelAllOrders(ctx, ep.Symbol); err != nil {
			e.logger.Warn("close all: cancel orders failed",
				slog.String("symbol", ep.Symbol), slog.String("error", err.Error()))
		}

		if _, err := e.book.Get(ep.Symbol); errors.Is(err, domain.ErrNotFound) {
			// Untracked exposure: flatten directly, nothing to record.
			if err := e.flatten(ctx, ep.Symbol, ep.Side(), ep.Quantity()); err != nil {
				e.logger.Error("close all: flatten untracked failed",
					slog.String("symbol", ep.Symbol), slog.String("error", err.Error()))
			}
			continue
		}

		c, err := e.ClosePosition(ctx, ep.Symbol, reason)
		if err != nil {
			e.logger.Error("close all: close failed",
				slog.String("symbol", ep.Symbol), slog.String("error", err.Error()))
			continue
		}
		if c != nil {
			closed = append(closed, *c)
		}
	}
	return closed
}
