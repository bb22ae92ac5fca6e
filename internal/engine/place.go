package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/futbot/internal/domain"
	"github.com/alanyoungcy/futbot/internal/notify"
)

// PlaceOrder executes a signal as one logically atomic operation:
// flatten any drifted exchange position, market entry, confirm
// execution, resolve the fill price, then arm stop-loss and
// take-profit brackets with bounded retry. Any unrecoverable failure
// after the entry rolls the symbol back to flat. An entry the venue
// rejects as already-triggered defers the signal to the next cycle.
func (e *Engine) PlaceOrder(ctx context.Context, sig *domain.Signal) domain.Placement {
	start := time.Now()
	logger := e.logger.With(
		slog.String("symbol", sig.Symbol),
		slog.String("side", string(sig.Side)))

	// The ledger should already exclude a tracked position here, but
	// the exchange may hold one we lost track of. Flatten it first.
	drifted, err := e.exch.PositionFor(ctx, sig.Symbol)
	if err != nil {
		return e.failed(ctx, start, sig.Symbol, sig.Side, 0, fmt.Errorf("pre-placement position check: %w", err))
	}
	if drifted != nil {
		logger.Warn("flattening drifted exchange position",
			slog.String("drift_side", string(drifted.Side())),
			slog.Float64("drift_qty", drifted.Quantity()))
		if err := e.flatten(ctx, sig.Symbol, drifted.Side(), drifted.Quantity()); err != nil {
			return e.failed(ctx, start, sig.Symbol, sig.Side, 0, fmt.Errorf("flatten drifted position: %w", err))
		}
		e.sleep(ctx, settleDelay)
	}

	if sig.Leverage > 0 {
		if err := e.exch.SetLeverage(ctx, sig.Symbol, sig.Leverage); err != nil {
			// Usually means leverage already matches; the entry will
			// surface anything real.
			logger.Warn("leverage not set", slog.Int("leverage", sig.Leverage), slog.String("error", err.Error()))
		}
	}

	qty := sig.Size
	if qty <= 0 {
		if sig.Price <= 0 {
			return e.failed(ctx, start, sig.Symbol, sig.Side, 0, fmt.Errorf("signal has no size and no price to derive one"))
		}
		qty = e.cfg.PositionSizeUSD / sig.Price
	}

	ack, err := e.exch.PlaceOrder(ctx, domain.NewEntry(sig.Symbol, sig.Side, qty, e.newID()))
	if errors.Is(err, domain.ErrWouldTrigger) {
		logger.Info("entry deferred, market already beyond trigger")
		e.stats.Placement("deferred", time.Since(start).Seconds())
		return domain.Placement{Status: domain.PlacementDeferred, Elapsed: time.Since(start)}
	}
	if err != nil {
		return e.failed(ctx, start, sig.Symbol, sig.Side, 0, fmt.Errorf("entry: %w", err))
	}

	// Confirm execution; a zero executed quantity gets one re-query
	// before the placement is declared dead.
	if ack.ExecutedQty <= 0 {
		e.sleep(ctx, verifyDelay)
		requeried, err := e.exch.GetOrder(ctx, sig.Symbol, ack.OrderID)
		if err != nil || requeried.ExecutedQty <= 0 {
			return e.failed(ctx, start, sig.Symbol, sig.Side, 0,
				fmt.Errorf("entry order %d: %w", ack.OrderID, domain.ErrNoExecution))
		}
		ack = requeried
	}
	filledQty := ack.ExecutedQty

	// Average fill price: fill VWAP, then the reported average, then
	// the exchange's position entry. Market price is the last resort.
	fillPrice := ack.FillPrice()
	if fillPrice <= 0 {
		if pos, err := e.exch.PositionFor(ctx, sig.Symbol); err == nil && pos != nil {
			fillPrice = pos.EntryPrice
		}
	}
	market, err := e.currentPrice(ctx, sig.Symbol)
	if err != nil {
		if fillPrice <= 0 {
			return e.failed(ctx, start, sig.Symbol, sig.Side, filledQty,
				fmt.Errorf("no usable fill or market price: %w", err))
		}
		market = fillPrice
	}
	if fillPrice <= 0 {
		fillPrice = market
	}

	pos := &domain.Position{
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Quantity:   filledQty,
		EntryPrice: fillPrice,
		Strength:   sig.Strength,
		Leverage:   sig.Leverage,
		OpenedAt:   time.Now().UTC(),
	}
	pos.StopLoss = guardStopLoss(sig.Side, market, e.proposedStop(sig, fillPrice))
	for _, lvl := range e.proposedTargets(sig, fillPrice) {
		pos.TakeProfits = append(pos.TakeProfits, domain.TakeProfit{
			Price:    guardTakeProfit(sig.Side, market, lvl.Price),
			Quantity: filledQty * lvl.Percentage / 100,
		})
	}

	if err := e.placeBrackets(ctx, pos); err != nil {
		return e.failed(ctx, start, sig.Symbol, sig.Side, filledQty, err)
	}

	if err := e.book.Add(pos); err != nil {
		// A concurrent add lost the race; the exchange position is
		// real, so keep the newer record authoritative.
		logger.Warn("placed position not tracked", slog.String("error", err.Error()))
	}

	elapsed := time.Since(start)
	e.stats.Placement("filled", elapsed.Seconds())
	e.stats.SetOpenPositions(e.book.Count())
	logger.Info("position opened",
		slog.Float64("qty", filledQty),
		slog.Float64("entry", fillPrice),
		slog.Float64("stop_loss", pos.StopLoss),
		slog.Int("take_profits", len(pos.TakeProfits)),
		slog.Duration("elapsed", elapsed))
	e.notifyAsync(ctx, notify.SeveritySuccess, "Position opened",
		fmt.Sprintf("%s %s qty %v @ %v, SL %v, %d TPs",
			sig.Side, sig.Symbol, filledQty, fillPrice, pos.StopLoss, len(pos.TakeProfits)))

	return domain.Placement{Status: domain.PlacementFilled, Position: pos, Elapsed: elapsed}
}

// failed unwinds whatever partial state a placement left behind:
// cancel all resting orders for the symbol and flatten any executed
// quantity, then alert and report the failure.
func (e *Engine) failed(ctx context.Context, start time.Time, symbol string, side domain.Side, executedQty float64, cause error) domain.Placement {
	e.logger.Error("placement failed, rolling back",
		slog.String("symbol", symbol),
		slog.String("error", cause.Error()))
	e.stats.Rollback()

	if err := e.exch.CancelAllOrders(ctx, symbol); err != nil {
		e.logger.Error("rollback: cancel orders failed",
			slog.String("symbol", symbol), slog.String("error", err.Error()))
	}
	if executedQty > 0 {
		if err := e.flatten(ctx, symbol, side, executedQty); err != nil {
			e.logger.Error("rollback: flatten failed",
				slog.String("symbol", symbol), slog.String("error", err.Error()))
			e.notifyAsync(ctx, notify.SeverityEmergency, "Rollback incomplete",
				fmt.Sprintf("%s: entry executed (qty %v) but could not be flattened: %v", symbol, executedQty, err))
		}
	}

	e.notifyAsync(ctx, notify.SeverityError, "Order placement failed",
		fmt.Sprintf("%s: %v", symbol, cause))
	e.stats.Placement("failed", time.Since(start).Seconds())
	return domain.Placement{Status: domain.PlacementFailed, Err: cause, Elapsed: time.Since(start)}
}

// flatten sends a reduce-only market order closing qty of a position
// held on side.
func (e *Engine) flatten(ctx context.Context, symbol string, side domain.Side, qty float64) error {
	_, err := e.exch.PlaceOrder(ctx, domain.NewClose(symbol, side, qty, e.newID()))
	return err
}

// placeBrackets arms the stop-loss and take-profit orders, retrying up
// to bracketAttempts times. Between attempts every price is nudged
// 0.1% further from market in the safe direction, and partial brackets
// are cancelled so each attempt starts clean.
func (e *Engine) placeBrackets(ctx context.Context, pos *domain.Position) error {
	sl := pos.StopLoss
	tps := append([]domain.TakeProfit(nil), pos.TakeProfits...)

	var lastErr error
	for attempt := 1; attempt <= bracketAttempts; attempt++ {
		if attempt > 1 {
			e.stats.BracketRetry()
			e.sleep(ctx, bracketBackoff)
			sl = nudgeStop(pos.Side, sl)
			for i := range tps {
				tps[i].Price = nudgeTarget(pos.Side, tps[i].Price)
			}
		}

		err := e.tryBrackets(ctx, pos, sl, tps)
		if err == nil {
			pos.StopLoss = sl
			pos.TakeProfits = tps
			return nil
		}
		lastErr = err
		e.logger.Warn("bracket attempt failed",
			slog.String("symbol", pos.Symbol),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		if cerr := e.exch.CancelAllOrders(ctx, pos.Symbol); cerr != nil {
			e.logger.Warn("partial bracket cancel failed",
				slog.String("symbol", pos.Symbol), slog.String("error", cerr.Error()))
		}
	}
	return fmt.Errorf("%s after %d attempts: %w: %w", pos.Symbol, bracketAttempts, domain.ErrBracketIncomplete, lastErr)
}

// tryBrackets places one full bracket set and verifies the expected
// order count is resting. Mutates the order IDs in pos/tps on success.
func (e *Engine) tryBrackets(ctx context.Context, pos *domain.Position, sl float64, tps []domain.TakeProfit) error {
	slAck, err := e.exch.PlaceOrder(ctx, domain.NewStopLoss(pos.Symbol, pos.Side, pos.Quantity, sl, e.newID()))
	if err != nil {
		return fmt.Errorf("stop-loss @ %v: %w", sl, err)
	}
	pos.StopOrderID = slAck.OrderID

	for i := range tps {
		ack, err := e.exch.PlaceOrder(ctx, domain.NewTakeProfit(pos.Symbol, pos.Side, tps[i].Quantity, tps[i].Price, e.newID()))
		if err != nil {
			return fmt.Errorf("take-profit %d @ %v: %w", i+1, tps[i].Price, err)
		}
		tps[i].OrderID = ack.OrderID
	}

	open, err := e.exch.OpenOrders(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("verify brackets: %w", err)
	}
	var resting int
	for _, o := range open {
		if o.ReduceOnly {
			resting++
		}
	}
	if want := 1 + len(tps); resting < want {
		return fmt.Errorf("verify brackets: %d resting, want %d", resting, want)
	}
	return nil
}

// proposedStop picks the signal's stop-loss, or derives one from the
// configured percentage when the signal has none.
func (e *Engine) proposedStop(sig *domain.Signal, fill float64) float64 {
	if sig.StopLoss > 0 {
		return sig.StopLoss
	}
	if sig.Side == domain.SideBuy {
		return fill * (1 - e.cfg.StopLossPct)
	}
	return fill * (1 + e.cfg.StopLossPct)
}

// proposedTargets picks the signal's take-profit ladder, or builds the
// configured default ladder off the fill price.
func (e *Engine) proposedTargets(sig *domain.Signal, fill float64) []domain.TargetLevel {
	if len(sig.TakeProfits) > 0 {
		return sig.TakeProfits
	}
	levels := make([]domain.TargetLevel, 0, len(e.cfg.TakeProfitPcts))
	for i, pct := range e.cfg.TakeProfitPcts {
		price := fill * (1 + pct)
		if sig.Side == domain.SideSell {
			price = fill * (1 - pct)
		}
		levels = append(levels, domain.TargetLevel{Price: price, Percentage: e.cfg.TakeProfitFracs[i] * 100})
	}
	return levels
}

// guardStopLoss clamps a proposed stop-loss to at least the minimum
// distance from market on the protective side.
func guardStopLoss(side domain.Side, market, proposed float64) float64 {
	dist := market * math.Max(minDistancePct, slDistancePct)
	if side == domain.SideBuy {
		limit := market - dist
		if proposed <= 0 || proposed > limit {
			return limit
		}
		return proposed
	}
	limit := market + dist
	if proposed < limit {
		return limit
	}
	return proposed
}

// guardTakeProfit clamps a proposed take-profit to at least the
// minimum distance from market on the profit side.
func guardTakeProfit(side domain.Side, market, proposed float64) float64 {
	dist := market * math.Max(minDistancePct, tpDistancePct)
	if side == domain.SideBuy {
		limit := market + dist
		if proposed < limit {
			return limit
		}
		return proposed
	}
	limit := market - dist
	if proposed <= 0 || proposed > limit {
		return limit
	}
	return proposed
}

// nudgeStop moves a stop-loss 0.1% further from market in the safe
// direction.
func nudgeStop(side domain.Side, price float64) float64 {
	if side == domain.SideBuy {
		return price * (1 - nudgePct)
	}
	return price * (1 + nudgePct)
}

// nudgeTarget moves a take-profit 0.1% further from market in the safe
// direction.
func nudgeTarget(side domain.Side, price float64) float64 {
	if side == domain.SideBuy {
		return price * (1 + nudgePct)
	}
	return price * (1 - nudgePct)
}
