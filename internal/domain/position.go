package domain

import (
	"time"
)

// Side is the direction of a position or order on the exchange.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for a position held on this side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// TakeProfit is one rung of a position's take-profit ladder.
type TakeProfit struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	OrderID  int64   `json:"order_id,omitempty"`
	Filled   bool    `json:"filled"`
}

// Position is a tracked open position. Quantity is always positive;
// Side carries the direction.
type Position struct {
	Symbol      string       `json:"symbol"`
	Side        Side         `json:"side"`
	Quantity    float64      `json:"quantity"`
	EntryPrice  float64      `json:"entry_price"`
	StopLoss    float64      `json:"stop_loss"`
	TakeProfits []TakeProfit `json:"take_profits"`
	StopOrderID int64        `json:"stop_order_id,omitempty"`
	Strength    float64      `json:"strength"`
	Leverage    int          `json:"leverage"`
	OpenedAt    time.Time    `json:"opened_at"`
}

// Notional returns the position value at its entry price.
func (p *Position) Notional() float64 {
	return p.EntryPrice * p.Quantity
}

// UnrealizedPnL values the position at the given mark price.
func (p *Position) UnrealizedPnL(mark float64) float64 {
	if p.Side == SideBuy {
		return (mark - p.EntryPrice) * p.Quantity
	}
	return (p.EntryPrice - mark) * p.Quantity
}

// ClosedPosition is the immutable record of a position after exit.
type ClosedPosition struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	PnL        float64   `json:"pnl"`
	Reason     string    `json:"reason"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
}

// Close reasons recorded on ClosedPosition.
const (
	CloseReasonStopLoss      = "stop_loss"
	CloseReasonTakeProfit    = "take_profit"
	CloseReasonManual        = "manual"
	CloseReasonSignalFlip    = "signal_flip"
	CloseReasonDisplaced     = "displaced"
	CloseReasonExternalClose = "external_close"
	CloseReasonLiquidation   = "liquidation_risk"
	CloseReasonShutdown      = "shutdown"
)

// RealizedPnL computes the profit of exiting the full quantity at
// the given price.
func RealizedPnL(side Side, entry, exit, qty float64) float64 {
	if side == SideBuy {
		return (exit - entry) * qty
	}
	return (entry - exit) * qty
}
