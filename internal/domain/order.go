package domain

import (
	"fmt"
	"time"
)

// OrderKind selects which variant of order an intent describes.
type OrderKind string

const (
	OrderEntry      OrderKind = "entry"
	OrderStopLoss   OrderKind = "stop_loss"
	OrderTakeProfit OrderKind = "take_profit"
)

// OrderIntent is a fully specified request for a single exchange order.
// Use the NewEntry / NewStopLoss / NewTakeProfit constructors rather
// than building one by hand so the per-kind field rules hold.
type OrderIntent struct {
	Kind       OrderKind
	Symbol     string
	Side       Side
	Quantity   float64
	StopPrice  float64 // trigger price for stop-loss and take-profit
	ReduceOnly bool
	ClientID   string // idempotency key, unique per attempt
}

// NewEntry builds a market entry intent.
func NewEntry(symbol string, side Side, qty float64, clientID string) OrderIntent {
	return OrderIntent{
		Kind:     OrderEntry,
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
		ClientID: clientID,
	}
}

// NewClose builds a reduce-only market intent that flattens qty of a
// position held on posSide.
func NewClose(symbol string, posSide Side, qty float64, clientID string) OrderIntent {
	return OrderIntent{
		Kind:       OrderEntry,
		Symbol:     symbol,
		Side:       posSide.Opposite(),
		Quantity:   qty,
		ReduceOnly: true,
		ClientID:   clientID,
	}
}

// NewStopLoss builds a reduce-only stop-market intent protecting a
// position held on posSide.
func NewStopLoss(symbol string, posSide Side, qty, stopPrice float64, clientID string) OrderIntent {
	return OrderIntent{
		Kind:       OrderStopLoss,
		Symbol:     symbol,
		Side:       posSide.Opposite(),
		Quantity:   qty,
		StopPrice:  stopPrice,
		ReduceOnly: true,
		ClientID:   clientID,
	}
}

// NewTakeProfit builds a reduce-only take-profit-market intent for a
// position held on posSide.
func NewTakeProfit(symbol string, posSide Side, qty, stopPrice float64, clientID string) OrderIntent {
	return OrderIntent{
		Kind:       OrderTakeProfit,
		Symbol:     symbol,
		Side:       posSide.Opposite(),
		Quantity:   qty,
		StopPrice:  stopPrice,
		ReduceOnly: true,
		ClientID:   clientID,
	}
}

// Validate checks the per-kind field rules.
func (o OrderIntent) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("order intent: empty symbol")
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("order intent %s %s: quantity %v", o.Symbol, o.Kind, o.Quantity)
	}
	switch o.Kind {
	case OrderEntry:
		if o.StopPrice != 0 {
			return fmt.Errorf("order intent %s entry: unexpected stop price", o.Symbol)
		}
	case OrderStopLoss, OrderTakeProfit:
		if o.StopPrice <= 0 {
			return fmt.Errorf("order intent %s %s: stop price %v", o.Symbol, o.Kind, o.StopPrice)
		}
		if !o.ReduceOnly {
			return fmt.Errorf("order intent %s %s: must be reduce-only", o.Symbol, o.Kind)
		}
	default:
		return fmt.Errorf("order intent %s: unknown kind %q", o.Symbol, o.Kind)
	}
	return nil
}

// OrderFill is one partial execution reported with an order ack.
type OrderFill struct {
	Price    float64 `json:"price,string"`
	Quantity float64 `json:"qty,string"`
}

// OrderAck is the exchange's response to a placed order.
type OrderAck struct {
	OrderID     int64       `json:"orderId"`
	ClientID    string      `json:"clientOrderId"`
	Symbol      string      `json:"symbol"`
	Status      string      `json:"status"`
	ExecutedQty float64     `json:"executedQty,string"`
	AvgPrice    float64     `json:"avgPrice,string"`
	Fills       []OrderFill `json:"fills,omitempty"`
	UpdateTime  int64       `json:"updateTime"`
}

// FillPrice returns the best available average execution price:
// fill-weighted VWAP when fills are present, the reported average
// price otherwise, and zero when neither is known.
func (a *OrderAck) FillPrice() float64 {
	var notional, qty float64
	for _, f := range a.Fills {
		notional += f.Price * f.Quantity
		qty += f.Quantity
	}
	if qty > 0 {
		return notional / qty
	}
	return a.AvgPrice
}

// OpenOrder is a resting order as reported by the exchange.
type OpenOrder struct {
	OrderID    int64   `json:"orderId"`
	ClientID   string  `json:"clientOrderId"`
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Type       string  `json:"type"`
	StopPrice  float64 `json:"stopPrice,string"`
	Quantity   float64 `json:"origQty,string"`
	ReduceOnly bool    `json:"reduceOnly"`
}

// PlacementStatus is the outcome class of a bracket placement.
type PlacementStatus int

const (
	// PlacementFilled means the entry executed and brackets are armed.
	PlacementFilled PlacementStatus = iota
	// PlacementDeferred means the exchange rejected the entry as
	// already beyond its trigger; nothing was placed and no funds
	// moved. The caller may retry on a later cycle.
	PlacementDeferred
	// PlacementFailed means the placement aborted; any partial state
	// was rolled back.
	PlacementFailed
)

func (s PlacementStatus) String() string {
	switch s {
	case PlacementFilled:
		return "filled"
	case PlacementDeferred:
		return "deferred"
	default:
		return "failed"
	}
}

// Placement is the result of a full entry-plus-brackets placement.
type Placement struct {
	Status   PlacementStatus
	Position *Position // set only when Status is PlacementFilled
	Err      error     // set only when Status is PlacementFailed
	Elapsed  time.Duration
}
