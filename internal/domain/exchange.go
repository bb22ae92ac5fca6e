package domain

import (
	"context"
	"time"
)

// Exchange is the gateway to the derivatives venue. Implementations
// must be safe for concurrent use.
type Exchange interface {
	// PlaceOrder submits a single order built from an intent. Stop
	// orders the venue rejects as already triggered return an error
	// wrapping ErrWouldTrigger.
	PlaceOrder(ctx context.Context, intent OrderIntent) (*OrderAck, error)

	// GetOrder re-queries a previously placed order.
	GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderAck, error)

	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	CancelAllOrders(ctx context.Context, symbol string) error
	OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)

	// PositionFor returns the venue's view of the symbol's position,
	// or nil when the symbol has no exposure.
	PositionFor(ctx context.Context, symbol string) (*ExchangePosition, error)
	Positions(ctx context.Context) ([]ExchangePosition, error)

	MarkPrice(ctx context.Context, symbol string) (float64, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	Balance(ctx context.Context) (*Balance, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// RuleFor returns the symbol's trading filters, cached from
	// exchange info.
	RuleFor(ctx context.Context, symbol string) (*SymbolRule, error)
}

// TradeStore persists closed trades.
type TradeStore interface {
	SaveClosed(ctx context.Context, pos *ClosedPosition) error
	RecentClosed(ctx context.Context, limit int) ([]ClosedPosition, error)
	PnLSince(ctx context.Context, since time.Time) (float64, error)
	Close()
}

// PriceCache is a shared short-lived mark-price cache.
type PriceCache interface {
	SetMark(ctx context.Context, symbol string, price float64) error
	GetMark(ctx context.Context, symbol string) (float64, bool, error)
}
