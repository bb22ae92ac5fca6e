package domain

import "time"

// Kline is one closed candle of market data.
type Kline struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// MarkPrice is a mark-price observation for one symbol.
type MarkPrice struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExchangePosition is the exchange's view of a position, as returned
// by the position-risk endpoint. PositionAmt is signed: positive for
// long, negative for short.
type ExchangePosition struct {
	Symbol           string  `json:"symbol"`
	PositionAmt      float64 `json:"positionAmt,string"`
	EntryPrice       float64 `json:"entryPrice,string"`
	MarkPrice        float64 `json:"markPrice,string"`
	UnrealizedProfit float64 `json:"unRealizedProfit,string"`
	LiquidationPrice float64 `json:"liquidationPrice,string"`
	Leverage         int     `json:"leverage,string"`
}

// Side returns the direction implied by the signed position amount.
func (p *ExchangePosition) Side() Side {
	if p.PositionAmt >= 0 {
		return SideBuy
	}
	return SideSell
}

// Quantity returns the absolute position size.
func (p *ExchangePosition) Quantity() float64 {
	if p.PositionAmt < 0 {
		return -p.PositionAmt
	}
	return p.PositionAmt
}

// Balance is the futures account balance for one asset.
type Balance struct {
	Asset            string  `json:"asset"`
	WalletBalance    float64 `json:"balance,string"`
	AvailableBalance float64 `json:"availableBalance,string"`
}

// SymbolRule captures the exchange's trading filters for one symbol.
type SymbolRule struct {
	Symbol      string
	TickSize    float64
	StepSize    float64
	MinQty      float64
	MinNotional float64
}
