package domain

import "time"

// TargetLevel is one proposed take-profit rung on a signal. Percentage
// is the share of the position quantity to exit at this level, in
// (0, 100].
type TargetLevel struct {
	Price      float64 `json:"price"`
	Percentage float64 `json:"percentage"`
}

// Signal is a directional trade proposal produced by a strategy.
// Strength is signed; the magnitude carries the conviction. Signals
// are consumed, never mutated.
type Signal struct {
	Symbol      string        `json:"symbol"`
	Side        Side          `json:"side"`
	Price       float64       `json:"price"`
	Size        float64       `json:"size"`
	Leverage    int           `json:"leverage"`
	StopLoss    float64       `json:"stop_loss"`
	TakeProfits []TargetLevel `json:"take_profits"`
	Strength    float64       `json:"strength"`
	ATR         float64       `json:"atr"`
	RSI         float64       `json:"rsi"`
	Reasons     []string      `json:"reasons,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Abs returns the signal's conviction regardless of direction.
func (s *Signal) Abs() float64 {
	if s.Strength < 0 {
		return -s.Strength
	}
	return s.Strength
}
