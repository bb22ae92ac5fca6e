package domain

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// QuantizeQty floors a quantity to the symbol's step size. Flooring
// never rounds an order above the size the caller asked for.
func (r *SymbolRule) QuantizeQty(qty float64) float64 {
	return quantize(qty, r.StepSize, false)
}

// QuantizePrice rounds a price to the nearest tick.
func (r *SymbolRule) QuantizePrice(price float64) float64 {
	return quantize(price, r.TickSize, true)
}

// FormatQty renders a quantity with the precision implied by the step
// size, as the venue requires.
func (r *SymbolRule) FormatQty(qty float64) string {
	return format(qty, r.StepSize)
}

// FormatPrice renders a price with the precision implied by the tick
// size.
func (r *SymbolRule) FormatPrice(price float64) string {
	return format(price, r.TickSize)
}

func quantize(value, step float64, round bool) float64 {
	if step <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	steps := v.Div(s)
	if round {
		steps = steps.Round(0)
	} else {
		steps = steps.Floor()
	}
	out, _ := steps.Mul(s).Float64()
	return out
}

func format(value, step float64) string {
	if step <= 0 {
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
	places := int32(decimal.NewFromFloat(step).Exponent())
	if places > 0 {
		places = 0
	}
	return decimal.NewFromFloat(value).StringFixed(-places)
}
