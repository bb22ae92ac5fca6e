package strategy

import (
	"math"

	"github.com/alanyoungcy/futbot/internal/domain"
)

// Indicator series are aligned with the input klines; positions with
// insufficient history hold NaN.

// ATR is the average true range: a simple moving average of the true
// range over period.
func ATR(klines []domain.Kline, period int) []float64 {
	out := nanSeries(len(klines))
	if period <= 0 || len(klines) < period+1 {
		return out
	}

	tr := make([]float64, len(klines))
	tr[0] = klines[0].High - klines[0].Low
	for i := 1; i < len(klines); i++ {
		prevClose := klines[i-1].Close
		tr[i] = math.Max(klines[i].High-klines[i].Low,
			math.Max(math.Abs(klines[i].High-prevClose), math.Abs(klines[i].Low-prevClose)))
	}

	var sum float64
	for i, v := range tr {
		sum += v
		if i >= period {
			sum -= tr[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// RSI is the relative strength index over period, using simple moving
// averages of gains and losses.
func RSI(klines []domain.Kline, period int) []float64 {
	out := nanSeries(len(klines))
	if period <= 0 || len(klines) < period+1 {
		return out
	}

	gains := make([]float64, len(klines))
	losses := make([]float64, len(klines))
	for i := 1; i < len(klines); i++ {
		delta := klines[i].Close - klines[i-1].Close
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	var gainSum, lossSum float64
	for i := 1; i < len(klines); i++ {
		gainSum += gains[i]
		lossSum += losses[i]
		if i > period {
			gainSum -= gains[i-period]
			lossSum -= losses[i-period]
		}
		if i < period {
			continue
		}
		if lossSum == 0 {
			out[i] = 100
			continue
		}
		rs := gainSum / lossSum
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// SuperTrend returns the trailing trend line and its direction: +1
// while price holds above the line, -1 below.
func SuperTrend(klines []domain.Kline, period int, multiplier float64) (line []float64, direction []int) {
	line = nanSeries(len(klines))
	direction = make([]int, len(klines))
	if len(klines) == 0 {
		return line, direction
	}

	atr := ATR(klines, period)
	upper := make([]float64, len(klines))
	lower := make([]float64, len(klines))
	for i := range klines {
		hl2 := (klines[i].High + klines[i].Low) / 2
		band := multiplier * atr[i]
		if math.IsNaN(atr[i]) {
			band = 0
		}
		upper[i] = hl2 + band
		lower[i] = hl2 - band
	}

	line[0] = upper[0]
	direction[0] = 1
	for i := 1; i < len(klines); i++ {
		prev := line[i-1]
		if klines[i].Close > prev {
			direction[i] = 1
			line[i] = math.Max(lower[i], prev)
		} else {
			direction[i] = -1
			line[i] = math.Min(upper[i], prev)
		}
	}
	return line, direction
}

// VWAP is the rolling volume-weighted average of the typical price.
func VWAP(klines []domain.Kline, period int) []float64 {
	out := nanSeries(len(klines))
	if period <= 0 || len(klines) < period {
		return out
	}

	var notional, volume float64
	for i := range klines {
		tp := (klines[i].High + klines[i].Low + klines[i].Close) / 3
		notional += tp * klines[i].Volume
		volume += klines[i].Volume
		if i >= period {
			old := klines[i-period]
			oldTP := (old.High + old.Low + old.Close) / 3
			notional -= oldTP * old.Volume
			volume -= old.Volume
		}
		if i >= period-1 && volume > 0 {
			out[i] = notional / volume
		}
	}
	return out
}

// OBV is the cumulative on-balance volume and its moving average over
// period.
func OBV(klines []domain.Kline, period int) (obv, obvSMA []float64) {
	obv = make([]float64, len(klines))
	obvSMA = nanSeries(len(klines))
	if len(klines) == 0 {
		return obv, obvSMA
	}

	for i := 1; i < len(klines); i++ {
		switch {
		case klines[i].Close > klines[i-1].Close:
			obv[i] = obv[i-1] + klines[i].Volume
		case klines[i].Close < klines[i-1].Close:
			obv[i] = obv[i-1] - klines[i].Volume
		default:
			obv[i] = obv[i-1]
		}
	}

	if period <= 0 || len(klines) < period {
		return obv, obvSMA
	}
	var sum float64
	for i, v := range obv {
		sum += v
		if i >= period {
			sum -= obv[i-period]
		}
		if i >= period-1 {
			obvSMA[i] = sum / float64(period)
		}
	}
	return obv, obvSMA
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
