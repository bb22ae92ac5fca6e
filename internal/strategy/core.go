// Package strategy derives trade signals from multi-timeframe
// indicator analysis.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/futbot/internal/config"
	"github.com/alanyoungcy/futbot/internal/domain"
)

// minKlines is the shortest history a timeframe needs before its
// indicators mean anything.
const minKlines = 50

// atrStopMultiple sets the stop-loss distance in ATR units.
const atrStopMultiple = 1.5

// Strategy produces trade candidates. A nil signal with a nil error
// means no opportunity on this symbol right now.
type Strategy interface {
	AnalyzeMarket(ctx context.Context, symbol string) (*domain.Signal, error)
}

// Timeframe consolidation weights; unknown timeframes get a small
// residual weight.
var timeframeWeights = map[string]float64{
	"1m":  0.4,
	"5m":  0.3,
	"15m": 0.3,
}

const residualTimeframeWeight = 0.1

// tfSignal is one timeframe's vote before consolidation.
type tfSignal struct {
	timeframe string
	side      domain.Side
	price     float64
	atr       float64
	rsi       float64
	strength  float64
}

// CoreStrategy combines SuperTrend, RSI, VWAP, and OBV across several
// timeframes into one weighted signal, then sizes it off the account
// balance with volatility-tiered leverage.
type CoreStrategy struct {
	cfg     config.StrategyConfig
	trading config.TradingConfig
	exch    domain.Exchange
	logger  *slog.Logger
}

func NewCore(cfg config.StrategyConfig, trading config.TradingConfig, exch domain.Exchange, logger *slog.Logger) *CoreStrategy {
	return &CoreStrategy{
		cfg:     cfg,
		trading: trading,
		exch:    exch,
		logger:  logger.With(slog.String("component", "strategy")),
	}
}

// AnalyzeMarket inspects every configured timeframe and returns a
// sized signal, or nil when the timeframes disagree or data is thin.
func (s *CoreStrategy) AnalyzeMarket(ctx context.Context, symbol string) (*domain.Signal, error) {
	var votes []tfSignal
	for _, tf := range s.cfg.Timeframes {
		klines, err := s.exch.Klines(ctx, symbol, tf, s.cfg.KlineLimit)
		if err != nil {
			s.logger.Warn("klines unavailable",
				slog.String("symbol", symbol),
				slog.String("timeframe", tf),
				slog.String("error", err.Error()))
			continue
		}
		if len(klines) < minKlines {
			s.logger.Warn("insufficient history",
				slog.String("symbol", symbol),
				slog.String("timeframe", tf),
				slog.Int("klines", len(klines)))
			continue
		}
		if vote, ok := s.analyzeTimeframe(tf, klines); ok {
			votes = append(votes, vote)
		}
	}
	if len(votes) == 0 {
		return nil, nil
	}

	side, price, atr, rsi, strength := consolidate(votes)
	if price <= 0 || atr <= 0 {
		return nil, nil
	}

	balance, err := s.exch.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("strategy: balance: %w", err)
	}
	if balance == nil || balance.AvailableBalance <= 0 {
		return nil, nil
	}

	leverage := s.leverageFor(atr / price)
	size, err := s.positionSize(ctx, symbol, balance.AvailableBalance, price, leverage)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, nil
	}

	signed := strength
	if side == domain.SideSell {
		signed = -strength
	}

	sig := &domain.Signal{
		Symbol:      symbol,
		Side:        side,
		Price:       price,
		Size:        size,
		Leverage:    leverage,
		StopLoss:    stopLossFor(side, price, atr),
		TakeProfits: s.takeProfitLadder(side, price),
		Strength:    signed,
		ATR:         atr,
		RSI:         rsi,
		Reasons:     reasonsFor(votes),
		CreatedAt:   time.Now().UTC(),
	}
	s.logger.Info("signal generated",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("strength", signed),
		slog.Int("leverage", leverage))
	return sig, nil
}

// analyzeTimeframe votes BUY when trend, price-vs-VWAP, momentum, and
// volume all line up; SELL when any of them break down.
func (s *CoreStrategy) analyzeTimeframe(tf string, klines []domain.Kline) (tfSignal, bool) {
	last := len(klines) - 1

	atr := ATR(klines, s.cfg.ATRPeriod)
	rsi := RSI(klines, s.cfg.RSIPeriod)
	_, direction := SuperTrend(klines, s.cfg.STPeriod, s.cfg.STMultiplier)
	vwap := VWAP(klines, s.cfg.VWAPPeriod)
	obv, obvSMA := OBV(klines, s.cfg.OBVPeriod)

	if math.IsNaN(atr[last]) || math.IsNaN(rsi[last]) || math.IsNaN(vwap[last]) || math.IsNaN(obvSMA[last]) {
		return tfSignal{}, false
	}

	lastClose := klines[last].Close
	bullish := direction[last] == 1 &&
		lastClose > vwap[last] &&
		rsi[last] < s.cfg.RSIOverbought &&
		obv[last] > obvSMA[last]
	bearish := direction[last] == -1 ||
		lastClose < vwap[last] ||
		rsi[last] > s.cfg.RSIOverbought ||
		obv[last] < obvSMA[last]

	side := domain.SideBuy
	if !bullish {
		if !bearish {
			return tfSignal{}, false
		}
		side = domain.SideSell
	}
	return tfSignal{
		timeframe: tf,
		side:      side,
		price:     lastClose,
		atr:       atr[last],
		rsi:       rsi[last],
		strength:  signalStrength(klines, direction[last], rsi[last], atr[last]),
	}, true
}

// signalStrength is a weighted score in [-1, 1]: trend 30%, momentum
// 30%, volatility 20%, volume 20%.
func signalStrength(klines []domain.Kline, direction int, rsi, atr float64) float64 {
	last := len(klines) - 1

	var closeSum float64
	for i := range klines {
		closeSum += klines[i].Close
	}
	meanClose := closeSum / float64(len(klines))

	volWindow := 20
	if len(klines) < volWindow {
		volWindow = len(klines)
	}
	var volSum float64
	for i := len(klines) - volWindow; i < len(klines); i++ {
		volSum += klines[i].Volume
	}
	volumeScore := 0.0
	if klines[last].Volume > volSum/float64(volWindow) {
		volumeScore = 1
	}

	score := 0.3*float64(direction) +
		0.3*(50-rsi)/50 +
		0.2*(atr/meanClose) +
		0.2*volumeScore
	return math.Max(-1, math.Min(1, score))
}

// consolidate merges timeframe votes: the majority direction wins, the
// price/ATR/RSI are strength-and-timeframe weighted averages, and the
// strongest vote sets the overall strength.
func consolidate(votes []tfSignal) (side domain.Side, price, atr, rsi, strength float64) {
	var buys, sells []tfSignal
	for _, v := range votes {
		if v.side == domain.SideBuy {
			buys = append(buys, v)
		} else {
			sells = append(sells, v)
		}
	}
	side = domain.SideSell
	winning := sells
	if len(buys) > len(sells) {
		side = domain.SideBuy
		winning = buys
	}

	var totalWeight float64
	for _, v := range winning {
		w, ok := timeframeWeights[v.timeframe]
		if !ok {
			w = residualTimeframeWeight
		}
		w *= math.Abs(v.strength)
		if w == 0 {
			continue
		}
		totalWeight += w
		price += v.price * w
		atr += v.atr * w
		rsi += v.rsi * w
		strength = math.Max(strength, math.Abs(v.strength))
	}
	if totalWeight == 0 {
		return side, 0, 0, 0, 0
	}
	return side, price / totalWeight, atr / totalWeight, rsi / totalWeight, strength
}

// leverageFor tiers leverage by volatility: calm markets trade at the
// cap, choppy ones at the floor.
func (s *CoreStrategy) leverageFor(volatility float64) int {
	switch {
	case volatility < s.cfg.VolLowThreshold:
		return s.cfg.MaxLeverage
	case volatility < s.cfg.VolMediumThreshold:
		lev := int(float64(s.cfg.MaxLeverage) * 0.7)
		if lev < s.cfg.MinLeverage {
			return s.cfg.MinLeverage
		}
		return lev
	default:
		return s.cfg.MinLeverage
	}
}

// positionSize converts risk budget into a step-valid quantity, held
// to the symbol's minimum.
func (s *CoreStrategy) positionSize(ctx context.Context, symbol string, available, price float64, leverage int) (float64, error) {
	riskAmount := available * s.cfg.RiskPerTrade
	size := riskAmount * float64(leverage) / price

	rule, err := s.exch.RuleFor(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("strategy: symbol rule %s: %w", symbol, err)
	}
	size = rule.QuantizeQty(size)
	if size < rule.MinQty {
		size = rule.MinQty
	}
	return size, nil
}

func stopLossFor(side domain.Side, price, atr float64) float64 {
	if side == domain.SideBuy {
		return price - atr*atrStopMultiple
	}
	return price + atr*atrStopMultiple
}

// takeProfitLadder builds the configured percentage ladder off the
// signal price.
func (s *CoreStrategy) takeProfitLadder(side domain.Side, price float64) []domain.TargetLevel {
	levels := make([]domain.TargetLevel, 0, len(s.trading.TakeProfitPcts))
	for i, pct := range s.trading.TakeProfitPcts {
		tp := price * (1 + pct)
		if side == domain.SideSell {
			tp = price * (1 - pct)
		}
		levels = append(levels, domain.TargetLevel{Price: tp, Percentage: s.trading.TakeProfitFracs[i] * 100})
	}
	return levels
}

func reasonsFor(votes []tfSignal) []string {
	reasons := make([]string, 0, len(votes))
	for _, v := range votes {
		reasons = append(reasons, fmt.Sprintf("%s %s strength %.2f rsi %.1f", v.timeframe, v.side, v.strength, v.rsi))
	}
	return reasons
}
