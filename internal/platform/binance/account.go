package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/futbot/internal/domain"
)

// PositionFor returns the venue's view of the symbol's position, or
// nil when the symbol carries no exposure.
func (c *Client) PositionFor(ctx context.Context, symbol string) (*domain.ExchangePosition, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.doSignedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, fmt.Errorf("binance: position risk %s: %w", symbol, err)
	}

	var rows []domain.ExchangePosition
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode position risk: %w", err)
	}
	for i := range rows {
		if rows[i].Symbol == symbol && rows[i].PositionAmt != 0 {
			return &rows[i], nil
		}
	}
	return nil, nil
}

// Positions returns every symbol with non-zero exposure.
func (c *Client) Positions(ctx context.Context) ([]domain.ExchangePosition, error) {
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", nil)
	if err != nil {
		return nil, fmt.Errorf("binance: position risk: %w", err)
	}

	var rows []domain.ExchangePosition
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode position risk: %w", err)
	}

	open := rows[:0]
	for _, r := range rows {
		if r.PositionAmt != 0 {
			open = append(open, r)
		}
	}
	return open, nil
}

// Balance returns the USDT futures balance.
func (c *Client) Balance(ctx context.Context) (*domain.Balance, error) {
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/fapi/v2/balance", nil)
	if err != nil {
		return nil, fmt.Errorf("binance: balance: %w", err)
	}

	var rows []domain.Balance
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode balance: %w", err)
	}
	for i := range rows {
		if rows[i].Asset == "USDT" {
			return &rows[i], nil
		}
	}
	return nil, fmt.Errorf("binance: balance: no USDT asset in response")
}

// SetLeverage sets the symbol's leverage.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	if _, err := c.doSignedRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params); err != nil {
		return fmt.Errorf("binance: set leverage %s x%d: %w", symbol, leverage, err)
	}
	return nil
}

// MarkPrice returns the current mark price for the symbol.
func (c *Client) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.doPublicRequest(ctx, "/fapi/v1/premiumIndex", params)
	if err != nil {
		return 0, fmt.Errorf("binance: mark price %s: %w", symbol, err)
	}

	var resp struct {
		MarkPrice float64 `json:"markPrice,string"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("binance: decode mark price: %w", err)
	}
	if resp.MarkPrice <= 0 {
		return 0, fmt.Errorf("binance: mark price %s: non-positive price %v", symbol, resp.MarkPrice)
	}
	return resp.MarkPrice, nil
}

// Klines returns up to limit closed candles for the symbol at the
// given interval, oldest first.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.doPublicRequest(ctx, "/fapi/v1/klines", params)
	if err != nil {
		return nil, fmt.Errorf("binance: klines %s %s: %w", symbol, interval, err)
	}

	// Each row is a mixed array: [openTime, open, high, low, close,
	// volume, closeTime, ...] with prices as strings.
	var rows [][]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w", err)
	}

	klines := make([]domain.Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("binance: kline row has %d fields", len(row))
		}
		openTime, ok := row[0].(float64)
		if !ok {
			return nil, fmt.Errorf("binance: kline open time is %T", row[0])
		}
		k := domain.Kline{OpenTime: time.UnixMilli(int64(openTime))}
		for i, dst := range []*float64{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume} {
			s, ok := row[i+1].(string)
			if !ok {
				return nil, fmt.Errorf("binance: kline field %d is %T", i+1, row[i+1])
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("binance: parse kline field %d: %w", i+1, err)
			}
			*dst = v
		}
		klines = append(klines, k)
	}
	return klines, nil
}
