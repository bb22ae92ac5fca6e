package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/alanyoungcy/futbot/internal/domain"
)

// RuleFor returns the symbol's trading filters. Exchange info is
// fetched once and cached for the life of the client; filters change
// rarely enough that a restart picks them up.
func (c *Client) RuleFor(ctx context.Context, symbol string) (*domain.SymbolRule, error) {
	c.rulesMu.RLock()
	rule, ok := c.rules[symbol]
	c.rulesMu.RUnlock()
	if ok {
		return rule, nil
	}

	if err := c.loadExchangeInfo(ctx); err != nil {
		return nil, err
	}

	c.rulesMu.RLock()
	rule, ok = c.rules[symbol]
	c.rulesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("binance: symbol %s: %w", symbol, domain.ErrNotFound)
	}
	return rule, nil
}

func (c *Client) loadExchangeInfo(ctx context.Context) error {
	body, err := c.doPublicRequest(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return fmt.Errorf("binance: exchange info: %w", err)
	}

	var resp struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Status  string `json:"status"`
			Filters []struct {
				FilterType  string `json:"filterType"`
				TickSize    string `json:"tickSize"`
				StepSize    string `json:"stepSize"`
				MinQty      string `json:"minQty"`
				MinNotional string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("binance: decode exchange info: %w", err)
	}

	c.rulesMu.Lock()
	defer c.rulesMu.Unlock()
	for _, s := range resp.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		rule := &domain.SymbolRule{Symbol: s.Symbol}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				rule.TickSize = parseFloat(f.TickSize)
			case "LOT_SIZE":
				rule.StepSize = parseFloat(f.StepSize)
				rule.MinQty = parseFloat(f.MinQty)
			case "MIN_NOTIONAL":
				rule.MinNotional = parseFloat(f.MinNotional)
			}
		}
		c.rules[s.Symbol] = rule
	}
	return nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
