package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/alanyoungcy/futbot/internal/domain"
)

// orderType maps an intent kind to the venue's order type.
var orderType = map[domain.OrderKind]string{
	domain.OrderEntry:      "MARKET",
	domain.OrderStopLoss:   "STOP_MARKET",
	domain.OrderTakeProfit: "TAKE_PROFIT_MARKET",
}

// PlaceOrder submits a single order built from an intent. Quantity and
// stop price are quantized to the symbol's filters before submission.
// A stop order the venue refuses because the market is already past
// its trigger returns an error wrapping domain.ErrWouldTrigger.
func (c *Client) PlaceOrder(ctx context.Context, intent domain.OrderIntent) (*domain.OrderAck, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	rule, err := c.RuleFor(ctx, intent.Symbol)
	if err != nil {
		return nil, fmt.Errorf("binance: place %s %s: %w", intent.Symbol, intent.Kind, err)
	}

	qty := rule.QuantizeQty(intent.Quantity)
	if qty < rule.MinQty {
		return nil, fmt.Errorf("binance: place %s %s: quantity %v below min %v", intent.Symbol, intent.Kind, qty, rule.MinQty)
	}

	params := url.Values{}
	params.Set("symbol", intent.Symbol)
	params.Set("side", string(intent.Side))
	params.Set("type", orderType[intent.Kind])
	params.Set("quantity", rule.FormatQty(qty))
	if intent.ClientID != "" {
		params.Set("newClientOrderId", intent.ClientID)
	}
	if intent.Kind != domain.OrderEntry {
		params.Set("stopPrice", rule.FormatPrice(rule.QuantizePrice(intent.StopPrice)))
		params.Set("workingType", "MARK_PRICE")
	}
	if intent.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	// Return fills with the ack when the order executes immediately.
	params.Set("newOrderRespType", "RESULT")

	body, err := c.doSignedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return nil, fmt.Errorf("binance: place %s %s: %w", intent.Symbol, intent.Kind, err)
	}

	var ack domain.OrderAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, fmt.Errorf("binance: decode order ack: %w", err)
	}
	return &ack, nil
}

// GetOrder re-queries a previously placed order.
func (c *Client) GetOrder(ctx context.Context, symbol string, orderID int64) (*domain.OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	body, err := c.doSignedRequest(ctx, http.MethodGet, "/fapi/v1/order", params)
	if err != nil {
		return nil, fmt.Errorf("binance: get order %s/%d: %w", symbol, orderID, err)
	}

	var ack domain.OrderAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, fmt.Errorf("binance: decode order: %w", err)
	}
	return &ack, nil
}

// CancelOrder cancels a single resting order.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	if _, err := c.doSignedRequest(ctx, http.MethodDelete, "/fapi/v1/order", params); err != nil {
		return fmt.Errorf("binance: cancel order %s/%d: %w", symbol, orderID, err)
	}
	return nil
}

// CancelAllOrders cancels every resting order on the symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)

	if _, err := c.doSignedRequest(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params); err != nil {
		return fmt.Errorf("binance: cancel all orders %s: %w", symbol, err)
	}
	return nil
}

// OpenOrders returns the symbol's resting orders.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]domain.OpenOrder, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.doSignedRequest(ctx, http.MethodGet, "/fapi/v1/openOrders", params)
	if err != nil {
		return nil, fmt.Errorf("binance: open orders %s: %w", symbol, err)
	}

	var orders []domain.OpenOrder
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("binance: decode open orders: %w", err)
	}
	return orders, nil
}
