package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/futbot/internal/config"
	"github.com/alanyoungcy/futbot/internal/domain"
)

const exchangeInfoBody = `{"symbols":[{"symbol":"BTCUSDT","status":"TRADING","filters":[
	{"filterType":"PRICE_FILTER","tickSize":"0.10"},
	{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001"},
	{"filterType":"MIN_NOTIONAL","notional":"5"}]}]}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.BinanceConfig{
		ApiKey:     "test-key",
		ApiSecret:  "test-secret",
		BaseURL:    srv.URL,
		RecvWindow: 5000,
	}
	return NewClient(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClientBoundsRequestTime(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	if c.httpClient.Timeout != 10*time.Second {
		t.Fatalf("http timeout = %v, want 10s per call", c.httpClient.Timeout)
	}
}

func TestSignedRequestCarriesValidSignature(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-MBX-APIKEY"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		q := r.URL.Query()
		sig := q.Get("signature")
		if sig == "" {
			t.Fatal("missing signature")
		}
		// Recompute over the raw query with the signature stripped.
		raw := r.URL.RawQuery
		payload := raw[:len(raw)-len("&signature=")-len(sig)]
		mac := hmac.New(sha256.New, []byte("test-secret"))
		mac.Write([]byte(payload))
		if want := hex.EncodeToString(mac.Sum(nil)); sig != want {
			t.Errorf("signature = %s, want %s", sig, want)
		}
		w.Write([]byte(`[]`))
	})

	if _, err := c.Positions(context.Background()); err != nil {
		t.Fatalf("Positions: %v", err)
	}
}

func TestWouldTriggerMapsToSentinel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fapi/v1/exchangeInfo" {
			w.Write([]byte(exchangeInfoBody))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2021,"msg":"Order would immediately trigger."}`))
	})

	intent := domain.NewStopLoss("BTCUSDT", domain.SideBuy, 0.01, 99000, "c1")
	_, err := c.PlaceOrder(context.Background(), intent)
	if !errors.Is(err, domain.ErrWouldTrigger) {
		t.Fatalf("error = %v, want ErrWouldTrigger", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != -2021 {
		t.Fatalf("error should carry the APIError, got %v", err)
	}
}

func TestPlaceOrderQuantizesToFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fapi/v1/exchangeInfo" {
			w.Write([]byte(exchangeInfoBody))
			return
		}
		q := r.URL.Query()
		if got := q.Get("quantity"); got != "0.012" {
			t.Errorf("quantity = %q, want floored 0.012", got)
		}
		if got := q.Get("stopPrice"); got != "64000.1" {
			t.Errorf("stopPrice = %q, want tick-rounded 64000.1", got)
		}
		if got := q.Get("type"); got != "STOP_MARKET" {
			t.Errorf("type = %q", got)
		}
		if got := q.Get("reduceOnly"); got != "true" {
			t.Errorf("reduceOnly = %q", got)
		}
		w.Write([]byte(`{"orderId":42,"status":"NEW"}`))
	})

	intent := domain.NewStopLoss("BTCUSDT", domain.SideBuy, 0.0129, 64000.12, "c2")
	ack, err := c.PlaceOrder(context.Background(), intent)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if ack.OrderID != 42 {
		t.Errorf("order id = %d", ack.OrderID)
	}
}

func TestPositionForSkipsFlatRows(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","positionAmt":"0","entryPrice":"0"},
			{"symbol":"BTCUSDT","positionAmt":"-0.5","entryPrice":"64000","markPrice":"63900","unRealizedProfit":"50","leverage":"5"}]`))
	})

	pos, err := c.PositionFor(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("PositionFor: %v", err)
	}
	if pos == nil {
		t.Fatal("expected the non-flat row")
	}
	if pos.Side() != domain.SideSell || pos.Quantity() != 0.5 {
		t.Errorf("side/qty = %s/%v", pos.Side(), pos.Quantity())
	}
}

func TestKlinesParsing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1700000000000,"100.0","110.0","95.0","105.0","1234.5",1700000299999,"0",10,"0","0","0"]]`))
	})

	ks, err := c.Klines(context.Background(), "BTCUSDT", "5m", 1)
	if err != nil {
		t.Fatalf("Klines: %v", err)
	}
	if len(ks) != 1 {
		t.Fatalf("got %d klines", len(ks))
	}
	k := ks[0]
	if k.Open != 100 || k.High != 110 || k.Low != 95 || k.Close != 105 || k.Volume != 1234.5 {
		t.Errorf("kline = %+v", k)
	}
}
