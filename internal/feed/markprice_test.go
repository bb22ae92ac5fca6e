package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type memCache struct {
	mu    sync.Mutex
	marks map[string]float64
}

func newMemCache() *memCache {
	return &memCache{marks: make(map[string]float64)}
}

func (c *memCache) SetMark(_ context.Context, symbol string, price float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks[symbol] = price
	return nil
}

func (c *memCache) GetMark(_ context.Context, symbol string) (float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.marks[symbol]
	return p, ok, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStreamURLCombinesSymbols(t *testing.T) {
	f := NewMarkPriceFeed("wss://fstream.binance.com", []string{"BTCUSDT", "ETHUSDT"}, newMemCache(), testLogger())
	got := f.streamURL()
	want := "wss://fstream.binance.com/stream?streams=btcusdt@markPrice@1s/ethusdt@markPrice@1s"
	if got != want {
		t.Errorf("streamURL = %q, want %q", got, want)
	}
}

func TestHandleMessageEnvelopeAndRaw(t *testing.T) {
	cache := newMemCache()
	f := NewMarkPriceFeed("wss://example", []string{"BTCUSDT"}, cache, testLogger())
	ctx := context.Background()

	f.handleMessage(ctx, []byte(`{"stream":"btcusdt@markPrice@1s","data":{"e":"markPriceUpdate","s":"BTCUSDT","p":"64123.50"}}`))
	if p, ok, _ := cache.GetMark(ctx, "BTCUSDT"); !ok || p != 64123.50 {
		t.Errorf("enveloped frame: mark = (%v, %v)", p, ok)
	}

	f.handleMessage(ctx, []byte(`{"e":"markPriceUpdate","s":"ETHUSDT","p":"3200.1"}`))
	if p, ok, _ := cache.GetMark(ctx, "ETHUSDT"); !ok || p != 3200.1 {
		t.Errorf("raw frame: mark = (%v, %v)", p, ok)
	}
}

func TestHandleMessageDropsGarbage(t *testing.T) {
	cache := newMemCache()
	f := NewMarkPriceFeed("wss://example", nil, cache, testLogger())
	ctx := context.Background()

	for _, raw := range []string{
		`not json`,
		`{"stream":"x","data":{"s":"","p":"1"}}`,
		`{"s":"BTCUSDT","p":"not-a-number"}`,
		`{"s":"BTCUSDT","p":"-5"}`,
	} {
		f.handleMessage(ctx, []byte(raw))
	}
	if len(cache.marks) != 0 {
		t.Errorf("garbage frames cached marks: %v", cache.marks)
	}
}

func TestRunStreamsIntoCache(t *testing.T) {
	upgrader := websocket.Upgrader{}
	served := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"stream":"btcusdt@markPrice@1s","data":{"s":"BTCUSDT","p":"50000.25"}}`))
		close(served)
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cache := newMemCache()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	f := NewMarkPriceFeed(wsURL, []string{"BTCUSDT"}, cache, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	<-served
	deadline := time.After(2 * time.Second)
	for {
		if p, ok, _ := cache.GetMark(ctx, "BTCUSDT"); ok {
			if p != 50000.25 {
				t.Errorf("mark = %v, want 50000.25", p)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("mark price never reached the cache")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop on cancellation")
	}
}

func TestNextBackoffEscalatesAndResets(t *testing.T) {
	// Repeated fast failures double up to the cap.
	d := nextBackoff(0, time.Second)
	if d != reconnectDelay {
		t.Fatalf("first failure delay = %v, want %v", d, reconnectDelay)
	}
	for _, want := range []time.Duration{4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second} {
		d = nextBackoff(d, time.Second)
		if d != want {
			t.Fatalf("escalated delay = %v, want %v", d, want)
		}
	}

	// A connection that lived past healthyConnAge starts over even
	// when the previous delay had climbed to the cap.
	d = nextBackoff(maxReconnectDelay, 2*time.Hour)
	if d != reconnectDelay {
		t.Fatalf("delay after healthy connection = %v, want %v", d, reconnectDelay)
	}

	// A connection just under the healthy threshold keeps escalating.
	if d := nextBackoff(reconnectDelay, healthyConnAge-time.Second); d != 2*reconnectDelay {
		t.Fatalf("delay after short-lived connection = %v, want %v", d, 2*reconnectDelay)
	}
}
