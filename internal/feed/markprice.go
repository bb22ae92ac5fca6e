// Package feed streams Binance mark prices over websocket into the
// shared price cache.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/futbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait is the longest silence tolerated before the connection
	// is considered dead. Binance sends mark prices every second and
	// pings every few minutes, so silence means a broken pipe.
	readWait = 3 * time.Minute

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
	// healthyConnAge is how long a connection must live for its loss
	// to restart the backoff escalation from the base delay.
	healthyConnAge = time.Minute
)

// markPriceEvent is one update from a <symbol>@markPrice stream,
// delivered inside the combined-stream envelope.
type markPriceEvent struct {
	Symbol string `json:"s"`
	Price  string `json:"p"`
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// MarkPriceFeed maintains a websocket subscription to the mark-price
// stream of every configured symbol and pushes each update into the
// price cache. It reconnects with exponential backoff.
type MarkPriceFeed struct {
	wsURL   string
	symbols []string
	cache   domain.PriceCache
	logger  *slog.Logger
}

func NewMarkPriceFeed(wsURL string, symbols []string, cache domain.PriceCache, logger *slog.Logger) *MarkPriceFeed {
	return &MarkPriceFeed{
		wsURL:   strings.TrimRight(wsURL, "/"),
		symbols: symbols,
		cache:   cache,
		logger:  logger.With(slog.String("component", "mark_price_feed")),
	}
}

// streamURL builds the combined-stream endpoint for all symbols.
func (f *MarkPriceFeed) streamURL() string {
	streams := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		streams = append(streams, strings.ToLower(s)+"@markPrice@1s")
	}
	return f.wsURL + "/stream?streams=" + strings.Join(streams, "/")
}

// Run streams until the context is cancelled, reconnecting on any
// connection failure.
func (f *MarkPriceFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to stream, exiting")
		return nil
	}

	var delay time.Duration
	for {
		connectedAt := time.Now()
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			f.logger.Info("mark price feed stopped")
			return ctx.Err()
		}
		delay = nextBackoff(delay, time.Since(connectedAt))
		f.logger.Warn("mark price stream disconnected, reconnecting",
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// nextBackoff doubles the reconnect delay up to the cap. A connection
// that stayed up past healthyConnAge restarts the escalation, so one
// drop on a long-lived stream waits the base delay, not whatever the
// delay had climbed to before.
func nextBackoff(current, connected time.Duration) time.Duration {
	if connected >= healthyConnAge || current == 0 {
		return reconnectDelay
	}
	next := current * 2
	if next > maxReconnectDelay {
		next = maxReconnectDelay
	}
	return next
}

// runConnection dials, reads updates until the connection breaks, and
// returns the read error. A healthy read resets the backoff by
// returning through Run's loop quickly only on failure.
func (f *MarkPriceFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	// Binance pings the client; answer with a pong and keep the read
	// deadline moving.
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	// Unblock the read loop on cancellation.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	f.logger.Info("mark price stream connected", slog.Int("symbols", len(f.symbols)))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readWait))
		f.handleMessage(ctx, message)
	}
}

// handleMessage decodes one combined-stream frame and stores the
// price. Unparseable frames are dropped.
func (f *MarkPriceFeed) handleMessage(ctx context.Context, raw []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	payload := env.Data
	if payload == nil {
		// Raw single-stream frame without the envelope.
		payload = raw
	}

	var ev markPriceEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Symbol == "" {
		return
	}
	price, err := strconv.ParseFloat(ev.Price, 64)
	if err != nil || price <= 0 {
		return
	}

	if err := f.cache.SetMark(ctx, ev.Symbol, price); err != nil {
		f.logger.Warn("mark price not cached",
			slog.String("symbol", ev.Symbol),
			slog.String("error", err.Error()))
	}
}
