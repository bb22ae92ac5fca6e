package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/futbot/internal/config"
	"github.com/alanyoungcy/futbot/internal/domain"
	"github.com/alanyoungcy/futbot/internal/ledger"
	"github.com/alanyoungcy/futbot/internal/notify"
)

// fakeExchange scripts the gateway for placement scenarios. Bracket
// placements consume bracketErrs in order; once exhausted they
// succeed. Successful brackets rest as open orders until cancelled.
type fakeExchange struct {
	domain.Exchange
	mu sync.Mutex

	placed         []domain.OrderIntent
	cancelAllCalls int
	open           []domain.OpenOrder

	position    *domain.ExchangePosition
	mark        float64
	entryAck    *domain.OrderAck
	entryErr    error
	closeErr    map[string]error
	requeryAck  *domain.OrderAck
	bracketErrs []error
	openOverride func() []domain.OpenOrder

	nextID int64
}

func (f *fakeExchange) PlaceOrder(_ context.Context, intent domain.OrderIntent) (*domain.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, intent)
	f.nextID++

	if intent.Kind == domain.OrderEntry && !intent.ReduceOnly {
		if f.entryErr != nil {
			return nil, f.entryErr
		}
		if f.entryAck != nil {
			ack := *f.entryAck
			ack.OrderID = f.nextID
			return &ack, nil
		}
		return &domain.OrderAck{OrderID: f.nextID, ExecutedQty: intent.Quantity, AvgPrice: f.mark}, nil
	}

	if intent.Kind == domain.OrderEntry && intent.ReduceOnly {
		if err := f.closeErr[intent.Symbol]; err != nil {
			return nil, err
		}
		return &domain.OrderAck{OrderID: f.nextID, ExecutedQty: intent.Quantity, AvgPrice: f.mark}, nil
	}

	// Bracket order.
	if len(f.bracketErrs) > 0 {
		err := f.bracketErrs[0]
		f.bracketErrs = f.bracketErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.open = append(f.open, domain.OpenOrder{
		OrderID:    f.nextID,
		Symbol:     intent.Symbol,
		Side:       intent.Side,
		StopPrice:  intent.StopPrice,
		Quantity:   intent.Quantity,
		ReduceOnly: true,
	})
	return &domain.OrderAck{OrderID: f.nextID}, nil
}

func (f *fakeExchange) GetOrder(context.Context, string, int64) (*domain.OrderAck, error) {
	if f.requeryAck == nil {
		return nil, errors.New("no such order")
	}
	return f.requeryAck, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, _ string, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.open[:0]
	for _, o := range f.open {
		if o.OrderID != orderID {
			kept = append(kept, o)
		}
	}
	f.open = kept
	return nil
}

func (f *fakeExchange) CancelAllOrders(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelAllCalls++
	f.open = nil
	return nil
}

func (f *fakeExchange) OpenOrders(context.Context, string) ([]domain.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openOverride != nil {
		return f.openOverride(), nil
	}
	return append([]domain.OpenOrder(nil), f.open...), nil
}

func (f *fakeExchange) PositionFor(context.Context, string) (*domain.ExchangePosition, error) {
	return f.position, nil
}

func (f *fakeExchange) Positions(context.Context) ([]domain.ExchangePosition, error) {
	if f.position == nil {
		return nil, nil
	}
	return []domain.ExchangePosition{*f.position}, nil
}

func (f *fakeExchange) MarkPrice(context.Context, string) (float64, error) {
	if f.mark <= 0 {
		return 0, errors.New("no mark")
	}
	return f.mark, nil
}

func (f *fakeExchange) SetLeverage(context.Context, string, int) error { return nil }

// stopIntents returns the placed stop-loss intents in order.
func (f *fakeExchange) stopIntents() []domain.OrderIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.OrderIntent
	for _, in := range f.placed {
		if in.Kind == domain.OrderStopLoss {
			out = append(out, in)
		}
	}
	return out
}

func (f *fakeExchange) intentsOf(kind domain.OrderKind) []domain.OrderIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.OrderIntent
	for _, in := range f.placed {
		if in.Kind == kind {
			out = append(out, in)
		}
	}
	return out
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []notify.Severity
}

func (a *fakeAlerter) Notify(_ context.Context, sev notify.Severity, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, sev)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCfg() config.TradingConfig {
	return config.TradingConfig{
		Leverage:        5,
		PositionSizeUSD: 100,
		StopLossPct:     0.02,
		TakeProfitPcts:  []float64{0.01, 0.02},
		TakeProfitFracs: []float64{0.6, 0.4},
		TrailingEnabled: true,
		TrailingPct:     0.01,
	}
}

func newEngine(t *testing.T, exch *fakeExchange) (*Engine, *ledger.Ledger, *fakeAlerter) {
	t.Helper()
	book := ledger.New(testLogger())
	alerts := &fakeAlerter{}
	e := New(testCfg(), exch, book, alerts, nil, nil, nil, testLogger())
	e.sleep = func(context.Context, time.Duration) {}
	var seq int
	e.newID = func() string { seq++; return "id-" + strconv.Itoa(seq) }
	return e, book, alerts
}

func buySignal(strength float64) *domain.Signal {
	return &domain.Signal{
		Symbol:    "BTCUSDT",
		Side:      domain.SideBuy,
		Price:     100,
		Size:      2,
		Leverage:  5,
		Strength:  strength,
		ATR:       1,
		CreatedAt: time.Now(),
	}
}

func approx(t *testing.T, got, want, tol float64, what string) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %v, want %v", what, got, want)
	}
}

func TestPlaceOrderFillsAndArmsBrackets(t *testing.T) {
	exch := &fakeExchange{mark: 100}
	e, book, _ := newEngine(t, exch)

	res := e.PlaceOrder(context.Background(), buySignal(0.8))
	if res.Status != domain.PlacementFilled {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}

	pos, err := book.Get("BTCUSDT")
	if err != nil {
		t.Fatalf("position not tracked: %v", err)
	}
	approx(t, pos.EntryPrice, 100, 1e-9, "entry price")
	approx(t, pos.StopLoss, 98, 1e-9, "stop loss from configured pct")
	if len(pos.TakeProfits) != 2 {
		t.Fatalf("take profits = %d", len(pos.TakeProfits))
	}
	approx(t, pos.TakeProfits[0].Price, 101, 1e-9, "tp1 price")
	approx(t, pos.TakeProfits[0].Quantity, 1.2, 1e-9, "tp1 quantity (60%)")
	approx(t, pos.TakeProfits[1].Quantity, 0.8, 1e-9, "tp2 quantity (40%)")

	stops := exch.intentsOf(domain.OrderStopLoss)
	tps := exch.intentsOf(domain.OrderTakeProfit)
	if len(stops) != 1 || len(tps) != 2 {
		t.Fatalf("placed %d stops, %d tps", len(stops), len(tps))
	}
	if stops[0].Side != domain.SideSell || !stops[0].ReduceOnly {
		t.Errorf("stop must be reduce-only SELL, got %+v", stops[0])
	}
}

func TestPlaceOrderDeferredOnWouldTrigger(t *testing.T) {
	exch := &fakeExchange{mark: 100, entryErr: fmt.Errorf("entry: %w", domain.ErrWouldTrigger)}
	e, book, alerts := newEngine(t, exch)

	res := e.PlaceOrder(context.Background(), buySignal(0.8))
	if res.Status != domain.PlacementDeferred {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	if res.Err != nil {
		t.Errorf("deferred placement must not carry an error: %v", res.Err)
	}
	if book.Count() != 0 {
		t.Error("deferred placement must not track a position")
	}
	if exch.cancelAllCalls != 0 {
		t.Error("deferred placement must not trigger rollback")
	}
	if len(alerts.alerts) != 0 {
		t.Error("deferred placement must not alert")
	}
}

func TestBracketRetryCapNudgeAndRollback(t *testing.T) {
	failing := errors.New("stop rejected")
	exch := &fakeExchange{
		mark: 100,
		// Every stop-loss attempt fails; three attempts consume three errors.
		bracketErrs: []error{failing, failing, failing},
	}
	e, book, alerts := newEngine(t, exch)

	res := e.PlaceOrder(context.Background(), buySignal(0.8))
	if res.Status != domain.PlacementFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if !errors.Is(res.Err, domain.ErrBracketIncomplete) {
		t.Fatalf("err = %v, want ErrBracketIncomplete", res.Err)
	}

	stops := exch.stopIntents()
	if len(stops) != 3 {
		t.Fatalf("stop attempts = %d, want exactly 3", len(stops))
	}
	base := stops[0].StopPrice
	approx(t, stops[1].StopPrice, base*0.999, 1e-9, "second attempt stop (0.999 nudge)")
	approx(t, stops[2].StopPrice, base*0.999*0.999, 1e-9, "third attempt stop")

	if book.Count() != 0 {
		t.Error("failed placement must not track a position")
	}
	if exch.cancelAllCalls == 0 {
		t.Error("rollback must cancel resting orders")
	}
	closes := 0
	for _, in := range exch.intentsOf(domain.OrderEntry) {
		if in.ReduceOnly {
			closes++
			if in.Side != domain.SideSell {
				t.Errorf("rollback flatten side = %s, want SELL", in.Side)
			}
		}
	}
	if closes != 1 {
		t.Errorf("rollback flatten orders = %d, want 1", closes)
	}
	if len(alerts.alerts) == 0 {
		t.Error("failed placement must alert")
	}
}

func TestSellBracketNudgeDirection(t *testing.T) {
	failing := errors.New("stop rejected")
	exch := &fakeExchange{mark: 100, bracketErrs: []error{failing, failing, failing}}
	e, _, _ := newEngine(t, exch)

	sig := buySignal(0.8)
	sig.Side = domain.SideSell
	res := e.PlaceOrder(context.Background(), sig)
	if res.Status != domain.PlacementFailed {
		t.Fatalf("status = %s", res.Status)
	}
	stops := exch.stopIntents()
	if len(stops) != 3 {
		t.Fatalf("stop attempts = %d", len(stops))
	}
	approx(t, stops[1].StopPrice, stops[0].StopPrice*1.001, 1e-9, "short stop nudges up (1.001)")
}

func TestBuyStopLossClampedToMinimumDistance(t *testing.T) {
	exch := &fakeExchange{mark: 100}
	e, book, _ := newEngine(t, exch)

	sig := buySignal(0.8)
	sig.StopLoss = 99.97 // 0.03% away, inside the guard band
	res := e.PlaceOrder(context.Background(), sig)
	if res.Status != domain.PlacementFilled {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	pos, _ := book.Get("BTCUSDT")
	if pos.StopLoss > 99.95 {
		t.Errorf("stop loss %v not clamped to <= 99.95", pos.StopLoss)
	}
}

func TestEntryZeroExecutedRequeriesOnce(t *testing.T) {
	exch := &fakeExchange{
		mark:       100,
		entryAck:   &domain.OrderAck{ExecutedQty: 0},
		requeryAck: &domain.OrderAck{OrderID: 1, ExecutedQty: 2, AvgPrice: 100.5},
	}
	e, book, _ := newEngine(t, exch)

	res := e.PlaceOrder(context.Background(), buySignal(0.8))
	if res.Status != domain.PlacementFilled {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	pos, _ := book.Get("BTCUSDT")
	approx(t, pos.EntryPrice, 100.5, 1e-9, "entry from re-queried ack")
}

func TestEntryNeverExecutedFails(t *testing.T) {
	exch := &fakeExchange{
		mark:       100,
		entryAck:   &domain.OrderAck{ExecutedQty: 0},
		requeryAck: &domain.OrderAck{ExecutedQty: 0},
	}
	e, book, _ := newEngine(t, exch)

	res := e.PlaceOrder(context.Background(), buySignal(0.8))
	if res.Status != domain.PlacementFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if !errors.Is(res.Err, domain.ErrNoExecution) {
		t.Fatalf("err = %v, want ErrNoExecution", res.Err)
	}
	if book.Count() != 0 {
		t.Error("unexecuted entry must not be tracked")
	}
}

func TestBracketCountDeficitFails(t *testing.T) {
	exch := &fakeExchange{mark: 100}
	exch.openOverride = func() []domain.OpenOrder {
		return nil // venue reports nothing resting despite the acks
	}
	e, _, _ := newEngine(t, exch)

	res := e.PlaceOrder(context.Background(), buySignal(0.8))
	if res.Status != domain.PlacementFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if !errors.Is(res.Err, domain.ErrBracketIncomplete) {
		t.Fatalf("err = %v, want ErrBracketIncomplete", res.Err)
	}
}

func TestClosePositionRecordsTrade(t *testing.T) {
	exch := &fakeExchange{mark: 110}
	e, book, _ := newEngine(t, exch)
	book.Add(&domain.Position{Symbol: "BTCUSDT", Side: domain.SideBuy, Quantity: 2, EntryPrice: 100, OpenedAt: time.Now()})

	closed, err := e.ClosePosition(context.Background(), "BTCUSDT", domain.CloseReasonTakeProfit)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	approx(t, closed.PnL, 20, 1e-9, "long pnl at exit 110")
	if book.Count() != 0 {
		t.Error("closed position still tracked")
	}

	flattens := 0
	for _, in := range exch.intentsOf(domain.OrderEntry) {
		if in.ReduceOnly && in.Side == domain.SideSell {
			flattens++
		}
	}
	if flattens != 1 {
		t.Errorf("reduce-only closes = %d, want 1", flattens)
	}
}

func TestClosePositionUntrackedIsNoop(t *testing.T) {
	exch := &fakeExchange{mark: 100}
	e, _, _ := newEngine(t, exch)

	closed, err := e.ClosePosition(context.Background(), "BTCUSDT", domain.CloseReasonManual)
	if err != nil || closed != nil {
		t.Fatalf("untracked close = (%v, %v), want (nil, nil)", closed, err)
	}
	if len(exch.placed) != 0 {
		t.Error("untracked close must not place orders")
	}
}

func TestClosePositionFailureKeepsPositionTracked(t *testing.T) {
	exch := &fakeExchange{mark: 100, closeErr: map[string]error{"BTCUSDT": errors.New("venue down")}}
	e, book, alerts := newEngine(t, exch)
	book.Add(&domain.Position{Symbol: "BTCUSDT", Side: domain.SideBuy, Quantity: 1, EntryPrice: 100, OpenedAt: time.Now()})

	closed, err := e.ClosePosition(context.Background(), "BTCUSDT", domain.CloseReasonStopLoss)
	if err == nil || closed != nil {
		t.Fatalf("close = (%v, %v), want reported failure", closed, err)
	}
	if book.Count() != 1 {
		t.Error("failed close must keep the position for retry")
	}
	if len(alerts.alerts) == 0 {
		t.Error("failed close must alert")
	}
}

func TestApplyTrailingStopRatchetsUpOnly(t *testing.T) {
	exch := &fakeExchange{mark: 110}
	e, book, _ := newEngine(t, exch)
	book.Add(&domain.Position{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Quantity: 1,
		EntryPrice: 100, StopLoss: 98, StopOrderID: 7, OpenedAt: time.Now(),
	})

	moved, err := e.ApplyTrailingStop(context.Background(), "BTCUSDT", 110)
	if err != nil || !moved {
		t.Fatalf("trailing = (%v, %v), want moved", moved, err)
	}
	pos, _ := book.Get("BTCUSDT")
	approx(t, pos.StopLoss, 108.9, 1e-9, "trailed stop at 110*(1-0.01)")

	// A pullback must not loosen the stop.
	moved, err = e.ApplyTrailingStop(context.Background(), "BTCUSDT", 105)
	if err != nil {
		t.Fatal(err)
	}
	if moved {
		t.Error("trailing stop loosened on an unfavorable move")
	}
}
