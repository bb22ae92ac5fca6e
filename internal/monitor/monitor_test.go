package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/futbot/internal/config"
	"github.com/alanyoungcy/futbot/internal/domain"
	"github.com/alanyoungcy/futbot/internal/ledger"
	"github.com/alanyoungcy/futbot/internal/notify"
)

type fakeExchange struct {
	domain.Exchange
	positions []domain.ExchangePosition
	marks     map[string]float64
	markErrs  map[string]error
}

func (f *fakeExchange) Positions(context.Context) ([]domain.ExchangePosition, error) {
	return f.positions, nil
}

func (f *fakeExchange) MarkPrice(_ context.Context, symbol string) (float64, error) {
	if err := f.markErrs[symbol]; err != nil {
		return 0, err
	}
	if p, ok := f.marks[symbol]; ok {
		return p, nil
	}
	return 0, errors.New("no mark for " + symbol)
}

type closeCall struct {
	symbol string
	reason string
}

type fakeLifecycle struct {
	mu       sync.Mutex
	closes   []closeCall
	ensured  []string
	trailed  []string
	closeErr error
}

func (f *fakeLifecycle) ClosePosition(_ context.Context, symbol, reason string) (*domain.ClosedPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, closeCall{symbol, reason})
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	return &domain.ClosedPosition{Symbol: symbol, Reason: reason}, nil
}

func (f *fakeLifecycle) ApplyTrailingStop(_ context.Context, symbol string, _ float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trailed = append(f.trailed, symbol)
	return false, nil
}

func (f *fakeLifecycle) EnsureBrackets(_ context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, symbol)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMonitorCfg() config.MonitorConfig {
	cfg := config.Defaults().Monitor
	return cfg
}

func long(symbol string, entry, sl float64, tps ...float64) *domain.Position {
	pos := &domain.Position{
		Symbol: symbol, Side: domain.SideBuy, Quantity: 1,
		EntryPrice: entry, StopLoss: sl, OpenedAt: time.Now(),
	}
	for _, p := range tps {
		pos.TakeProfits = append(pos.TakeProfits, domain.TakeProfit{Price: p, Quantity: 0.5})
	}
	return pos
}

func TestTriggeredStopBeforeTakeProfit(t *testing.T) {
	// A gap through both levels must exit as a stop, not a profit take.
	pos := long("BTCUSDT", 100, 98, 101)
	pos.TakeProfits[0].Price = 97 // pathological but possible after nudges

	reason, hit := triggered(pos, 97.5)
	if !hit || reason != domain.CloseReasonStopLoss {
		t.Fatalf("triggered = (%q, %v), want stop_loss", reason, hit)
	}
}

func TestTriggeredSideAware(t *testing.T) {
	short := &domain.Position{
		Symbol: "ETHUSDT", Side: domain.SideSell, Quantity: 1,
		EntryPrice: 100, StopLoss: 103,
		TakeProfits: []domain.TakeProfit{{Price: 95, Quantity: 1}},
	}

	cases := []struct {
		name   string
		pos    *domain.Position
		price  float64
		reason string
		hit    bool
	}{
		{"long stop", long("A", 100, 98, 105), 97.9, domain.CloseReasonStopLoss, true},
		{"long tp", long("A", 100, 98, 105), 105.2, domain.CloseReasonTakeProfit, true},
		{"long quiet", long("A", 100, 98, 105), 101, "", false},
		{"short stop", short, 103.5, domain.CloseReasonStopLoss, true},
		{"short tp", short, 94.8, domain.CloseReasonTakeProfit, true},
		{"short quiet", short, 99, "", false},
	}
	for _, tc := range cases {
		reason, hit := triggered(tc.pos, tc.price)
		if hit != tc.hit || reason != tc.reason {
			t.Errorf("%s: triggered = (%q, %v), want (%q, %v)", tc.name, reason, hit, tc.reason, tc.hit)
		}
	}
}

func TestCycleClosesTriggeredPosition(t *testing.T) {
	book := ledger.New(testLogger())
	book.Add(long("BTCUSDT", 100, 98, 105))

	exch := &fakeExchange{
		positions: []domain.ExchangePosition{{Symbol: "BTCUSDT", PositionAmt: 1, EntryPrice: 100, MarkPrice: 97}},
		marks:     map[string]float64{"BTCUSDT": 97},
	}
	eng := &fakeLifecycle{}
	m := New(testMonitorCfg(), exch, book, eng, nil, testLogger())

	if err := m.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if len(eng.closes) != 1 || eng.closes[0] != (closeCall{"BTCUSDT", domain.CloseReasonStopLoss}) {
		t.Fatalf("closes = %+v, want one stop_loss close", eng.closes)
	}
}

func TestCycleIsolatesSymbolErrors(t *testing.T) {
	book := ledger.New(testLogger())
	book.Add(long("AAAUSDT", 100, 98))
	book.Add(long("BBBUSDT", 100, 98, 105))

	exch := &fakeExchange{
		positions: []domain.ExchangePosition{
			{Symbol: "AAAUSDT", PositionAmt: 1, EntryPrice: 100, MarkPrice: 100},
			{Symbol: "BBBUSDT", PositionAmt: 1, EntryPrice: 100, MarkPrice: 106},
		},
		marks:    map[string]float64{"BBBUSDT": 106},
		markErrs: map[string]error{"AAAUSDT": errors.New("pricing down")},
	}
	eng := &fakeLifecycle{}
	m := New(testMonitorCfg(), exch, book, eng, nil, testLogger())

	err := m.Cycle(context.Background())
	if err == nil {
		t.Fatal("cycle with a failing symbol must report an error")
	}
	// The failing symbol must not stop the other from closing.
	if len(eng.closes) != 1 || eng.closes[0].symbol != "BBBUSDT" {
		t.Fatalf("closes = %+v, want BBBUSDT take profit", eng.closes)
	}
}

func TestCycleArmsBracketsOnAdoptedPositions(t *testing.T) {
	book := ledger.New(testLogger())
	exch := &fakeExchange{
		positions: []domain.ExchangePosition{{Symbol: "SOLUSDT", PositionAmt: 3, EntryPrice: 50, MarkPrice: 50}},
		marks:     map[string]float64{"SOLUSDT": 50},
	}
	eng := &fakeLifecycle{}
	m := New(testMonitorCfg(), exch, book, eng, nil, testLogger())

	if err := m.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if len(eng.ensured) != 1 || eng.ensured[0] != "SOLUSDT" {
		t.Fatalf("ensured = %v, want adopted SOLUSDT", eng.ensured)
	}
	if book.Count() != 1 {
		t.Fatal("adopted position not tracked")
	}
}

func TestCycleTrailsQuietPositions(t *testing.T) {
	book := ledger.New(testLogger())
	book.Add(long("BTCUSDT", 100, 98, 110))

	exch := &fakeExchange{
		positions: []domain.ExchangePosition{{Symbol: "BTCUSDT", PositionAmt: 1, EntryPrice: 100, MarkPrice: 104}},
		marks:     map[string]float64{"BTCUSDT": 104},
	}
	eng := &fakeLifecycle{}
	m := New(testMonitorCfg(), exch, book, eng, nil, testLogger())

	if err := m.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if len(eng.closes) != 0 {
		t.Fatalf("unexpected closes: %+v", eng.closes)
	}
	if len(eng.trailed) != 1 {
		t.Fatalf("trailed = %v, want one trailing update", eng.trailed)
	}
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

func TestLiquidationWarnAndExitBands(t *testing.T) {
	cases := []struct {
		name      string
		mark, liq float64
		wantSev   notify.Severity
		wantClose bool
		wantAlert bool
	}{
		{"safe", 100, 80, 0, false, false},            // 20% away
		{"warning band", 100, 92, notify.SeverityWarning, false, true},   // 8%
		{"exit band", 100, 96, notify.SeverityEmergency, true, true},     // 4%
	}
	for _, tc := range cases {
		exch := &fakeExchange{positions: []domain.ExchangePosition{
			{Symbol: "BTCUSDT", PositionAmt: 1, EntryPrice: 100, MarkPrice: tc.mark, LiquidationPrice: tc.liq},
		}}
		eng := &fakeLifecycle{}
		alerts := &fakeAlerter{}
		lm := NewLiquidationMonitor(testMonitorCfg(), exch, eng, alerts, testLogger())

		if err := lm.Cycle(context.Background()); err != nil {
			t.Fatalf("%s: Cycle: %v", tc.name, err)
		}
		if tc.wantAlert {
			if len(alerts.alerts) != 1 || alerts.alerts[0] != tc.wantSev {
				t.Errorf("%s: alerts = %v, want [%v]", tc.name, alerts.alerts, tc.wantSev)
			}
		} else if len(alerts.alerts) != 0 {
			t.Errorf("%s: unexpected alerts %v", tc.name, alerts.alerts)
		}
		gotClose := len(eng.closes) == 1 && eng.closes[0].reason == domain.CloseReasonLiquidation
		if gotClose != tc.wantClose {
			t.Errorf("%s: closes = %+v, want close=%v", tc.name, eng.closes, tc.wantClose)
		}
	}
}

func TestTimeToLiquidationEstimate(t *testing.T) {
	lm := NewLiquidationMonitor(testMonitorCfg(), &fakeExchange{}, &fakeLifecycle{}, nil, testLogger())
	base := time.Now()
	lm.now = func() time.Time { return base }

	ep := &domain.ExchangePosition{Symbol: "BTCUSDT", PositionAmt: 1, MarkPrice: 100, LiquidationPrice: 90}
	if tta := lm.timeToLiquidation(ep); tta != 0 {
		t.Fatalf("first observation tta = %v, want 0", tta)
	}

	// 1/s toward the liquidation price, 9 away.
	lm.now = func() time.Time { return base.Add(time.Second) }
	ep.MarkPrice = 99
	tta := lm.timeToLiquidation(ep)
	if tta != 9*time.Second {
		t.Fatalf("tta = %v, want 9s", tta)
	}

	// Price recovering: no estimate.
	lm.now = func() time.Time { return base.Add(2 * time.Second) }
	ep.MarkPrice = 100.5
	if tta := lm.timeToLiquidation(ep); tta != 0 {
		t.Fatalf("recovering tta = %v, want 0", tta)
	}
}
