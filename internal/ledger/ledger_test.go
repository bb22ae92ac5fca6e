package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/futbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPosition(symbol string, side domain.Side, qty, entry, strength float64) *domain.Position {
	return &domain.Position{
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		EntryPrice: entry,
		Strength:   strength,
		OpenedAt:   time.Now().UTC(),
	}
}

func TestAddRejectsDuplicateSymbol(t *testing.T) {
	l := New(testLogger())
	if err := l.Add(newPosition("BTCUSDT", domain.SideBuy, 1, 100, 0.5)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	err := l.Add(newPosition("BTCUSDT", domain.SideSell, 2, 101, 0.6))
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("second add = %v, want ErrAlreadyExists", err)
	}
	if l.Count() != 1 {
		t.Fatalf("count = %d", l.Count())
	}
}

func TestCloseRecordsRealizedPnL(t *testing.T) {
	l := New(testLogger())
	if err := l.Add(newPosition("ETHUSDT", domain.SideSell, 2, 3000, 0.5)); err != nil {
		t.Fatal(err)
	}

	closed, err := l.Close("ETHUSDT", 2900, domain.CloseReasonTakeProfit)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed.PnL != 200 {
		t.Errorf("short pnl = %v, want 200", closed.PnL)
	}
	if closed.Reason != domain.CloseReasonTakeProfit {
		t.Errorf("reason = %q", closed.Reason)
	}
	if _, err := l.Get("ETHUSDT"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("position still tracked after close: %v", err)
	}
	if l.TotalPnL() != 200 {
		t.Errorf("total pnl = %v", l.TotalPnL())
	}

	if _, err := l.Close("ETHUSDT", 2900, domain.CloseReasonManual); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("double close = %v, want ErrNotFound", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	l := New(testLogger())
	pos := newPosition("BTCUSDT", domain.SideBuy, 1, 100, 0.5)
	pos.TakeProfits = []domain.TakeProfit{{Price: 110, Quantity: 0.5}}
	if err := l.Add(pos); err != nil {
		t.Fatal(err)
	}

	got, err := l.Get("BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	got.Quantity = 99
	got.TakeProfits[0].Price = 1

	again, _ := l.Get("BTCUSDT")
	if again.Quantity != 1 || again.TakeProfits[0].Price != 110 {
		t.Error("mutating a returned position leaked into the ledger")
	}
}

func TestWeakestUsesAbsoluteStrength(t *testing.T) {
	l := New(testLogger())
	if _, ok := l.Weakest(); ok {
		t.Fatal("empty ledger should have no weakest position")
	}
	l.Add(newPosition("A", domain.SideBuy, 1, 100, 0.9))
	l.Add(newPosition("B", domain.SideSell, 1, 100, -0.4))
	l.Add(newPosition("C", domain.SideBuy, 1, 100, 0.7))

	weakest, ok := l.Weakest()
	if !ok || weakest.Symbol != "B" {
		t.Fatalf("weakest = %+v, %v", weakest, ok)
	}
}

// fakeExchange stubs the two calls Reconcile makes. Embedding the
// interface leaves the rest panicking if touched.
type fakeExchange struct {
	domain.Exchange
	positions []domain.ExchangePosition
	marks     map[string]float64
}

func (f *fakeExchange) Positions(context.Context) ([]domain.ExchangePosition, error) {
	return f.positions, nil
}

func (f *fakeExchange) MarkPrice(_ context.Context, symbol string) (float64, error) {
	if p, ok := f.marks[symbol]; ok {
		return p, nil
	}
	return 0, errors.New("no mark")
}

func TestReconcileClosesMissingAndAdoptsUntracked(t *testing.T) {
	l := New(testLogger())
	l.Add(newPosition("GONE", domain.SideBuy, 2, 100, 0.5))
	l.Add(newPosition("KEPT", domain.SideBuy, 1, 50, 0.5))

	exch := &fakeExchange{
		positions: []domain.ExchangePosition{
			{Symbol: "KEPT", PositionAmt: 1, EntryPrice: 50},
			{Symbol: "NEW", PositionAmt: -3, EntryPrice: 10, Leverage: 5},
		},
		marks: map[string]float64{"GONE": 110},
	}

	report, err := l.Reconcile(context.Background(), exch)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if len(report.ExternallyClosed) != 1 || report.ExternallyClosed[0].Symbol != "GONE" {
		t.Fatalf("externally closed = %+v", report.ExternallyClosed)
	}
	if got := report.ExternallyClosed[0].PnL; got != 20 {
		t.Errorf("external close pnl = %v, want 20 (mark 110)", got)
	}
	if report.ExternallyClosed[0].Reason != domain.CloseReasonExternalClose {
		t.Errorf("reason = %q", report.ExternallyClosed[0].Reason)
	}

	if len(report.Adopted) != 1 || report.Adopted[0].Symbol != "NEW" {
		t.Fatalf("adopted = %+v", report.Adopted)
	}
	adopted, err := l.Get("NEW")
	if err != nil {
		t.Fatalf("adopted position not tracked: %v", err)
	}
	if adopted.Side != domain.SideSell || adopted.Quantity != 3 {
		t.Errorf("adopted = %+v", adopted)
	}

	if _, err := l.Get("GONE"); !errors.Is(err, domain.ErrNotFound) {
		t.Error("externally closed position still tracked")
	}
	if _, err := l.Get("KEPT"); err != nil {
		t.Errorf("matching position was disturbed: %v", err)
	}
}

func TestReconcileCorrectsDrift(t *testing.T) {
	l := New(testLogger())
	l.Add(newPosition("BTCUSDT", domain.SideBuy, 2, 100, 0.5))

	exch := &fakeExchange{
		positions: []domain.ExchangePosition{
			{Symbol: "BTCUSDT", PositionAmt: 1.5, EntryPrice: 101},
		},
	}

	report, err := l.Reconcile(context.Background(), exch)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Drifted) != 1 || report.Drifted[0] != "BTCUSDT" {
		t.Fatalf("drifted = %v", report.Drifted)
	}
	pos, _ := l.Get("BTCUSDT")
	if pos.Quantity != 1.5 || pos.EntryPrice != 101 {
		t.Errorf("drift not corrected: %+v", pos)
	}
}
