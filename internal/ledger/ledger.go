// Package ledger tracks open positions locally and reconciles them
// against the exchange's view.
package ledger

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/futbot/internal/domain"
)

// Ledger is the local book of open and closed positions. All access is
// serialized through one mutex; every method takes a consistent
// snapshot under it.
type Ledger struct {
	mu     sync.Mutex
	open   map[string]*domain.Position
	closed []domain.ClosedPosition
	logger *slog.Logger
}

// New creates an empty Ledger.
func New(logger *slog.Logger) *Ledger {
	return &Ledger{
		open:   make(map[string]*domain.Position),
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// Add starts tracking a position. A symbol can hold at most one
// position; adding a second returns domain.ErrAlreadyExists.
func (l *Ledger) Add(pos *domain.Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.open[pos.Symbol]; ok {
		return fmt.Errorf("ledger: add %s: %w", pos.Symbol, domain.ErrAlreadyExists)
	}
	cp := *pos
	cp.TakeProfits = append([]domain.TakeProfit(nil), pos.TakeProfits...)
	l.open[pos.Symbol] = &cp

	l.logger.Info("position tracked",
		slog.String("symbol", cp.Symbol),
		slog.String("side", string(cp.Side)),
		slog.Float64("qty", cp.Quantity),
		slog.Float64("entry", cp.EntryPrice))
	return nil
}

// Get returns a copy of the tracked position for the symbol.
func (l *Ledger) Get(symbol string) (*domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.open[symbol]
	if !ok {
		return nil, fmt.Errorf("ledger: get %s: %w", symbol, domain.ErrNotFound)
	}
	cp := *pos
	cp.TakeProfits = append([]domain.TakeProfit(nil), pos.TakeProfits...)
	return &cp, nil
}

// Update replaces the tracked position for its symbol. Used when a
// bracket order moves or partially fills.
func (l *Ledger) Update(pos *domain.Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.open[pos.Symbol]; !ok {
		return fmt.Errorf("ledger: update %s: %w", pos.Symbol, domain.ErrNotFound)
	}
	cp := *pos
	cp.TakeProfits = append([]domain.TakeProfit(nil), pos.TakeProfits...)
	l.open[pos.Symbol] = &cp
	return nil
}

// Close removes the symbol's position and records the closed trade
// with its realized PnL.
func (l *Ledger) Close(symbol string, exitPrice float64, reason string) (*domain.ClosedPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked(symbol, exitPrice, reason)
}

// closeLocked removes a position and records the closed trade. The
// caller must hold the mutex.
func (l *Ledger) closeLocked(symbol string, exitPrice float64, reason string) (*domain.ClosedPosition, error) {
	pos, ok := l.open[symbol]
	if !ok {
		return nil, fmt.Errorf("ledger: close %s: %w", symbol, domain.ErrNotFound)
	}
	delete(l.open, symbol)

	pnl := domain.RealizedPnL(pos.Side, pos.EntryPrice, exitPrice, pos.Quantity)
	closed := domain.ClosedPosition{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Quantity:   pos.Quantity,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		PnL:        pnl,
		Reason:     reason,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   time.Now().UTC(),
	}
	l.closed = append(l.closed, closed)

	l.logger.Info("position closed",
		slog.String("symbol", closed.Symbol),
		slog.String("reason", reason),
		slog.Float64("exit", exitPrice),
		slog.Float64("pnl", closed.PnL))
	return &closed, nil
}

// Open returns copies of all tracked positions.
func (l *Ledger) Open() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.Position, 0, len(l.open))
	for _, pos := range l.open {
		cp := *pos
		cp.TakeProfits = append([]domain.TakeProfit(nil), pos.TakeProfits...)
		out = append(out, cp)
	}
	return out
}

// Closed returns copies of all closed trades recorded this session.
func (l *Ledger) Closed() []domain.ClosedPosition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ClosedPosition(nil), l.closed...)
}

// Count returns the number of open positions.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.open)
}

// TotalPnL returns the realized PnL summed over this session's closed
// trades.
func (l *Ledger) TotalPnL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total float64
	for _, c := range l.closed {
		total += c.PnL
	}
	return total
}

// Weakest returns a copy of the open position with the smallest
// absolute signal strength, or false when the book is empty.
func (l *Ledger) Weakest() (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var weakest *domain.Position
	for _, pos := range l.open {
		if weakest == nil || abs(pos.Strength) < abs(weakest.Strength) {
			weakest = pos
		}
	}
	if weakest == nil {
		return domain.Position{}, false
	}
	cp := *weakest
	cp.TakeProfits = append([]domain.TakeProfit(nil), weakest.TakeProfits...)
	return cp, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
