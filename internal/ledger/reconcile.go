package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/futbot/internal/domain"
)

// ReconcileReport summarizes the changes one reconciliation pass made
// to the local book.
type ReconcileReport struct {
	// ExternallyClosed are local positions the exchange no longer
	// holds. They were closed at the last mark price with the venue's
	// last unrealized figure when available.
	ExternallyClosed []domain.ClosedPosition
	// Adopted are exchange positions that had no local record. They
	// are now tracked with zero strength and no brackets.
	Adopted []domain.Position
	// Drifted are symbols whose local quantity or entry was corrected
	// to the exchange's view.
	Drifted []string
}

// Reconcile aligns the local book with the exchange. The exchange is
// the source of truth: positions it no longer holds are closed out
// locally, positions it holds that we do not track are adopted, and
// size drift is corrected in place.
func (l *Ledger) Reconcile(ctx context.Context, exch domain.Exchange) (*ReconcileReport, error) {
	remote, err := exch.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: reconcile: %w", err)
	}

	bySymbol := make(map[string]*domain.ExchangePosition, len(remote))
	for i := range remote {
		bySymbol[remote[i].Symbol] = &remote[i]
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	report := &ReconcileReport{}

	// Local positions the exchange no longer holds.
	for symbol, pos := range l.open {
		ep, ok := bySymbol[symbol]
		if ok && ep.Side() == pos.Side {
			continue
		}

		exitPrice := pos.EntryPrice
		if ok {
			// Side flipped out from under us; value the old position
			// at the current mark.
			exitPrice = ep.MarkPrice
		} else if mark, err := exch.MarkPrice(ctx, symbol); err == nil {
			exitPrice = mark
		}
		closed, err := l.closeLocked(symbol, exitPrice, domain.CloseReasonExternalClose)
		if err != nil {
			continue
		}
		report.ExternallyClosed = append(report.ExternallyClosed, *closed)
		l.logger.Warn("position closed externally",
			slog.String("symbol", symbol),
			slog.Float64("exit", exitPrice))
	}

	// Exchange positions with no local record, and size drift.
	for symbol, ep := range bySymbol {
		pos, ok := l.open[symbol]
		if !ok {
			adopted := domain.Position{
				Symbol:     symbol,
				Side:       ep.Side(),
				Quantity:   ep.Quantity(),
				EntryPrice: ep.EntryPrice,
				Leverage:   ep.Leverage,
				OpenedAt:   time.Now().UTC(),
			}
			l.open[symbol] = &adopted
			report.Adopted = append(report.Adopted, adopted)
			l.logger.Warn("untracked position adopted",
				slog.String("symbol", symbol),
				slog.String("side", string(adopted.Side)),
				slog.Float64("qty", adopted.Quantity))
			continue
		}
		if pos.Quantity != ep.Quantity() || pos.EntryPrice != ep.EntryPrice {
			pos.Quantity = ep.Quantity()
			pos.EntryPrice = ep.EntryPrice
			report.Drifted = append(report.Drifted, symbol)
			l.logger.Warn("position size drift corrected",
				slog.String("symbol", symbol),
				slog.Float64("qty", pos.Quantity))
		}
	}

	return report, nil
}
