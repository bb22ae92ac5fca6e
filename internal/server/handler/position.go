package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/futbot/internal/domain"
)

// PositionHandler serves open-position and closed-trade endpoints out of
// the in-memory book, with the trade store as the deeper history backend.
type PositionHandler struct {
	book   Book
	trades domain.TradeStore // nil when PostgreSQL is disabled
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler. trades may be nil, in which
// case closed-trade queries fall back to the in-memory book.
func NewPositionHandler(book Book, trades domain.TradeStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		book:   book,
		trades: trades,
		logger: logger,
	}
}

// listPositionsResponse wraps the open positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns all tracked open positions.
// GET /positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.book.Open()
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// listTradesResponse wraps the closed trades response.
type listTradesResponse struct {
	Trades []domain.ClosedPosition `json:"trades"`
}

// ListTrades returns recently closed trades, newest first.
// GET /trades?limit=50
func (h *PositionHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)

	if h.trades != nil {
		trades, err := h.trades.RecentClosed(r.Context(), limit)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: list trades failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to list trades")
			return
		}
		if trades == nil {
			trades = []domain.ClosedPosition{}
		}
		writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
		return
	}

	trades := h.book.Closed()
	if len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	// Book history is oldest-first; present newest-first like the store.
	out := make([]domain.ClosedPosition, 0, len(trades))
	for i := len(trades) - 1; i >= 0; i-- {
		out = append(out, trades[i])
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: out})
}
