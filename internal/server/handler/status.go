package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/futbot/internal/domain"
)

// Book is the position-state view the status and position handlers read from.
type Book interface {
	Open() []domain.Position
	Closed() []domain.ClosedPosition
	Count() int
	TotalPnL() float64
}

// StatusHandler serves the bot status summary.
type StatusHandler struct {
	Mode      string
	Symbols   []string
	StartedAt time.Time
	book      Book
}

// NewStatusHandler creates a StatusHandler over the given position book.
func NewStatusHandler(mode string, symbols []string, book Book) *StatusHandler {
	return &StatusHandler{
		Mode:      mode,
		Symbols:   symbols,
		StartedAt: time.Now().UTC(),
		book:      book,
	}
}

// GetStatus responds with the run mode, uptime, and position totals.
// GET /status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"symbols":        h.Symbols,
		"started_at":     h.StartedAt.Format(time.RFC3339),
		"uptime":         time.Since(h.StartedAt).Round(time.Second).String(),
		"open_positions": h.book.Count(),
		"realized_pnl":   h.book.TotalPnL(),
	})
}
