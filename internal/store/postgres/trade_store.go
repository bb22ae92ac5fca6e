package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/futbot/internal/domain"
)

// TradeStore implements domain.TradeStore on PostgreSQL.
type TradeStore struct {
	client *Client
}

// NewTradeStore creates a TradeStore backed by the given client.
func NewTradeStore(client *Client) *TradeStore {
	return &TradeStore{client: client}
}

const tradeSelectCols = `symbol, side, quantity, entry_price, exit_price, pnl, reason, opened_at, closed_at`

func scanClosedRows(rows pgx.Rows) ([]domain.ClosedPosition, error) {
	var trades []domain.ClosedPosition
	for rows.Next() {
		var t domain.ClosedPosition
		if err := rows.Scan(
			&t.Symbol, &t.Side, &t.Quantity, &t.EntryPrice,
			&t.ExitPrice, &t.PnL, &t.Reason, &t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SaveClosed records one closed trade.
func (s *TradeStore) SaveClosed(ctx context.Context, pos *domain.ClosedPosition) error {
	const query = `
		INSERT INTO closed_trades (
			symbol, side, quantity, entry_price, exit_price, pnl, reason, opened_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.client.Pool().Exec(ctx, query,
		pos.Symbol, string(pos.Side), pos.Quantity, pos.EntryPrice,
		pos.ExitPrice, pos.PnL, pos.Reason, pos.OpenedAt, pos.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save closed trade %s: %w", pos.Symbol, err)
	}
	return nil
}

// RecentClosed returns the most recently closed trades, newest first.
func (s *TradeStore) RecentClosed(ctx context.Context, limit int) ([]domain.ClosedPosition, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + tradeSelectCols + ` FROM closed_trades ORDER BY closed_at DESC LIMIT $1`
	rows, err := s.client.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent closed trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanClosedRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed trades: %w", err)
	}
	return trades, nil
}

// PnLSince sums realized pnl over trades closed at or after since.
func (s *TradeStore) PnLSince(ctx context.Context, since time.Time) (float64, error) {
	var pnl *float64
	err := s.client.Pool().QueryRow(ctx,
		`SELECT SUM(pnl) FROM closed_trades WHERE closed_at >= $1`, since).Scan(&pnl)
	if err != nil {
		return 0, fmt.Errorf("postgres: pnl since %v: %w", since, err)
	}
	if pnl == nil {
		return 0, nil
	}
	return *pnl, nil
}

// ClosedBefore returns trades closed strictly before the given time,
// oldest first, for archiving.
func (s *TradeStore) ClosedBefore(ctx context.Context, before time.Time) ([]domain.ClosedPosition, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM closed_trades WHERE closed_at < $1 ORDER BY closed_at ASC`
	rows, err := s.client.Pool().Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: closed trades before %v: %w", before, err)
	}
	defer rows.Close()
	return scanClosedRows(rows)
}

// DeleteBefore removes trades closed before the given time after they
// have been archived. Returns the number deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.client.Pool().Exec(ctx, `DELETE FROM closed_trades WHERE closed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete closed trades before %v: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the underlying pool.
func (s *TradeStore) Close() {
	s.client.Close()
}
