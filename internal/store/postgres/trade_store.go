package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

// TradeStore mirrors closed-trade ledger records into PostgreSQL for
// reporting queries.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeMirrorStore = (*TradeStore)(nil)

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Insert mirrors one trade record. Replayed inserts with the same id are
// ignored, so mirroring stays idempotent across restarts.
func (s *TradeStore) Insert(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_records
			(id, bot_id, strategy, ticker, side, entry_price, exit_price, contracts, net_pnl, won, exit_reason, window_key, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.BotID, rec.Strategy, rec.Ticker, string(rec.Side),
		rec.EntryPrice, rec.ExitPrice, rec.Contracts, rec.NetPnL, rec.Won,
		rec.ExitReason, rec.WindowKey, rec.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", rec.ID, err)
	}
	return nil
}

// ListByBot returns the newest trades for a bot, newest first.
func (s *TradeStore) ListByBot(ctx context.Context, botID string, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	const query = `
		SELECT id, bot_id, strategy, ticker, side, entry_price, exit_price, contracts, net_pnl, won, exit_reason, window_key, closed_at
		FROM trade_records
		WHERE bot_id = $1
		ORDER BY closed_at DESC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var recs []domain.TradeRecord
	for rows.Next() {
		var (
			r    domain.TradeRecord
			side string
		)
		if err := rows.Scan(&r.ID, &r.BotID, &r.Strategy, &r.Ticker, &side,
			&r.EntryPrice, &r.ExitPrice, &r.Contracts, &r.NetPnL, &r.Won,
			&r.ExitReason, &r.WindowKey, &r.ClosedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		r.Side = domain.Side(side)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades rows: %w", err)
	}
	return recs, nil
}

// SumPnLSince returns the total net P&L for a bot's trades closed at or after
// the given instant.
func (s *TradeStore) SumPnLSince(ctx context.Context, botID string, since time.Time) (float64, error) {
	const query = `
		SELECT COALESCE(SUM(net_pnl), 0)
		FROM trade_records
		WHERE bot_id = $1 AND closed_at >= $2`
	var total float64
	if err := s.pool.QueryRow(ctx, query, botID, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres: sum pnl: %w", err)
	}
	return total, nil
}
