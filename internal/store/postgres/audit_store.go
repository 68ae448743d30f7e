package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

// AuditStore mirrors order-placement audit records into PostgreSQL.
type AuditStore struct {
	pool *pgxpool.Pool
}

var _ domain.AuditStore = (*AuditStore)(nil)

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends one audit record.
func (s *AuditStore) Log(ctx context.Context, rec domain.AuditRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	const query = `
		INSERT INTO audit_log (bot_id, event, ticker, client_order_id, order_id, detail, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, query,
		rec.BotID, rec.Event, rec.Ticker, rec.ClientOrderID, rec.OrderID, rec.Detail, rec.Err, at,
	)
	if err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", rec.Event, err)
	}
	return nil
}

// ListRecent returns the newest audit records for a bot, newest first.
func (s *AuditStore) ListRecent(ctx context.Context, botID string, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	const query = `
		SELECT bot_id, event, ticker, client_order_id, order_id, detail, error, created_at
		FROM audit_log
		WHERE bot_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit records: %w", err)
	}
	defer rows.Close()

	var recs []domain.AuditRecord
	for rows.Next() {
		var r domain.AuditRecord
		if err := rows.Scan(&r.BotID, &r.Event, &r.Ticker, &r.ClientOrderID, &r.OrderID, &r.Detail, &r.Err, &r.At); err != nil {
			return nil, fmt.Errorf("postgres: scan audit record: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit records rows: %w", err)
	}
	return recs, nil
}
