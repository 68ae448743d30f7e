package domain

import (
	"context"
	"io"
	"time"
)

// StateStore is the durable per-bot key-value store holding the open
// Position and per-window metadata. Writes are atomic (temp file + rename or
// equivalent) so a crash mid-write leaves the previous valid state intact.
// Only a bot's own tick loop writes its keys; there is no multi-writer
// contention on a single slot.
type StateStore interface {
	// LoadPosition returns the open position for botID, or nil when none.
	LoadPosition(ctx context.Context, botID string) (*Position, error)
	// SavePosition persists the position. Must be called before any other
	// side effect of a believed fill.
	SavePosition(ctx context.Context, pos Position) error
	// ClearPosition removes the position record. No-op when absent.
	ClearPosition(ctx context.Context, botID string) error

	LoadWindowMeta(ctx context.Context, botID string) (WindowMeta, error)
	SaveWindowMeta(ctx context.Context, botID string, meta WindowMeta) error
}

// LedgerStore is the append-only daily trade ledger. Records partition by
// UTC date; the day's bucket feeds the daily-loss gate and rolls over at
// date change.
type LedgerStore interface {
	Append(ctx context.Context, rec TradeRecord) error
	// TradesForDate returns all records for the UTC date "2006-01-02".
	TradesForDate(ctx context.Context, date string) ([]TradeRecord, error)
	// Dates lists ledger dates present locally, oldest first.
	Dates(ctx context.Context) ([]string, error)
	// Archive marks a date's ledger as archived, removing it from the
	// local active set after a successful upload.
	Archive(ctx context.Context, date string) error
}

// AuditStore records every order placement attempt, success or failure.
type AuditStore interface {
	Log(ctx context.Context, rec AuditRecord) error
}

// TradeMirrorStore mirrors ledger records into a queryable reporting
// backend. Mirror writes are best-effort; the file ledger stays
// authoritative for recovery and gating.
type TradeMirrorStore interface {
	Insert(ctx context.Context, rec TradeRecord) error
	ListByBot(ctx context.Context, botID string, limit int) ([]TradeRecord, error)
	SumPnLSince(ctx context.Context, botID string, since time.Time) (float64, error)
}

// MarketCache caches market snapshots for ~30 seconds to respect exchange
// rate limits, with an explicit bust operation for the cache-busted fresh
// fetch stale recovery requires.
type MarketCache interface {
	Get(ctx context.Context, ticker string) (MarketSnapshot, error)
	Set(ctx context.Context, snap MarketSnapshot) error
	Bust(ctx context.Context, ticker string) error
}

// RunLock guards a bot id against concurrent execution by two processes
// sharing the same durable store.
type RunLock interface {
	// Acquire takes the lock for botID or returns ErrLockHeld.
	Acquire(ctx context.Context, botID string, ttl time.Duration) error
	Release(ctx context.Context, botID string) error
	// Refresh extends a held lock's TTL.
	Refresh(ctx context.Context, botID string, ttl time.Duration) error
}

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader fetches an object from blob storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver uploads rolled-over ledger days to blob storage.
type Archiver interface {
	// ArchiveBefore uploads and retires every local ledger date strictly
	// before the given UTC date ("2006-01-02"). Returns the dates archived.
	ArchiveBefore(ctx context.Context, date string) ([]string, error)
}
