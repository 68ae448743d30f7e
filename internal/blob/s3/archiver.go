package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

// LedgerArchiver implements domain.Archiver: it uploads rolled-over daily
// ledger files to blob storage and retires them from the local active set.
// Upload happens before retirement, so a crash between the two leaves the
// date both archived and local, never lost.
type LedgerArchiver struct {
	writer domain.BlobWriter
	ledger domain.LedgerStore
	logger *slog.Logger
}

// NewLedgerArchiver creates a LedgerArchiver.
func NewLedgerArchiver(writer domain.BlobWriter, ledger domain.LedgerStore, logger *slog.Logger) *LedgerArchiver {
	return &LedgerArchiver{
		writer: writer,
		ledger: ledger,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

var _ domain.Archiver = (*LedgerArchiver)(nil)

// ArchiveBefore uploads every local ledger date strictly before the given
// UTC date to ledger/<date>.json and retires it locally. Dates are processed
// oldest first; the first failure stops the pass and the remaining dates are
// retried on the next rollover.
func (a *LedgerArchiver) ArchiveBefore(ctx context.Context, date string) ([]string, error) {
	dates, err := a.ledger.Dates(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list ledger dates: %w", err)
	}
	sort.Strings(dates)

	var archived []string
	for _, d := range dates {
		if d >= date {
			continue
		}

		recs, err := a.ledger.TradesForDate(ctx, d)
		if err != nil {
			return archived, fmt.Errorf("s3blob: read ledger %s: %w", d, err)
		}

		data, err := json.Marshal(recs)
		if err != nil {
			return archived, fmt.Errorf("s3blob: marshal ledger %s: %w", d, err)
		}

		path := "ledger/" + d + ".json"
		if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
			return archived, fmt.Errorf("s3blob: upload ledger %s: %w", d, err)
		}

		if err := a.ledger.Archive(ctx, d); err != nil {
			return archived, fmt.Errorf("s3blob: retire ledger %s: %w", d, err)
		}

		a.logger.Info("ledger date archived",
			slog.String("date", d),
			slog.String("path", path),
			slog.Int("records", len(recs)),
		)
		archived = append(archived, d)
	}
	return archived, nil
}
