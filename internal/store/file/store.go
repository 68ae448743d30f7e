// Package file implements the durable bot state store on the local
// filesystem. Every write goes through a temp-file-then-rename sequence so a
// crash mid-write leaves the previous valid file intact.
//
// Layout under the configured root:
//
//	state/<bot_id>/position.json
//	state/<bot_id>/window.json
//	ledger/<date>.json
//	ledger/archived/<date>.json
//	audit/<date>.jsonl
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

// Store is the combined file-backed StateStore, LedgerStore and AuditStore.
type Store struct {
	root string

	// ledgerMu serialises read-modify-write cycles on the daily ledger
	// files, which are shared across bots.
	ledgerMu sync.Mutex
	auditMu  sync.Mutex
}

var (
	_ domain.StateStore  = (*Store)(nil)
	_ domain.LedgerStore = (*Store)(nil)
	_ domain.AuditStore  = (*Store)(nil)
)

// New creates the store rooted at dir, creating the directory tree as needed.
func New(dir string) (*Store, error) {
	for _, sub := range []string{"state", "ledger", filepath.Join("ledger", "archived"), "audit"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("file: create %s: %w", sub, err)
		}
	}
	return &Store{root: dir}, nil
}

// --------------------------------------------------------------------------
// StateStore
// --------------------------------------------------------------------------

func (s *Store) positionPath(botID string) string {
	return filepath.Join(s.root, "state", botID, "position.json")
}

func (s *Store) windowPath(botID string) string {
	return filepath.Join(s.root, "state", botID, "window.json")
}

// LoadPosition returns the open position for botID, or nil when none exists.
func (s *Store) LoadPosition(_ context.Context, botID string) (*domain.Position, error) {
	data, err := os.ReadFile(s.positionPath(botID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: read position %s: %w", botID, err)
	}

	var pos domain.Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return nil, fmt.Errorf("file: decode position %s: %w", botID, err)
	}
	return &pos, nil
}

// SavePosition persists the position atomically.
func (s *Store) SavePosition(_ context.Context, pos domain.Position) error {
	if pos.BotID == "" {
		return fmt.Errorf("file: save position: empty bot id")
	}
	data, err := json.MarshalIndent(pos, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode position %s: %w", pos.BotID, err)
	}
	return writeAtomic(s.positionPath(pos.BotID), data)
}

// ClearPosition removes the position record. Clearing an absent record is a
// no-op.
func (s *Store) ClearPosition(_ context.Context, botID string) error {
	err := os.Remove(s.positionPath(botID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file: clear position %s: %w", botID, err)
	}
	return nil
}

// LoadWindowMeta returns the per-window bookkeeping for botID. A missing file
// yields the zero value, which reads as "never traded".
func (s *Store) LoadWindowMeta(_ context.Context, botID string) (domain.WindowMeta, error) {
	data, err := os.ReadFile(s.windowPath(botID))
	if errors.Is(err, fs.ErrNotExist) {
		return domain.WindowMeta{}, nil
	}
	if err != nil {
		return domain.WindowMeta{}, fmt.Errorf("file: read window meta %s: %w", botID, err)
	}

	var meta domain.WindowMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.WindowMeta{}, fmt.Errorf("file: decode window meta %s: %w", botID, err)
	}
	return meta, nil
}

func (s *Store) SaveWindowMeta(_ context.Context, botID string, meta domain.WindowMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode window meta %s: %w", botID, err)
	}
	return writeAtomic(s.windowPath(botID), data)
}

// --------------------------------------------------------------------------
// LedgerStore
// --------------------------------------------------------------------------

func (s *Store) ledgerPath(date string) string {
	return filepath.Join(s.root, "ledger", date+".json")
}

// Append adds one trade record to the ledger file for the record's UTC close
// date.
func (s *Store) Append(_ context.Context, rec domain.TradeRecord) error {
	date := rec.ClosedAt.UTC().Format("2006-01-02")

	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	recs, err := s.readLedger(date)
	if err != nil {
		return err
	}
	recs = append(recs, rec)

	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode ledger %s: %w", date, err)
	}
	return writeAtomic(s.ledgerPath(date), data)
}

// TradesForDate returns all records for the UTC date "2006-01-02". A missing
// ledger file yields an empty slice.
func (s *Store) TradesForDate(_ context.Context, date string) ([]domain.TradeRecord, error) {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	return s.readLedger(date)
}

func (s *Store) readLedger(date string) ([]domain.TradeRecord, error) {
	data, err := os.ReadFile(s.ledgerPath(date))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: read ledger %s: %w", date, err)
	}

	var recs []domain.TradeRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("file: decode ledger %s: %w", date, err)
	}
	return recs, nil
}

// Dates lists the ledger dates present in the local active set, oldest first.
func (s *Store) Dates(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "ledger"))
	if err != nil {
		return nil, fmt.Errorf("file: list ledger: %w", err)
	}

	var dates []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		dates = append(dates, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(dates)
	return dates, nil
}

// Archive moves a date's ledger file into the archived subdirectory,
// removing it from the local active set.
func (s *Store) Archive(_ context.Context, date string) error {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	src := s.ledgerPath(date)
	dst := filepath.Join(s.root, "ledger", "archived", date+".json")
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("file: archive ledger %s: %w", date, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// AuditStore
// --------------------------------------------------------------------------

// Log appends one audit record as a JSON line to the day's audit file.
func (s *Store) Log(_ context.Context, rec domain.AuditRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("file: encode audit record: %w", err)
	}
	line = append(line, '\n')

	path := filepath.Join(s.root, "audit", rec.At.UTC().Format("2006-01-02")+".jsonl")

	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("file: open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("file: append audit log: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internals
// --------------------------------------------------------------------------

// writeAtomic writes data to path via a temp file in the same directory
// followed by a rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("file: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("file: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file: close temp: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file: rename %s: %w", path, err)
	}
	return nil
}
