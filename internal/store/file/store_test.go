package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestPositionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.LoadPosition(ctx, "btc-15m")
	require.NoError(t, err)
	assert.Nil(t, got)

	strike := 64000.0
	pos := domain.Position{
		BotID:         "btc-15m",
		Ticker:        "KXBTC-26MAR14-B64000",
		Side:          domain.SideYes,
		Contracts:     16,
		EntryPrice:    0.30,
		TotalCost:     4.87,
		EntryTime:     time.Date(2026, 3, 14, 9, 2, 0, 0, time.UTC),
		RefPrice:      64010.5,
		Strike:        &strike,
		OrderID:       "ord-1",
		ClientOrderID: "cli-1",
		SignalLabel:   "momentum",
		WindowKey:     "2026-03-14-09:00",
	}
	require.NoError(t, s.SavePosition(ctx, pos))

	got, err = s.LoadPosition(ctx, "btc-15m")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pos, *got)

	require.NoError(t, s.ClearPosition(ctx, "btc-15m"))
	got, err = s.LoadPosition(ctx, "btc-15m")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Clearing again is a no-op.
	require.NoError(t, s.ClearPosition(ctx, "btc-15m"))
}

func TestSavePositionRejectsEmptyBotID(t *testing.T) {
	s := newTestStore(t)
	err := s.SavePosition(context.Background(), domain.Position{})
	assert.Error(t, err)
}

func TestWindowMetaRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	meta, err := s.LoadWindowMeta(ctx, "btc-15m")
	require.NoError(t, err)
	assert.Empty(t, meta.WindowKey)

	want := domain.WindowMeta{
		WindowKey:        "2026-03-14-09:00",
		LastDecisionTime: time.Date(2026, 3, 14, 9, 2, 0, 0, time.UTC),
		CapitalDeployed:  4.87,
		Entries:          1,
	}
	require.NoError(t, s.SaveWindowMeta(ctx, "btc-15m", want))

	meta, err = s.LoadWindowMeta(ctx, "btc-15m")
	require.NoError(t, err)
	assert.Equal(t, want, meta)
}

func TestLedgerAppendPartitionsByDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	day1 := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)

	require.NoError(t, s.Append(ctx, domain.TradeRecord{ID: "t1", BotID: "a", NetPnL: 1.5, ClosedAt: day1}))
	require.NoError(t, s.Append(ctx, domain.TradeRecord{ID: "t2", BotID: "a", NetPnL: -0.5, ClosedAt: day1}))
	require.NoError(t, s.Append(ctx, domain.TradeRecord{ID: "t3", BotID: "a", NetPnL: 2.0, ClosedAt: day2}))

	recs, err := s.TradesForDate(ctx, "2026-03-14")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "t1", recs[0].ID)
	assert.Equal(t, "t2", recs[1].ID)

	recs, err = s.TradesForDate(ctx, "2026-03-15")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "t3", recs[0].ID)

	recs, err = s.TradesForDate(ctx, "2026-01-01")
	require.NoError(t, err)
	assert.Empty(t, recs)

	dates, err := s.Dates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-03-14", "2026-03-15"}, dates)
}

func TestArchiveRemovesDateFromActiveSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	closed := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(ctx, domain.TradeRecord{ID: "t1", ClosedAt: closed}))

	require.NoError(t, s.Archive(ctx, "2026-03-14"))

	dates, err := s.Dates(ctx)
	require.NoError(t, err)
	assert.Empty(t, dates)

	// Archiving a missing date fails.
	assert.Error(t, s.Archive(ctx, "2026-03-14"))
}

func TestAuditLogAppendsLines(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Log(ctx, domain.AuditRecord{BotID: "a", Event: "order_placed", At: at}))
	require.NoError(t, s.Log(ctx, domain.AuditRecord{BotID: "a", Event: "order_failed", Err: "boom", At: at}))

	data, err := os.ReadFile(filepath.Join(dir, "audit", "2026-03-14.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "order_placed")
	assert.Contains(t, string(data), "order_failed")
}

func TestCrashDuringWriteLeavesPreviousState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pos := domain.Position{BotID: "a", Ticker: "T1", Contracts: 1, EntryPrice: 0.5}
	require.NoError(t, s.SavePosition(ctx, pos))

	// Simulate a crashed writer that left a temp file behind.
	dir := filepath.Dir(s.positionPath("a"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".position.json.tmp-crashed"), []byte("garbage"), 0o644))

	got, err := s.LoadPosition(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "T1", got.Ticker)
}
