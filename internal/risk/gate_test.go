package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

// balanceGateway stubs only the balance endpoint; the gate touches nothing
// else on the gateway.
type balanceGateway struct {
	domain.ExchangeGateway
	balance domain.Balance
	err     error
	calls   int
}

func (g *balanceGateway) GetBalance(context.Context) (domain.Balance, error) {
	g.calls++
	if g.err != nil {
		return domain.Balance{}, g.err
	}
	return g.balance, nil
}

type memLedger struct {
	recs map[string][]domain.TradeRecord
	err  error
}

func (l *memLedger) Append(_ context.Context, rec domain.TradeRecord) error {
	date := rec.ClosedAt.UTC().Format("2006-01-02")
	if l.recs == nil {
		l.recs = map[string][]domain.TradeRecord{}
	}
	l.recs[date] = append(l.recs[date], rec)
	return nil
}

func (l *memLedger) TradesForDate(_ context.Context, date string) ([]domain.TradeRecord, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.recs[date], nil
}

func (l *memLedger) Dates(context.Context) ([]string, error) { return nil, nil }
func (l *memLedger) Archive(context.Context, string) error   { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGate(gw domain.ExchangeGateway, ledger domain.LedgerStore) *Gate {
	return NewGate(gw, ledger, Config{
		BalanceRefresh: time.Minute,
		CapitalFloor:   10,
		SizeFloorUSD:   1,
		SizeCeilingUSD: 50,
	}, testLogger())
}

func TestAvailableCachesWithinRefreshInterval(t *testing.T) {
	gw := &balanceGateway{balance: domain.Balance{Available: 100}}
	g := newGate(gw, &memLedger{})

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	now := base
	g.now = func() time.Time { return now }

	got, err := g.Available(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, got)
	assert.Equal(t, 1, gw.calls)

	// Within the interval: cached, no second fetch.
	now = base.Add(30 * time.Second)
	_, err = g.Available(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, gw.calls)

	// Past the interval: refetch.
	now = base.Add(61 * time.Second)
	gw.balance.Available = 90
	got, err = g.Available(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 90.0, got)
	assert.Equal(t, 2, gw.calls)
}

func TestAvailableFallsBackToCacheOnError(t *testing.T) {
	gw := &balanceGateway{balance: domain.Balance{Available: 100}}
	g := newGate(gw, &memLedger{})

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	now := base
	g.now = func() time.Time { return now }

	_, err := g.Available(context.Background())
	require.NoError(t, err)

	now = base.Add(2 * time.Minute)
	gw.err = errors.New("exchange down")
	got, err := g.Available(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, got)
}

func TestAvailableErrorsBeforeFirstFetch(t *testing.T) {
	gw := &balanceGateway{err: errors.New("exchange down")}
	g := newGate(gw, &memLedger{})

	_, err := g.Available(context.Background())
	assert.Error(t, err)
}

func TestCheckTradingDailyLossBreach(t *testing.T) {
	gw := &balanceGateway{balance: domain.Balance{Available: 100}}
	ledger := &memLedger{}
	g := newGate(gw, ledger)

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	require.NoError(t, ledger.Append(context.Background(), domain.TradeRecord{BotID: "a", NetPnL: -12, ClosedAt: now}))
	require.NoError(t, ledger.Append(context.Background(), domain.TradeRecord{BotID: "b", NetPnL: -100, ClosedAt: now}))

	// Bot a breached its own limit.
	reason, err := g.CheckTrading(context.Background(), "a", 10)
	require.NoError(t, err)
	assert.Contains(t, reason, "daily loss limit")

	// Bot c is unaffected by other bots' losses.
	reason, err = g.CheckTrading(context.Background(), "c", 10)
	require.NoError(t, err)
	assert.Empty(t, reason)
}

func TestCheckTradingPauseLiftsAtDateRollover(t *testing.T) {
	gw := &balanceGateway{balance: domain.Balance{Available: 100}}
	ledger := &memLedger{}
	g := newGate(gw, ledger)

	day1 := time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC)
	now := day1
	g.now = func() time.Time { return now }

	require.NoError(t, ledger.Append(context.Background(), domain.TradeRecord{BotID: "a", NetPnL: -50, ClosedAt: day1}))

	reason, err := g.CheckTrading(context.Background(), "a", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, reason)

	// Next UTC day: the same ledger no longer counts against today.
	now = day1.Add(2 * time.Hour)
	reason, err = g.CheckTrading(context.Background(), "a", 10)
	require.NoError(t, err)
	assert.Empty(t, reason)
}

func TestCheckTradingCapitalFloor(t *testing.T) {
	gw := &balanceGateway{balance: domain.Balance{Available: 5}}
	g := newGate(gw, &memLedger{})

	reason, err := g.CheckTrading(context.Background(), "a", 10)
	require.NoError(t, err)
	assert.Contains(t, reason, "below floor")
}

func TestCheckTradingBalanceUnavailable(t *testing.T) {
	gw := &balanceGateway{err: errors.New("exchange down")}
	g := newGate(gw, &memLedger{})

	reason, err := g.CheckTrading(context.Background(), "a", 10)
	require.NoError(t, err)
	assert.Equal(t, "balance unavailable", reason)
}

func TestPositionSizeTiersAndCaps(t *testing.T) {
	g := newGate(&balanceGateway{}, &memLedger{})

	// $100 capital -> 5% tier -> $5 -> 16 contracts at 30 cents.
	contracts, dollars := g.PositionSize(SizeRequest{
		Capital:         100,
		Price:           0.30,
		PerTradeCap:     25,
		WindowRemaining: 100,
	})
	assert.Equal(t, int64(16), contracts)
	assert.InDelta(t, 5.0, dollars, 1e-9)

	// Small account uses the larger 10% fraction.
	contracts, _ = g.PositionSize(SizeRequest{
		Capital:         40,
		Price:           0.50,
		WindowRemaining: 100,
	})
	assert.Equal(t, int64(8), contracts) // 10% of $40 = $4 -> 8 contracts

	// Large account hits the $50 ceiling.
	_, dollars = g.PositionSize(SizeRequest{
		Capital:         10000,
		Price:           0.50,
		WindowRemaining: 1000,
	})
	assert.InDelta(t, 50.0, dollars, 1e-9)

	// Per-trade cap binds.
	_, dollars = g.PositionSize(SizeRequest{
		Capital:         10000,
		Price:           0.50,
		PerTradeCap:     20,
		WindowRemaining: 1000,
	})
	assert.InDelta(t, 20.0, dollars, 1e-9)

	// Remaining window budget binds.
	_, dollars = g.PositionSize(SizeRequest{
		Capital:         10000,
		Price:           0.50,
		WindowRemaining: 3,
	})
	assert.InDelta(t, 3.0, dollars, 1e-9)
}

func TestPositionSizeNotViable(t *testing.T) {
	g := newGate(&balanceGateway{}, &memLedger{})

	// Exhausted window budget.
	contracts, _ := g.PositionSize(SizeRequest{Capital: 100, Price: 0.30, WindowRemaining: 0})
	assert.Zero(t, contracts)

	// Size floor below one contract's price.
	contracts, _ = g.PositionSize(SizeRequest{Capital: 10, Price: 0.99, WindowRemaining: 0.5})
	assert.Zero(t, contracts)
}
