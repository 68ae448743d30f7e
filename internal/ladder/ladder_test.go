package ladder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

// scriptedGateway serves a fixed sequence of market snapshots and canned
// order results, recording everything placed and cancelled. With
// quoteOwnOrders set, quotes include the gateway's own resting sells the way
// a real book does: the best ask is the minimum of the scripted ask and any
// live own sell order.
type scriptedGateway struct {
	snaps   []domain.MarketSnapshot
	snapIdx int
	book    domain.OrderBook
	bookErr error

	placed       []domain.OrderRequest
	placeResults []domain.OrderResult
	placeErr     error

	filled         map[string]bool // order id -> shows fills in ListOrders
	cancelled      []string
	quoteOwnOrders bool
}

func (g *scriptedGateway) GetBalance(context.Context) (domain.Balance, error) {
	return domain.Balance{}, nil
}

func (g *scriptedGateway) GetMarket(context.Context, string) (domain.MarketSnapshot, error) {
	var s domain.MarketSnapshot
	if g.snapIdx >= len(g.snaps) {
		s = g.snaps[len(g.snaps)-1]
	} else {
		s = g.snaps[g.snapIdx]
		g.snapIdx++
	}
	if g.quoteOwnOrders {
		live := map[string]bool{}
		for i := range g.placed {
			live[fmt.Sprintf("ord-%d", i+1)] = true
		}
		for _, id := range g.cancelled {
			delete(live, id)
		}
		for i, req := range g.placed {
			id := fmt.Sprintf("ord-%d", i+1)
			if !live[id] || req.Action != domain.OrderActionSell || req.TimeInForce != domain.TimeInForceGTC {
				continue
			}
			if req.Side == domain.SideYes && req.Price < s.YesAsk {
				s.YesAsk = req.Price
				s.NoBid = 1 - req.Price
			}
		}
	}
	return s, nil
}

func (g *scriptedGateway) ListMarketsBySeries(context.Context, string) ([]domain.MarketSnapshot, error) {
	return nil, nil
}

func (g *scriptedGateway) GetOrderBook(context.Context, string, int) (domain.OrderBook, error) {
	return g.book, g.bookErr
}

func (g *scriptedGateway) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if g.placeErr != nil {
		return domain.OrderResult{}, g.placeErr
	}
	g.placed = append(g.placed, req)
	if len(g.placeResults) > 0 {
		res := g.placeResults[0]
		g.placeResults = g.placeResults[1:]
		if res.OrderID == "" {
			res.OrderID = fmt.Sprintf("ord-%d", len(g.placed))
		}
		return res, nil
	}
	return domain.OrderResult{OrderID: fmt.Sprintf("ord-%d", len(g.placed)), Status: domain.OrderStatusResting}, nil
}

func (g *scriptedGateway) CancelOrder(_ context.Context, orderID string) error {
	g.cancelled = append(g.cancelled, orderID)
	return nil
}

func (g *scriptedGateway) ListOrders(context.Context, string, domain.OrderStatus) ([]domain.Order, error) {
	var orders []domain.Order
	for i := range g.placed {
		id := fmt.Sprintf("ord-%d", i+1)
		var fills int64
		if g.filled[id] {
			fills = 1
		}
		orders = append(orders, domain.Order{ID: id, FillCount: fills})
	}
	return orders, nil
}

func openSnap(yesBid, yesAsk float64) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Ticker: "KXBTC-TEST",
		Status: domain.MarketStatusOpen,
		YesBid: yesBid,
		YesAsk: yesAsk,
		NoBid:  1 - yesAsk,
		NoAsk:  1 - yesBid,
	}
}

func newExecutor(gw domain.ExchangeGateway) *Executor {
	e := New(gw, Config{
		MaxSteps:          6,
		StepInterval:      time.Millisecond,
		DiscountCents:     2,
		DirectSpreadTicks: 2,
		MinMinutes:        2,
		DeepBookCount:     50,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func TestBuyDirectOnTightSpread(t *testing.T) {
	gw := &scriptedGateway{
		snaps:        []domain.MarketSnapshot{openSnap(0.29, 0.30)},
		placeResults: []domain.OrderResult{{Status: domain.OrderStatusExecuted, FillCount: 16, AvgPrice: 0.30}},
	}
	e := newExecutor(gw)

	res, err := e.Buy(context.Background(), "KXBTC-TEST", domain.SideYes, 16, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, int64(16), res.FillCount)
	assert.Zero(t, res.Steps)

	require.Len(t, gw.placed, 1)
	assert.Equal(t, domain.OrderActionBuy, gw.placed[0].Action)
	assert.Equal(t, domain.TimeInForceIOC, gw.placed[0].TimeInForce)
	assert.NotEmpty(t, gw.placed[0].ClientOrderID)
}

func TestBuyDirectWhenLittleTimeRemains(t *testing.T) {
	gw := &scriptedGateway{
		snaps:        []domain.MarketSnapshot{openSnap(0.20, 0.30)},
		placeResults: []domain.OrderResult{{Status: domain.OrderStatusExecuted, FillCount: 5}},
	}
	e := newExecutor(gw)

	res, err := e.Buy(context.Background(), "KXBTC-TEST", domain.SideYes, 5, 1.5)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	require.Len(t, gw.placed, 1)
	assert.Equal(t, domain.OrderActionBuy, gw.placed[0].Action)
}

func TestBuyDirectWhenTargetLevelIsDeep(t *testing.T) {
	gw := &scriptedGateway{
		snaps: []domain.MarketSnapshot{openSnap(0.20, 0.30)},
		book: domain.OrderBook{
			NoBids: []domain.PriceLevel{{Price: 0.72, Count: 100}}, // yes ask 28 = target
		},
		placeResults: []domain.OrderResult{{Status: domain.OrderStatusExecuted, FillCount: 5}},
	}
	e := newExecutor(gw)

	res, err := e.Buy(context.Background(), "KXBTC-TEST", domain.SideYes, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	require.Len(t, gw.placed, 1)
	assert.Equal(t, domain.OrderActionBuy, gw.placed[0].Action)
}

func TestBuyLaddersDownToTarget(t *testing.T) {
	gw := &scriptedGateway{
		snaps: []domain.MarketSnapshot{
			openSnap(0.20, 0.30), // initial: target = 28
			openSnap(0.20, 0.28), // after probe: undercut reached target
		},
		placeResults: []domain.OrderResult{
			{Status: domain.OrderStatusResting},                                 // probe sell at 29
			{Status: domain.OrderStatusExecuted, FillCount: 16, AvgPrice: 0.28}, // direct buy at 28
		},
	}
	e := newExecutor(gw)

	res, err := e.Buy(context.Background(), "KXBTC-TEST", domain.SideYes, 16, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 1, res.Steps)
	assert.InDelta(t, 0.28, res.AvgPrice, 1e-9)

	require.Len(t, gw.placed, 2)
	assert.Equal(t, domain.OrderActionSell, gw.placed[0].Action)
	assert.InDelta(t, 0.29, gw.placed[0].Price, 1e-9)
	assert.Equal(t, int64(1), gw.placed[0].Count)
	assert.Equal(t, domain.OrderActionBuy, gw.placed[1].Action)
	assert.Contains(t, gw.cancelled, "ord-1")
}

func TestBuyGoesDirectAfterTwoSilentSteps(t *testing.T) {
	gw := &scriptedGateway{
		snaps: []domain.MarketSnapshot{
			openSnap(0.20, 0.30),
			openSnap(0.20, 0.30),
			openSnap(0.20, 0.30),
		},
		placeResults: []domain.OrderResult{
			{Status: domain.OrderStatusResting},
			{Status: domain.OrderStatusResting},
			{Status: domain.OrderStatusExecuted, FillCount: 16, AvgPrice: 0.30},
		},
	}
	e := newExecutor(gw)

	res, err := e.Buy(context.Background(), "KXBTC-TEST", domain.SideYes, 16, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Steps)

	require.Len(t, gw.placed, 3)
	assert.Equal(t, domain.OrderActionBuy, gw.placed[2].Action)
}

func TestBuyQuietBookIgnoresOwnProbe(t *testing.T) {
	// No competing quoter: the only order ever under the true ask is the
	// bot's own probe. Re-quotes must not observe it, and the eventual
	// direct buy must pay the true ask, not the probe's price.
	gw := &scriptedGateway{
		quoteOwnOrders: true,
		snaps:          []domain.MarketSnapshot{openSnap(0.20, 0.30)},
		placeResults: []domain.OrderResult{
			{Status: domain.OrderStatusResting},
			{Status: domain.OrderStatusResting},
			{Status: domain.OrderStatusExecuted, FillCount: 16, AvgPrice: 0.30},
		},
	}
	e := newExecutor(gw)

	res, err := e.Buy(context.Background(), "KXBTC-TEST", domain.SideYes, 16, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, int64(16), res.FillCount)
	assert.InDelta(t, 0.30, res.AvgPrice, 1e-9)

	require.Len(t, gw.placed, 3)
	// Both probes rest one cent under the unchanged true ask.
	assert.InDelta(t, 0.29, gw.placed[0].Price, 1e-9)
	assert.InDelta(t, 0.29, gw.placed[1].Price, 1e-9)
	assert.Equal(t, domain.OrderActionBuy, gw.placed[2].Action)
	assert.InDelta(t, 0.30, gw.placed[2].Price, 1e-9)
	assert.ElementsMatch(t, []string{"ord-1", "ord-2"}, gw.cancelled)
}

func TestBuyReportsAccidentalFill(t *testing.T) {
	gw := &scriptedGateway{
		snaps:  []domain.MarketSnapshot{openSnap(0.20, 0.30)},
		filled: map[string]bool{"ord-1": true},
	}
	e := newExecutor(gw)

	res, err := e.Buy(context.Background(), "KXBTC-TEST", domain.SideYes, 16, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusAccidentalFill, res.Status)
	assert.Equal(t, int64(1), res.FillCount)
	assert.InDelta(t, 0.29, res.AvgPrice, 1e-9)

	// Only the probe was placed; no buy happened.
	require.Len(t, gw.placed, 1)
	assert.Equal(t, domain.OrderActionSell, gw.placed[0].Action)
}

func TestBuyExhaustsStepBudget(t *testing.T) {
	// The ask keeps getting undercut but never reaches the deep target.
	gw := &scriptedGateway{
		snaps: []domain.MarketSnapshot{
			openSnap(0.20, 0.40),
			openSnap(0.20, 0.38),
			openSnap(0.20, 0.36),
		},
		placeResults: []domain.OrderResult{
			{Status: domain.OrderStatusResting},
			{Status: domain.OrderStatusResting},
			{Status: domain.OrderStatusExecuted, FillCount: 16, AvgPrice: 0.36},
		},
	}
	e := New(gw, Config{
		MaxSteps:          2,
		StepInterval:      time.Millisecond,
		DiscountCents:     20,
		DirectSpreadTicks: 2,
		MinMinutes:        2,
		DeepBookCount:     50,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.sleep = func(context.Context, time.Duration) error { return nil }

	res, err := e.Buy(context.Background(), "KXBTC-TEST", domain.SideYes, 16, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusMaxSteps, res.Status)
	assert.Equal(t, 2, res.Steps)
}

func TestBuyAbortsOnClosedMarket(t *testing.T) {
	snap := openSnap(0.20, 0.30)
	snap.Status = domain.MarketStatusClosed
	gw := &scriptedGateway{snaps: []domain.MarketSnapshot{snap}}
	e := newExecutor(gw)

	res, err := e.Buy(context.Background(), "KXBTC-TEST", domain.SideYes, 16, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMarketClosed)
	assert.Equal(t, StatusAborted, res.Status)
	assert.Empty(t, gw.placed)
}

func TestBuyAbortsWhenDirectBuyGetsNoFill(t *testing.T) {
	gw := &scriptedGateway{
		snaps:        []domain.MarketSnapshot{openSnap(0.29, 0.30)},
		placeResults: []domain.OrderResult{{Status: domain.OrderStatusCancelled, FillCount: 0}},
	}
	e := newExecutor(gw)

	res, err := e.Buy(context.Background(), "KXBTC-TEST", domain.SideYes, 16, 10)
	require.Error(t, err)
	assert.Equal(t, StatusAborted, res.Status)
}

func TestBuyAbortsOnPlaceError(t *testing.T) {
	gw := &scriptedGateway{
		snaps:    []domain.MarketSnapshot{openSnap(0.20, 0.30)},
		placeErr: errors.New("exchange down"),
	}
	e := newExecutor(gw)

	res, err := e.Buy(context.Background(), "KXBTC-TEST", domain.SideYes, 16, 10)
	require.Error(t, err)
	assert.Equal(t, StatusAborted, res.Status)
}

func TestSellDirect(t *testing.T) {
	gw := &scriptedGateway{
		snaps:        []domain.MarketSnapshot{openSnap(0.60, 0.70)},
		placeResults: []domain.OrderResult{{Status: domain.OrderStatusExecuted, FillCount: 16, AvgPrice: 0.60}},
	}
	e := newExecutor(gw)

	res, err := e.Sell(context.Background(), "KXBTC-TEST", domain.SideYes, 16, 10, true)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.InDelta(t, 0.60, res.AvgPrice, 1e-9)

	require.Len(t, gw.placed, 1)
	assert.Equal(t, domain.OrderActionSell, gw.placed[0].Action)
	assert.Equal(t, domain.TimeInForceIOC, gw.placed[0].TimeInForce)
	assert.InDelta(t, 0.60, gw.placed[0].Price, 1e-9)
}

func TestSellRestingOrderFills(t *testing.T) {
	gw := &scriptedGateway{
		snaps:  []domain.MarketSnapshot{openSnap(0.50, 0.60)},
		filled: map[string]bool{"ord-1": true},
	}
	e := newExecutor(gw)

	res, err := e.Sell(context.Background(), "KXBTC-TEST", domain.SideYes, 16, 10, false)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, int64(16), res.FillCount)
	assert.InDelta(t, 0.59, res.AvgPrice, 1e-9)
}

func TestSellWalksDownToBid(t *testing.T) {
	gw := &scriptedGateway{
		snaps: []domain.MarketSnapshot{
			openSnap(0.57, 0.60), // rest at 59
			openSnap(0.57, 0.60),
			openSnap(0.57, 0.60),
			openSnap(0.57, 0.60),
			openSnap(0.57, 0.60),
		},
		placeResults: []domain.OrderResult{
			{Status: domain.OrderStatusResting}, // 59
			{Status: domain.OrderStatusResting}, // 59 again
			{Status: domain.OrderStatusResting}, // 58
			{Status: domain.OrderStatusResting}, // 58 again
			{Status: domain.OrderStatusExecuted, FillCount: 16, AvgPrice: 0.57}, // direct at bid
		},
	}
	e := newExecutor(gw)

	res, err := e.Sell(context.Background(), "KXBTC-TEST", domain.SideYes, 16, 10, false)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.InDelta(t, 0.57, res.AvgPrice, 1e-9)

	require.Len(t, gw.placed, 5)
	assert.InDelta(t, 0.59, gw.placed[0].Price, 1e-9)
	assert.InDelta(t, 0.58, gw.placed[2].Price, 1e-9)
	assert.Equal(t, domain.TimeInForceIOC, gw.placed[4].TimeInForce)
}
