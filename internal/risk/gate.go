// Package risk implements the capital and risk gate shared by all bot
// instances: slow-cadence balance refresh, the daily-loss circuit breaker,
// and tiered position sizing.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

// capitalTiers maps capital levels to sizing fractions. Smaller accounts
// trade a larger fraction so minimum viable positions stay reachable.
var capitalTiers = []struct {
	upTo     float64
	fraction float64
}{
	{50, 0.10},
	{200, 0.05},
	{1000, 0.03},
	{math.MaxFloat64, 0.02},
}

// Config holds the gate's tunables.
type Config struct {
	// BalanceRefresh is the minimum interval between exchange balance
	// fetches. Ticks inside the interval reuse the cached value.
	BalanceRefresh time.Duration
	// CapitalFloor pauses trading when available capital falls below it.
	CapitalFloor float64
	// SizeFloorUSD and SizeCeilingUSD bound the computed position size.
	SizeFloorUSD   float64
	SizeCeilingUSD float64
}

// Gate is safe for concurrent use by independent bot loops. Balance is the
// single shared source of truth: all instances size against the same
// exchange-wide available capital.
type Gate struct {
	gateway domain.ExchangeGateway
	ledger  domain.LedgerStore
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	balance   domain.Balance
	balanceAt time.Time
	fetched   bool
}

// NewGate creates the shared risk gate.
func NewGate(gateway domain.ExchangeGateway, ledger domain.LedgerStore, cfg Config, logger *slog.Logger) *Gate {
	if cfg.BalanceRefresh <= 0 {
		cfg.BalanceRefresh = 60 * time.Second
	}
	return &Gate{
		gateway: gateway,
		ledger:  ledger,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "risk_gate")),
		now:     time.Now,
	}
}

// Available returns the exchange-wide available capital, refreshing from the
// exchange at most once per refresh interval. A failed refresh falls back to
// the cached value; before any successful fetch it returns an error.
func (g *Gate) Available(ctx context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.fetched && now.Sub(g.balanceAt) < g.cfg.BalanceRefresh {
		return g.balance.Available, nil
	}

	bal, err := g.gateway.GetBalance(ctx)
	if err != nil {
		if g.fetched {
			g.logger.Warn("balance refresh failed, using cached value",
				slog.String("error", err.Error()),
				slog.Time("cached_at", g.balanceAt),
			)
			return g.balance.Available, nil
		}
		return 0, fmt.Errorf("risk: balance unavailable: %w", err)
	}

	g.balance = bal
	g.balanceAt = now
	g.fetched = true
	return bal.Available, nil
}

// DailyPnL returns the bot's realized P&L and trade count for the current
// UTC date, computed by filtering the ledger. It is never carried over in
// memory, so it resets automatically at date rollover.
func (g *Gate) DailyPnL(ctx context.Context, botID string) (float64, int, error) {
	date := g.now().UTC().Format("2006-01-02")
	recs, err := g.ledger.TradesForDate(ctx, date)
	if err != nil {
		return 0, 0, fmt.Errorf("risk: daily pnl: %w", err)
	}

	var (
		pnl   float64
		count int
	)
	for _, r := range recs {
		if r.BotID != botID {
			continue
		}
		pnl += r.NetPnL
		count++
	}
	return pnl, count, nil
}

// DailyLossReason prefixes the pause reason produced by the daily-loss
// circuit breaker, so callers can distinguish it from the other pauses.
const DailyLossReason = "daily loss limit reached"

// CheckTrading evaluates the pause conditions for one bot. It returns an
// empty string when trading may proceed, otherwise the human-readable pause
// reason. The checks re-run every tick, so a pause lifts automatically at
// UTC-date rollover or balance recovery.
func (g *Gate) CheckTrading(ctx context.Context, botID string, maxDailyLoss float64) (string, error) {
	// Check 1: balance must have been observed at least once.
	capital, err := g.Available(ctx)
	if err != nil {
		return "balance unavailable", nil
	}

	// Check 2: capital floor.
	if capital < g.cfg.CapitalFloor {
		return fmt.Sprintf("capital $%.2f below floor $%.2f", capital, g.cfg.CapitalFloor), nil
	}

	// Check 3: daily-loss circuit breaker.
	if maxDailyLoss > 0 {
		pnl, _, err := g.DailyPnL(ctx, botID)
		if err != nil {
			return "", err
		}
		if pnl <= -maxDailyLoss {
			return fmt.Sprintf("%s ($%.2f <= -$%.2f)", DailyLossReason, pnl, maxDailyLoss), nil
		}
	}

	return "", nil
}

// SizeRequest carries the inputs to one position-size computation.
type SizeRequest struct {
	Capital         float64 // exchange-wide available capital
	Price           float64 // entry ask, probability-priced
	PerTradeCap     float64 // fixed per-trade budget, 0 = uncapped
	WindowRemaining float64 // remaining per-window budget
}

// PositionSize returns the contract count and dollar budget for one entry.
// The fraction of capital is tiered, bounded by the absolute floor and
// ceiling, then capped by the per-trade budget and the remaining window
// budget. A zero contract count means the entry is not viable.
func (g *Gate) PositionSize(req SizeRequest) (int64, float64) {
	if req.Price <= 0 || req.Capital <= 0 || req.WindowRemaining <= 0 {
		return 0, 0
	}

	size := req.Capital * tierFraction(req.Capital)

	if g.cfg.SizeFloorUSD > 0 && size < g.cfg.SizeFloorUSD {
		size = g.cfg.SizeFloorUSD
	}
	if g.cfg.SizeCeilingUSD > 0 && size > g.cfg.SizeCeilingUSD {
		size = g.cfg.SizeCeilingUSD
	}
	if req.PerTradeCap > 0 && size > req.PerTradeCap {
		size = req.PerTradeCap
	}
	if size > req.WindowRemaining {
		size = req.WindowRemaining
	}
	if size > req.Capital {
		size = req.Capital
	}

	contracts := int64(size / req.Price)
	if contracts < 1 {
		return 0, 0
	}
	return contracts, size
}

func tierFraction(capital float64) float64 {
	for _, t := range capitalTiers {
		if capital < t.upTo {
			return t.fraction
		}
	}
	return capitalTiers[len(capitalTiers)-1].fraction
}
