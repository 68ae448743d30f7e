// Package engine implements the per-bot execution loop: window-aligned
// scheduling, the position lifecycle state machine, crash recovery, and the
// glue between the risk gate, signal providers, and ladder execution.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/windowbot/internal/config"
	"github.com/alanyoungcy/windowbot/internal/domain"
	"github.com/alanyoungcy/windowbot/internal/ladder"
	"github.com/alanyoungcy/windowbot/internal/notify"
	"github.com/alanyoungcy/windowbot/internal/risk"
	"github.com/alanyoungcy/windowbot/internal/window"
)

// Deps bundles everything a Bot needs. Mirror, Cache, Advisor and Notifier
// are optional; a nil value disables that concern.
type Deps struct {
	Gateway  domain.ExchangeGateway
	Feed     domain.PriceFeed
	Store    domain.StateStore
	Ledger   domain.LedgerStore
	Audit    domain.AuditStore
	Mirror   domain.TradeMirrorStore
	Cache    domain.MarketCache
	Gate     *risk.Gate
	Ladder   *ladder.Executor
	Provider domain.SignalProvider
	Advisor  domain.ExitAdvisor
	Notifier *notify.Notifier
	Logger   *slog.Logger
}

// Bot is one independently ticking agent. Each Bot owns its own position
// slots in the durable store; no state is shared between Bots except the
// risk gate's balance cache and the ledger.
type Bot struct {
	cfg config.BotConfig
	d   Deps

	logger *slog.Logger
	now    func() time.Time

	// inFlight makes ticks single-flight: a tick that fires while the
	// previous one's network calls are still outstanding returns
	// immediately instead of overlapping.
	inFlight atomic.Bool
	running  atomic.Bool

	mu              sync.Mutex
	lastError       string
	pauseReason     string
	lastTick        time.Time
	hardStopFailed  map[string]bool      // ticker -> don't retry hard stop this session
	lastExitAttempt map[string]time.Time // slot -> last exit order attempt
	lastAdvisory    map[string]time.Time // slot -> last advisory exit check
}

// NewBot creates a bot instance from its configuration.
func NewBot(cfg config.BotConfig, d Deps) *Bot {
	return &Bot{
		cfg:             cfg,
		d:               d,
		logger:          d.Logger.With(slog.String("bot", cfg.ID)),
		now:             time.Now,
		hardStopFailed:  make(map[string]bool),
		lastExitAttempt: make(map[string]time.Time),
		lastAdvisory:    make(map[string]time.Time),
	}
}

// ID returns the bot's configured identifier.
func (b *Bot) ID() string { return b.cfg.ID }

// SetLimits applies runtime-tunable risk limits. Non-positive values leave
// the current setting unchanged.
func (b *Bot) SetLimits(capitalPerTrade, maxDailyLoss float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if capitalPerTrade > 0 {
		b.cfg.CapitalPerTrade = capitalPerTrade
	}
	if maxDailyLoss > 0 {
		b.cfg.MaxDailyLoss = maxDailyLoss
	}
}

// limits reads the runtime-tunable limits consistently with SetLimits.
func (b *Bot) limits() (capitalPerTrade, maxDailyLoss float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.CapitalPerTrade, b.cfg.MaxDailyLoss
}

// slots returns the durable-store keys for the bot's position slots. A
// multi-leg bot is two independent sub-ledgers, each with its own
// at-most-one-open-position invariant.
func (b *Bot) slots() []string {
	legs := b.cfg.Legs
	if legs < 1 {
		legs = 1
	}
	out := make([]string, legs)
	for i := range out {
		if i == 0 {
			out[i] = b.cfg.ID
		} else {
			out[i] = fmt.Sprintf("%s#%d", b.cfg.ID, i+1)
		}
	}
	return out
}

// Run drives the tick loop until ctx is cancelled. Any persisted open
// position is picked up by the first tick, so monitoring resumes
// immediately after a restart rather than re-deciding.
func (b *Bot) Run(ctx context.Context) error {
	b.running.Store(true)
	defer b.running.Store(false)

	for _, slot := range b.slots() {
		pos, err := b.d.Store.LoadPosition(ctx, slot)
		if err != nil {
			b.logger.Error("restore position failed", slog.String("slot", slot), slog.String("error", err.Error()))
			continue
		}
		if pos != nil {
			b.logger.Info("resuming open position",
				slog.String("slot", slot),
				slog.String("ticker", pos.Ticker),
				slog.String("window", pos.WindowKey),
			)
		}
	}

	interval := b.cfg.TickInterval.Duration
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	go b.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			go b.tick(ctx)
		}
	}
}

// Running reports whether the tick loop is live.
func (b *Bot) Running() bool { return b.running.Load() }

// Status aggregates the operator-facing view of this instance.
func (b *Bot) Status(ctx context.Context) domain.BotStatus {
	b.mu.Lock()
	st := domain.BotStatus{
		ID:          b.cfg.ID,
		Running:     b.running.Load(),
		LastError:   b.lastError,
		PauseReason: b.pauseReason,
		LastTick:    b.lastTick,
	}
	b.mu.Unlock()

	st.WindowKey = window.Key(b.now(), b.cfg.WindowGranularity())

	if pnl, count, err := b.d.Gate.DailyPnL(ctx, b.cfg.ID); err == nil {
		st.DailyPnL = pnl
		st.TradeCount = count
	}

	for _, slot := range b.slots() {
		pos, err := b.d.Store.LoadPosition(ctx, slot)
		if err == nil && pos != nil {
			st.OpenPosition = pos
			break
		}
	}
	return st
}

// tick runs one scheduling cycle. Single-flight: overlapping fires are
// dropped, not queued.
func (b *Bot) tick(ctx context.Context) {
	if !b.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer b.inFlight.Store(false)

	b.mu.Lock()
	b.lastTick = b.now()
	b.mu.Unlock()

	for _, slot := range b.slots() {
		pos, err := b.d.Store.LoadPosition(ctx, slot)
		if err != nil {
			b.setError(fmt.Errorf("load position: %w", err))
			continue
		}
		if pos != nil {
			b.monitor(ctx, slot, pos)
		} else {
			b.maybeEnter(ctx, slot)
		}
	}
}

// CancelOpenOrders best-effort cancels resting orders for any open position.
// Called on stop; the exchange remains authoritative if cancellation fails.
func (b *Bot) CancelOpenOrders(ctx context.Context) {
	for _, slot := range b.slots() {
		pos, err := b.d.Store.LoadPosition(ctx, slot)
		if err != nil || pos == nil || pos.OrderID == "" {
			continue
		}
		if err := b.d.Gateway.CancelOrder(ctx, pos.OrderID); err != nil {
			b.logger.Warn("best-effort cancel on stop failed",
				slog.String("slot", slot),
				slog.String("order_id", pos.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// --------------------------------------------------------------------------
// Shared helpers
// --------------------------------------------------------------------------

func (b *Bot) setError(err error) {
	b.logger.Warn("tick error", slog.String("error", err.Error()))
	b.mu.Lock()
	b.lastError = err.Error()
	b.mu.Unlock()
}

// setPause records the current pause reason and, on the transition into a
// daily-loss pause, emits the operator notification. Steady-state pause
// does not re-notify.
func (b *Bot) setPause(ctx context.Context, reason string) {
	b.mu.Lock()
	changed := b.pauseReason != reason
	b.pauseReason = reason
	b.mu.Unlock()
	if !changed || reason == "" {
		return
	}
	b.logger.Info("trading paused", slog.String("reason", reason))
	if strings.HasPrefix(reason, risk.DailyLossReason) {
		b.notifyEvent(ctx, "daily_loss_pause", "Daily loss limit reached",
			fmt.Sprintf("%s: entries paused (%s)", b.cfg.ID, reason))
	}
}

// marketSnapshot serves a market view through the shared cache when one is
// configured. bust forces a fresh exchange read, used when settlement state
// must be observed fresh.
func (b *Bot) marketSnapshot(ctx context.Context, ticker string, bust bool) (domain.MarketSnapshot, error) {
	if b.d.Cache != nil {
		if bust {
			if err := b.d.Cache.Bust(ctx, ticker); err != nil {
				b.logger.Warn("cache bust failed", slog.String("ticker", ticker), slog.String("error", err.Error()))
			}
		} else if snap, err := b.d.Cache.Get(ctx, ticker); err == nil {
			return snap, nil
		}
	}

	snap, err := b.d.Gateway.GetMarket(ctx, ticker)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	if b.d.Cache != nil {
		if err := b.d.Cache.Set(ctx, snap); err != nil {
			b.logger.Warn("cache set failed", slog.String("ticker", ticker), slog.String("error", err.Error()))
		}
	}
	return snap, nil
}

func (b *Bot) audit(ctx context.Context, rec domain.AuditRecord) {
	if b.d.Audit == nil {
		return
	}
	rec.BotID = b.cfg.ID
	rec.At = b.now().UTC()
	if err := b.d.Audit.Log(ctx, rec); err != nil {
		b.logger.Warn("audit write failed", slog.String("event", rec.Event), slog.String("error", err.Error()))
	}
}

func (b *Bot) notifyEvent(ctx context.Context, event, title, message string) {
	if b.d.Notifier == nil {
		return
	}
	if err := b.d.Notifier.Notify(ctx, event, title, message); err != nil {
		b.logger.Debug("notify failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// tradingFee approximates the exchange's taker fee schedule, rounded up to
// the next cent.
func tradingFee(contracts int64, price float64) float64 {
	f := 0.07 * float64(contracts) * price * (1 - price)
	return math.Ceil(f*100) / 100
}
