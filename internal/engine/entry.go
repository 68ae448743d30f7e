package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/windowbot/internal/domain"
	"github.com/alanyoungcy/windowbot/internal/ladder"
	"github.com/alanyoungcy/windowbot/internal/risk"
	"github.com/alanyoungcy/windowbot/internal/window"
)

// maybeEnter runs the entry decision pipeline for one empty slot. Every
// early return is a deliberate skip; only infrastructure failures become
// tick errors.
func (b *Bot) maybeEnter(ctx context.Context, slot string) {
	now := b.now()
	g := b.cfg.WindowGranularity()
	key := window.Key(now, g)

	perTradeCap, maxDailyLoss := b.limits()

	// Gate first: cheapest checks, and the pause reason must stay current
	// even when nothing else would trade.
	pause, err := b.d.Gate.CheckTrading(ctx, b.cfg.ID, maxDailyLoss)
	if err != nil {
		b.setError(fmt.Errorf("risk check: %w", err))
		return
	}
	b.setPause(ctx, pause)
	if pause != "" {
		return
	}

	minsLeft := window.MinutesRemaining(now, g)
	if minsLeft < b.cfg.EntryCutoffMinutes {
		return
	}

	// Per-window bookkeeping. The traded-this-window state is derived from
	// the stored key, not a flag, so a restart inside the same window
	// cannot re-enter.
	meta, err := b.d.Store.LoadWindowMeta(ctx, b.cfg.ID)
	if err != nil {
		b.setError(fmt.Errorf("load window meta: %w", err))
		return
	}
	if meta.WindowKey != key {
		meta = domain.WindowMeta{WindowKey: key}
	}
	if meta.Entries >= b.cfg.MaxEntriesPerWindow {
		return
	}
	remaining := b.cfg.CapitalPerWindow - meta.CapitalDeployed
	if remaining <= 0 {
		return
	}

	tick, err := b.d.Feed.LastPrice(b.cfg.Symbol)
	if err != nil {
		b.logger.Info("skipping entry, no reference price", slog.String("symbol", b.cfg.Symbol))
		return
	}

	market, err := b.pickMarket(ctx, tick.Price, g)
	if err != nil {
		if errors.Is(err, domain.ErrNoMarket) {
			b.logger.Debug("no market for window", slog.String("window", key))
		} else {
			b.setError(fmt.Errorf("market discovery: %w", err))
		}
		return
	}

	capital, err := b.d.Gate.Available(ctx)
	if err != nil {
		b.setError(fmt.Errorf("available capital: %w", err))
		return
	}

	decision, err := b.d.Provider.Decide(ctx, domain.DecisionInput{
		Market:           market,
		Capital:          capital,
		RefPrice:         tick.Price,
		WindowKey:        key,
		MinutesRemaining: minsLeft,
	})
	if err != nil {
		// Providers degrade to no-trade; a failed decision never aborts
		// the tick loop.
		b.logger.Warn("signal provider failed", slog.String("provider", b.d.Provider.Name()), slog.String("error", err.Error()))
		return
	}
	if decision == nil {
		return
	}

	ask := market.Ask(decision.Direction)
	askC := int(math.Round(ask * 100))
	if askC < b.cfg.EntryFloorCents || askC > b.cfg.EntryCeilingCents {
		b.logger.Info("ask outside entry band",
			slog.String("ticker", market.Ticker),
			slog.Int("ask_cents", askC),
			slog.Int("floor", b.cfg.EntryFloorCents),
			slog.Int("ceiling", b.cfg.EntryCeilingCents),
		)
		return
	}

	perTrade := perTradeCap
	if decision.SizeHint > 0 && decision.SizeHint < perTrade {
		perTrade = decision.SizeHint
	}
	contracts, dollars := b.d.Gate.PositionSize(risk.SizeRequest{
		Capital:         capital,
		Price:           ask,
		PerTradeCap:     perTrade,
		WindowRemaining: remaining,
	})
	if contracts < 1 {
		b.logger.Info("position not viable at current size",
			slog.String("ticker", market.Ticker),
			slog.Float64("remaining", remaining),
		)
		return
	}

	b.logger.Info("entering position",
		slog.String("slot", slot),
		slog.String("ticker", market.Ticker),
		slog.String("side", string(decision.Direction)),
		slog.Int64("contracts", contracts),
		slog.Float64("budget", dollars),
		slog.String("rationale", decision.Rationale),
	)

	res, err := b.d.Ladder.Buy(ctx, market.Ticker, decision.Direction, contracts, minsLeft)
	if res.Status == ladder.StatusAccidentalFill {
		b.handleAccidentalFill(ctx, market.Ticker, decision.Direction, res)
		return
	}
	if err != nil {
		if errors.Is(err, domain.ErrMarketClosed) {
			b.logger.Info("market closed before entry", slog.String("ticker", market.Ticker))
		} else {
			b.setError(fmt.Errorf("entry execution: %w", err))
		}
		b.audit(ctx, domain.AuditRecord{
			Event:         "entry_failed",
			Ticker:        market.Ticker,
			ClientOrderID: res.ClientOrderID,
			Err:           err.Error(),
		})
		return
	}
	if res.FillCount < 1 {
		return
	}

	fee := tradingFee(res.FillCount, res.AvgPrice)
	pos := domain.Position{
		BotID:         slot,
		Ticker:        market.Ticker,
		Side:          decision.Direction,
		Contracts:     res.FillCount,
		EntryPrice:    res.AvgPrice,
		TotalCost:     res.AvgPrice*float64(res.FillCount) + fee,
		EntryTime:     now,
		RefPrice:      tick.Price,
		Strike:        &market.Strike,
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		SignalLabel:   b.d.Provider.Name(),
		WindowKey:     key,
	}

	// Persist before any other side effect. If this write fails the
	// exchange holds a position the store does not know about, which is
	// the one state the operator must hear about immediately.
	if err := b.d.Store.SavePosition(ctx, pos); err != nil {
		b.setError(fmt.Errorf("persist position after fill: %w", err))
		b.audit(ctx, domain.AuditRecord{
			Event:         "position_persist_failed",
			Ticker:        pos.Ticker,
			ClientOrderID: pos.ClientOrderID,
			OrderID:       pos.OrderID,
			Err:           err.Error(),
		})
		b.notifyEvent(ctx, "error", "Position persist failed",
			fmt.Sprintf("%s: filled %d %s on %s but could not persist state", b.cfg.ID, pos.Contracts, pos.Side, pos.Ticker))
		return
	}

	meta.Entries++
	meta.CapitalDeployed += pos.TotalCost
	meta.LastDecisionTime = now
	if err := b.d.Store.SaveWindowMeta(ctx, b.cfg.ID, meta); err != nil {
		b.setError(fmt.Errorf("persist window meta: %w", err))
	}

	b.audit(ctx, domain.AuditRecord{
		Event:         "entry_filled",
		Ticker:        pos.Ticker,
		ClientOrderID: pos.ClientOrderID,
		OrderID:       pos.OrderID,
		Detail:        fmt.Sprintf("%d %s @ %.2f (%s)", pos.Contracts, pos.Side, pos.EntryPrice, res.Status),
	})
	b.notifyEvent(ctx, "trade_entered", "Trade entered",
		fmt.Sprintf("%s: %d %s %s @ %.0f¢", b.cfg.ID, pos.Contracts, pos.Side, pos.Ticker, pos.EntryPrice*100))
}

// pickMarket finds the open market in the configured series whose close time
// matches the current window's end, preferring the strike nearest the
// reference price when several qualify.
func (b *Bot) pickMarket(ctx context.Context, refPrice float64, g domain.Granularity) (domain.MarketSnapshot, error) {
	markets, err := b.d.Gateway.ListMarketsBySeries(ctx, b.cfg.Series)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	windowEnd := window.End(b.now(), g)
	var (
		best     domain.MarketSnapshot
		bestDiff = math.MaxFloat64
		found    bool
	)
	for _, m := range markets {
		if m.Status != domain.MarketStatusOpen || m.CloseTime.IsZero() {
			continue
		}
		if d := m.CloseTime.Sub(windowEnd); d < -time.Minute || d > time.Minute {
			continue
		}
		diff := math.Abs(m.Strike - refPrice)
		if diff < bestDiff {
			best = m
			bestDiff = diff
			found = true
		}
	}
	if !found {
		return domain.MarketSnapshot{}, domain.ErrNoMarket
	}
	return best, nil
}

// handleAccidentalFill unwinds a probe sell that executed. The bot now holds
// an unintended short leg of one contract; buy it back at market immediately
// rather than carrying exposure that was never decided.
func (b *Bot) handleAccidentalFill(ctx context.Context, ticker string, side domain.Side, res ladder.Result) {
	b.logger.Warn("probe sell filled, unwinding",
		slog.String("ticker", ticker),
		slog.String("order_id", res.OrderID),
	)
	b.audit(ctx, domain.AuditRecord{
		Event:         "accidental_fill",
		Ticker:        ticker,
		ClientOrderID: res.ClientOrderID,
		OrderID:       res.OrderID,
		Detail:        fmt.Sprintf("probe sold %d @ %.2f", res.FillCount, res.AvgPrice),
	})
	b.notifyEvent(ctx, "accidental_fill", "Accidental probe fill",
		fmt.Sprintf("%s: probe sell filled on %s, unwinding", b.cfg.ID, ticker))

	// minutesRemaining 0 forces the direct fast path.
	unwind, err := b.d.Ladder.Buy(ctx, ticker, side, res.FillCount, 0)
	if err != nil {
		b.setError(fmt.Errorf("accidental fill unwind: %w", err))
		b.audit(ctx, domain.AuditRecord{
			Event:  "unwind_failed",
			Ticker: ticker,
			Err:    err.Error(),
		})
		return
	}
	b.audit(ctx, domain.AuditRecord{
		Event:   "accidental_fill_unwound",
		Ticker:  ticker,
		OrderID: unwind.OrderID,
		Detail:  fmt.Sprintf("bought back %d @ %.2f", unwind.FillCount, unwind.AvgPrice),
	})
}
