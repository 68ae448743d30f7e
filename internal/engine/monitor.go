package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/windowbot/internal/domain"
	"github.com/alanyoungcy/windowbot/internal/window"
)

// monitor runs one lifecycle check for an open position: settlement first,
// then stale recovery, then the exit triggers in priority order (hard stop,
// profit lock, advisory).
func (b *Bot) monitor(ctx context.Context, slot string, pos *domain.Position) {
	// A pending close means the exit already executed and only the ledger
	// write is outstanding. Replay it with the recorded facts; the contracts
	// are no longer held, so no market path below may run.
	if pc := pos.PendingClose; pc != nil {
		b.closePosition(ctx, slot, pos, pc.ExitPrice, pc.NetPnL, pc.Won, pc.ExitReason)
		return
	}

	snap, err := b.marketSnapshot(ctx, pos.Ticker, false)
	if err != nil {
		b.setError(fmt.Errorf("monitor quote: %w", err))
		return
	}

	if snap.Result != "" || snap.Status == domain.MarketStatusSettled {
		b.settleFromResult(ctx, slot, pos, snap.Result)
		return
	}

	closeRef := snap.CloseTime
	if closeRef.IsZero() {
		closeRef = window.End(pos.EntryTime, b.cfg.WindowGranularity())
	}
	now := b.now()

	if now.After(closeRef.Add(b.cfg.StaleGrace.Duration)) {
		b.recoverStale(ctx, slot, pos)
		return
	}

	// Past close but inside the grace period: settlement is pending,
	// nothing to do but wait.
	if now.After(closeRef) {
		return
	}

	bid := snap.Bid(pos.Side)

	// Hard stop. A zero bid means an empty book, not a collapsed price;
	// never stop out on it. A failed stop-out is not retried this session,
	// the position rides to settlement instead of bleeding exit fees.
	if b.cfg.HardStopProb > 0 && bid > 0 && bid < b.cfg.HardStopProb {
		b.mu.Lock()
		failed := b.hardStopFailed[pos.Ticker]
		b.mu.Unlock()
		if !failed {
			if err := b.exitPosition(ctx, slot, pos, bid, "hard stop", true); err != nil {
				b.mu.Lock()
				b.hardStopFailed[pos.Ticker] = true
				b.mu.Unlock()
				b.setError(fmt.Errorf("hard stop exit: %w", err))
			}
			return
		}
	}

	// Profit lock near the close.
	minsLeft := closeRef.Sub(now).Minutes()
	if b.cfg.ProfitLockMinutes > 0 && minsLeft < b.cfg.ProfitLockMinutes && bid > pos.EntryPrice {
		if err := b.exitPosition(ctx, slot, pos, bid, "profit lock", true); err != nil {
			b.setError(fmt.Errorf("profit lock exit: %w", err))
		}
		return
	}

	b.checkAdvisoryExit(ctx, slot, pos, bid)
}

// checkAdvisoryExit asks the advisory provider to re-evaluate the open leg
// at the configured cadence. Advisor errors degrade to hold.
func (b *Bot) checkAdvisoryExit(ctx context.Context, slot string, pos *domain.Position, bid float64) {
	if b.d.Advisor == nil || b.cfg.AdvisoryInterval.Duration <= 0 {
		return
	}
	now := b.now()
	b.mu.Lock()
	last := b.lastAdvisory[slot]
	due := now.Sub(last) >= b.cfg.AdvisoryInterval.Duration
	if due {
		b.lastAdvisory[slot] = now
	}
	b.mu.Unlock()
	if !due {
		return
	}

	advices, err := b.d.Advisor.CheckExits(ctx, []domain.Position{*pos})
	if err != nil {
		b.logger.Debug("advisory exit check failed", slog.String("error", err.Error()))
		return
	}
	for _, a := range advices {
		if a.Ticker == pos.Ticker && a.Action == domain.ExitActionExit {
			if err := b.exitPosition(ctx, slot, pos, bid, "advisory exit", true); err != nil {
				b.setError(fmt.Errorf("advisory exit: %w", err))
			}
			return
		}
	}
}

// exitPosition sells the position at the current bid. The cooldown keeps a
// repeatedly failing trigger from spamming the exchange every tick.
func (b *Bot) exitPosition(ctx context.Context, slot string, pos *domain.Position, bid float64, reason string, direct bool) error {
	now := b.now()
	b.mu.Lock()
	last := b.lastExitAttempt[slot]
	if b.cfg.ExitCooldown.Duration > 0 && now.Sub(last) < b.cfg.ExitCooldown.Duration {
		b.mu.Unlock()
		return nil
	}
	b.lastExitAttempt[slot] = now
	b.mu.Unlock()

	b.logger.Info("exiting position",
		slog.String("slot", slot),
		slog.String("ticker", pos.Ticker),
		slog.String("reason", reason),
		slog.Float64("bid", bid),
	)

	minsLeft := window.MinutesRemaining(now, b.cfg.WindowGranularity())
	res, err := b.d.Ladder.Sell(ctx, pos.Ticker, pos.Side, pos.Contracts, minsLeft, direct)
	if err != nil {
		b.audit(ctx, domain.AuditRecord{
			Event:         "exit_failed",
			Ticker:        pos.Ticker,
			ClientOrderID: res.ClientOrderID,
			Detail:        reason,
			Err:           err.Error(),
		})
		return err
	}
	if res.FillCount < 1 {
		return fmt.Errorf("exit order not filled")
	}

	proceeds := res.AvgPrice * float64(res.FillCount)
	exitFee := tradingFee(res.FillCount, res.AvgPrice)
	netPnL := proceeds - exitFee - pos.TotalCost

	b.audit(ctx, domain.AuditRecord{
		Event:         "exit_filled",
		Ticker:        pos.Ticker,
		ClientOrderID: res.ClientOrderID,
		OrderID:       res.OrderID,
		Detail:        fmt.Sprintf("%s: sold %d @ %.2f", reason, res.FillCount, res.AvgPrice),
	})
	b.closePosition(ctx, slot, pos, res.AvgPrice, netPnL, netPnL > 0, reason)
	return nil
}

// settleFromResult closes a settled position against the exchange-reported
// outcome. Winning contracts pay out $1 each with no settlement fee.
func (b *Bot) settleFromResult(ctx context.Context, slot string, pos *domain.Position, result string) {
	won := result == string(pos.Side)
	exitPrice := 0.0
	if won {
		exitPrice = 1.0
	}
	payout := exitPrice * float64(pos.Contracts)
	netPnL := payout - pos.TotalCost

	b.logger.Info("position settled",
		slog.String("slot", slot),
		slog.String("ticker", pos.Ticker),
		slog.String("result", result),
		slog.Bool("won", won),
		slog.Float64("net_pnl", netPnL),
	)
	b.closePosition(ctx, slot, pos, exitPrice, netPnL, won, "settled "+result)
	b.notifyEvent(ctx, "trade_settled", "Trade settled",
		fmt.Sprintf("%s: %s settled %s, net $%.2f", b.cfg.ID, pos.Ticker, result, netPnL))
}

// recoverStale resolves a position whose market never reported settlement
// within the grace period. The cache is busted first so the verdict comes
// from a fresh exchange read, then fill verification decides the outcome.
// When fills cannot be determined either way the position closes flat: a
// fabricated loss would poison the daily-loss gate, a fabricated win would
// mask one.
func (b *Bot) recoverStale(ctx context.Context, slot string, pos *domain.Position) {
	snap, err := b.marketSnapshot(ctx, pos.Ticker, true)
	if err == nil && (snap.Result != "" || snap.Status == domain.MarketStatusSettled) {
		b.settleFromResult(ctx, slot, pos, snap.Result)
		return
	}

	b.logger.Warn("stale position, verifying fills",
		slog.String("slot", slot),
		slog.String("ticker", pos.Ticker),
		slog.String("window", pos.WindowKey),
	)

	orders, lerr := b.d.Gateway.ListOrders(ctx, pos.Ticker, "")
	var (
		netPnL float64
		reason string
	)
	switch {
	case lerr != nil:
		netPnL = 0
		reason = "stale: fill status undetermined, closed flat"
	default:
		found := false
		filled := false
		for _, o := range orders {
			if o.ID == pos.OrderID {
				found = true
				filled = o.FillCount > 0
				break
			}
		}
		switch {
		case found && !filled:
			netPnL = 0
			reason = "stale: entry order never filled"
		case found && filled:
			netPnL = -pos.TotalCost
			reason = "stale: fills confirmed, recorded as loss"
		default:
			netPnL = 0
			reason = "stale: order not found, closed flat"
		}
	}

	b.audit(ctx, domain.AuditRecord{
		Event:   "stale_recovery",
		Ticker:  pos.Ticker,
		OrderID: pos.OrderID,
		Detail:  reason,
	})
	b.notifyEvent(ctx, "stale_recovery", "Stale position recovered",
		fmt.Sprintf("%s: %s closed (%s), net $%.2f", b.cfg.ID, pos.Ticker, reason, netPnL))
	b.closePosition(ctx, slot, pos, 0, netPnL, false, reason)
}

// closePosition appends the immutable ledger record and then clears the
// slot, in that order: a crash between the two leaves a duplicate close
// attempt, and the deterministic record ID makes the mirror insert
// idempotent while the gate double-counts at worst one tick.
func (b *Bot) closePosition(ctx context.Context, slot string, pos *domain.Position, exitPrice, netPnL float64, won bool, reason string) {
	closedAt := b.now().UTC()
	if pos.PendingClose != nil {
		closedAt = pos.PendingClose.ClosedAt
	}
	rec := domain.TradeRecord{
		ID:         recordID(pos),
		BotID:      b.cfg.ID,
		Strategy:   pos.SignalLabel,
		Ticker:     pos.Ticker,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Contracts:  pos.Contracts,
		NetPnL:     netPnL,
		Won:        won,
		ExitReason: reason,
		WindowKey:  pos.WindowKey,
		ClosedAt:   closedAt,
	}

	if err := b.d.Ledger.Append(ctx, rec); err != nil {
		// The exit is done on the exchange side; mark the position so the
		// next tick replays this write instead of selling again.
		if pos.PendingClose == nil {
			pos.PendingClose = &domain.PendingClose{
				ExitPrice:  exitPrice,
				NetPnL:     netPnL,
				Won:        won,
				ExitReason: reason,
				ClosedAt:   closedAt,
			}
			if serr := b.d.Store.SavePosition(ctx, *pos); serr != nil {
				b.logger.Error("persist pending close failed", slog.String("slot", slot), slog.String("error", serr.Error()))
			}
		}
		b.setError(fmt.Errorf("ledger append: %w", err))
		return
	}
	if err := b.d.Store.ClearPosition(ctx, slot); err != nil {
		b.setError(fmt.Errorf("clear position: %w", err))
	}

	if b.d.Mirror != nil {
		if err := b.d.Mirror.Insert(ctx, rec); err != nil {
			b.logger.Warn("trade mirror insert failed", slog.String("id", rec.ID), slog.String("error", err.Error()))
		}
	}

	b.audit(ctx, domain.AuditRecord{
		Event:         "position_closed",
		Ticker:        pos.Ticker,
		ClientOrderID: pos.ClientOrderID,
		OrderID:       pos.OrderID,
		Detail:        fmt.Sprintf("%s: net $%.2f", reason, netPnL),
	})
}

// recordID derives a stable ledger record id from the entry order's
// idempotency key, so a crash-induced duplicate close dedupes in the mirror.
func recordID(pos *domain.Position) string {
	if pos.ClientOrderID != "" {
		return "trade-" + pos.ClientOrderID
	}
	return fmt.Sprintf("trade-%s-%s-%d", pos.BotID, pos.WindowKey, pos.EntryTime.Unix())
}
