// Package ladder implements spread-ladder order execution. On thin books a
// resting 1-lot sell just below the ask is often undercut by automated
// quoters defending queue priority; repeatedly re-placing the probe walks
// the ask down before the real buy is placed, improving the effective entry
// price versus paying the initial ask.
package ladder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

// Status reports how a ladder run ended.
type Status string

const (
	// StatusCompleted means the order executed at or better than intended.
	StatusCompleted Status = "completed"
	// StatusMaxSteps means the step budget ran out and the order executed
	// directly at the prevailing price. Not a failure.
	StatusMaxSteps Status = "max_steps"
	// StatusAborted means no order executed (network error, no liquidity,
	// market closed).
	StatusAborted Status = "aborted"
	// StatusAccidentalFill means a probe sell filled. The caller now holds
	// an unintended short leg and must unwind it immediately.
	StatusAccidentalFill Status = "accidental_fill"
)

// Result describes the outcome of one ladder run.
type Result struct {
	Status        Status
	OrderID       string
	ClientOrderID string
	FillCount     int64
	AvgPrice      float64
	Steps         int
}

// Config holds the ladder tunables. Prices move in one-cent ticks.
type Config struct {
	// MaxSteps is the probe budget before going direct.
	MaxSteps int
	// StepInterval is the wait between probe placements.
	StepInterval time.Duration
	// DiscountCents is how far below the initial ask the entry targets.
	DiscountCents int
	// DirectSpreadTicks bypasses the ladder when the spread is already at
	// or under this many ticks.
	DirectSpreadTicks int
	// MinMinutes bypasses the ladder when less time remains in the window.
	MinMinutes float64
	// DeepBookCount skips laddering when the target level already has this
	// much resting size. Real counterparties are present; don't queue
	// behind them.
	DeepBookCount int64
}

// Executor runs ladder executions against the exchange. Market reads go
// straight to the gateway; the ladder needs fresher quotes than the shared
// snapshot cache serves.
type Executor struct {
	gateway domain.ExchangeGateway
	cfg     Config
	logger  *slog.Logger

	// Injection points for tests.
	sleep       func(ctx context.Context, d time.Duration) error
	newClientID func() string
}

// New creates a ladder executor.
func New(gateway domain.ExchangeGateway, cfg Config, logger *slog.Logger) *Executor {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 6
	}
	if cfg.StepInterval <= 0 {
		cfg.StepInterval = 2 * time.Second
	}
	if cfg.DiscountCents <= 0 {
		cfg.DiscountCents = 2
	}
	if cfg.DirectSpreadTicks <= 0 {
		cfg.DirectSpreadTicks = 2
	}
	if cfg.DeepBookCount <= 0 {
		cfg.DeepBookCount = 50
	}
	return &Executor{
		gateway: gateway,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ladder")),
		sleep:   sleepCtx,
		newClientID: func() string {
			return uuid.New().String()
		},
	}
}

// Buy acquires count contracts of side on ticker. It ladders the ask down
// toward initial ask minus the configured discount, or goes direct when a
// fast path applies.
func (e *Executor) Buy(ctx context.Context, ticker string, side domain.Side, count int64, minutesRemaining float64) (Result, error) {
	snap, err := e.gateway.GetMarket(ctx, ticker)
	if err != nil {
		return Result{Status: StatusAborted}, fmt.Errorf("ladder: initial quote: %w", err)
	}
	if snap.Status != domain.MarketStatusOpen {
		return Result{Status: StatusAborted}, fmt.Errorf("ladder: %s: %w", ticker, domain.ErrMarketClosed)
	}

	askC := toCents(snap.Ask(side))
	bidC := toCents(snap.Bid(side))
	if askC <= 0 {
		return Result{Status: StatusAborted}, fmt.Errorf("ladder: %s has no ask", ticker)
	}

	// Fast paths: too close to expiry, or the spread is already tight.
	if minutesRemaining < e.cfg.MinMinutes || (bidC > 0 && askC-bidC <= int64(e.cfg.DirectSpreadTicks)) {
		return e.directBuy(ctx, ticker, side, count, askC, 0, StatusCompleted)
	}

	targetC := askC - int64(e.cfg.DiscountCents)
	if targetC < 1 {
		targetC = 1
	}

	// Deep-bid guard at the target level.
	book, err := e.gateway.GetOrderBook(ctx, ticker, 10)
	if err == nil {
		if depth := book.DepthAt(opposite(side), toProb(100-targetC)); depth >= e.cfg.DeepBookCount {
			e.logger.Debug("deep book at target, going direct",
				slog.String("ticker", ticker),
				slog.Int64("depth", depth),
			)
			return e.directBuy(ctx, ticker, side, count, askC, 0, StatusCompleted)
		}
	}

	noResponse := 0
	for step := 1; step <= e.cfg.MaxSteps; step++ {
		probeC := askC - 1
		if probeC < 1 {
			return e.directBuy(ctx, ticker, side, count, askC, step-1, StatusCompleted)
		}

		probe, err := e.placeOrder(ctx, ticker, side, domain.OrderActionSell, 1, probeC, domain.TimeInForceGTC)
		if err != nil {
			return Result{Status: StatusAborted, Steps: step - 1}, fmt.Errorf("ladder: place probe: %w", err)
		}

		if err := e.sleep(ctx, e.cfg.StepInterval); err != nil {
			e.cancelQuiet(ticker, probe.OrderID)
			return Result{Status: StatusAborted, Steps: step - 1}, err
		}

		filled, err := e.orderFilled(ctx, ticker, probe.OrderID)
		if err != nil {
			e.cancelQuiet(ticker, probe.OrderID)
			return Result{Status: StatusAborted, Steps: step - 1}, fmt.Errorf("ladder: verify probe: %w", err)
		}
		if filled {
			// The probe sold a side the caller never owned.
			e.logger.Warn("probe sell filled, aborting for unwind",
				slog.String("ticker", ticker),
				slog.Int64("price_cents", probeC),
			)
			return Result{
				Status:        StatusAccidentalFill,
				OrderID:       probe.OrderID,
				ClientOrderID: probe.ClientOrderID,
				FillCount:     1,
				AvgPrice:      toProb(probeC),
				Steps:         step,
			}, nil
		}

		// Cancel before re-quoting. On a book with no competing quoter the
		// resting probe is itself the best ask; a quote read now would
		// chase our own order down.
		if err := e.gateway.CancelOrder(ctx, probe.OrderID); err != nil {
			e.logger.Warn("probe cancel failed", slog.String("order_id", probe.OrderID), slog.String("error", err.Error()))
		}

		snap, err = e.gateway.GetMarket(ctx, ticker)
		if err != nil {
			return Result{Status: StatusAborted, Steps: step}, fmt.Errorf("ladder: requote: %w", err)
		}
		newAskC := toCents(snap.Ask(side))

		if newAskC <= targetC {
			return e.directBuy(ctx, ticker, side, count, newAskC, step, StatusCompleted)
		}
		if newAskC < probeC {
			// Undercut observed; keep walking the ask down.
			askC = newAskC
			noResponse = 0
			continue
		}

		askC = newAskC
		noResponse++
		if noResponse >= 2 {
			// No competing quoter. Stop probing.
			return e.directBuy(ctx, ticker, side, count, askC, step, StatusCompleted)
		}
	}

	return e.directBuy(ctx, ticker, side, count, askC, e.cfg.MaxSteps, StatusMaxSteps)
}

// Sell disposes count contracts of side on ticker. When direct is true (or a
// fast path applies) it sells straight into the bid; otherwise it rests
// competitive sells, lowering the price every two unfilled checks until it
// reaches the bid or the step budget runs out.
func (e *Executor) Sell(ctx context.Context, ticker string, side domain.Side, count int64, minutesRemaining float64, direct bool) (Result, error) {
	snap, err := e.gateway.GetMarket(ctx, ticker)
	if err != nil {
		return Result{Status: StatusAborted}, fmt.Errorf("ladder: initial quote: %w", err)
	}

	bidC := toCents(snap.Bid(side))
	askC := toCents(snap.Ask(side))
	if bidC <= 0 {
		return Result{Status: StatusAborted}, fmt.Errorf("ladder: %s has no bid", ticker)
	}

	if direct || minutesRemaining < e.cfg.MinMinutes || (askC > 0 && askC-bidC <= int64(e.cfg.DirectSpreadTicks)) {
		return e.directSell(ctx, ticker, side, count, bidC, 0, StatusCompleted)
	}

	priceC := askC - 1
	if priceC <= bidC {
		return e.directSell(ctx, ticker, side, count, bidC, 0, StatusCompleted)
	}

	unfilled := 0
	for step := 1; step <= e.cfg.MaxSteps; step++ {
		rest, err := e.placeOrder(ctx, ticker, side, domain.OrderActionSell, count, priceC, domain.TimeInForceGTC)
		if err != nil {
			return Result{Status: StatusAborted, Steps: step - 1}, fmt.Errorf("ladder: place sell: %w", err)
		}

		if err := e.sleep(ctx, e.cfg.StepInterval); err != nil {
			e.cancelQuiet(ticker, rest.OrderID)
			return Result{Status: StatusAborted, Steps: step - 1}, err
		}

		filled, err := e.orderFilled(ctx, ticker, rest.OrderID)
		if err != nil {
			e.cancelQuiet(ticker, rest.OrderID)
			return Result{Status: StatusAborted, Steps: step - 1}, fmt.Errorf("ladder: verify sell: %w", err)
		}
		if filled {
			return Result{
				Status:        StatusCompleted,
				OrderID:       rest.OrderID,
				ClientOrderID: rest.ClientOrderID,
				FillCount:     count,
				AvgPrice:      toProb(priceC),
				Steps:         step,
			}, nil
		}

		if err := e.gateway.CancelOrder(ctx, rest.OrderID); err != nil {
			e.logger.Warn("sell cancel failed", slog.String("order_id", rest.OrderID), slog.String("error", err.Error()))
		}

		snap, err = e.gateway.GetMarket(ctx, ticker)
		if err != nil {
			return Result{Status: StatusAborted, Steps: step}, fmt.Errorf("ladder: requote: %w", err)
		}
		bidC = toCents(snap.Bid(side))
		if bidC <= 0 {
			return Result{Status: StatusAborted, Steps: step}, fmt.Errorf("ladder: %s lost its bid", ticker)
		}

		unfilled++
		if unfilled >= 2 {
			priceC--
			unfilled = 0
		}
		if priceC <= bidC {
			return e.directSell(ctx, ticker, side, count, bidC, step, StatusCompleted)
		}
	}

	return e.directSell(ctx, ticker, side, count, bidC, e.cfg.MaxSteps, StatusMaxSteps)
}

// --------------------------------------------------------------------------
// Internals
// --------------------------------------------------------------------------

func (e *Executor) directBuy(ctx context.Context, ticker string, side domain.Side, count, priceC int64, steps int, status Status) (Result, error) {
	res, err := e.placeOrder(ctx, ticker, side, domain.OrderActionBuy, count, priceC, domain.TimeInForceIOC)
	if err != nil {
		return Result{Status: StatusAborted, Steps: steps}, fmt.Errorf("ladder: direct buy: %w", err)
	}
	if res.FillCount == 0 {
		return Result{Status: StatusAborted, Steps: steps, OrderID: res.OrderID, ClientOrderID: res.ClientOrderID},
			fmt.Errorf("ladder: direct buy %s: no fill at %d cents", ticker, priceC)
	}
	avg := res.AvgPrice
	if avg == 0 {
		avg = toProb(priceC)
	}
	return Result{
		Status:        status,
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		FillCount:     res.FillCount,
		AvgPrice:      avg,
		Steps:         steps,
	}, nil
}

func (e *Executor) directSell(ctx context.Context, ticker string, side domain.Side, count, priceC int64, steps int, status Status) (Result, error) {
	res, err := e.placeOrder(ctx, ticker, side, domain.OrderActionSell, count, priceC, domain.TimeInForceIOC)
	if err != nil {
		return Result{Status: StatusAborted, Steps: steps}, fmt.Errorf("ladder: direct sell: %w", err)
	}
	if res.FillCount == 0 {
		return Result{Status: StatusAborted, Steps: steps, OrderID: res.OrderID, ClientOrderID: res.ClientOrderID},
			fmt.Errorf("ladder: direct sell %s: no fill at %d cents", ticker, priceC)
	}
	avg := res.AvgPrice
	if avg == 0 {
		avg = toProb(priceC)
	}
	return Result{
		Status:        status,
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		FillCount:     res.FillCount,
		AvgPrice:      avg,
		Steps:         steps,
	}, nil
}

func (e *Executor) placeOrder(ctx context.Context, ticker string, side domain.Side, action domain.OrderAction, count, priceC int64, tif domain.TimeInForce) (struct {
	OrderID       string
	ClientOrderID string
	FillCount     int64
	AvgPrice      float64
}, error) {
	clientID := e.newClientID()
	res, err := e.gateway.PlaceOrder(ctx, domain.OrderRequest{
		Ticker:        ticker,
		Side:          side,
		Action:        action,
		Count:         count,
		Price:         toProb(priceC),
		TimeInForce:   tif,
		ClientOrderID: clientID,
	})
	out := struct {
		OrderID       string
		ClientOrderID string
		FillCount     int64
		AvgPrice      float64
	}{
		OrderID:       res.OrderID,
		ClientOrderID: clientID,
		FillCount:     res.FillCount,
		AvgPrice:      res.AvgPrice,
	}
	return out, err
}

// orderFilled reports whether the order shows any fills on the exchange.
func (e *Executor) orderFilled(ctx context.Context, ticker, orderID string) (bool, error) {
	orders, err := e.gateway.ListOrders(ctx, ticker, "")
	if err != nil {
		return false, err
	}
	for _, o := range orders {
		if o.ID == orderID {
			return o.FillCount > 0, nil
		}
	}
	// Unknown to the exchange: treat as unfilled.
	return false, nil
}

func (e *Executor) cancelQuiet(ticker, orderID string) {
	if orderID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.gateway.CancelOrder(ctx, orderID); err != nil {
		e.logger.Warn("best-effort cancel failed",
			slog.String("ticker", ticker),
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func opposite(s domain.Side) domain.Side {
	if s == domain.SideYes {
		return domain.SideNo
	}
	return domain.SideYes
}

func toCents(p float64) int64 {
	return int64(p*100.0 + 0.5)
}

func toProb(c int64) float64 {
	return float64(c) / 100.0
}
