// Package signal provides the entry decision providers a bot can be
// configured with. Providers degrade to no-trade on failure; they never
// block the tick loop.
package signal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

const (
	// momentumLookback is how many one-minute candles feed the estimate.
	momentumLookback = 10
	// momentumScale converts fractional price change into a probability
	// shift. A 0.1% move over the lookback shifts the estimate by 5 points.
	momentumScale = 50.0
)

// MomentumProvider derives an up-probability estimate from recent underlying
// candles and trades the side that estimate favors once confidence clears
// the configured threshold.
type MomentumProvider struct {
	feed      domain.PriceFeed
	symbol    string
	threshold float64 // minimum confidence in (0,1]
	logger    *slog.Logger
}

var _ domain.SignalProvider = (*MomentumProvider)(nil)

// NewMomentumProvider creates a momentum provider for the given underlying
// symbol.
func NewMomentumProvider(feed domain.PriceFeed, symbol string, threshold float64, logger *slog.Logger) *MomentumProvider {
	return &MomentumProvider{
		feed:      feed,
		symbol:    symbol,
		threshold: threshold,
		logger:    logger.With(slog.String("component", "momentum_signal")),
	}
}

// Name identifies the provider in position records and status output.
func (p *MomentumProvider) Name() string { return "momentum" }

// Decide returns a trade decision, or nil when momentum is too weak. Feed
// failures degrade to no-trade.
func (p *MomentumProvider) Decide(ctx context.Context, in domain.DecisionInput) (*domain.TradeDecision, error) {
	candles, err := p.feed.Candles(ctx, p.symbol, time.Minute, momentumLookback)
	if err != nil {
		return nil, fmt.Errorf("signal: momentum candles: %w", err)
	}
	if len(candles) < 2 {
		return nil, nil
	}

	first := candles[0].Close
	last := candles[len(candles)-1].Close
	if first <= 0 {
		return nil, nil
	}

	move := (last - first) / first
	upProb := clamp01(0.5 + move*momentumScale)
	confidence := 2 * abs(upProb-0.5)

	if confidence < p.threshold {
		return nil, nil
	}

	direction := domain.SideYes
	if upProb < 0.5 {
		direction = domain.SideNo
	}

	p.logger.Debug("momentum decision",
		slog.String("direction", string(direction)),
		slog.Float64("move_pct", move*100),
		slog.Float64("confidence", confidence),
	)

	return &domain.TradeDecision{
		Direction: direction,
		Rationale: fmt.Sprintf("momentum %.3f%% over %dm, confidence %.2f", move*100, momentumLookback, confidence),
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
