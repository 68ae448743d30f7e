package domain

import (
	"context"
	"time"
)

// TradeDecision is an actionable entry recommendation from a SignalProvider.
type TradeDecision struct {
	Direction Side
	SizeHint  float64 // suggested dollars; 0 means "use the sizing gate"
	Rationale string
}

// DecisionInput is everything a SignalProvider may consider when deciding.
type DecisionInput struct {
	Market           MarketSnapshot
	Capital          float64
	RefPrice         float64 // current underlying price
	WindowKey        string
	MinutesRemaining float64
}

// SignalProvider decides whether to enter a trade. A nil decision with a nil
// error means "no trade". Providers are expected to fail occasionally and
// must degrade to no-trade rather than block the tick loop.
type SignalProvider interface {
	Name() string
	Decide(ctx context.Context, in DecisionInput) (*TradeDecision, error)
}

// ExitAction is an advisory recommendation for one open leg.
type ExitAction string

const (
	ExitActionHold ExitAction = "HOLD"
	ExitActionExit ExitAction = "EXIT"
)

// ExitAdvice is the advisory provider's re-evaluation of one open position.
type ExitAdvice struct {
	Ticker string
	Action ExitAction
}

// ExitAdvisor re-evaluates open legs at a fixed cadence. Implemented by
// advisory-backed providers only; errors degrade to HOLD.
type ExitAdvisor interface {
	CheckExits(ctx context.Context, legs []Position) ([]ExitAdvice, error)
}

// BotStatus is the per-instance aggregate exposed on the operator surface.
// PauseReason carries the free-text reason nothing is happening (daily loss
// breach, capital floor, no market) so the dashboard never needs log access.
type BotStatus struct {
	ID           string    `json:"id"`
	Running      bool      `json:"running"`
	DailyPnL     float64   `json:"daily_pnl"`
	TradeCount   int       `json:"trade_count"`
	LastError    string    `json:"last_error,omitempty"`
	PauseReason  string    `json:"pause_reason,omitempty"`
	OpenPosition *Position `json:"open_position,omitempty"`
	WindowKey    string    `json:"window_key,omitempty"`
	LastTick     time.Time `json:"last_tick,omitempty"`
}
