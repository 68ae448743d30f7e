package domain

import "time"

// Granularity is the wall-clock bucket size a bot's markets settle on.
type Granularity string

const (
	Granularity15Min  Granularity = "15m"
	GranularityHourly Granularity = "1h"
)

// Side is the binary contract side a position holds.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Position is the unit of financial exposure: at most one open Position
// exists per bot slot at any time. A Position record exists in the durable
// store if and only if an entry order is believed filled.
type Position struct {
	BotID         string    `json:"bot_id"`
	Ticker        string    `json:"ticker"`
	Side          Side      `json:"side"`
	Contracts     int64     `json:"contracts"`
	EntryPrice    float64   `json:"entry_price"` // probability-priced, 0..1
	TotalCost     float64   `json:"total_cost"`  // dollars, fee included
	EntryTime     time.Time `json:"entry_time"`
	RefPrice      float64   `json:"ref_price"` // underlying price at entry
	Strike        *float64  `json:"strike,omitempty"`
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	SignalLabel   string    `json:"signal_label"`
	WindowKey     string    `json:"window_key"` // fixed at entry, never changes

	// PendingClose records a terminal outcome whose ledger write failed.
	// While set, the position is no longer live on the exchange; monitoring
	// must replay the close with these facts instead of re-evaluating the
	// market.
	PendingClose *PendingClose `json:"pending_close,omitempty"`
}

// PendingClose captures the facts of an already-executed close so a failed
// ledger append can be retried without touching the exchange again.
type PendingClose struct {
	ExitPrice  float64   `json:"exit_price"`
	NetPnL     float64   `json:"net_pnl"`
	Won        bool      `json:"won"`
	ExitReason string    `json:"exit_reason"`
	ClosedAt   time.Time `json:"closed_at"`
}

// CostBasis returns the pre-fee notional of the position.
func (p Position) CostBasis() float64 {
	return p.EntryPrice * float64(p.Contracts)
}

// TradeRecord is an immutable ledger entry appended exactly once when a
// position reaches a terminal state. Never mutated after write.
type TradeRecord struct {
	ID         string    `json:"id"`
	BotID      string    `json:"bot_id"`
	Strategy   string    `json:"strategy"`
	Ticker     string    `json:"ticker"`
	Side       Side      `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Contracts  int64     `json:"contracts"`
	NetPnL     float64   `json:"net_pnl"` // fee-adjusted dollars
	Won        bool      `json:"won"`
	ExitReason string    `json:"exit_reason"`
	WindowKey  string    `json:"window_key"`
	ClosedAt   time.Time `json:"closed_at"`
}

// WindowMeta is the per-bot, per-window bookkeeping used to derive the
// traded-this-window flag on restart. The flag itself is never persisted:
// it is reconstructed by comparing WindowKey against the currently computed
// window key.
type WindowMeta struct {
	WindowKey        string    `json:"window_key"`
	LastDecisionTime time.Time `json:"last_decision_time"`
	CapitalDeployed  float64   `json:"capital_deployed"`
	Entries          int       `json:"entries"`
}
