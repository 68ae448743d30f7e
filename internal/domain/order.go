package domain

import "time"

// OrderAction indicates whether an order buys or sells contracts.
type OrderAction string

const (
	OrderActionBuy  OrderAction = "buy"
	OrderActionSell OrderAction = "sell"
)

// TimeInForce is the order lifetime policy.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // good-till-cancelled
	TimeInForceIOC TimeInForce = "IOC" // immediate-or-cancel
)

// OrderStatus tracks the exchange-side order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusResting   OrderStatus = "resting"
	OrderStatusExecuted  OrderStatus = "executed"
	OrderStatusCancelled OrderStatus = "canceled"
)

// OrderRequest describes a limit order to be placed on the exchange. Every
// request carries a client-generated idempotency key so a retried placement
// cannot double-fill.
type OrderRequest struct {
	Ticker        string
	Side          Side
	Action        OrderAction
	Count         int64
	Price         float64 // probability-priced limit, 0..1
	TimeInForce   TimeInForce
	ClientOrderID string
}

// OrderResult is the exchange's response to an order placement.
type OrderResult struct {
	OrderID   string
	Status    OrderStatus
	FillCount int64
	AvgPrice  float64 // average fill price when FillCount > 0
}

// Order is one order row as reported by the exchange's order-history
// endpoint, used for fill verification during stale-position recovery.
type Order struct {
	ID        string
	Ticker    string
	Side      Side
	Action    OrderAction
	Status    OrderStatus
	Price     float64
	Count     int64
	FillCount int64
	PlacedAt  time.Time
}

// AuditRecord is one order-placement attempt (success or failure), kept
// append-only for post-hoc reconciliation.
type AuditRecord struct {
	BotID         string    `json:"bot_id"`
	Event         string    `json:"event"`
	Ticker        string    `json:"ticker"`
	ClientOrderID string    `json:"client_order_id"`
	OrderID       string    `json:"order_id,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	Err           string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}
