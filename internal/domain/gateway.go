package domain

import (
	"context"
	"time"
)

// ExchangeGateway is the authenticated exchange surface the engine consumes.
// Implementations must be safe for concurrent use by independent bot loops.
type ExchangeGateway interface {
	GetBalance(ctx context.Context) (Balance, error)
	GetMarket(ctx context.Context, ticker string) (MarketSnapshot, error)
	ListMarketsBySeries(ctx context.Context, series string) ([]MarketSnapshot, error)
	GetOrderBook(ctx context.Context, ticker string, depth int) (OrderBook, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	// ListOrders returns the account's orders for a ticker, optionally
	// filtered by status, for fill verification during recovery.
	ListOrders(ctx context.Context, ticker string, status OrderStatus) ([]Order, error)
}

// PriceFeed delivers underlying-asset prices used for strike selection and
// momentum signals.
type PriceFeed interface {
	// LastPrice returns the most recent observed price for symbol, or zero
	// with ErrNotFound when no tick has been seen yet.
	LastPrice(symbol string) (PriceTick, error)
	// Candles returns up to limit most recent closed candles for symbol.
	Candles(ctx context.Context, symbol string, interval time.Duration, limit int) ([]Candle, error)
}
