package domain

import "time"

// MarketStatus is the exchange-reported lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen    MarketStatus = "open"
	MarketStatusClosed  MarketStatus = "closed" // expired, result not yet posted
	MarketStatusSettled MarketStatus = "settled"
)

// MarketSnapshot is a point-in-time view of one binary market's quotes and
// settlement state. Prices are probability-priced (0..1). Result is "yes",
// "no", or empty while unsettled.
type MarketSnapshot struct {
	Ticker    string       `json:"ticker"`
	Status    MarketStatus `json:"status"`
	YesBid    float64      `json:"yes_bid"`
	YesAsk    float64      `json:"yes_ask"`
	NoBid     float64      `json:"no_bid"`
	NoAsk     float64      `json:"no_ask"`
	Strike    float64      `json:"strike"`
	CloseTime time.Time    `json:"close_time"`
	Result    string       `json:"result"`
	FetchedAt time.Time    `json:"fetched_at"`
}

// Bid returns the best bid for the given side.
func (m MarketSnapshot) Bid(side Side) float64 {
	if side == SideNo {
		return m.NoBid
	}
	return m.YesBid
}

// Ask returns the best ask for the given side.
func (m MarketSnapshot) Ask(side Side) float64 {
	if side == SideNo {
		return m.NoAsk
	}
	return m.YesAsk
}

// PriceLevel is one resting price level in an orderbook.
type PriceLevel struct {
	Price float64 `json:"price"` // probability-priced
	Count int64   `json:"count"` // resting contracts
}

// OrderBook holds resting bid depth for both sides of a binary market.
// The exchange exposes only bids; the ask on one side is implied by the
// bid on the other.
type OrderBook struct {
	Ticker  string       `json:"ticker"`
	YesBids []PriceLevel `json:"yes_bids"`
	NoBids  []PriceLevel `json:"no_bids"`
}

// DepthAt returns the number of contracts resting at the given price on the
// given side's bid book. Prices are compared at cent resolution.
func (b OrderBook) DepthAt(side Side, price float64) int64 {
	levels := b.YesBids
	if side == SideNo {
		levels = b.NoBids
	}
	for _, lvl := range levels {
		if centEqual(lvl.Price, price) {
			return lvl.Count
		}
	}
	return 0
}

func centEqual(a, b float64) bool {
	const half = 0.005
	d := a - b
	return d < half && d > -half
}

// Balance is the exchange account balance.
type Balance struct {
	Available     float64 `json:"available"`
	PendingPayout float64 `json:"pending_payout"`
}

// PriceTick is one underlying-asset price observation from the market data
// feed (e.g. the BTC spot price a strike is measured against).
type PriceTick struct {
	Symbol string
	Price  float64
	At     time.Time
}

// Candle is one historical OHLC bucket from the market data feed.
type Candle struct {
	Open  float64
	High  float64
	Low   float64
	Close float64
	Start time.Time
}
