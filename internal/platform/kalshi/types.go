package kalshi

import (
	"time"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

// --------------------------------------------------------------------------
// Kalshi API DTOs. The wire format prices contracts in whole cents (1-99);
// conversion to the probability-priced domain types happens here and only
// here.
// --------------------------------------------------------------------------

// marketDTO represents a market as returned by the Kalshi REST API.
type marketDTO struct {
	Ticker         string  `json:"ticker"`
	EventTicker    string  `json:"event_ticker"`
	Title          string  `json:"title"`
	Status         string  `json:"status"` // "open", "closed", "settled"
	YesBid         int64   `json:"yes_bid"`
	YesAsk         int64   `json:"yes_ask"`
	NoBid          int64   `json:"no_bid"`
	NoAsk          int64   `json:"no_ask"`
	LastPrice      int64   `json:"last_price"`
	Volume         int64   `json:"volume"`
	OpenInterest   int64   `json:"open_interest"`
	StrikeType     string  `json:"strike_type"`
	FloorStrike    float64 `json:"floor_strike"`
	CapStrike      float64 `json:"cap_strike"`
	Result         string  `json:"result"` // "yes", "no", "" (unsettled)
	OpenTime       string  `json:"open_time"`
	CloseTime      string  `json:"close_time"`
	ExpirationTime string  `json:"expiration_time"`
}

// toSnapshot converts the wire market into the domain view. Unparseable
// close times yield a zero time rather than an error; callers treat those
// markets as unusable.
func (m marketDTO) toSnapshot(now time.Time) domain.MarketSnapshot {
	closeTime, _ := time.Parse(time.RFC3339, m.CloseTime)

	strike := m.FloorStrike
	if strike == 0 {
		strike = m.CapStrike
	}

	return domain.MarketSnapshot{
		Ticker:    m.Ticker,
		Status:    domain.MarketStatus(m.Status),
		YesBid:    centsToProb(m.YesBid),
		YesAsk:    centsToProb(m.YesAsk),
		NoBid:     centsToProb(m.NoBid),
		NoAsk:     centsToProb(m.NoAsk),
		Strike:    strike,
		CloseTime: closeTime,
		Result:    m.Result,
		FetchedAt: now,
	}
}

// orderbookDTO represents the resting bid depth for a Kalshi market.
type orderbookDTO struct {
	Yes [][2]int64 `json:"yes"` // [price_cents, count]
	No  [][2]int64 `json:"no"`
}

func (o orderbookDTO) toOrderBook(ticker string) domain.OrderBook {
	conv := func(levels [][2]int64) []domain.PriceLevel {
		out := make([]domain.PriceLevel, 0, len(levels))
		for _, lvl := range levels {
			out = append(out, domain.PriceLevel{
				Price: centsToProb(lvl[0]),
				Count: lvl[1],
			})
		}
		return out
	}
	return domain.OrderBook{
		Ticker:  ticker,
		YesBids: conv(o.Yes),
		NoBids:  conv(o.No),
	}
}

// balanceDTO is the portfolio balance response. Values are in cents.
type balanceDTO struct {
	Balance int64 `json:"balance"`
	Payout  int64 `json:"payout"`
}

// orderCreateDTO is the order placement request body.
type orderCreateDTO struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Action        string `json:"action"` // "buy" or "sell"
	Side          string `json:"side"`   // "yes" or "no"
	Type          string `json:"type"`   // always "limit"
	Count         int64  `json:"count"`
	YesPrice      *int64 `json:"yes_price,omitempty"` // cents, 1-99
	NoPrice       *int64 `json:"no_price,omitempty"`
	// An expiration in the past makes the resting remainder cancel
	// immediately, which is how immediate-or-cancel is expressed here.
	ExpirationTS *int64 `json:"expiration_ts,omitempty"`
}

// orderDTO is one order row from the order placement response or the
// portfolio order-history endpoint.
type orderDTO struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"` // "resting", "canceled", "executed", "pending"
	Action         string `json:"action"`
	Side           string `json:"side"`
	YesPrice       int64  `json:"yes_price"`
	NoPrice        int64  `json:"no_price"`
	InitialCount   int64  `json:"initial_count"`
	RemainingCount int64  `json:"remaining_count"`
	TakerFillCount int64  `json:"taker_fill_count"`
	TakerFillCost  int64  `json:"taker_fill_cost"`
	MakerFillCount int64  `json:"maker_fill_count"`
	CreatedTime    string `json:"created_time"`
}

func (o orderDTO) fillCount() int64 {
	return o.TakerFillCount + o.MakerFillCount
}

func (o orderDTO) toOrder() domain.Order {
	placed, _ := time.Parse(time.RFC3339, o.CreatedTime)

	price := o.YesPrice
	if domain.Side(o.Side) == domain.SideNo {
		price = o.NoPrice
	}

	return domain.Order{
		ID:        o.OrderID,
		Ticker:    o.Ticker,
		Side:      domain.Side(o.Side),
		Action:    domain.OrderAction(o.Action),
		Status:    domain.OrderStatus(o.Status),
		Price:     centsToProb(price),
		Count:     o.InitialCount,
		FillCount: o.fillCount(),
		PlacedAt:  placed,
	}
}

// errorDTO represents a Kalshi API error response.
type errorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --------------------------------------------------------------------------
// Price conversion helpers
// --------------------------------------------------------------------------

func centsToProb(c int64) float64 {
	return float64(c) / 100.0
}

// probToCents clamps into the 1-99 band the exchange accepts.
func probToCents(p float64) int64 {
	c := int64(p*100.0 + 0.5)
	if c < 1 {
		c = 1
	}
	if c > 99 {
		c = 99
	}
	return c
}
