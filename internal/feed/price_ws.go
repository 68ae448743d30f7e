// Package feed delivers underlying-asset prices (the spot prices strikes are
// measured against) over a streaming WebSocket connection, with a REST
// fallback for historical candles.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 30 * time.Second
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// tickEvent is the JSON shape of one streamed price observation.
type tickEvent struct {
	Type      string  `json:"type"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"`
}

// candleDTO is one OHLC bucket from the REST candles endpoint.
type candleDTO struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
	Start int64   `json:"start"` // unix seconds
}

// PriceWSFeed connects to a price streaming endpoint, subscribes to the given
// symbols, and keeps the most recent tick per symbol in memory. It reconnects
// with exponential backoff on disconnect. Historical candles are fetched over
// REST on demand.
type PriceWSFeed struct {
	wsURL      string
	candlesURL string
	symbols    []string
	httpClient *http.Client
	logger     *slog.Logger

	mu   sync.RWMutex
	last map[string]domain.PriceTick

	closeOnce sync.Once
	done      chan struct{}
}

var _ domain.PriceFeed = (*PriceWSFeed)(nil)

// NewPriceWSFeed creates a feed that will subscribe to the given symbols.
func NewPriceWSFeed(wsURL, candlesURL string, symbols []string, logger *slog.Logger) *PriceWSFeed {
	return &PriceWSFeed{
		wsURL:      wsURL,
		candlesURL: candlesURL,
		symbols:    symbols,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With(slog.String("component", "price_feed")),
		last:       make(map[string]domain.PriceTick),
		done:       make(chan struct{}),
	}
}

// Run connects, subscribes to the configured symbols, and runs until ctx is
// cancelled. Reconnects with backoff on disconnect.
func (f *PriceWSFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("price feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the feed.
func (f *PriceWSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// LastPrice returns the most recent observed tick for symbol.
func (f *PriceWSFeed) LastPrice(symbol string) (domain.PriceTick, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	tick, ok := f.last[symbol]
	if !ok {
		return domain.PriceTick{}, fmt.Errorf("feed: %s: %w", symbol, domain.ErrNotFound)
	}
	return tick, nil
}

// Candles fetches up to limit most recent closed candles for symbol over REST.
func (f *PriceWSFeed) Candles(ctx context.Context, symbol string, interval time.Duration, limit int) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", strconv.Itoa(int(interval.Minutes()))+"m")
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.candlesURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("feed: candles request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: candles %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("feed: read candles: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed: candles %s: HTTP %d", symbol, resp.StatusCode)
	}

	var payload struct {
		Candles []candleDTO `json:"candles"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("feed: decode candles: %w", err)
	}

	out := make([]domain.Candle, 0, len(payload.Candles))
	for _, c := range payload.Candles {
		out = append(out, domain.Candle{
			Open:  c.Open,
			High:  c.High,
			Low:   c.Low,
			Close: c.Close,
			Start: time.Unix(c.Start, 0).UTC(),
		})
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Connection internals
// --------------------------------------------------------------------------

func (f *PriceWSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}

	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sub := map[string]any{
		"op":      "subscribe",
		"symbols": f.symbols,
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("price feed subscribed", slog.Int("symbols", len(f.symbols)))

	// Ping loop and ctx watcher; closing the conn unblocks ReadMessage.
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker((pongWait * 9) / 10)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-f.done:
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			default:
				return fmt.Errorf("feed: read: %w", err)
			}
		}
		f.handleMessage(message)
	}
}

// handleMessage parses one raw frame and records the tick.
func (f *PriceWSFeed) handleMessage(raw []byte) {
	var ev tickEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	if ev.Type != "tick" || ev.Symbol == "" || ev.Price <= 0 {
		return
	}

	at := time.Now()
	if ev.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, ev.Timestamp); err == nil {
			at = t
		}
	}

	f.mu.Lock()
	f.last[ev.Symbol] = domain.PriceTick{Symbol: ev.Symbol, Price: ev.Price, At: at}
	f.mu.Unlock()
}
