package signal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

// fakeFeed serves canned candles.
type fakeFeed struct {
	candles []domain.Candle
	err     error
}

func (f *fakeFeed) LastPrice(string) (domain.PriceTick, error) {
	return domain.PriceTick{}, domain.ErrNotFound
}

func (f *fakeFeed) Candles(context.Context, string, time.Duration, int) ([]domain.Candle, error) {
	return f.candles, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func candlesWithMove(first, last float64) []domain.Candle {
	return []domain.Candle{
		{Close: first},
		{Close: (first + last) / 2},
		{Close: last},
	}
}

func TestMomentumStrongUpMove(t *testing.T) {
	feed := &fakeFeed{candles: candlesWithMove(100, 101)} // +1%
	p := NewMomentumProvider(feed, "BTC-USD", 0.5, testLogger())

	dec, err := p.Decide(context.Background(), domain.DecisionInput{})
	require.NoError(t, err)
	require.NotNil(t, dec)
	assert.Equal(t, domain.SideYes, dec.Direction)
}

func TestMomentumStrongDownMove(t *testing.T) {
	feed := &fakeFeed{candles: candlesWithMove(100, 99)} // -1%
	p := NewMomentumProvider(feed, "BTC-USD", 0.5, testLogger())

	dec, err := p.Decide(context.Background(), domain.DecisionInput{})
	require.NoError(t, err)
	require.NotNil(t, dec)
	assert.Equal(t, domain.SideNo, dec.Direction)
}

func TestMomentumWeakMoveIsNoTrade(t *testing.T) {
	feed := &fakeFeed{candles: candlesWithMove(100, 100.001)}
	p := NewMomentumProvider(feed, "BTC-USD", 0.5, testLogger())

	dec, err := p.Decide(context.Background(), domain.DecisionInput{})
	require.NoError(t, err)
	assert.Nil(t, dec)
}

func TestMomentumFeedErrorPropagates(t *testing.T) {
	feed := &fakeFeed{err: errors.New("feed down")}
	p := NewMomentumProvider(feed, "BTC-USD", 0.5, testLogger())

	_, err := p.Decide(context.Background(), domain.DecisionInput{})
	assert.Error(t, err)
}

func TestMomentumTooFewCandlesIsNoTrade(t *testing.T) {
	feed := &fakeFeed{candles: []domain.Candle{{Close: 100}}}
	p := NewMomentumProvider(feed, "BTC-USD", 0.5, testLogger())

	dec, err := p.Decide(context.Background(), domain.DecisionInput{})
	require.NoError(t, err)
	assert.Nil(t, dec)
}

func TestAdvisoryDecide(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/decide", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req decideRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "KXBTC-TEST", req.Ticker)

		json.NewEncoder(w).Encode(decideResponse{Action: "buy_no", Rationale: "fade the move"})
	}))
	defer srv.Close()

	p := NewAdvisoryProvider(srv.URL, "secret", time.Second, testLogger())

	dec, err := p.Decide(context.Background(), domain.DecisionInput{
		Market: domain.MarketSnapshot{Ticker: "KXBTC-TEST"},
	})
	require.NoError(t, err)
	require.NotNil(t, dec)
	assert.Equal(t, domain.SideNo, dec.Direction)
	assert.Equal(t, "fade the move", dec.Rationale)
}

func TestAdvisoryDecideNone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(decideResponse{Action: "none"})
	}))
	defer srv.Close()

	p := NewAdvisoryProvider(srv.URL, "", time.Second, testLogger())

	dec, err := p.Decide(context.Background(), domain.DecisionInput{})
	require.NoError(t, err)
	assert.Nil(t, dec)
}

func TestAdvisoryDecideServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oracle down", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewAdvisoryProvider(srv.URL, "", time.Second, testLogger())

	_, err := p.Decide(context.Background(), domain.DecisionInput{})
	assert.Error(t, err)
}

func TestAdvisoryCheckExits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exits", r.URL.Path)

		var req exitsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Legs, 2)

		json.NewEncoder(w).Encode(map[string]any{
			"advices": []map[string]string{
				{"ticker": req.Legs[0].Ticker, "action": "EXIT"},
				{"ticker": req.Legs[1].Ticker, "action": "garbage"},
			},
		})
	}))
	defer srv.Close()

	p := NewAdvisoryProvider(srv.URL, "", time.Second, testLogger())

	advices, err := p.CheckExits(context.Background(), []domain.Position{
		{Ticker: "T1", Side: domain.SideYes},
		{Ticker: "T2", Side: domain.SideNo},
	})
	require.NoError(t, err)
	require.Len(t, advices, 2)
	assert.Equal(t, domain.ExitActionExit, advices[0].Action)
	// Unknown actions read as HOLD.
	assert.Equal(t, domain.ExitActionHold, advices[1].Action)
}

func TestAdvisoryCheckExitsNoLegs(t *testing.T) {
	p := NewAdvisoryProvider("http://unused", "", time.Second, testLogger())

	advices, err := p.CheckExits(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, advices)
}
