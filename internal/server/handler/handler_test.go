package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/windowbot/internal/config"
	"github.com/alanyoungcy/windowbot/internal/domain"
)

type stubFleet struct {
	statuses  []domain.BotStatus
	startErr  error
	stopErr   error
	started   []string
	stopped   []string
	limitsFor string
	perTrade  float64
	maxLoss   float64
}

func (f *stubFleet) Start(_ context.Context, id string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, id)
	return nil
}

func (f *stubFleet) Stop(_ context.Context, id string) error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *stubFleet) Status(context.Context) []domain.BotStatus { return f.statuses }

func (f *stubFleet) StatusOf(_ context.Context, id string) (domain.BotStatus, error) {
	for _, st := range f.statuses {
		if st.ID == id {
			return st, nil
		}
	}
	return domain.BotStatus{}, domain.ErrUnknownBot
}

func (f *stubFleet) UpdateLimits(id string, perTrade, maxLoss float64) error {
	f.limitsFor = id
	f.perTrade = perTrade
	f.maxLoss = maxLoss
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	bot := config.BotDefaults()
	bot.ID = "alpha"
	cfg.Bots = []config.BotConfig{bot}
	return cfg
}

func doRequest(h http.HandlerFunc, method, target, id string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if id != "" {
		req.SetPathValue("id", id)
	}
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func TestBotListAndGet(t *testing.T) {
	fleet := &stubFleet{statuses: []domain.BotStatus{
		{ID: "alpha", Running: true, DailyPnL: 3.5},
	}}
	h := NewBotHandler(fleet, testConfig(), testLogger())

	rr := doRequest(h.List, http.MethodGet, "/api/bots", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"alpha"`)

	rr = doRequest(h.Get, http.MethodGet, "/api/bots/alpha", "alpha", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var st domain.BotStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.True(t, st.Running)

	rr = doRequest(h.Get, http.MethodGet, "/api/bots/ghost", "ghost", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBotStartStopErrorMapping(t *testing.T) {
	fleet := &stubFleet{}
	h := NewBotHandler(fleet, testConfig(), testLogger())

	rr := doRequest(h.Start, http.MethodPost, "/api/bots/alpha/start", "alpha", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"alpha"}, fleet.started)

	fleet.startErr = fmt.Errorf("wrap: %w", domain.ErrBotRunning)
	rr = doRequest(h.Start, http.MethodPost, "/api/bots/alpha/start", "alpha", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	fleet.startErr = fmt.Errorf("wrap: %w", domain.ErrLockHeld)
	rr = doRequest(h.Start, http.MethodPost, "/api/bots/alpha/start", "alpha", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	fleet.startErr = fmt.Errorf("wrap: %w", domain.ErrUnknownBot)
	rr = doRequest(h.Start, http.MethodPost, "/api/bots/ghost/start", "ghost", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	fleet.stopErr = fmt.Errorf("wrap: %w", domain.ErrBotStopped)
	rr = doRequest(h.Stop, http.MethodPost, "/api/bots/alpha/stop", "alpha", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestUpdateConfigAppliesRecognizedKeys(t *testing.T) {
	fleet := &stubFleet{}
	cfg := testConfig()
	h := NewBotHandler(fleet, cfg, testLogger())

	body := bytes.NewBufferString(`{"capital_per_trade": 15, "max_daily_loss": 40, "confidence_threshold": 0.7, "enabled": false}`)
	rr := doRequest(h.UpdateConfig, http.MethodPut, "/api/bots/alpha/config", "alpha", body)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, 15.0, cfg.Bots[0].CapitalPerTrade)
	assert.Equal(t, 40.0, cfg.Bots[0].MaxDailyLoss)
	assert.Equal(t, 0.7, cfg.Bots[0].ConfidenceThreshold)
	assert.False(t, cfg.Bots[0].Enabled)

	// Live limits were forwarded to the running instance.
	assert.Equal(t, "alpha", fleet.limitsFor)
	assert.Equal(t, 15.0, fleet.perTrade)
	assert.Equal(t, 40.0, fleet.maxLoss)
}

func TestUpdateConfigRejectsInvalidValues(t *testing.T) {
	h := NewBotHandler(&stubFleet{}, testConfig(), testLogger())

	for _, body := range []string{
		`{"capital_per_trade": -1}`,
		`{"max_daily_loss": 0}`,
		`{"confidence_threshold": 1.5}`,
		`not json`,
	} {
		rr := doRequest(h.UpdateConfig, http.MethodPut, "/api/bots/alpha/config", "alpha", strings.NewReader(body))
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}

	rr := doRequest(h.UpdateConfig, http.MethodPut, "/api/bots/ghost/config", "ghost", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

type stubLedger struct {
	recs map[string][]domain.TradeRecord
	err  error
}

func (l *stubLedger) Append(context.Context, domain.TradeRecord) error { return nil }

func (l *stubLedger) TradesForDate(_ context.Context, date string) ([]domain.TradeRecord, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.recs[date], nil
}

func (l *stubLedger) Dates(context.Context) ([]string, error) { return nil, nil }
func (l *stubLedger) Archive(context.Context, string) error   { return nil }

type stubBlob struct {
	objects map[string][]byte
}

func (b *stubBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	data, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *stubBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := b.objects[path]
	return ok, nil
}

func TestLedgerTradesFiltersByBot(t *testing.T) {
	ledger := &stubLedger{recs: map[string][]domain.TradeRecord{
		"2026-03-14": {
			{ID: "t1", BotID: "alpha", NetPnL: 2},
			{ID: "t2", BotID: "beta", NetPnL: -1},
		},
	}}
	h := NewLedgerHandler(ledger, nil, nil, testLogger())

	rr := doRequest(h.Trades, http.MethodGet, "/api/bots/alpha/ledger?date=2026-03-14", "alpha", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Trades []domain.TradeRecord `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Trades, 1)
	assert.Equal(t, "t1", resp.Trades[0].ID)
}

func TestLedgerFallsBackToArchive(t *testing.T) {
	archived, err := json.Marshal([]domain.TradeRecord{
		{ID: "old", BotID: "alpha", NetPnL: 5, ClosedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)

	h := NewLedgerHandler(
		&stubLedger{},
		&stubBlob{objects: map[string][]byte{"ledger/2026-03-01.json": archived}},
		nil,
		testLogger(),
	)

	rr := doRequest(h.Trades, http.MethodGet, "/api/bots/alpha/ledger?date=2026-03-01", "alpha", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"old"`)
}

func TestLedgerRejectsBadDate(t *testing.T) {
	h := NewLedgerHandler(&stubLedger{}, nil, nil, testLogger())
	rr := doRequest(h.Trades, http.MethodGet, "/api/bots/alpha/ledger?date=03-14-2026", "alpha", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

type stubMirror struct {
	recs    map[string][]domain.TradeRecord
	pnl     float64
	listErr error
}

func (m *stubMirror) Insert(context.Context, domain.TradeRecord) error { return nil }

func (m *stubMirror) ListByBot(_ context.Context, botID string, limit int) ([]domain.TradeRecord, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	recs := m.recs[botID]
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (m *stubMirror) SumPnLSince(_ context.Context, botID string, _ time.Time) (float64, error) {
	return m.pnl, nil
}

func TestHistoryServesMirrorTrades(t *testing.T) {
	mirror := &stubMirror{
		recs: map[string][]domain.TradeRecord{
			"alpha": {
				{ID: "t3", BotID: "alpha", NetPnL: 3},
				{ID: "t2", BotID: "alpha", NetPnL: -1},
			},
		},
		pnl: 2,
	}
	h := NewLedgerHandler(&stubLedger{}, nil, mirror, testLogger())

	rr := doRequest(h.History, http.MethodGet, "/api/bots/alpha/history", "alpha", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Trades    []domain.TradeRecord `json:"trades"`
		NetPnL30d float64              `json:"net_pnl_30d"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Trades, 2)
	assert.Equal(t, "t3", resp.Trades[0].ID)
	assert.InDelta(t, 2.0, resp.NetPnL30d, 1e-9)
}

func TestHistoryHonorsLimit(t *testing.T) {
	mirror := &stubMirror{
		recs: map[string][]domain.TradeRecord{
			"alpha": {
				{ID: "t3", BotID: "alpha"},
				{ID: "t2", BotID: "alpha"},
			},
		},
	}
	h := NewLedgerHandler(&stubLedger{}, nil, mirror, testLogger())

	rr := doRequest(h.History, http.MethodGet, "/api/bots/alpha/history?limit=1", "alpha", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"t3"`)
	assert.NotContains(t, rr.Body.String(), `"t2"`)

	rr = doRequest(h.History, http.MethodGet, "/api/bots/alpha/history?limit=zero", "alpha", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHistoryWithoutMirror(t *testing.T) {
	h := NewLedgerHandler(&stubLedger{}, nil, nil, testLogger())
	rr := doRequest(h.History, http.MethodGet, "/api/bots/alpha/history", "alpha", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
