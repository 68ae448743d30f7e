package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

// LedgerHandler serves per-bot trade history from the local daily ledger,
// falling back to the archive bucket for rolled-over dates and to the trade
// mirror for cross-date queries.
type LedgerHandler struct {
	ledger domain.LedgerStore
	blob   domain.BlobReader       // nil when no archive backend is configured
	mirror domain.TradeMirrorStore // nil when no mirror database is configured
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler. blob and mirror may be nil.
func NewLedgerHandler(ledger domain.LedgerStore, blob domain.BlobReader, mirror domain.TradeMirrorStore, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledger,
		blob:   blob,
		mirror: mirror,
		logger: logHandler(logger, "ledger"),
	}
}

// Trades returns one bot's trade records for a UTC date (default today).
// GET /api/bots/{id}/ledger?date=2006-01-02
func (h *LedgerHandler) Trades(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be formatted 2006-01-02")
		return
	}

	recs, err := h.ledger.TradesForDate(r.Context(), date)
	if err != nil {
		h.logger.Error("ledger read failed", slog.String("date", date), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "ledger read failed")
		return
	}
	if len(recs) == 0 && h.blob != nil {
		recs, err = h.archivedTrades(r, date)
		if err != nil {
			h.logger.Warn("archive read failed", slog.String("date", date), slog.String("error", err.Error()))
		}
	}

	out := make([]domain.TradeRecord, 0, len(recs))
	for _, rec := range recs {
		if rec.BotID == id {
			out = append(out, rec)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"bot_id": id,
		"date":   date,
		"trades": out,
	})
}

// History returns one bot's most recent trades from the mirror database,
// regardless of date, with a rolling 30-day net P&L total.
// GET /api/bots/{id}/history?limit=100
func (h *LedgerHandler) History(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	if h.mirror == nil {
		writeError(w, http.StatusNotFound, "no trade mirror configured")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	recs, err := h.mirror.ListByBot(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("mirror read failed", slog.String("bot", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "trade history read failed")
		return
	}

	since := time.Now().UTC().AddDate(0, 0, -30)
	pnl30d, err := h.mirror.SumPnLSince(r.Context(), id, since)
	if err != nil {
		h.logger.Warn("mirror pnl sum failed", slog.String("bot", id), slog.String("error", err.Error()))
	}

	if recs == nil {
		recs = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bot_id":      id,
		"trades":      recs,
		"net_pnl_30d": pnl30d,
	})
}

func (h *LedgerHandler) archivedTrades(r *http.Request, date string) ([]domain.TradeRecord, error) {
	path := "ledger/" + date + ".json"
	exists, err := h.blob.Exists(r.Context(), path)
	if err != nil || !exists {
		return nil, err
	}
	rc, err := h.blob.Get(r.Context(), path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var recs []domain.TradeRecord
	if err := json.NewDecoder(rc).Decode(&recs); err != nil {
		return nil, err
	}
	return recs, nil
}
