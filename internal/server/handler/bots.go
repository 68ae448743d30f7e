package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/alanyoungcy/windowbot/internal/config"
	"github.com/alanyoungcy/windowbot/internal/domain"
)

// Fleet is the orchestrator surface the bot endpoints consume.
type Fleet interface {
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Status(ctx context.Context) []domain.BotStatus
	StatusOf(ctx context.Context, id string) (domain.BotStatus, error)
	UpdateLimits(id string, capitalPerTrade, maxDailyLoss float64) error
}

// BotHandler serves the fleet control and status endpoints.
type BotHandler struct {
	fleet  Fleet
	cfg    *config.Config
	cfgMu  sync.Mutex
	logger *slog.Logger
}

// NewBotHandler creates a BotHandler.
func NewBotHandler(fleet Fleet, cfg *config.Config, logger *slog.Logger) *BotHandler {
	return &BotHandler{
		fleet:  fleet,
		cfg:    cfg,
		logger: logHandler(logger, "bots"),
	}
}

// List returns the status of every configured bot.
// GET /api/bots
func (h *BotHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"bots": h.fleet.Status(r.Context()),
	})
}

// Get returns one bot's status.
// GET /api/bots/{id}
func (h *BotHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	st, err := h.fleet.StatusOf(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown bot id")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Start launches a configured bot.
// POST /api/bots/{id}/start
func (h *BotHandler) Start(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.fleet.Start(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownBot):
			writeError(w, http.StatusNotFound, "unknown bot id")
		case errors.Is(err, domain.ErrBotRunning):
			writeError(w, http.StatusConflict, "bot already running")
		case errors.Is(err, domain.ErrLockHeld):
			writeError(w, http.StatusConflict, "bot is running in another process")
		default:
			h.logger.Error("start failed", slog.String("bot", id), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "start failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started", "id": id})
}

// Stop halts a running bot. Open positions stay persisted and resume on the
// next start.
// POST /api/bots/{id}/stop
func (h *BotHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.fleet.Stop(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownBot):
			writeError(w, http.StatusNotFound, "unknown bot id")
		case errors.Is(err, domain.ErrBotStopped):
			writeError(w, http.StatusConflict, "bot not running")
		default:
			h.logger.Error("stop failed", slog.String("bot", id), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "stop failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "id": id})
}

// configUpdate carries the recognized runtime-tunable keys. Pointers
// distinguish "absent" from zero.
type configUpdate struct {
	Enabled             *bool    `json:"enabled"`
	CapitalPerTrade     *float64 `json:"capital_per_trade"`
	MaxDailyLoss        *float64 `json:"max_daily_loss"`
	ConfidenceThreshold *float64 `json:"confidence_threshold"`
}

// UpdateConfig applies runtime-tunable settings to one bot. Capital and loss
// limits take effect on the next tick; enabled and confidence_threshold are
// recorded in the config and take effect on the next start.
// PUT /api/bots/{id}/config
func (h *BotHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var upd configUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if upd.CapitalPerTrade != nil && *upd.CapitalPerTrade <= 0 {
		writeError(w, http.StatusBadRequest, "capital_per_trade must be > 0")
		return
	}
	if upd.MaxDailyLoss != nil && *upd.MaxDailyLoss <= 0 {
		writeError(w, http.StatusBadRequest, "max_daily_loss must be > 0")
		return
	}
	if upd.ConfidenceThreshold != nil && (*upd.ConfidenceThreshold <= 0 || *upd.ConfidenceThreshold > 1) {
		writeError(w, http.StatusBadRequest, "confidence_threshold must be in (0,1]")
		return
	}

	h.cfgMu.Lock()
	idx := -1
	for i := range h.cfg.Bots {
		if h.cfg.Bots[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		h.cfgMu.Unlock()
		writeError(w, http.StatusNotFound, "unknown bot id")
		return
	}
	if upd.Enabled != nil {
		h.cfg.Bots[idx].Enabled = *upd.Enabled
	}
	if upd.CapitalPerTrade != nil {
		h.cfg.Bots[idx].CapitalPerTrade = *upd.CapitalPerTrade
	}
	if upd.MaxDailyLoss != nil {
		h.cfg.Bots[idx].MaxDailyLoss = *upd.MaxDailyLoss
	}
	if upd.ConfidenceThreshold != nil {
		h.cfg.Bots[idx].ConfidenceThreshold = *upd.ConfidenceThreshold
	}
	updated := h.cfg.Bots[idx]
	h.cfgMu.Unlock()

	var perTrade, maxLoss float64
	if upd.CapitalPerTrade != nil {
		perTrade = *upd.CapitalPerTrade
	}
	if upd.MaxDailyLoss != nil {
		maxLoss = *upd.MaxDailyLoss
	}
	if perTrade > 0 || maxLoss > 0 {
		if err := h.fleet.UpdateLimits(id, perTrade, maxLoss); err != nil {
			writeError(w, http.StatusNotFound, "unknown bot id")
			return
		}
	}

	h.logger.Info("bot config updated", slog.String("bot", id))
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                   id,
		"enabled":              updated.Enabled,
		"capital_per_trade":    updated.CapitalPerTrade,
		"max_daily_loss":       updated.MaxDailyLoss,
		"confidence_threshold": updated.ConfidenceThreshold,
	})
}
