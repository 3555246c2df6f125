package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dennisdiepolder/monti/dialer/internal/pacing"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// PacingHandler exposes pacing config, run state and snapshots
type PacingHandler struct {
	engine *pacing.Engine
	logger zerolog.Logger
}

// NewPacingHandler creates a new PacingHandler
func NewPacingHandler(engine *pacing.Engine, logger zerolog.Logger) *PacingHandler {
	return &PacingHandler{
		engine: engine,
		logger: logger.With().Str("component", "pacing_handler").Logger(),
	}
}

// SetConfig handles POST /campaigns/{id}/pacing/config
func (h *PacingHandler) SetConfig(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")

	var cfg types.PacingConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.engine.SetConfig(r.Context(), campaignID, cfg); err != nil {
		if errors.Is(err, types.ErrInvalidConfig) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("campaign_id", campaignID).Msg("failed to apply pacing config")
		writeError(w, http.StatusInternalServerError, "failed to apply pacing config")
		return
	}

	applied, _ := h.engine.Config(campaignID)
	writeJSON(w, http.StatusOK, applied)
}

// GetConfig handles GET /campaigns/{id}/pacing/config
func (h *PacingHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.engine.Config(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// GetSnapshot handles GET /campaigns/{id}/pacing/snapshot
func (h *PacingHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.engine.Snapshot(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListSnapshots handles GET /campaigns
func (h *PacingHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	out := make([]*types.PacingSnapshot, 0)
	for _, id := range h.engine.Campaigns() {
		if !canAccess(r, id) {
			continue
		}
		if snap, ok := h.engine.Snapshot(id); ok {
			out = append(out, snap)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// Pause handles POST /campaigns/{id}/pause
func (h *PacingHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setRunState(w, r, false)
}

// Resume handles POST /campaigns/{id}/resume
func (h *PacingHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setRunState(w, r, true)
}

func (h *PacingHandler) setRunState(w http.ResponseWriter, r *http.Request, running bool) {
	campaignID := chi.URLParam(r, "id")

	var err error
	if running {
		err = h.engine.Resume(r.Context(), campaignID)
	} else {
		err = h.engine.Pause(r.Context(), campaignID)
	}
	if errors.Is(err, pacing.ErrCampaignNotFound) {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	state := types.RunPaused
	if running {
		state = types.RunRunning
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"campaignId": campaignID,
		"runState":   string(state),
	})
}
