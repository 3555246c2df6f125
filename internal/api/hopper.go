package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dennisdiepolder/monti/dialer/internal/hopper"
	"github.com/dennisdiepolder/monti/dialer/internal/pacing"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const (
	// maxImport bounds one lead import request
	maxImport = 10000
	// maxImportBytes caps the request body before it is decoded
	maxImportBytes = 4 << 20
)

// HopperHandler imports leads and reports hopper levels
type HopperHandler struct {
	hopper *hopper.Manager
	engine *pacing.Engine
	logger zerolog.Logger
}

// NewHopperHandler creates a new HopperHandler
func NewHopperHandler(mgr *hopper.Manager, engine *pacing.Engine, logger zerolog.Logger) *HopperHandler {
	return &HopperHandler{
		hopper: mgr,
		engine: engine,
		logger: logger.With().Str("component", "hopper_handler").Logger(),
	}
}

type importRequest struct {
	Leads []types.HopperEntry `json:"leads"`
}

// ImportLeads handles POST /campaigns/{id}/hopper/leads
func (h *HopperHandler) ImportLeads(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")
	if _, ok := h.engine.Config(campaignID); !ok {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Leads) > maxImport {
		writeError(w, http.StatusRequestEntityTooLarge, "too many leads")
		return
	}

	loaded := h.hopper.Load(campaignID, req.Leads)
	h.logger.Info().
		Str("campaign_id", campaignID).
		Int("loaded", loaded).
		Int("skipped", len(req.Leads)-loaded).
		Msg("leads imported")

	stats, _ := h.hopper.Stats(campaignID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"loaded":  loaded,
		"skipped": len(req.Leads) - loaded,
		"stats":   stats,
	})
}

// GetStats handles GET /campaigns/{id}/hopper/stats
func (h *HopperHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.hopper.Stats(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
