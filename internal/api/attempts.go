package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/ingestion"
	"github.com/dennisdiepolder/monti/dialer/internal/storage"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// AttemptsHandler accepts attempt outcomes and serves attempt history
type AttemptsHandler struct {
	processor ingestion.EventProcessor
	store     storage.Store
	logger    zerolog.Logger
}

// NewAttemptsHandler creates a new AttemptsHandler
func NewAttemptsHandler(processor ingestion.EventProcessor, store storage.Store, logger zerolog.Logger) *AttemptsHandler {
	return &AttemptsHandler{
		processor: processor,
		store:     store,
		logger:    logger.With().Str("component", "attempts_handler").Logger(),
	}
}

type outcomeRequest struct {
	Outcome types.Outcome `json:"outcome"`
	At      time.Time     `json:"at"`
}

// RecordOutcome handles POST /campaigns/{id}/attempts/{attemptId}/outcome.
// Replays and unknown attempts are acknowledged with 202 and change nothing.
func (h *AttemptsHandler) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")
	attemptID := chi.URLParam(r, "attemptId")

	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.processor.ProcessOutcome(r.Context(), campaignID, attemptID, req.Outcome, req.At)
	if err != nil {
		if errors.Is(err, ingestion.ErrInvalidOutcome) || errors.Is(err, ingestion.ErrInvalidEvent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("attempt_id", attemptID).Msg("failed to record outcome")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusOK
	if res != ingestion.OutcomeApplied {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]string{
		"attemptId": attemptID,
		"result":    string(res),
	})
}

// GetHistory returns persisted attempts of a campaign for one day
// GET /campaigns/{id}/attempts?date=YYYY-MM-DD
func (h *AttemptsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")

	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	records, err := h.store.GetAttemptRecords(r.Context(), campaignID, date)
	if err != nil {
		h.logger.Error().Err(err).
			Str("campaign_id", campaignID).
			Str("date", date).
			Msg("failed to get attempt records")
		writeError(w, http.StatusInternalServerError, "failed to retrieve attempts")
		return
	}

	if records == nil {
		records = []types.AttemptRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
