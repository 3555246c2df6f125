package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/cache"
	"github.com/dennisdiepolder/monti/dialer/internal/ingestion"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// AgentActionsHandler provides REST endpoints for agent state reports
type AgentActionsHandler struct {
	processor ingestion.EventProcessor
	tracker   *cache.AgentStateTracker
	logger    zerolog.Logger
}

// NewAgentActionsHandler creates a new AgentActionsHandler
func NewAgentActionsHandler(processor ingestion.EventProcessor, tracker *cache.AgentStateTracker, logger zerolog.Logger) *AgentActionsHandler {
	return &AgentActionsHandler{
		processor: processor,
		tracker:   tracker,
		logger:    logger.With().Str("component", "agent_actions").Logger(),
	}
}

// Transition handles POST /campaigns/{id}/agents/{agentId}/transition
func (h *AgentActionsHandler) Transition(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")
	agentID := chi.URLParam(r, "agentId")

	var req types.AgentTransition
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.NewState.Valid() {
		writeError(w, http.StatusBadRequest, "unknown newState")
		return
	}

	agent, ok := h.tracker.Get(agentID)
	if !ok || agent.CampaignID != campaignID {
		writeError(w, http.StatusNotFound, "agent not found on campaign")
		return
	}

	err := h.processor.ProcessTransition(r.Context(), agentID, req.NewState, req.At)
	if err != nil {
		h.writeTrackerError(w, err)
		return
	}

	agent, _ = h.tracker.Get(agentID)
	writeJSON(w, http.StatusOK, agent)
}

// Login handles POST /campaigns/{id}/agents/{agentId}/login
func (h *AgentActionsHandler) Login(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")
	agentID := chi.URLParam(r, "agentId")

	if err := h.processor.ProcessLogin(r.Context(), campaignID, agentID, time.Now()); err != nil {
		h.writeTrackerError(w, err)
		return
	}

	agent, _ := h.tracker.Get(agentID)
	writeJSON(w, http.StatusOK, agent)
}

// Logout handles POST /campaigns/{id}/agents/{agentId}/logout
func (h *AgentActionsHandler) Logout(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")
	agentID := chi.URLParam(r, "agentId")

	agent, ok := h.tracker.Get(agentID)
	if !ok || agent.CampaignID != campaignID {
		writeError(w, http.StatusNotFound, "agent not found on campaign")
		return
	}
	if err := h.processor.ProcessLogout(r.Context(), agentID); err != nil {
		h.writeTrackerError(w, err)
		return
	}

	h.logger.Info().Str("agent_id", agentID).Str("campaign_id", campaignID).Msg("agent logged out via API")
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "agent logged out",
		"agentId": agentID,
	})
}

// List handles GET /campaigns/{id}/agents
func (h *AgentActionsHandler) List(w http.ResponseWriter, r *http.Request) {
	agents := h.tracker.List(chi.URLParam(r, "id"))
	if agents == nil {
		agents = []types.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (h *AgentActionsHandler) writeTrackerError(w http.ResponseWriter, err error) {
	var invalid *cache.InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "invalid transition",
			"from":  string(invalid.From),
			"to":    string(invalid.To),
		})
	case errors.Is(err, cache.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, "agent not found")
	case errors.Is(err, cache.ErrStaleTransition), errors.Is(err, cache.ErrAgentAssigned):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ingestion.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error().Err(err).Msg("agent action failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
