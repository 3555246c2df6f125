package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/ingestion"
	"github.com/rs/zerolog"
)

// RosterEntry assigns one agent to a campaign
type RosterEntry struct {
	AgentID    string `json:"agentId"`
	CampaignID string `json:"campaignId"`
}

// RosterHandler handles the roster registration endpoint
type RosterHandler struct {
	processor ingestion.EventProcessor
	logger    zerolog.Logger
}

// NewRosterHandler creates a new RosterHandler
func NewRosterHandler(processor ingestion.EventProcessor, logger zerolog.Logger) *RosterHandler {
	return &RosterHandler{
		processor: processor,
		logger:    logger.With().Str("component", "roster").Logger(),
	}
}

// HandleRoster handles POST /internal/agents/roster. Agents land OFFLINE on their campaign.
func (h *RosterHandler) HandleRoster(w http.ResponseWriter, r *http.Request) {
	var roster []RosterEntry
	if err := json.NewDecoder(r.Body).Decode(&roster); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	now := time.Now()
	registered, rejected := 0, 0
	for _, entry := range roster {
		if err := h.processor.ProcessLogin(r.Context(), entry.CampaignID, entry.AgentID, now); err != nil {
			h.logger.Debug().Err(err).Str("agent_id", entry.AgentID).Msg("roster entry rejected")
			rejected++
			continue
		}
		registered++
	}

	h.logger.Info().Int("registered", registered).Int("rejected", rejected).Msg("roster received")
	writeJSON(w, http.StatusOK, map[string]int{"registered": registered, "rejected": rejected})
}
