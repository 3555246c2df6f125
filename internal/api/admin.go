package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/auth"
	"github.com/dennisdiepolder/monti/dialer/internal/cache"
	"github.com/dennisdiepolder/monti/dialer/internal/compliance"
	"github.com/dennisdiepolder/monti/dialer/internal/events"
	"github.com/dennisdiepolder/monti/dialer/internal/hopper"
	"github.com/dennisdiepolder/monti/dialer/internal/pacing"
	"github.com/dennisdiepolder/monti/dialer/internal/storage"
	"github.com/rs/zerolog"
)

// AdminDeps are the in-memory components an admin reset clears
type AdminDeps struct {
	Tracker   *cache.AgentStateTracker
	Hopper    *hopper.Manager
	Registry  *cache.AttemptRegistry
	Governor  *compliance.Governor
	Predictor *pacing.Predictor
	Engine    *pacing.Engine
	Events    *events.Buffer
	Store     storage.Store
}

// AdminHandler proxies simulator control and handles local resets
type AdminHandler struct {
	simURL string
	deps   AdminDeps
	logger zerolog.Logger
	client *http.Client
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(simURL string, deps AdminDeps, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		simURL: strings.TrimSuffix(simURL, "/"),
		deps:   deps,
		logger: logger.With().Str("component", "admin").Logger(),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// RequireAdmin middleware, only the admin role passes
func RequireAdmin(next http.Handler) http.Handler {
	return auth.RequireRole(auth.RoleAdmin)(next)
}

// RequireSupervisor middleware, admin or supervisor
func RequireSupervisor(next http.Handler) http.Handler {
	return auth.RequireRole(auth.RoleAdmin, auth.RoleSupervisor)(next)
}

// proxyToSim forwards a request to the telephony simulator and copies the response back
func (h *AdminHandler) proxyToSim(w http.ResponseWriter, r *http.Request, method, path string) {
	url := h.simURL + path

	var body io.Reader
	if r.Body != nil && (method == http.MethodPost || method == http.MethodPut) {
		body = r.Body
	}

	req, err := http.NewRequestWithContext(r.Context(), method, url, body)
	if err != nil {
		h.logger.Error().Err(err).Str("path", path).Msg("failed to create proxy request")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Error().Err(err).Str("url", url).Msg("failed to reach simulator")
		writeError(w, http.StatusBadGateway, "simulator unavailable")
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// GetSimStatus proxies GET /status to the simulator
func (h *AdminHandler) GetSimStatus(w http.ResponseWriter, r *http.Request) {
	h.proxyToSim(w, r, http.MethodGet, "/status")
}

// StartSim proxies POST /start to the simulator
func (h *AdminHandler) StartSim(w http.ResponseWriter, r *http.Request) {
	h.proxyToSim(w, r, http.MethodPost, "/start")
}

// StopSim proxies POST /stop to the simulator
func (h *AdminHandler) StopSim(w http.ResponseWriter, r *http.Request) {
	h.proxyToSim(w, r, http.MethodPost, "/stop")
}

// UpdateSimConfig proxies PUT /config to the simulator
func (h *AdminHandler) UpdateSimConfig(w http.ResponseWriter, r *http.Request) {
	h.proxyToSim(w, r, http.MethodPut, "/config")
}

// ResetMemory clears in-memory dialing state. Pacing configs and run states stay.
func (h *AdminHandler) ResetMemory(w http.ResponseWriter, r *http.Request) {
	agentsCleared := h.deps.Tracker.Clear()
	leadsCleared := h.deps.Hopper.Clear()
	attemptsCleared := h.deps.Registry.Clear()
	h.deps.Governor.Reset()
	h.deps.Predictor.Reset()
	h.deps.Engine.Reset()
	h.deps.Events.Reset()

	h.logger.Info().
		Int("agents", agentsCleared).
		Int("leads", leadsCleared).
		Int("attempts", attemptsCleared).
		Msg("dialer memory reset")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":         "dialer memory reset",
		"agentsCleared":   agentsCleared,
		"leadsCleared":    leadsCleared,
		"attemptsCleared": attemptsCleared,
	})
}

// WipeStore truncates every persisted table
func (h *AdminHandler) WipeStore(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Store.TruncateAll(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("failed to truncate store")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to truncate: %s", err))
		return
	}

	h.logger.Info().Msg("store truncated")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "store truncated",
	})
}

// RecentEvents handles GET /api/events?limit=50&type=compliance_breach
func (h *AdminHandler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var out []events.Event
	if eventType := r.URL.Query().Get("type"); eventType != "" {
		out = h.deps.Events.OfType(eventType)
		if len(out) > limit {
			out = out[:limit]
		}
	} else {
		out = h.deps.Events.Recent(limit)
	}

	campaignID := r.URL.Query().Get("campaign")
	filtered := make([]events.Event, 0, len(out))
	for _, ev := range out {
		if campaignID != "" && ev.CampaignID != campaignID {
			continue
		}
		if ev.CampaignID != "" && !canAccess(r, ev.CampaignID) {
			continue
		}
		filtered = append(filtered, ev)
	}
	writeJSON(w, http.StatusOK, filtered)
}
