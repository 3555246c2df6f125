package api

import (
	"net/http"

	"github.com/dennisdiepolder/monti/dialer/internal/auth"
	"github.com/go-chi/chi/v5"
)

// Handlers groups the handlers mounted on the authenticated router
type Handlers struct {
	Pacing   *PacingHandler
	Agents   *AgentActionsHandler
	Attempts *AttemptsHandler
	Hopper   *HopperHandler
	Admin    *AdminHandler
}

// canAccess reports whether the caller may see a campaign. Requests without
// claims only reach here on routes that skip auth.
func canAccess(r *http.Request, campaignID string) bool {
	claims, ok := auth.GetUserFromContext(r.Context())
	return ok && claims.CanAccessCampaign(campaignID)
}

// RequireCampaignAccess rejects users without a grant for the {id} campaign
func RequireCampaignAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !canAccess(r, chi.URLParam(r, "id")) {
			writeError(w, http.StatusForbidden, "no access to campaign")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Mount registers the campaign and admin routes. The caller applies authentication.
func Mount(r chi.Router, h Handlers) {
	r.Get("/campaigns", h.Pacing.ListSnapshots)

	r.Route("/campaigns/{id}", func(r chi.Router) {
		r.Use(RequireCampaignAccess)

		r.Get("/pacing/snapshot", h.Pacing.GetSnapshot)
		r.Get("/pacing/config", h.Pacing.GetConfig)
		r.Get("/agents", h.Agents.List)
		r.Get("/hopper/stats", h.Hopper.GetStats)
		r.Get("/attempts", h.Attempts.GetHistory)

		// telephony and agent desktop reports
		r.Post("/agents/{agentId}/transition", h.Agents.Transition)
		r.Post("/agents/{agentId}/login", h.Agents.Login)
		r.Post("/agents/{agentId}/logout", h.Agents.Logout)
		r.Post("/attempts/{attemptId}/outcome", h.Attempts.RecordOutcome)

		r.Group(func(r chi.Router) {
			r.Use(RequireSupervisor)
			r.Post("/pacing/config", h.Pacing.SetConfig)
			r.Post("/pause", h.Pacing.Pause)
			r.Post("/resume", h.Pacing.Resume)
			r.Post("/hopper/leads", h.Hopper.ImportLeads)
		})
	})

	r.Get("/api/events", h.Admin.RecentEvents)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(RequireAdmin)
		r.Post("/reset", h.Admin.ResetMemory)
		r.Delete("/store", h.Admin.WipeStore)
		r.Get("/sim/status", h.Admin.GetSimStatus)
		r.Post("/sim/start", h.Admin.StartSim)
		r.Post("/sim/stop", h.Admin.StopSim)
		r.Put("/sim/config", h.Admin.UpdateSimConfig)
	})
}
