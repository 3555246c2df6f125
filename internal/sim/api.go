package sim

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// API is the HTTP surface of the simulator: the dialer originates calls
// here and operators drive the run through the control endpoints
type API struct {
	sim    *Simulator
	logger zerolog.Logger
}

// NewAPI creates a new control API
func NewAPI(sim *Simulator, logger zerolog.Logger) *API {
	return &API{sim: sim, logger: logger}
}

// SetupRoutes configures HTTP routes
func (api *API) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/health", api.healthHandler).Methods("GET")
	router.HandleFunc("/originate", api.originateHandler).Methods("POST")
	router.HandleFunc("/status", api.statusHandler).Methods("GET")
	router.HandleFunc("/start", api.startHandler).Methods("POST")
	router.HandleFunc("/stop", api.stopHandler).Methods("POST")
	router.HandleFunc("/config", api.configHandler).Methods("GET", "PUT")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (api *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// originateHandler accepts one dial command from the dialer's HTTP dispatcher
func (api *API) originateHandler(w http.ResponseWriter, r *http.Request) {
	var cmd types.DialCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if cmd.AttemptID == "" || cmd.CampaignID == "" {
		http.Error(w, "attemptId and campaignId are required", http.StatusBadRequest)
		return
	}

	if err := api.sim.Originate(cmd); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"attemptId": cmd.AttemptID})
}

func (api *API) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.sim.Status())
}

// startHandler starts the simulation. An optional body overrides the config first.
func (api *API) startHandler(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > 0 {
		cfg := api.sim.Config()
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := api.sim.SetConfig(cfg); err != nil {
			api.configError(w, err)
			return
		}
	}

	if err := api.sim.Start(r.Context()); err != nil {
		if errors.Is(err, ErrRunning) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		api.logger.Error().Err(err).Msg("failed to start simulation")
		http.Error(w, "failed to start simulation", http.StatusBadGateway)
		return
	}

	st := api.sim.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "simulation started",
		"agents":  st.Agents,
	})
}

func (api *API) stopHandler(w http.ResponseWriter, r *http.Request) {
	if err := api.sim.Stop(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "simulation stopped"})
}

func (api *API) configHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, api.sim.Config())
		return
	}

	cfg := api.sim.Config()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := api.sim.SetConfig(cfg); err != nil {
		api.configError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "configuration updated"})
}

func (api *API) configError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrRunning) {
		http.Error(w, "cannot change config while simulation is running", http.StatusConflict)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

// Start serves the API until ctx is cancelled
func (api *API) Start(ctx context.Context, addr string) error {
	router := mux.NewRouter()
	api.SetupRoutes(router)

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		api.logger.Info().Msg("shutting down control API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	api.logger.Info().Str("addr", addr).Msg("control API started")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
