package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureReporter struct {
	mu  sync.Mutex
	evs []types.TelephonyEvent
}

func (c *captureReporter) Send(_ context.Context, evs ...types.TelephonyEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evs = append(c.evs, evs...)
	return nil
}

func (c *captureReporter) events() []types.TelephonyEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.TelephonyEvent(nil), c.evs...)
}

func (c *captureReporter) outcomes() []types.Outcome {
	var out []types.Outcome
	for _, ev := range c.events() {
		if ev.Type == types.EventOutcome {
			out = append(out, ev.Outcome)
		}
	}
	return out
}

func instantConfig(agents int, answer float64) Config {
	return Config{
		Campaigns:         []string{"camp-1"},
		AgentsPerCampaign: agents,
		AnswerProb:        answer,
	}
}

func setupTestAPI(t *testing.T) (*Simulator, *captureReporter, *mux.Router) {
	t.Helper()
	rep := &captureReporter{}
	s := NewSimulator(rep, 1, zerolog.Nop())
	router := mux.NewRouter()
	NewAPI(s, zerolog.Nop()).SetupRoutes(router)
	return s, rep, router
}

func do(router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestStartLogsAgentsIn(t *testing.T) {
	s, rep, router := setupTestAPI(t)

	w := do(router, http.MethodPost, "/start", instantConfig(2, 1))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, s.Status().Running)

	evs := rep.events()
	require.Len(t, evs, 4)
	assert.Equal(t, types.EventLogin, evs[0].Type)
	assert.Equal(t, "camp-1-agent-001", evs[0].AgentID)
	assert.Equal(t, types.StateReady, evs[1].NewState)

	w = do(router, http.MethodPost, "/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestOriginateRequiresRunning(t *testing.T) {
	_, _, router := setupTestAPI(t)
	w := do(router, http.MethodPost, "/originate", types.DialCommand{AttemptID: "att-1", CampaignID: "camp-1"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(router, http.MethodPost, "/originate", map[string]string{"leadId": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnsweredCallWalksAgentThroughStates(t *testing.T) {
	s, rep, router := setupTestAPI(t)
	require.NoError(t, s.SetConfig(instantConfig(1, 1)))
	require.NoError(t, s.Start(context.Background()))

	w := do(router, http.MethodPost, "/originate", types.DialCommand{AttemptID: "att-1", CampaignID: "camp-1"})
	require.Equal(t, http.StatusAccepted, w.Code)

	assert.Eventually(t, func() bool { return s.Status().InFlight == 0 && s.Status().Answered == 1 }, time.Second, 5*time.Millisecond)

	var states []types.AgentState
	for _, ev := range rep.events()[2:] {
		if ev.Type == types.EventTransition {
			states = append(states, ev.NewState)
		}
	}
	assert.Equal(t, []types.AgentState{types.StateOnCall, types.StateWrapUp, types.StateReady}, states)
	assert.Equal(t, []types.Outcome{types.OutcomeAnswered}, rep.outcomes())
	assert.Equal(t, 1, s.Status().FreeAgents)
}

func TestAnsweredWithoutFreeAgentIsAbandoned(t *testing.T) {
	s, rep, _ := setupTestAPI(t)
	require.NoError(t, s.SetConfig(instantConfig(0, 1)))
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Originate(types.DialCommand{AttemptID: "att-1", CampaignID: "camp-1"}))
	assert.Eventually(t, func() bool { return s.Status().Abandoned == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []types.Outcome{types.OutcomeAbandoned}, rep.outcomes())
}

func TestUnansweredOutcomes(t *testing.T) {
	s, rep, _ := setupTestAPI(t)
	cfg := instantConfig(1, 0)
	cfg.BusyProb = 1
	require.NoError(t, s.SetConfig(cfg))
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Originate(types.DialCommand{AttemptID: "att-1", CampaignID: "camp-1"}))
	assert.Eventually(t, func() bool { return s.Status().Busy == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []types.Outcome{types.OutcomeBusy}, rep.outcomes())
}

func TestStopLogsAgentsOut(t *testing.T) {
	s, rep, router := setupTestAPI(t)
	require.NoError(t, s.SetConfig(instantConfig(2, 0)))
	require.NoError(t, s.Start(context.Background()))

	w := do(router, http.MethodPost, "/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, s.Status().Running)

	logouts := 0
	for _, ev := range rep.events() {
		if ev.Type == types.EventLogout {
			logouts++
		}
	}
	assert.Equal(t, 2, logouts)

	w = do(router, http.MethodPost, "/stop", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestConfigHandler(t *testing.T) {
	s, _, router := setupTestAPI(t)

	w := do(router, http.MethodGet, "/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cfg Config
	require.NoError(t, json.NewDecoder(w.Body).Decode(&cfg))
	assert.Equal(t, DefaultConfig().AnswerProb, cfg.AnswerProb)
	assert.Equal(t, DefaultConfig().RingMax, cfg.RingMax)

	w = do(router, http.MethodPut, "/config", map[string]interface{}{"answerProb": 0.9, "busyProb": 0.5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPut, "/config", map[string]interface{}{"answerProb": 0.5, "ringMax": "30s"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.5, s.Config().AnswerProb)
	assert.Equal(t, Duration(30*time.Second), s.Config().RingMax)

	require.NoError(t, s.Start(context.Background()))
	w = do(router, http.MethodPut, "/config", map[string]interface{}{"answerProb": 0.2})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestServiceClientPostsBatch(t *testing.T) {
	var got []types.TelephonyEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/events", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&got)
		if len(got) > 1 {
			w.Write([]byte(`{"accepted":1,"rejected":1,"errors":["bad"]}`))
			return
		}
		w.Write([]byte(`{"accepted":1}`))
	}))
	defer srv.Close()

	c := NewServiceClient(srv.URL + "/")
	require.NoError(t, c.Send(context.Background(), types.TelephonyEvent{Type: types.EventLogin}))
	assert.Len(t, got, 1)

	err := c.Send(context.Background(), types.TelephonyEvent{Type: types.EventLogin}, types.TelephonyEvent{Type: "x"})
	assert.ErrorContains(t, err, "1 events rejected")
}
