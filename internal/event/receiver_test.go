package event

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/ingestion"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProcessor struct {
	transitions []types.AgentState
	outcomes    map[string]ingestion.OutcomeResult
}

func (s *stubProcessor) ProcessLogin(context.Context, string, string, time.Time) error { return nil }
func (s *stubProcessor) ProcessLogout(context.Context, string) error                    { return nil }

func (s *stubProcessor) ProcessTransition(_ context.Context, _ string, st types.AgentState, _ time.Time) error {
	s.transitions = append(s.transitions, st)
	return nil
}

func (s *stubProcessor) ProcessOutcome(_ context.Context, _, attemptID string, _ types.Outcome, _ time.Time) (ingestion.OutcomeResult, error) {
	if res, ok := s.outcomes[attemptID]; ok {
		return res, nil
	}
	return ingestion.OutcomeApplied, nil
}

func post(t *testing.T, r *Receiver, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	r.HandleEvents(rr, httptest.NewRequest(http.MethodPost, "/internal/events", bytes.NewReader(buf)))
	return rr
}

func TestHandleEventsCountsResults(t *testing.T) {
	proc := &stubProcessor{outcomes: map[string]ingestion.OutcomeResult{
		"dup":   ingestion.OutcomeDuplicate,
		"ghost": ingestion.OutcomeUnknown,
	}}
	r := NewReceiver(proc, zerolog.Nop())

	rr := post(t, r, []types.TelephonyEvent{
		{Type: types.EventLogin, CampaignID: "c1", AgentID: "a1"},
		{Type: types.EventTransition, AgentID: "a1", NewState: types.StateReady},
		{Type: types.EventTransition, AgentID: "a1", NewState: types.StateOnCall},
		{Type: types.EventOutcome, CampaignID: "c1", AttemptID: "ok", Outcome: types.OutcomeAnswered},
		{Type: types.EventOutcome, CampaignID: "c1", AttemptID: "dup", Outcome: types.OutcomeAnswered},
		{Type: types.EventOutcome, CampaignID: "c1", AttemptID: "ghost", Outcome: types.OutcomeBusy},
		{Type: "bogus"},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var res BatchResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.Equal(t, 4, res.Accepted)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.Unknown)
	assert.Equal(t, 1, res.Rejected)
	assert.Len(t, res.Errors, 1)

	// order within a batch is preserved
	assert.Equal(t, []types.AgentState{types.StateReady, types.StateOnCall}, proc.transitions)
}

func TestHandleEventsRejectsBadBody(t *testing.T) {
	r := NewReceiver(&stubProcessor{}, zerolog.Nop())

	rr := httptest.NewRecorder()
	r.HandleEvents(rr, httptest.NewRequest(http.MethodPost, "/internal/events", bytes.NewBufferString("{not json")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	r.HandleEvents(rr, httptest.NewRequest(http.MethodGet, "/internal/events", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestGetStats(t *testing.T) {
	r := NewReceiver(&stubProcessor{}, zerolog.Nop())
	post(t, r, []types.TelephonyEvent{
		{Type: types.EventLogout, AgentID: "a1"},
		{Type: "bogus"},
	})

	rr := httptest.NewRecorder()
	r.GetStats(rr, httptest.NewRequest(http.MethodGet, "/internal/events/stats", nil))

	var stats map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&stats))
	assert.Equal(t, 2.0, stats["events_received"])
	assert.Equal(t, 1.0, stats["events_rejected"])
}
