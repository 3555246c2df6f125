package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/ingestion"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	mu       sync.Mutex
	received []types.TelephonyEvent
}

func (p *recordingProcessor) record(ev types.TelephonyEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append(p.received, ev)
}

func (p *recordingProcessor) ProcessLogin(_ context.Context, campaignID, agentID string, at time.Time) error {
	p.record(types.TelephonyEvent{Type: types.EventLogin, CampaignID: campaignID, AgentID: agentID, At: at})
	return nil
}

func (p *recordingProcessor) ProcessLogout(_ context.Context, agentID string) error {
	p.record(types.TelephonyEvent{Type: types.EventLogout, AgentID: agentID})
	return nil
}

func (p *recordingProcessor) ProcessTransition(_ context.Context, agentID string, newState types.AgentState, at time.Time) error {
	p.record(types.TelephonyEvent{Type: types.EventTransition, AgentID: agentID, NewState: newState, At: at})
	return nil
}

func (p *recordingProcessor) ProcessOutcome(_ context.Context, campaignID, attemptID string, outcome types.Outcome, at time.Time) (ingestion.OutcomeResult, error) {
	p.record(types.TelephonyEvent{Type: types.EventOutcome, CampaignID: campaignID, AttemptID: attemptID, Outcome: outcome, At: at})
	if attemptID == "seen" {
		return ingestion.OutcomeDuplicate, nil
	}
	return ingestion.OutcomeApplied, nil
}

func startFeed(t *testing.T) (*ACDFeed, *recordingProcessor, *websocket.Conn) {
	t.Helper()
	feed := NewACDFeed(zerolog.Nop())
	proc := &recordingProcessor{}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- feed.Start(ctx, proc) }()
	require.Eventually(t, feed.started.Load, time.Second, 5*time.Millisecond)

	srv := httptest.NewServer(feed)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-errCh
		srv.Close()
	})
	return feed, proc, conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, frame string) types.EventAck {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack types.EventAck
	require.NoError(t, conn.ReadJSON(&ack))
	return ack
}

func TestACDFeedAcksEachEvent(t *testing.T) {
	feed, proc, conn := startFeed(t)
	assert.Eventually(t, func() bool { return feed.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)

	ack := roundTrip(t, conn, `{"type":"login","campaignId":"camp-1","agentId":"a1","ref":"r1"}`)
	assert.Equal(t, types.EventAck{Type: "ack", Ref: "r1", Status: "ok"}, ack)

	ack = roundTrip(t, conn, `{"type":"outcome","campaignId":"camp-1","attemptId":"att-1","outcome":"ANSWERED","ref":"r2"}`)
	assert.Equal(t, "applied", ack.Status)
	assert.Equal(t, "r2", ack.Ref)

	ack = roundTrip(t, conn, `{"type":"outcome","campaignId":"camp-1","attemptId":"seen","outcome":"ANSWERED","ref":"r3"}`)
	assert.Equal(t, "duplicate", ack.Status)

	proc.mu.Lock()
	defer proc.mu.Unlock()
	require.Len(t, proc.received, 3)
	assert.Equal(t, types.EventLogin, proc.received[0].Type)
	assert.False(t, proc.received[0].At.IsZero(), "missing timestamps default to now")
}

func TestACDFeedRejectsBadFrames(t *testing.T) {
	_, proc, conn := startFeed(t)

	ack := roundTrip(t, conn, `not json`)
	assert.Equal(t, "error", ack.Status)
	assert.Equal(t, "invalid JSON", ack.Error)

	ack = roundTrip(t, conn, `{"type":"teleport","ref":"r9"}`)
	assert.Equal(t, "error", ack.Status)
	assert.Equal(t, "r9", ack.Ref)
	assert.NotEmpty(t, ack.Error)

	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.Empty(t, proc.received)
}

func TestACDFeedRefusesBeforeStart(t *testing.T) {
	feed := NewACDFeed(zerolog.Nop())
	rr := httptest.NewRecorder()
	feed.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/internal/acd", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestACDFeedStartTwice(t *testing.T) {
	feed := NewACDFeed(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go feed.Start(ctx, &recordingProcessor{})
	require.Eventually(t, feed.started.Load, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, feed.Start(ctx, &recordingProcessor{}), ErrFeedStarted)
}
