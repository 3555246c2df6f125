package aggregator

import (
	"errors"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/alerts"
	"github.com/dennisdiepolder/monti/dialer/internal/cache"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSnapshots []*types.PacingSnapshot

func (s staticSnapshots) Snapshots() []*types.PacingSnapshot { return s }

type staticHoppers struct{}

func (staticHoppers) Stats(campaignID string) (types.HopperStats, error) {
	if campaignID == "broken" {
		return types.HopperStats{}, errors.New("unknown campaign")
	}
	return types.HopperStats{CampaignID: campaignID, Pending: 3}, nil
}

type captureHub struct {
	sent []*types.SnapshotMessage
}

func (h *captureHub) Broadcast(msg *types.SnapshotMessage) { h.sent = append(h.sent, msg) }
func (h *captureHub) ClientCount() int                      { return 1 }

func TestCycleBroadcastsSnapshotsAndAlerts(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tracker := cache.NewAgentStateTracker(2*time.Minute, zerolog.Nop())
	hour := now.Add(-time.Hour)
	for _, id := range []string{"a1", "a2", "a3", "a4"} {
		require.NoError(t, tracker.Login(id, "camp-1", hour))
		require.NoError(t, tracker.Transition(id, types.StateReady, hour))
	}
	require.NoError(t, tracker.Transition("a1", types.StatePaused, hour))
	require.NoError(t, tracker.Transition("a2", types.StateOnCall, hour))
	require.NoError(t, tracker.Transition("a4", types.StatePaused, now.Add(-10*time.Second)))
	require.NoError(t, tracker.Transition("a4", types.StateReady, now.Add(-5*time.Second)))

	hub := &captureHub{}
	agg := NewAggregator(
		staticSnapshots{{CampaignID: "camp-1"}, {CampaignID: "broken"}},
		tracker,
		staticHoppers{},
		hub,
		alerts.DefaultThresholds(2*time.Minute),
		zerolog.Nop(),
	)

	msg := agg.Cycle(now)
	require.NotNil(t, msg)
	require.Len(t, hub.sent, 1)
	assert.Same(t, msg, hub.sent[0])
	assert.Equal(t, "pacing_snapshot", msg.Type)
	assert.Len(t, msg.Campaigns, 2)

	require.Len(t, msg.Alerts, 2)
	assert.Equal(t, alerts.RulePauseLong, msg.Alerts[0].Rule)
	assert.Equal(t, "a1", msg.Alerts[0].AgentID)
	assert.Equal(t, alerts.RuleIdleLong, msg.Alerts[1].Rule)
	assert.Equal(t, "a3", msg.Alerts[1].AgentID)
}

func TestCycleSkipsWhenNoCampaigns(t *testing.T) {
	hub := &captureHub{}
	agg := NewAggregator(staticSnapshots{}, cache.NewAgentStateTracker(0, zerolog.Nop()), staticHoppers{}, hub, alerts.Thresholds{}, zerolog.Nop())

	assert.Nil(t, agg.Cycle(time.Now()))
	assert.Empty(t, hub.sent)
}
