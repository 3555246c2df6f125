package alerts

import (
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAgentAlerts(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	th := DefaultThresholds(2 * time.Minute)

	tests := []struct {
		name     string
		state    types.AgentState
		elapsed  time.Duration
		wantRule string
		wantSev  types.AlertSeverity
	}{
		{"short wrap-up", types.StateWrapUp, 60 * time.Second, "", ""},
		{"long wrap-up", types.StateWrapUp, 100 * time.Second, RuleWrapUpLong, types.SeverityWarning},
		{"short pause", types.StatePaused, 9 * time.Minute, "", ""},
		{"long pause", types.StatePaused, 11 * time.Minute, RulePauseLong, types.SeverityCritical},
		{"ready is left to the idle rule", types.StateReady, time.Hour, "", ""},
		{"on call never alerts", types.StateOnCall, time.Hour, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agents := []types.Agent{{
				AgentID:        "a1",
				CampaignID:     "camp-1",
				State:          tt.state,
				StateEnteredAt: now.Add(-tt.elapsed),
			}}
			got := CheckAgentAlerts(agents, th, now)
			if tt.wantRule == "" {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.wantRule, got[0].Rule)
			assert.Equal(t, tt.wantSev, got[0].Severity)
			assert.Equal(t, "camp-1", got[0].CampaignID)
			assert.Equal(t, "a1", got[0].AgentID)
		})
	}
}

func TestZeroThresholdDisablesRule(t *testing.T) {
	now := time.Now()
	agents := []types.Agent{{AgentID: "a1", State: types.StatePaused, StateEnteredAt: now.Add(-time.Hour)}}
	assert.Empty(t, CheckAgentAlerts(agents, Thresholds{}, now))
}

func TestIdleAlerts(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	agents := []types.Agent{
		{AgentID: "a1", CampaignID: "camp-1", State: types.StateReady, StateEnteredAt: now.Add(-6 * time.Minute)},
		{AgentID: "a2", CampaignID: "camp-1", State: types.StateReady, StateEnteredAt: now.Add(-20 * time.Minute)},
	}

	got := IdleAlerts([]string{"a2", "gone", "a1"}, agents, now)
	require.Len(t, got, 2)
	assert.Equal(t, "a2", got[0].AgentID)
	assert.Equal(t, RuleIdleLong, got[0].Rule)
	assert.Equal(t, types.SeverityInfo, got[0].Severity)
	assert.Equal(t, "Waiting for a call for 20m0s", got[0].Message)
	assert.Equal(t, "a1", got[1].AgentID)

	assert.Empty(t, IdleAlerts(nil, agents, now))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1m40s", formatDuration(100*time.Second))
	assert.Equal(t, "2h5m", formatDuration(125*time.Minute))
}
