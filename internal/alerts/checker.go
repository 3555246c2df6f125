package alerts

import (
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
)

// Rule names
const (
	RuleWrapUpLong = "wrapup_long"
	RulePauseLong  = "pause_long"
	RuleIdleLong   = "idle_long"
)

// Thresholds configures when each rule fires. A zero threshold disables the rule.
type Thresholds struct {
	WrapUp time.Duration
	Pause  time.Duration
	Idle   time.Duration
}

// DefaultThresholds warns before the wrap-up limit forces an agent back to READY
func DefaultThresholds(maxWrapUp time.Duration) Thresholds {
	return Thresholds{
		WrapUp: maxWrapUp * 3 / 4,
		Pause:  10 * time.Minute,
		Idle:   5 * time.Minute,
	}
}

// CheckAgentAlerts evaluates the wrap-up and pause rules for a slice of agents.
// Idle READY agents are reported by IdleAlerts.
func CheckAgentAlerts(agents []types.Agent, th Thresholds, now time.Time) []types.AgentAlert {
	var out []types.AgentAlert
	for _, a := range agents {
		dur := now.Sub(a.StateEnteredAt)

		switch a.State {
		case types.StateWrapUp:
			if th.WrapUp > 0 && dur > th.WrapUp {
				out = append(out, alert(a, RuleWrapUpLong, types.SeverityWarning, "Wrap-up for %s", dur))
			}
		case types.StatePaused:
			if th.Pause > 0 && dur > th.Pause {
				out = append(out, alert(a, RulePauseLong, types.SeverityCritical, "Paused for %s", dur))
			}
		}
	}
	return out
}

// IdleAlerts turns the READY agents a tracker reports as idle into alerts, keeping
// the tracker's order. A READY agent idling for a long time usually means the
// campaign is starved of leads or throttled by compliance.
func IdleAlerts(idleIDs []string, agents []types.Agent, now time.Time) []types.AgentAlert {
	if len(idleIDs) == 0 {
		return nil
	}
	byID := make(map[string]types.Agent, len(agents))
	for _, a := range agents {
		byID[a.AgentID] = a
	}

	out := make([]types.AgentAlert, 0, len(idleIDs))
	for _, id := range idleIDs {
		a, ok := byID[id]
		if !ok {
			// left the roster between the two reads
			continue
		}
		out = append(out, alert(a, RuleIdleLong, types.SeverityInfo, "Waiting for a call for %s", now.Sub(a.StateEnteredAt)))
	}
	return out
}

func alert(a types.Agent, rule string, sev types.AlertSeverity, format string, d time.Duration) types.AgentAlert {
	return types.AgentAlert{
		AgentID:    a.AgentID,
		CampaignID: a.CampaignID,
		Rule:       rule,
		Severity:   sev,
		Message:    fmt.Sprintf(format, formatDuration(d)),
	}
}

func formatDuration(d time.Duration) string {
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if mins >= 60 {
		hours := mins / 60
		mins = mins % 60
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	return fmt.Sprintf("%dm%ds", mins, secs)
}
