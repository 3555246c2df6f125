package events

import (
	"context"
	"time"
)

// Event types emitted by the dialer core
const (
	TypeComplianceBreach    = "compliance_breach"
	TypeComplianceWarning   = "compliance_warning"
	TypeComplianceRecovered = "compliance_recovered"
	TypeWrapUpForced        = "wrapup_forced"
	TypePacingFailClosed    = "pacing_fail_closed"
	TypePacingRecovered     = "pacing_recovered"
	TypeHopperLow           = "hopper_low"
	TypeHopperExhausted     = "hopper_exhausted"
	TypeDispatchFailed      = "dispatch_failed"
	TypeAttemptExpired      = "attempt_expired"
	TypeAttemptGivenUp      = "attempt_given_up"
	TypeInvalidTransition   = "invalid_transition"
	TypeCampaignPaused      = "campaign_paused"
	TypeCampaignResumed     = "campaign_resumed"
	TypeConfigChanged       = "pacing_config_changed"
)

// Severity of an event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one observability record: alerts, state changes, forced actions
type Event struct {
	Type       string         `json:"type"`
	Severity   Severity       `json:"severity"`
	CampaignID string         `json:"campaignId,omitempty"`
	AgentID    string         `json:"agentId,omitempty"`
	AttemptID  string         `json:"attemptId,omitempty"`
	Message    string         `json:"message"`
	Fields     map[string]any `json:"fields,omitempty"`
	At         time.Time      `json:"at"`
}

// Publisher delivers events. Implementations must not block the caller for long.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Multi fans an event out to several publishers
type Multi []Publisher

// Publish implements Publisher
func (m Multi) Publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	for _, p := range m {
		p.Publish(ctx, e)
	}
}

// Nop discards every event
type Nop struct{}

// Publish implements Publisher
func (Nop) Publish(context.Context, Event) {}
