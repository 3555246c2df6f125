package types

import "time"

// AgentState represents the current state of an agent seat
type AgentState string

const (
	StateReady   AgentState = "READY"
	StateOnCall  AgentState = "ON_CALL"
	StatePaused  AgentState = "PAUSED"
	StateWrapUp  AgentState = "WRAP_UP"
	StateOffline AgentState = "OFFLINE"
)

// AllAgentStates lists every agent state, in display order
var AllAgentStates = []AgentState{
	StateReady,
	StateOnCall,
	StateWrapUp,
	StatePaused,
	StateOffline,
}

// Valid reports whether s is a known agent state
func (s AgentState) Valid() bool {
	switch s {
	case StateReady, StateOnCall, StatePaused, StateWrapUp, StateOffline:
		return true
	}
	return false
}

// Agent represents one staffed seat on a campaign
type Agent struct {
	AgentID        string     `json:"agentId"`
	CampaignID     string     `json:"campaignId"`
	State          AgentState `json:"state"`
	StateEnteredAt time.Time  `json:"stateEnteredAt"`
	LoggedInAt     time.Time  `json:"loggedInAt"`
	CallStartedAt  *time.Time `json:"callStartedAt,omitempty"` // set on ON_CALL, kept through WRAP_UP
}

// AlertSeverity represents the severity of an alert
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AgentAlert represents an alert condition for an agent
type AgentAlert struct {
	AgentID    string        `json:"agentId"`
	CampaignID string        `json:"campaignId"`
	Rule       string        `json:"rule"`
	Severity   AlertSeverity `json:"severity"`
	Message    string        `json:"message"`
}

// AgentTransition is the body of a transition request from the telephony/ACD layer
type AgentTransition struct {
	NewState AgentState `json:"newState"`
	At       time.Time  `json:"at"`
}
