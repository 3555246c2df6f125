package types

import "time"

// Telephony event types accepted on the bulk feed and the ACD websocket
const (
	EventLogin      = "login"
	EventLogout     = "logout"
	EventTransition = "transition"
	EventOutcome    = "outcome"
)

// TelephonyEvent is one message from the telephony/ACD layer
type TelephonyEvent struct {
	Type       string     `json:"type"`
	CampaignID string     `json:"campaignId"`
	AgentID    string     `json:"agentId,omitempty"`
	AttemptID  string     `json:"attemptId,omitempty"`
	NewState   AgentState `json:"newState,omitempty"`
	Outcome    Outcome    `json:"outcome,omitempty"`
	At         time.Time  `json:"at"`
	Ref        string     `json:"ref,omitempty"` // echoed in the ACD ack
}

// EventAck is sent back on the ACD feed for each processed event
type EventAck struct {
	Type   string `json:"type"` // always "ack"
	Ref    string `json:"ref,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
