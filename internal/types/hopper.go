package types

import "time"

// LeadStatus represents the lifecycle state of a hopper entry
type LeadStatus string

const (
	LeadPending   LeadStatus = "PENDING"
	LeadInFlight  LeadStatus = "IN_FLIGHT"
	LeadExhausted LeadStatus = "EXHAUSTED"
	LeadCompleted LeadStatus = "COMPLETED"
)

// HopperEntry is one dialable lead queued for a campaign
type HopperEntry struct {
	LeadID        string     `json:"leadId" yaml:"leadId"`
	CampaignID    string     `json:"campaignId" yaml:"-"`
	PhoneNumber   string     `json:"phoneNumber" yaml:"phoneNumber"`
	AttemptCount  int        `json:"attemptCount" yaml:"-"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty" yaml:"-"`
	Status        LeadStatus `json:"status" yaml:"-"`
}

// HopperStats contains per-status counts for a campaign hopper
type HopperStats struct {
	CampaignID string `json:"campaignId"`
	Pending    int    `json:"pending"`
	InFlight   int    `json:"inFlight"`
	Exhausted  int    `json:"exhausted"`
	Completed  int    `json:"completed"`
	MinLevel   int    `json:"minLevel"`
}

// Outcome is the terminal result of a call attempt
type Outcome string

const (
	OutcomeAnswered  Outcome = "ANSWERED"
	OutcomeNoAnswer  Outcome = "NO_ANSWER"
	OutcomeBusy      Outcome = "BUSY"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeAbandoned Outcome = "ABANDONED"
)

// Valid reports whether o is a known outcome
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeAnswered, OutcomeNoAnswer, OutcomeBusy, OutcomeFailed, OutcomeAbandoned:
		return true
	}
	return false
}

// Retryable reports whether the lead may be dialed again after this outcome
func (o Outcome) Retryable() bool {
	switch o {
	case OutcomeNoAnswer, OutcomeBusy, OutcomeFailed:
		return true
	}
	return false
}

// Connected reports whether a live party picked up
func (o Outcome) Connected() bool {
	return o == OutcomeAnswered || o == OutcomeAbandoned
}

// Attempt binds an attempt ID to the lead it dials
type Attempt struct {
	AttemptID   string    `json:"attemptId"`
	CampaignID  string    `json:"campaignId"`
	LeadID      string    `json:"leadId"`
	PhoneNumber string    `json:"phoneNumber"`
	IssuedAt    time.Time `json:"issuedAt"`
}

// DialCommand is one origination request handed to the call attempt dispatcher
type DialCommand struct {
	AttemptID   string    `json:"attemptId"`
	CampaignID  string    `json:"campaignId"`
	LeadID      string    `json:"leadId"`
	PhoneNumber string    `json:"phoneNumber"`
	IssuedAt    time.Time `json:"issuedAt"`
}

// AttemptOutcome is the body of an outcome report
type AttemptOutcome struct {
	Outcome Outcome   `json:"outcome"`
	At      time.Time `json:"at,omitempty"`
}

// AttemptRecord represents a terminal attempt for persistence
type AttemptRecord struct {
	CampaignID  string  `json:"campaignId" dynamodbav:"CampaignID"`
	AttemptID   string  `json:"attemptId" dynamodbav:"AttemptID"`     // sort key
	DateKey     string  `json:"dateKey" dynamodbav:"DateKey"`         // partition key, YYYY-MM-DD
	LeadID      string  `json:"leadId" dynamodbav:"LeadID"`
	PhoneNumber string  `json:"phoneNumber" dynamodbav:"PhoneNumber"`
	Outcome     Outcome `json:"outcome" dynamodbav:"Outcome"`
	IssuedAt    string  `json:"issuedAt" dynamodbav:"IssuedAt"`       // RFC3339
	CompletedAt string  `json:"completedAt" dynamodbav:"CompletedAt"` // RFC3339
	RingSecs    float64 `json:"ringSecs" dynamodbav:"RingSecs"`
}
