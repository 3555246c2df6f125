package ingestion

import (
	"context"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
)

// OutcomeResult tells the caller what happened to an outcome report
type OutcomeResult string

const (
	OutcomeApplied   OutcomeResult = "applied"
	OutcomeDuplicate OutcomeResult = "duplicate"
	OutcomeUnknown   OutcomeResult = "unknown"
)

// EventProcessor processes telephony events from any source (REST, bulk feed, ACD websocket)
type EventProcessor interface {
	ProcessLogin(ctx context.Context, campaignID, agentID string, at time.Time) error
	ProcessLogout(ctx context.Context, agentID string) error
	ProcessTransition(ctx context.Context, agentID string, newState types.AgentState, at time.Time) error
	ProcessOutcome(ctx context.Context, campaignID, attemptID string, outcome types.Outcome, at time.Time) (OutcomeResult, error)
}

// EventSource represents a source of telephony events (ACD websocket feed, message bus)
type EventSource interface {
	// Start begins receiving events and forwarding them to the processor
	Start(ctx context.Context, processor EventProcessor) error

	// ConnectionCount returns the number of connected feeds
	ConnectionCount() int
}

// AttemptStore is the subset of storage.Store needed to persist terminal attempts
type AttemptStore interface {
	SaveAttemptRecord(ctx context.Context, record types.AttemptRecord) error
}

// OutcomeObserver receives every applied outcome, e.g. the answer-rate predictor
type OutcomeObserver interface {
	ObserveOutcome(campaignID string, outcome types.Outcome, at time.Time)
}
