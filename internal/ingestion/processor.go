package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/cache"
	"github.com/dennisdiepolder/monti/dialer/internal/compliance"
	"github.com/dennisdiepolder/monti/dialer/internal/events"
	"github.com/dennisdiepolder/monti/dialer/internal/hopper"
	"github.com/dennisdiepolder/monti/dialer/internal/metrics"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidOutcome = errors.New("invalid outcome")
	ErrInvalidEvent   = errors.New("invalid event")
)

// Deps are the components an outcome or transition touches
type Deps struct {
	Tracker   *cache.AgentStateTracker
	Hopper    *hopper.Manager
	Governor  *compliance.Governor
	Registry  *cache.AttemptRegistry
	Ledger    *cache.AttemptLedger
	Observer  OutcomeObserver
	Store     AttemptStore
	Publisher events.Publisher
	Metrics   *metrics.Metrics
}

// DefaultProcessor implements EventProcessor on top of the in-memory state
type DefaultProcessor struct {
	deps   Deps
	now    func() time.Time
	logger zerolog.Logger
}

// NewDefaultProcessor creates a new DefaultProcessor
func NewDefaultProcessor(deps Deps, logger zerolog.Logger) *DefaultProcessor {
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	return &DefaultProcessor{
		deps:   deps,
		now:    time.Now,
		logger: logger.With().Str("component", "ingestion").Logger(),
	}
}

func (p *DefaultProcessor) ProcessLogin(_ context.Context, campaignID, agentID string, at time.Time) error {
	if campaignID == "" || agentID == "" {
		return fmt.Errorf("%w: login needs campaignId and agentId", ErrInvalidEvent)
	}
	if at.IsZero() {
		at = p.now()
	}
	if err := p.deps.Tracker.Login(agentID, campaignID, at); err != nil {
		return err
	}
	p.deps.Metrics.RecordEventProcessed(types.EventLogin)
	return nil
}

func (p *DefaultProcessor) ProcessLogout(_ context.Context, agentID string) error {
	if err := p.deps.Tracker.Logout(agentID); err != nil {
		return err
	}
	p.deps.Metrics.RecordEventProcessed(types.EventLogout)
	return nil
}

func (p *DefaultProcessor) ProcessTransition(ctx context.Context, agentID string, newState types.AgentState, at time.Time) error {
	err := p.deps.Tracker.Transition(agentID, newState, at)

	var invalid *cache.InvalidTransitionError
	if errors.As(err, &invalid) {
		agent, _ := p.deps.Tracker.Get(agentID)
		p.deps.Publisher.Publish(ctx, events.Event{
			Type:       events.TypeInvalidTransition,
			Severity:   events.SeverityWarning,
			CampaignID: agent.CampaignID,
			AgentID:    agentID,
			Message:    fmt.Sprintf("rejected %s -> %s", invalid.From, invalid.To),
			At:         p.now(),
		})
	}
	if err != nil {
		p.deps.Metrics.RecordEventError()
		return err
	}

	p.deps.Metrics.RecordEventProcessed(types.EventTransition)
	p.logger.Debug().
		Str("agent_id", agentID).
		Str("new_state", string(newState)).
		Msg("agent transition applied")
	return nil
}

// ProcessOutcome applies a terminal outcome exactly once per attempt ID. Outcomes of
// attempts past their timeout are still applied. Unknown attempts (given up on, or
// issued by another instance) are accepted and ignored. Reported times ahead of the
// local clock are clamped to it.
func (p *DefaultProcessor) ProcessOutcome(ctx context.Context, campaignID, attemptID string, outcome types.Outcome, at time.Time) (OutcomeResult, error) {
	if !outcome.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
	if attemptID == "" {
		return "", fmt.Errorf("%w: missing attemptId", ErrInvalidEvent)
	}
	now := p.now()
	if at.IsZero() || at.After(now) {
		at = now
	}

	if !p.deps.Ledger.FirstSeen(attemptID, now) {
		p.logger.Debug().Str("attempt_id", attemptID).Msg("duplicate outcome ignored")
		return OutcomeDuplicate, nil
	}

	attempt, ok := p.deps.Registry.Resolve(attemptID)
	if !ok {
		p.logger.Warn().
			Str("attempt_id", attemptID).
			Str("campaign_id", campaignID).
			Msg("outcome for unknown attempt ignored")
		return OutcomeUnknown, nil
	}
	if campaignID != "" && attempt.CampaignID != campaignID {
		p.logger.Warn().
			Str("attempt_id", attemptID).
			Str("reported_campaign", campaignID).
			Str("campaign_id", attempt.CampaignID).
			Msg("outcome reported under another campaign, using the issuing campaign")
	}

	if _, err := p.deps.Hopper.RecordOutcome(attempt.CampaignID, attempt.LeadID, outcome); err != nil {
		p.logger.Warn().Err(err).Str("lead_id", attempt.LeadID).Msg("hopper did not accept outcome")
	}
	p.deps.Governor.RecordAttemptOutcome(attempt.CampaignID, attemptID, outcome, at)
	if p.deps.Observer != nil {
		p.deps.Observer.ObserveOutcome(attempt.CampaignID, outcome, at)
	}
	p.deps.Metrics.RecordOutcome(attempt.CampaignID, outcome)
	p.deps.Metrics.RecordEventProcessed(types.EventOutcome)

	if p.deps.Store != nil {
		record := attemptToRecord(attempt, outcome, at)
		go func() {
			if err := p.deps.Store.SaveAttemptRecord(context.Background(), record); err != nil {
				p.logger.Error().Err(err).Str("attempt_id", record.AttemptID).Msg("failed to save attempt record")
			}
		}()
	}

	p.logger.Debug().
		Str("attempt_id", attemptID).
		Str("campaign_id", attempt.CampaignID).
		Str("outcome", string(outcome)).
		Msg("outcome applied")
	return OutcomeApplied, nil
}

// Process routes one telephony event to the matching operation
func Process(ctx context.Context, p EventProcessor, ev types.TelephonyEvent) (OutcomeResult, error) {
	switch ev.Type {
	case types.EventLogin:
		return "", p.ProcessLogin(ctx, ev.CampaignID, ev.AgentID, ev.At)
	case types.EventLogout:
		return "", p.ProcessLogout(ctx, ev.AgentID)
	case types.EventTransition:
		return "", p.ProcessTransition(ctx, ev.AgentID, ev.NewState, ev.At)
	case types.EventOutcome:
		return p.ProcessOutcome(ctx, ev.CampaignID, ev.AttemptID, ev.Outcome, ev.At)
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Type)
	}
}

func attemptToRecord(a types.Attempt, outcome types.Outcome, completed time.Time) types.AttemptRecord {
	ring := completed.Sub(a.IssuedAt).Seconds()
	if ring < 0 {
		ring = 0
	}
	return types.AttemptRecord{
		CampaignID:  a.CampaignID,
		AttemptID:   a.AttemptID,
		DateKey:     a.IssuedAt.UTC().Format("2006-01-02"),
		LeadID:      a.LeadID,
		PhoneNumber: a.PhoneNumber,
		Outcome:     outcome,
		IssuedAt:    a.IssuedAt.UTC().Format(time.RFC3339),
		CompletedAt: completed.UTC().Format(time.RFC3339),
		RingSecs:    ring,
	}
}
