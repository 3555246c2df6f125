package ticker

import (
	"context"
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/cache"
	"github.com/dennisdiepolder/monti/dialer/internal/events"
	"github.com/dennisdiepolder/monti/dialer/internal/metrics"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
)

// LeadSettler settles the lead of an attempt whose outcome never arrived
type LeadSettler interface {
	RecordOutcome(campaignID, leadID string, outcome types.Outcome) (types.LeadStatus, error)
}

// Deps are the stores the housekeeper sweeps
type Deps struct {
	Tracker   *cache.AgentStateTracker
	Registry  *cache.AttemptRegistry
	Ledger    *cache.AttemptLedger
	Hopper    LeadSettler
	Publisher events.Publisher
}

// Report summarizes one sweep
type Report struct {
	WrapUpsForced   int
	AttemptsExpired int
	AttemptsGivenUp int
	LedgerPruned    int
}

// Ticker periodically runs housekeeping: it forces overlong wrap-ups back to
// READY, marks attempts without an outcome as late, gives up on late attempts
// after the grace period and prunes the idempotency ledger.
type Ticker struct {
	deps           Deps
	interval       time.Duration
	attemptTimeout time.Duration
	lateGrace      time.Duration
	logger         zerolog.Logger
}

// NewTicker creates a new Ticker. A late attempt holds its lead for lateGrace
// after the attempt timeout before the lead is settled as FAILED.
func NewTicker(deps Deps, interval, attemptTimeout, lateGrace time.Duration, logger zerolog.Logger) *Ticker {
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	return &Ticker{
		deps:           deps,
		interval:       interval,
		attemptTimeout: attemptTimeout,
		lateGrace:      lateGrace,
		logger:         logger.With().Str("component", "housekeeping").Logger(),
	}
}

// Start runs sweeps until the context is cancelled
func (t *Ticker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info().Dur("interval", t.interval).Msg("ticker started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("ticker stopped")
			return

		case now := <-ticker.C:
			rep := t.Sweep(ctx, now)
			if rep != (Report{}) {
				t.logger.Debug().
					Int("wrapups_forced", rep.WrapUpsForced).
					Int("attempts_expired", rep.AttemptsExpired).
					Int("attempts_given_up", rep.AttemptsGivenUp).
					Int("ledger_pruned", rep.LedgerPruned).
					Msg("housekeeping sweep")
			}
		}
	}
}

// Sweep performs one housekeeping pass
func (t *Ticker) Sweep(ctx context.Context, now time.Time) Report {
	var rep Report

	for _, f := range t.deps.Tracker.EnforceWrapUpLimit(now) {
		t.deps.Publisher.Publish(ctx, events.Event{
			Type:       events.TypeWrapUpForced,
			Severity:   events.SeverityWarning,
			CampaignID: f.CampaignID,
			AgentID:    f.AgentID,
			Message:    fmt.Sprintf("wrap-up of %s exceeded the limit, agent forced to READY", f.WrapUp.Round(time.Second)),
			Fields:     map[string]any{"wrapUpSecs": f.WrapUp.Seconds()},
			At:         now,
		})
		rep.WrapUpsForced++
	}

	if t.attemptTimeout > 0 {
		for _, a := range t.deps.Registry.Expire(now.Add(-t.attemptTimeout), now) {
			t.expire(ctx, a, now)
			rep.AttemptsExpired++
		}
	}
	if t.lateGrace > 0 {
		for _, a := range t.deps.Registry.DropLate(now.Add(-t.lateGrace)) {
			t.giveUp(ctx, a, now)
			rep.AttemptsGivenUp++
		}
	}

	rep.LedgerPruned = t.deps.Ledger.Prune(now)
	return rep
}

// expire reports an attempt that passed its outcome timeout. The call may still be
// up, so the lead stays IN_FLIGHT and a late outcome is still applied.
func (t *Ticker) expire(ctx context.Context, a types.Attempt, now time.Time) {
	metrics.Get().RecordDispatch(a.CampaignID, "expired", 1)

	t.deps.Publisher.Publish(ctx, events.Event{
		Type:       events.TypeAttemptExpired,
		Severity:   events.SeverityWarning,
		CampaignID: a.CampaignID,
		AttemptID:  a.AttemptID,
		Message:    fmt.Sprintf("no outcome after %s, lead %s held for a late outcome", t.attemptTimeout, a.LeadID),
		At:         now,
	})
}

// giveUp settles the lead of a late attempt as FAILED, which spends one attempt of
// its retry budget. The drop-rate window is not touched: no outcome was observed.
func (t *Ticker) giveUp(ctx context.Context, a types.Attempt, now time.Time) {
	status, err := t.deps.Hopper.RecordOutcome(a.CampaignID, a.LeadID, types.OutcomeFailed)
	if err != nil {
		t.logger.Debug().Err(err).
			Str("attempt_id", a.AttemptID).
			Str("lead_id", a.LeadID).
			Msg("lead of late attempt not settled")
	}
	metrics.Get().RecordDispatch(a.CampaignID, "given_up", 1)

	t.deps.Publisher.Publish(ctx, events.Event{
		Type:       events.TypeAttemptGivenUp,
		Severity:   events.SeverityWarning,
		CampaignID: a.CampaignID,
		AttemptID:  a.AttemptID,
		Message:    fmt.Sprintf("no outcome within %s of the timeout, lead %s settled as FAILED", t.lateGrace, a.LeadID),
		Fields:     map[string]any{"leadStatus": string(status)},
		At:         now,
	})
}
