package ticker

import (
	"context"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/cache"
	"github.com/dennisdiepolder/monti/dialer/internal/events"
	"github.com/dennisdiepolder/monti/dialer/internal/hopper"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	tracker  *cache.AgentStateTracker
	registry *cache.AttemptRegistry
	ledger   *cache.AttemptLedger
	hopper   *hopper.Manager
	events   *events.Buffer
	ticker   *Ticker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tracker:  cache.NewAgentStateTracker(2*time.Minute, zerolog.Nop()),
		registry: cache.NewAttemptRegistry(),
		ledger:   cache.NewAttemptLedger(time.Hour),
		hopper:   hopper.NewManager(zerolog.Nop()),
		events:   events.NewBuffer(16),
	}
	f.hopper.EnsureCampaign("camp-1", types.DefaultPacingConfig())
	f.ticker = NewTicker(Deps{
		Tracker:   f.tracker,
		Registry:  f.registry,
		Ledger:    f.ledger,
		Hopper:    f.hopper,
		Publisher: f.events,
	}, time.Second, 90*time.Second, 30*time.Minute, zerolog.Nop())
	return f
}

func TestSweepForcesLongWrapUp(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, f.tracker.Login("a1", "camp-1", t0))
	require.NoError(t, f.tracker.Transition("a1", types.StateReady, t0))
	require.NoError(t, f.tracker.Transition("a1", types.StateOnCall, t0.Add(time.Second)))
	require.NoError(t, f.tracker.Transition("a1", types.StateWrapUp, t0.Add(time.Minute)))

	rep := f.ticker.Sweep(context.Background(), t0.Add(2*time.Minute))
	assert.Zero(t, rep.WrapUpsForced)

	rep = f.ticker.Sweep(context.Background(), t0.Add(4*time.Minute))
	assert.Equal(t, 1, rep.WrapUpsForced)

	agent, ok := f.tracker.Get("a1")
	require.True(t, ok)
	assert.Equal(t, types.StateReady, agent.State)

	forced := f.events.OfType(events.TypeWrapUpForced)
	require.Len(t, forced, 1)
	assert.Equal(t, "a1", forced[0].AgentID)
	assert.Equal(t, "camp-1", forced[0].CampaignID)
}

func TestSweepHoldsLeadOfExpiredAttempt(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	f.hopper.Load("camp-1", []types.HopperEntry{
		{LeadID: "lead-1", PhoneNumber: "+4911"},
		{LeadID: "lead-2", PhoneNumber: "+4912"},
	})
	batch, err := f.hopper.NextBatch("camp-1", 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	f.registry.Register(types.Attempt{AttemptID: "old", CampaignID: "camp-1", LeadID: "lead-1", IssuedAt: now.Add(-2 * time.Minute)})
	f.registry.Register(types.Attempt{AttemptID: "fresh", CampaignID: "camp-1", LeadID: "lead-2", IssuedAt: now.Add(-10 * time.Second)})

	rep := f.ticker.Sweep(context.Background(), now)
	assert.Equal(t, 1, rep.AttemptsExpired)
	assert.Equal(t, 1, f.registry.Outstanding("camp-1"))
	assert.Equal(t, 1, f.registry.Late())

	e, ok := f.hopper.Entry("camp-1", "lead-1")
	require.True(t, ok)
	assert.Equal(t, types.LeadInFlight, e.Status)

	// the same number must not be dialled again while the call may still be up
	f.hopper.Load("camp-1", []types.HopperEntry{{LeadID: "lead-3", PhoneNumber: "+4911"}})
	again, err := f.hopper.NextBatch("camp-1", 5)
	require.NoError(t, err)
	assert.Empty(t, again)

	expired := f.events.OfType(events.TypeAttemptExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].AttemptID)

	a, ok := f.registry.Resolve("old")
	require.True(t, ok)
	assert.Equal(t, "lead-1", a.LeadID)
}

func TestSweepGivesUpAfterLateGrace(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	f.hopper.Load("camp-1", []types.HopperEntry{{LeadID: "lead-1", PhoneNumber: "+4911"}})
	_, err := f.hopper.NextBatch("camp-1", 1)
	require.NoError(t, err)
	f.registry.Register(types.Attempt{AttemptID: "att-1", CampaignID: "camp-1", LeadID: "lead-1", IssuedAt: now})

	rep := f.ticker.Sweep(context.Background(), now.Add(2*time.Minute))
	assert.Equal(t, 1, rep.AttemptsExpired)
	assert.Zero(t, rep.AttemptsGivenUp)

	rep = f.ticker.Sweep(context.Background(), now.Add(40*time.Minute))
	assert.Equal(t, 1, rep.AttemptsGivenUp)
	assert.Zero(t, f.registry.Late())

	e, ok := f.hopper.Entry("camp-1", "lead-1")
	require.True(t, ok)
	assert.Equal(t, types.LeadPending, e.Status)
	assert.Equal(t, 1, e.AttemptCount)

	givenUp := f.events.OfType(events.TypeAttemptGivenUp)
	require.Len(t, givenUp, 1)
	assert.Equal(t, "att-1", givenUp[0].AttemptID)
}

func TestSweepPrunesLedger(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	assert.True(t, f.ledger.FirstSeen("att-1", now.Add(-2*time.Hour)))
	assert.True(t, f.ledger.FirstSeen("att-2", now))

	rep := f.ticker.Sweep(context.Background(), now)
	assert.Equal(t, 1, rep.LedgerPruned)
	assert.Equal(t, 1, f.ledger.Size())
}

func TestTickerStopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	f.ticker.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.ticker.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("ticker did not stop within timeout after context cancel")
	}
}
