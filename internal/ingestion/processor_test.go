package ingestion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/cache"
	"github.com/dennisdiepolder/monti/dialer/internal/compliance"
	"github.com/dennisdiepolder/monti/dialer/internal/events"
	"github.com/dennisdiepolder/monti/dialer/internal/hopper"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	records []types.AttemptRecord
	saved   chan struct{}
}

func (s *memStore) SaveAttemptRecord(_ context.Context, r types.AttemptRecord) error {
	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
	s.saved <- struct{}{}
	return nil
}

type fixture struct {
	proc     *DefaultProcessor
	tracker  *cache.AgentStateTracker
	hopper   *hopper.Manager
	governor *compliance.Governor
	registry *cache.AttemptRegistry
	store    *memStore
	events   *events.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tracker:  cache.NewAgentStateTracker(time.Minute, zerolog.Nop()),
		hopper:   hopper.NewManager(zerolog.Nop()),
		registry: cache.NewAttemptRegistry(),
		store:    &memStore{saved: make(chan struct{}, 10)},
		events:   events.NewBuffer(20),
	}
	f.governor = compliance.NewGovernor(compliance.DefaultConfig(), f.events, zerolog.Nop())
	f.proc = NewDefaultProcessor(Deps{
		Tracker:   f.tracker,
		Hopper:    f.hopper,
		Governor:  f.governor,
		Registry:  f.registry,
		Ledger:    cache.NewAttemptLedger(time.Hour),
		Store:     f.store,
		Publisher: f.events,
	}, zerolog.Nop())
	return f
}

// issue claims one lead and registers an attempt for it, like a pacing tick does
func (f *fixture) issue(t *testing.T, campaignID, attemptID string) types.Attempt {
	t.Helper()
	f.hopper.Load(campaignID, []types.HopperEntry{{LeadID: "lead-" + attemptID, PhoneNumber: "+49" + attemptID}})
	batch, err := f.hopper.NextBatch(campaignID, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	a := types.Attempt{
		AttemptID:   attemptID,
		CampaignID:  campaignID,
		LeadID:      batch[0].LeadID,
		PhoneNumber: batch[0].PhoneNumber,
		IssuedAt:    time.Now().Add(-20 * time.Second),
	}
	f.registry.Register(a)
	return a
}

func TestProcessOutcomeApplied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.issue(t, "c1", "att-1")

	res, err := f.proc.ProcessOutcome(ctx, "c1", "att-1", types.OutcomeAnswered, time.Now())
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res)

	e, _ := f.hopper.Entry("c1", a.LeadID)
	assert.Equal(t, types.LeadCompleted, e.Status)
	assert.Equal(t, 0, f.registry.Outstanding("c1"))
	assert.Equal(t, 1, f.governor.Stats("c1").Total)

	select {
	case <-f.store.saved:
	case <-time.After(2 * time.Second):
		t.Fatal("attempt record not saved")
	}
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	require.Len(t, f.store.records, 1)
	assert.Equal(t, types.OutcomeAnswered, f.store.records[0].Outcome)
	assert.GreaterOrEqual(t, f.store.records[0].RingSecs, 19.0)
}

func TestProcessOutcomeIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.issue(t, "c1", "att-1")

	res, err := f.proc.ProcessOutcome(ctx, "c1", "att-1", types.OutcomeAbandoned, time.Now())
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res)

	before := f.governor.Stats("c1")
	hopperBefore, _ := f.hopper.Stats("c1")

	res, err = f.proc.ProcessOutcome(ctx, "c1", "att-1", types.OutcomeAbandoned, time.Now())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res)

	assert.Equal(t, before, f.governor.Stats("c1"))
	hopperAfter, _ := f.hopper.Stats("c1")
	assert.Equal(t, hopperBefore, hopperAfter)
}

func TestProcessOutcomeConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	f.issue(t, "c1", "att-1")

	var wg sync.WaitGroup
	results := make(chan OutcomeResult, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _ := f.proc.ProcessOutcome(context.Background(), "c1", "att-1", types.OutcomeAbandoned, time.Now())
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	applied := 0
	for res := range results {
		if res == OutcomeApplied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, f.governor.Stats("c1").Abandoned)
}

func TestProcessOutcomeUnknownAttempt(t *testing.T) {
	f := newFixture(t)
	res, err := f.proc.ProcessOutcome(context.Background(), "c1", "never-issued", types.OutcomeAnswered, time.Now())
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, res)
	assert.Equal(t, 0, f.governor.Stats("c1").Total)
}

func TestProcessOutcomeAfterAttemptTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.issue(t, "c1", "att-late")
	f.registry.Expire(time.Now(), time.Now())
	require.Equal(t, 1, f.registry.Late())

	res, err := f.proc.ProcessOutcome(ctx, "c1", "att-late", types.OutcomeAbandoned, time.Now())
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res)

	assert.InDelta(t, 100.0, f.governor.CurrentDropRate("c1"), 1e-9)
	e, ok := f.hopper.Entry("c1", a.LeadID)
	require.True(t, ok)
	assert.Equal(t, types.LeadCompleted, e.Status)
}

func TestProcessOutcomeFutureTimestampClamped(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	f.proc.now = func() time.Time { return now }
	f.issue(t, "c1", "att-skew")

	_, err := f.proc.ProcessOutcome(context.Background(), "c1", "att-skew", types.OutcomeAnswered, now.Add(24*time.Hour))
	require.NoError(t, err)

	select {
	case <-f.store.saved:
	case <-time.After(2 * time.Second):
		t.Fatal("attempt record not saved")
	}
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	require.Len(t, f.store.records, 1)
	assert.Equal(t, now.Format(time.RFC3339), f.store.records[0].CompletedAt)
}

func TestProcessOutcomeInvalid(t *testing.T) {
	f := newFixture(t)
	_, err := f.proc.ProcessOutcome(context.Background(), "c1", "att-1", types.Outcome("HUNG"), time.Now())
	assert.ErrorIs(t, err, ErrInvalidOutcome)

	_, err = f.proc.ProcessOutcome(context.Background(), "c1", "", types.OutcomeAnswered, time.Now())
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestProcessTransitionInvalidPublishesEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.proc.ProcessLogin(ctx, "c1", "agent-1", time.Now()))

	err := f.proc.ProcessTransition(ctx, "agent-1", types.StateOnCall, time.Now())
	var invalid *cache.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	evs := f.events.OfType(events.TypeInvalidTransition)
	require.Len(t, evs, 1)
	assert.Equal(t, "c1", evs[0].CampaignID)
	assert.Equal(t, "agent-1", evs[0].AgentID)
}

func TestProcessRoutesByType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	_, err := Process(ctx, f.proc, types.TelephonyEvent{Type: types.EventLogin, CampaignID: "c1", AgentID: "a1", At: now})
	require.NoError(t, err)
	_, err = Process(ctx, f.proc, types.TelephonyEvent{Type: types.EventTransition, AgentID: "a1", NewState: types.StateReady, At: now.Add(time.Second)})
	require.NoError(t, err)

	agent, ok := f.tracker.Get("a1")
	require.True(t, ok)
	assert.Equal(t, types.StateReady, agent.State)

	_, err = Process(ctx, f.proc, types.TelephonyEvent{Type: types.EventLogout, AgentID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, 0, f.tracker.Count())

	_, err = Process(ctx, f.proc, types.TelephonyEvent{Type: "reboot"})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}
