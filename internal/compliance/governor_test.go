package compliance

import (
	"fmt"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/events"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGovernor(t *testing.T, cfg Config) (*Governor, *events.Buffer, *time.Time) {
	t.Helper()
	buf := events.NewBuffer(50)
	g := NewGovernor(cfg, buf, zerolog.Nop())
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	return g, buf, &now
}

// record adds n outcomes of one kind with unique attempt IDs
func record(g *Governor, campaignID, prefix string, o types.Outcome, n int, at time.Time) {
	for i := 0; i < n; i++ {
		g.RecordAttemptOutcome(campaignID, fmt.Sprintf("%s-%d", prefix, i), o, at)
	}
}

func TestThrottle(t *testing.T) {
	tests := []struct {
		name     string
		drop     float64
		ceiling  float64
		expected float64
	}{
		{"zero drop", 0, 3, 1},
		{"at warn threshold", 2.4, 3, 1},
		{"at ceiling", 3, 3, 0},
		{"above ceiling", 5, 3, 0},
		{"midway", 2.7, 3, 0.75},
		{"zero ceiling clean", 0, 0, 1},
		{"zero ceiling any drop", 0.01, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Throttle(tt.drop, tt.ceiling), 1e-9)
		})
	}
}

func TestThrottleJustUnderCeiling(t *testing.T) {
	f := Throttle(2.9, 3.0)
	assert.Greater(t, f, 0.5)
	assert.Less(t, f, 1.0)
}

func TestThrottleMonotonic(t *testing.T) {
	prev := 1.0
	for drop := 0.0; drop <= 4.0; drop += 0.05 {
		f := Throttle(drop, 3.0)
		assert.LessOrEqual(t, f, prev, "throttle rose at drop %.2f", drop)
		prev = f
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, types.ComplianceNormal, Classify(1, 3))
	assert.Equal(t, types.ComplianceWarning, Classify(2.5, 3))
	assert.Equal(t, types.ComplianceBreach, Classify(3, 3))
	assert.Equal(t, types.ComplianceBreach, Classify(0.1, 0))
	assert.Equal(t, types.ComplianceNormal, Classify(0, 0))
}

func TestDropRateAttemptsBasis(t *testing.T) {
	g, _, now := newTestGovernor(t, DefaultConfig())
	record(g, "c1", "ans", types.OutcomeAnswered, 50, *now)
	record(g, "c1", "na", types.OutcomeNoAnswer, 48, *now)
	record(g, "c1", "ab", types.OutcomeAbandoned, 2, *now)

	assert.InDelta(t, 2.0, g.CurrentDropRate("c1"), 1e-9)

	stats := g.Stats("c1")
	assert.Equal(t, 100, stats.Total)
	assert.InDelta(t, 0.52, stats.AnswerRate, 1e-9)
	assert.InDelta(t, 0.02, stats.AbandonRate, 1e-9)
}

func TestDropRateAnsweredBasis(t *testing.T) {
	g, _, now := newTestGovernor(t, Config{Window: time.Hour, Basis: BasisAnswered})
	record(g, "c1", "ans", types.OutcomeAnswered, 48, *now)
	record(g, "c1", "na", types.OutcomeNoAnswer, 50, *now)
	record(g, "c1", "ab", types.OutcomeAbandoned, 2, *now)

	assert.InDelta(t, 4.0, g.CurrentDropRate("c1"), 1e-9)
}

func TestRecordIsIdempotentPerAttempt(t *testing.T) {
	g, _, now := newTestGovernor(t, DefaultConfig())
	assert.True(t, g.RecordAttemptOutcome("c1", "att-1", types.OutcomeAbandoned, *now))
	assert.False(t, g.RecordAttemptOutcome("c1", "att-1", types.OutcomeAbandoned, *now))
	assert.True(t, g.RecordAttemptOutcome("c1", "att-2", types.OutcomeAnswered, *now))

	assert.InDelta(t, 50.0, g.CurrentDropRate("c1"), 1e-9)
}

func TestTimeWindowEviction(t *testing.T) {
	g, _, now := newTestGovernor(t, Config{Window: 10 * time.Minute})
	record(g, "c1", "old", types.OutcomeAbandoned, 5, now.Add(-20*time.Minute))
	record(g, "c1", "new", types.OutcomeAnswered, 5, *now)

	assert.InDelta(t, 0.0, g.CurrentDropRate("c1"), 1e-9)
	assert.Equal(t, 5, g.Stats("c1").Total)
}

func TestFutureStampedOutcomeAgesWithServerClock(t *testing.T) {
	g, _, now := newTestGovernor(t, Config{Window: time.Hour})
	g.SetCeiling("c1", 3.0)
	record(g, "c1", "ans", types.OutcomeAnswered, 99, *now)
	require.True(t, g.RecordAttemptOutcome("c1", "skewed", types.OutcomeAbandoned, now.Add(24*time.Hour)))
	assert.InDelta(t, 1.0, g.CurrentDropRate("c1"), 1e-9)

	*now = now.Add(2 * time.Hour)
	assert.Equal(t, 0, g.Stats("c1").Total)
	assert.InDelta(t, 0.0, g.CurrentDropRate("c1"), 1e-9)
	assert.InDelta(t, 1.0, g.ThrottleFactor("c1"), 1e-9)
	assert.Equal(t, types.ComplianceNormal, g.State("c1"))
}

func TestCallWindowKeepsLastN(t *testing.T) {
	g, _, now := newTestGovernor(t, Config{WindowCalls: 10})
	record(g, "c1", "ab", types.OutcomeAbandoned, 10, now.Add(-time.Minute))
	record(g, "c1", "ans", types.OutcomeAnswered, 10, *now)

	assert.InDelta(t, 0.0, g.CurrentDropRate("c1"), 1e-9)
	assert.Equal(t, 10, g.Stats("c1").Total)
}

func TestBreachHaltsAndRecovers(t *testing.T) {
	g, buf, now := newTestGovernor(t, Config{Window: 10 * time.Minute})
	g.SetCeiling("c1", 3.0)

	record(g, "c1", "ans", types.OutcomeAnswered, 90, *now)
	assert.Equal(t, 1.0, g.ThrottleFactor("c1"))

	record(g, "c1", "ab", types.OutcomeAbandoned, 10, *now)
	assert.Equal(t, 0.0, g.ThrottleFactor("c1"))
	assert.Equal(t, types.ComplianceBreach, g.State("c1"))
	require.Len(t, buf.OfType(events.TypeComplianceBreach), 1)

	// further abandons while breached do not re-alert and cannot lift the throttle
	record(g, "c1", "ab2", types.OutcomeAbandoned, 5, *now)
	assert.Equal(t, 0.0, g.ThrottleFactor("c1"))
	assert.Len(t, buf.OfType(events.TypeComplianceBreach), 1)

	// the window rolls past the abandons
	*now = now.Add(11 * time.Minute)
	record(g, "c1", "fresh", types.OutcomeAnswered, 10, *now)
	assert.Equal(t, 1.0, g.ThrottleFactor("c1"))
	assert.Equal(t, types.ComplianceNormal, g.State("c1"))
	assert.Len(t, buf.OfType(events.TypeComplianceRecovered), 1)
}

func TestSetCeilingReclassifies(t *testing.T) {
	g, buf, now := newTestGovernor(t, DefaultConfig())
	record(g, "c1", "ans", types.OutcomeAnswered, 96, *now)
	record(g, "c1", "ab", types.OutcomeAbandoned, 4, *now)
	assert.Equal(t, types.ComplianceBreach, g.State("c1"))

	g.SetCeiling("c1", 10)
	assert.Equal(t, types.ComplianceNormal, g.State("c1"))
	assert.Equal(t, 1.0, g.ThrottleFactor("c1"))
	assert.NotEmpty(t, buf.OfType(events.TypeComplianceRecovered))
}

func TestCampaignsIndependent(t *testing.T) {
	g, _, now := newTestGovernor(t, DefaultConfig())
	record(g, "c1", "ab", types.OutcomeAbandoned, 10, *now)
	record(g, "c2", "ans", types.OutcomeAnswered, 10, *now)

	assert.Equal(t, 0.0, g.ThrottleFactor("c1"))
	assert.Equal(t, 1.0, g.ThrottleFactor("c2"))
}
