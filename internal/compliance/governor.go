package compliance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/events"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
)

// Basis selects the denominator of the drop rate
type Basis string

const (
	// BasisAttempts divides abandoned calls by every terminal attempt
	BasisAttempts Basis = "attempts"
	// BasisAnswered divides abandoned calls by calls a live party picked up
	BasisAnswered Basis = "answered"
)

// warnFraction of the ceiling is where throttling begins
const warnFraction = 0.8

// Config controls the rolling window
type Config struct {
	Window      time.Duration // time-bounded window, used when WindowCalls is 0
	WindowCalls int           // last N calls; overrides Window when > 0
	Basis       Basis
}

// DefaultConfig is a one hour window on the attempts basis
func DefaultConfig() Config {
	return Config{Window: time.Hour, Basis: BasisAttempts}
}

// WindowStats summarises the outcomes currently inside a campaign window
type WindowStats struct {
	Total       int     `json:"total"`
	Answered    int     `json:"answered"`
	Abandoned   int     `json:"abandoned"`
	DropRate    float64 `json:"dropRate"`   // percent
	AnswerRate  float64 `json:"answerRate"` // fraction of attempts a live party picked up
	AbandonRate float64 `json:"abandonRate"`
}

type campaignWindow struct {
	win     *window
	ceiling float64
	state   types.ComplianceState
}

// Governor tracks abandoned calls per campaign and converts the drop rate into a throttle factor
type Governor struct {
	cfg       Config
	campaigns map[string]*campaignWindow
	publisher events.Publisher
	now       func() time.Time
	mu        sync.Mutex
	logger    zerolog.Logger
}

// NewGovernor creates a governor. A nil publisher discards breach events.
func NewGovernor(cfg Config, publisher events.Publisher, logger zerolog.Logger) *Governor {
	if cfg.Window <= 0 && cfg.WindowCalls <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.Basis == "" {
		cfg.Basis = BasisAttempts
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Governor{
		cfg:       cfg,
		campaigns: make(map[string]*campaignWindow),
		publisher: publisher,
		now:       time.Now,
		logger:    logger.With().Str("component", "compliance").Logger(),
	}
}

// campaignLocked returns the campaign window, creating it with the default ceiling. Caller holds g.mu.
func (g *Governor) campaignLocked(campaignID string) *campaignWindow {
	c, ok := g.campaigns[campaignID]
	if !ok {
		c = &campaignWindow{
			win:     newWindow(g.cfg.Window, g.cfg.WindowCalls),
			ceiling: types.DefaultPacingConfig().MaxDropRatePercent,
			state:   types.ComplianceNormal,
		}
		g.campaigns[campaignID] = c
	}
	return c
}

// SetCeiling sets the max drop rate percent for a campaign
func (g *Governor) SetCeiling(campaignID string, maxPercent float64) {
	g.mu.Lock()
	c := g.campaignLocked(campaignID)
	c.ceiling = maxPercent
	change := g.reevaluateLocked(campaignID, c)
	g.mu.Unlock()

	g.publish(change)
}

// Ceiling returns the configured max drop rate percent
func (g *Governor) Ceiling(campaignID string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.campaignLocked(campaignID).ceiling
}

// RecordAttemptOutcome adds a terminal outcome to the campaign window.
// Returns false when the attempt was already recorded.
func (g *Governor) RecordAttemptOutcome(campaignID, attemptID string, outcome types.Outcome, at time.Time) bool {
	now := g.now()
	// the window trails the server clock; reporter skew must not park a sample at its tail
	if at.IsZero() || at.After(now) {
		at = now
	}

	g.mu.Lock()
	c := g.campaignLocked(campaignID)
	c.win.evict(now)
	if !c.win.add(sample{attemptID: attemptID, outcome: outcome, at: at}) {
		g.mu.Unlock()
		return false
	}
	change := g.reevaluateLocked(campaignID, c)
	g.mu.Unlock()

	g.publish(change)
	return true
}

// CurrentDropRate returns the drop rate percent over the rolling window
func (g *Governor) CurrentDropRate(campaignID string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.campaignLocked(campaignID)
	c.win.evict(g.now())
	return g.dropRate(c.win)
}

// Stats returns the window totals and rates for a campaign
func (g *Governor) Stats(campaignID string) WindowStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.campaignLocked(campaignID)
	c.win.evict(g.now())

	s := WindowStats{
		Total:     c.win.total,
		Answered:  c.win.answered,
		Abandoned: c.win.abandoned,
		DropRate:  g.dropRate(c.win),
	}
	if c.win.total > 0 {
		s.AnswerRate = float64(c.win.answered+c.win.abandoned) / float64(c.win.total)
		s.AbandonRate = float64(c.win.abandoned) / float64(c.win.total)
	}
	return s
}

// ThrottleFactor returns the multiplier the pacing controller applies to its raw target.
// Expired samples can move the campaign out of breach, which is published here.
func (g *Governor) ThrottleFactor(campaignID string) float64 {
	g.mu.Lock()
	c := g.campaignLocked(campaignID)
	c.win.evict(g.now())
	factor := Throttle(g.dropRate(c.win), c.ceiling)
	change := g.reevaluateLocked(campaignID, c)
	g.mu.Unlock()

	g.publish(change)
	return factor
}

// State returns NORMAL, WARNING or BREACH for a campaign
func (g *Governor) State(campaignID string) types.ComplianceState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.campaignLocked(campaignID).state
}

// Reset drops every window and keeps configured ceilings
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, c := range g.campaigns {
		g.campaigns[id] = &campaignWindow{
			win:     newWindow(g.cfg.Window, g.cfg.WindowCalls),
			ceiling: c.ceiling,
			state:   types.ComplianceNormal,
		}
	}
}

func (g *Governor) dropRate(w *window) float64 {
	denom := w.total
	if g.cfg.Basis == BasisAnswered {
		denom = w.answered + w.abandoned
	}
	if denom == 0 {
		return 0
	}
	return float64(w.abandoned) / float64(denom) * 100.0
}

type stateChange struct {
	campaignID string
	from, to   types.ComplianceState
	dropRate   float64
	ceiling    float64
}

// reevaluateLocked updates the campaign state and returns the change, if any. Caller holds g.mu.
func (g *Governor) reevaluateLocked(campaignID string, c *campaignWindow) *stateChange {
	rate := g.dropRate(c.win)
	next := Classify(rate, c.ceiling)
	if next == c.state {
		return nil
	}
	change := &stateChange{campaignID: campaignID, from: c.state, to: next, dropRate: rate, ceiling: c.ceiling}
	c.state = next
	return change
}

func (g *Governor) publish(change *stateChange) {
	if change == nil {
		return
	}

	e := events.Event{
		CampaignID: change.campaignID,
		Fields: map[string]any{
			"drop_rate": change.dropRate,
			"ceiling":   change.ceiling,
			"from":      string(change.from),
		},
		At: g.now(),
	}
	switch {
	case change.to == types.ComplianceBreach:
		e.Type = events.TypeComplianceBreach
		e.Severity = events.SeverityCritical
		e.Message = fmt.Sprintf("drop rate %.2f%% reached ceiling %.2f%%, dialing halted", change.dropRate, change.ceiling)
	case change.from == types.ComplianceBreach:
		e.Type = events.TypeComplianceRecovered
		e.Severity = events.SeverityInfo
		e.Message = fmt.Sprintf("drop rate %.2f%% back under ceiling %.2f%%", change.dropRate, change.ceiling)
	case change.to == types.ComplianceWarning:
		e.Type = events.TypeComplianceWarning
		e.Severity = events.SeverityWarning
		e.Message = fmt.Sprintf("drop rate %.2f%% approaching ceiling %.2f%%, throttling", change.dropRate, change.ceiling)
	default:
		e.Type = events.TypeComplianceRecovered
		e.Severity = events.SeverityInfo
		e.Message = fmt.Sprintf("drop rate %.2f%% back to normal", change.dropRate)
	}

	g.logger.Info().
		Str("campaign_id", change.campaignID).
		Str("from", string(change.from)).
		Str("to", string(change.to)).
		Float64("drop_rate", change.dropRate).
		Msg("compliance state changed")
	g.publisher.Publish(context.Background(), e)
}

// Classify maps a drop rate onto a compliance state for the given ceiling
func Classify(dropRate, ceiling float64) types.ComplianceState {
	if ceiling <= 0 {
		if dropRate > 0 {
			return types.ComplianceBreach
		}
		return types.ComplianceNormal
	}
	switch {
	case dropRate >= ceiling:
		return types.ComplianceBreach
	case dropRate > warnFraction*ceiling:
		return types.ComplianceWarning
	default:
		return types.ComplianceNormal
	}
}

// Throttle converts a drop rate into a factor in [0, 1]. Below 80% of the ceiling the
// factor is 1, it falls linearly to 0.5 as the rate approaches the ceiling, and is 0 at
// or above it. A zero ceiling tolerates no abandoned calls at all.
func Throttle(dropRate, ceiling float64) float64 {
	if ceiling <= 0 {
		if dropRate > 0 {
			return 0
		}
		return 1
	}
	warn := warnFraction * ceiling
	switch {
	case dropRate <= warn:
		return 1
	case dropRate >= ceiling:
		return 0
	default:
		return 1 - 0.5*(dropRate-warn)/(ceiling-warn)
	}
}
