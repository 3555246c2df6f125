package pacing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/cache"
	"github.com/dennisdiepolder/monti/dialer/internal/compliance"
	"github.com/dennisdiepolder/monti/dialer/internal/dispatcher"
	"github.com/dennisdiepolder/monti/dialer/internal/events"
	"github.com/dennisdiepolder/monti/dialer/internal/hopper"
	"github.com/dennisdiepolder/monti/dialer/internal/metrics"
	"github.com/dennisdiepolder/monti/dialer/internal/observability"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultTickInterval is the control loop period of every campaign
const DefaultTickInterval = 2 * time.Second

var ErrCampaignNotFound = errors.New("campaign not found")

// Submitter accepts dial commands without blocking
type Submitter interface {
	Submit(cmd types.DialCommand) error
}

// ConfigStore persists pacing configs
type ConfigStore interface {
	SavePacingConfig(ctx context.Context, campaignID string, cfg types.PacingConfig) error
}

// Deps are the collaborators of the engine
type Deps struct {
	Tracker    *cache.AgentStateTracker
	Hopper     *hopper.Manager
	Governor   *compliance.Governor
	Predictor  *Predictor
	Registry   *cache.AttemptRegistry
	Dispatcher Submitter
	Store      ConfigStore
	Publisher  events.Publisher
	Metrics    *metrics.Metrics
}

type campaign struct {
	id       string
	mu       sync.Mutex
	config   types.PacingConfig
	running  bool
	snapshot atomic.Pointer[types.PacingSnapshot]
	cancel   context.CancelFunc

	// ticks of one campaign never overlap; the fields below belong to the tick
	tickMu      sync.Mutex
	failClosed  bool
	hopperState types.HopperState
}

func (c *campaign) settings() (types.PacingConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config, c.running
}

// Engine runs one pacing loop per campaign
type Engine struct {
	deps      Deps
	interval  time.Duration
	campaigns map[string]*campaign
	baseCtx   context.Context
	wg        sync.WaitGroup
	now       func() time.Time
	mu        sync.RWMutex
	logger    zerolog.Logger
}

// NewEngine creates an engine. Loops start once Start is called.
func NewEngine(deps Deps, interval time.Duration, logger zerolog.Logger) *Engine {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if deps.Predictor == nil {
		deps.Predictor = NewPredictor(0, 0)
	}
	return &Engine{
		deps:      deps,
		interval:  interval,
		campaigns: make(map[string]*campaign),
		now:       time.Now,
		logger:    logger.With().Str("component", "pacing").Logger(),
	}
}

// Start launches the loops of all configured campaigns and blocks until ctx is cancelled
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.baseCtx = ctx
	for _, c := range e.campaigns {
		e.launchLocked(c)
	}
	count := len(e.campaigns)
	e.mu.Unlock()

	e.logger.Info().Dur("interval", e.interval).Int("campaigns", count).Msg("pacing engine started")

	<-ctx.Done()
	e.wg.Wait()
	e.logger.Info().Msg("pacing engine stopped")
}

// launchLocked starts the campaign loop if the engine is running. Caller holds e.mu.
func (e *Engine) launchLocked(c *campaign) {
	if e.baseCtx == nil || c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(e.baseCtx)
	c.cancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.loop(ctx, c)
	}()
}

func (e *Engine) loop(ctx context.Context, c *campaign) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	logger := e.logger.With().Str("campaign_id", c.id).Logger()
	logger.Info().Msg("campaign loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("campaign loop stopped")
			return
		case <-ticker.C:
			e.safeTick(ctx, c)
		}
	}
}

// safeTick runs one tick and turns a panic into a fail-closed snapshot
func (e *Engine) safeTick(ctx context.Context, c *campaign) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("campaign_id", c.id).
				Interface("panic", r).
				Msg("pacing tick panicked, campaign fails closed")
			e.deps.Metrics.RecordTickPanic(c.id)

			cfg, running := c.settings()
			snap := e.baseSnapshot(c.id, cfg, running, e.now())
			e.failClosed(ctx, c, snap, fmt.Sprintf("tick panic: %v", r))
		}
	}()
	e.tick(ctx, c)
}

// SetConfig validates and applies a pacing config, creating the campaign if needed
func (e *Engine) SetConfig(ctx context.Context, campaignID string, cfg types.PacingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.WithDefaults()

	if e.deps.Store != nil {
		if err := e.deps.Store.SavePacingConfig(ctx, campaignID, cfg); err != nil {
			return fmt.Errorf("failed to persist pacing config: %w", err)
		}
	}
	e.apply(campaignID, cfg)

	e.logger.Info().
		Str("campaign_id", campaignID).
		Str("dial_method", string(cfg.DialMethod)).
		Float64("target_ratio", cfg.TargetRatio).
		Float64("max_drop_rate", cfg.MaxDropRatePercent).
		Int("min_hopper_level", cfg.MinHopperLevel).
		Msg("pacing config applied")
	e.deps.Publisher.Publish(ctx, events.Event{
		Type:       events.TypeConfigChanged,
		Severity:   events.SeverityInfo,
		CampaignID: campaignID,
		Message:    fmt.Sprintf("dial method %s, ratio %.2f, max drop %.2f%%", cfg.DialMethod, cfg.TargetRatio, cfg.MaxDropRatePercent),
		At:         e.now(),
	})
	return nil
}

// Restore applies a stored config at startup without writing it back
func (e *Engine) Restore(campaignID string, cfg types.PacingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.apply(campaignID, cfg.WithDefaults())
	return nil
}

func (e *Engine) apply(campaignID string, cfg types.PacingConfig) {
	e.deps.Tracker.EnsureCampaign(campaignID)
	e.deps.Hopper.SetConfig(campaignID, cfg)
	e.deps.Governor.SetCeiling(campaignID, cfg.MaxDropRatePercent)

	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.campaigns[campaignID]
	if !ok {
		c = &campaign{id: campaignID, running: true, hopperState: types.HopperOK}
		e.campaigns[campaignID] = c
	}
	c.mu.Lock()
	c.config = cfg
	c.mu.Unlock()
	e.launchLocked(c)
}

// Config returns the active config of a campaign
func (e *Engine) Config(campaignID string) (types.PacingConfig, bool) {
	c, ok := e.campaign(campaignID)
	if !ok {
		return types.PacingConfig{}, false
	}
	cfg, _ := c.settings()
	return cfg, true
}

// Pause stops new originations for a campaign. In-flight attempts are untouched.
func (e *Engine) Pause(ctx context.Context, campaignID string) error {
	return e.setRunning(ctx, campaignID, false)
}

// Resume allows originations again
func (e *Engine) Resume(ctx context.Context, campaignID string) error {
	return e.setRunning(ctx, campaignID, true)
}

func (e *Engine) setRunning(ctx context.Context, campaignID string, running bool) error {
	c, ok := e.campaign(campaignID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCampaignNotFound, campaignID)
	}
	c.mu.Lock()
	changed := c.running != running
	c.running = running
	c.mu.Unlock()
	if !changed {
		return nil
	}

	ev := events.Event{Type: events.TypeCampaignResumed, Severity: events.SeverityInfo, CampaignID: campaignID, Message: "campaign resumed", At: e.now()}
	if !running {
		ev.Type, ev.Message = events.TypeCampaignPaused, "campaign paused"
	}
	e.logger.Info().Str("campaign_id", campaignID).Bool("running", running).Msg("campaign run state changed")
	e.deps.Publisher.Publish(ctx, ev)
	return nil
}

// Snapshot returns the latest snapshot of a campaign. A campaign that has not ticked
// yet reports an empty snapshot with a zero target.
func (e *Engine) Snapshot(campaignID string) (*types.PacingSnapshot, bool) {
	c, ok := e.campaign(campaignID)
	if !ok {
		return nil, false
	}
	if snap := c.snapshot.Load(); snap != nil {
		return snap, true
	}
	cfg, running := c.settings()
	return e.baseSnapshot(c.id, cfg, running, e.now()), true
}

// Snapshots returns the latest snapshot of every campaign, ordered by campaign ID
func (e *Engine) Snapshots() []*types.PacingSnapshot {
	e.mu.RLock()
	out := make([]*types.PacingSnapshot, 0, len(e.campaigns))
	for _, c := range e.campaigns {
		if snap := c.snapshot.Load(); snap != nil {
			out = append(out, snap)
		}
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CampaignID < out[j].CampaignID })
	return out
}

// Campaigns returns all configured campaign IDs, sorted
func (e *Engine) Campaigns() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.campaigns))
	for id := range e.campaigns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Tick runs one control step for a campaign synchronously and returns its snapshot
func (e *Engine) Tick(ctx context.Context, campaignID string) (*types.PacingSnapshot, error) {
	c, ok := e.campaign(campaignID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCampaignNotFound, campaignID)
	}
	e.safeTick(ctx, c)
	return c.snapshot.Load(), nil
}

// HandleDispatchFailure returns the lead of an attempt that never reached the network.
// When delivery is unconfirmed the call may be up, so the attempt goes late and the
// lead stays claimed until an outcome arrives or housekeeping gives up on it.
func (e *Engine) HandleDispatchFailure(cmd types.DialCommand, err error) {
	if errors.Is(err, dispatcher.ErrDeliveryUnknown) {
		if _, ok := e.deps.Registry.MarkLate(cmd.AttemptID, e.now()); !ok {
			return
		}
		e.deps.Metrics.RecordDispatch(cmd.CampaignID, "unconfirmed", 1)
		e.deps.Publisher.Publish(context.Background(), events.Event{
			Type:       events.TypeDispatchFailed,
			Severity:   events.SeverityWarning,
			CampaignID: cmd.CampaignID,
			AttemptID:  cmd.AttemptID,
			Message:    fmt.Sprintf("origination unconfirmed, lead %s held for a late outcome: %v", cmd.LeadID, err),
			At:         e.now(),
		})
		return
	}

	if _, ok := e.deps.Registry.Resolve(cmd.AttemptID); !ok {
		// outcome already arrived, nothing to undo
		return
	}
	if relErr := e.deps.Hopper.Release(cmd.CampaignID, cmd.LeadID); relErr != nil {
		e.logger.Warn().Err(relErr).Str("lead_id", cmd.LeadID).Msg("failed to release lead")
	}
	e.deps.Metrics.RecordDispatch(cmd.CampaignID, "failed", 1)
	e.deps.Publisher.Publish(context.Background(), events.Event{
		Type:       events.TypeDispatchFailed,
		Severity:   events.SeverityWarning,
		CampaignID: cmd.CampaignID,
		AttemptID:  cmd.AttemptID,
		Message:    fmt.Sprintf("origination failed: %v", err),
		At:         e.now(),
	})
}

func (e *Engine) campaign(campaignID string) (*campaign, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.campaigns[campaignID]
	return c, ok
}

func (e *Engine) baseSnapshot(campaignID string, cfg types.PacingConfig, running bool, now time.Time) *types.PacingSnapshot {
	runState := types.RunRunning
	if !running {
		runState = types.RunPaused
	}
	return &types.PacingSnapshot{
		CampaignID: campaignID,
		DialMethod: cfg.DialMethod,
		RunState:   runState,
		ComputedAt: now,
	}
}

func (e *Engine) tick(ctx context.Context, c *campaign) {
	start := e.now()
	ctx, span := observability.StartSpan(ctx, "pacing.tick", attribute.String("campaign.id", c.id))
	defer span.End()
	defer func() { e.deps.Metrics.RecordTick(c.id, time.Since(start)) }()

	cfg, running := c.settings()
	now := start
	snap := e.baseSnapshot(c.id, cfg, running, now)

	counts, err := e.deps.Tracker.CountByState(c.id)
	if err != nil {
		span.SetStatus(codes.Error, "agent state unavailable")
		e.failClosed(ctx, c, snap, fmt.Sprintf("agent state unavailable: %v", err))
		return
	}
	pending, err := e.deps.Hopper.Pending(c.id)
	if err != nil {
		span.SetStatus(codes.Error, "hopper unavailable")
		e.failClosed(ctx, c, snap, fmt.Sprintf("hopper unavailable: %v", err))
		return
	}

	throttle := e.deps.Governor.ThrottleFactor(c.id)
	window := e.deps.Governor.Stats(c.id)
	outstanding := e.deps.Registry.Outstanding(c.id)
	answerRate, hasAnswer := e.deps.Predictor.AnswerRate(c.id, now)
	avgHandle, _ := e.deps.Predictor.AvgHandleTime(c.id, now)

	ready := counts[types.StateReady]
	forecast := float64(ready)
	if cfg.DialMethod == types.DialPredictive {
		busy, err := e.deps.Tracker.BusyElapsed(c.id, now)
		if err != nil {
			span.SetStatus(codes.Error, "agent state unavailable")
			e.failClosed(ctx, c, snap, fmt.Sprintf("agent state unavailable: %v", err))
			return
		}
		forecast = e.deps.Predictor.Forecast(c.id, ready, busy, now)
	}

	decision := Compute(Inputs{
		Config:        cfg,
		Running:       running,
		Ready:         ready,
		Pending:       pending,
		Outstanding:   outstanding,
		Throttle:      throttle,
		Forecast:      forecast,
		AnswerRate:    answerRate,
		HasAnswerRate: hasAnswer,
	})

	snap.ReadyAgents = ready
	snap.OnCallAgents = counts[types.StateOnCall]
	snap.PendingHopperCount = pending
	snap.RecentAnswerRate = window.AnswerRate
	snap.RecentAbandonRate = window.AbandonRate
	snap.ThrottleFactor = throttle
	snap.ComplianceState = e.deps.Governor.State(c.id)
	snap.HopperState = e.hopperState(c.id, pending)
	snap.AvailabilityForecast = forecast
	snap.AvgHandleTimeSecs = avgHandle.Seconds()
	snap.OutstandingAttempts = outstanding
	snap.CurrentDialTarget = decision.Target
	snap.NewAttempts = decision.New

	dispatched, err := e.dispatch(ctx, c.id, decision.New, now)
	if err != nil {
		span.SetStatus(codes.Error, "dispatch failed")
		e.failClosed(ctx, c, snap, fmt.Sprintf("hopper claim failed: %v", err))
		return
	}
	snap.Dispatched = dispatched

	span.SetAttributes(
		attribute.Int("pacing.target", decision.Target),
		attribute.Int("pacing.new_attempts", decision.New),
		attribute.Int("pacing.dispatched", dispatched),
		attribute.Float64("pacing.throttle", throttle),
	)

	e.publishHopperState(ctx, c, snap.HopperState, pending)
	e.clearFailClosed(ctx, c)
	c.snapshot.Store(snap)

	e.deps.Metrics.UpdateSnapshot(snap, window.DropRate)
	e.deps.Metrics.UpdateAgentStats(c.id, counts)

	e.logger.Debug().
		Str("campaign_id", c.id).
		Int("ready", ready).
		Int("pending", pending).
		Int("outstanding", outstanding).
		Float64("throttle", throttle).
		Float64("ratio", decision.Ratio).
		Int("target", decision.Target).
		Int("new_attempts", decision.New).
		Int("dispatched", dispatched).
		Msg("pacing tick")
}

// dispatch claims leads and submits one dial command per lead. Leads whose command
// cannot be queued go straight back to the hopper.
func (e *Engine) dispatch(ctx context.Context, campaignID string, target int, now time.Time) (int, error) {
	if target <= 0 {
		return 0, nil
	}
	entries, err := e.deps.Hopper.NextBatch(campaignID, target)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for i, entry := range entries {
		attempt := types.Attempt{
			AttemptID:   uuid.New().String(),
			CampaignID:  campaignID,
			LeadID:      entry.LeadID,
			PhoneNumber: entry.PhoneNumber,
			IssuedAt:    now,
		}
		e.deps.Registry.Register(attempt)

		cmd := types.DialCommand{
			AttemptID:   attempt.AttemptID,
			CampaignID:  campaignID,
			LeadID:      entry.LeadID,
			PhoneNumber: entry.PhoneNumber,
			IssuedAt:    now,
		}
		if err := e.deps.Dispatcher.Submit(cmd); err != nil {
			e.deps.Registry.Resolve(attempt.AttemptID)
			rejected := 0
			for _, rest := range entries[i:] {
				if relErr := e.deps.Hopper.Release(campaignID, rest.LeadID); relErr == nil {
					rejected++
				}
			}
			e.deps.Metrics.RecordDispatch(campaignID, "rejected", rejected)
			e.logger.Warn().Err(err).
				Str("campaign_id", campaignID).
				Int("released", rejected).
				Msg("dispatcher refused commands, leads released")
			e.deps.Publisher.Publish(ctx, events.Event{
				Type:       events.TypeDispatchFailed,
				Severity:   events.SeverityWarning,
				CampaignID: campaignID,
				Message:    fmt.Sprintf("dispatcher refused %d commands: %v", rejected, err),
				At:         now,
			})
			break
		}
		dispatched++
	}

	e.deps.Metrics.RecordDispatch(campaignID, "queued", dispatched)
	return dispatched, nil
}

func (e *Engine) hopperState(campaignID string, pending int) types.HopperState {
	switch {
	case pending == 0:
		return types.HopperExhausted
	case e.deps.Hopper.NeedsReplenishment(campaignID):
		return types.HopperLow
	default:
		return types.HopperOK
	}
}

func (e *Engine) publishHopperState(ctx context.Context, c *campaign, state types.HopperState, pending int) {
	if state == c.hopperState {
		return
	}
	c.hopperState = state

	var ev events.Event
	switch state {
	case types.HopperExhausted:
		ev = events.Event{Type: events.TypeHopperExhausted, Severity: events.SeverityCritical, Message: "no dialable leads left"}
	case types.HopperLow:
		ev = events.Event{Type: events.TypeHopperLow, Severity: events.SeverityWarning, Message: fmt.Sprintf("hopper below minimum level, %d pending", pending)}
	default:
		return
	}
	ev.CampaignID = c.id
	ev.At = e.now()
	e.deps.Publisher.Publish(ctx, ev)
}

// failClosed stores a zero-target snapshot and alerts once per failure episode
func (e *Engine) failClosed(ctx context.Context, c *campaign, snap *types.PacingSnapshot, reason string) {
	snap.CurrentDialTarget = 0
	snap.FailClosed = true
	snap.FailReason = reason
	if prev := c.snapshot.Load(); prev != nil {
		snap.ReadyAgents = prev.ReadyAgents
		snap.OnCallAgents = prev.OnCallAgents
		snap.PendingHopperCount = prev.PendingHopperCount
		snap.ComplianceState = prev.ComplianceState
		snap.HopperState = prev.HopperState
	}
	c.snapshot.Store(snap)
	e.deps.Metrics.UpdateSnapshot(snap, 0)

	if c.failClosed {
		return
	}
	c.failClosed = true
	e.logger.Error().Str("campaign_id", c.id).Str("reason", reason).Msg("pacing failed closed")
	e.deps.Publisher.Publish(ctx, events.Event{
		Type:       events.TypePacingFailClosed,
		Severity:   events.SeverityCritical,
		CampaignID: c.id,
		Message:    reason,
		At:         snap.ComputedAt,
	})
}

func (e *Engine) clearFailClosed(ctx context.Context, c *campaign) {
	if !c.failClosed {
		return
	}
	c.failClosed = false
	e.logger.Info().Str("campaign_id", c.id).Msg("pacing recovered")
	e.deps.Publisher.Publish(ctx, events.Event{
		Type:       events.TypePacingRecovered,
		Severity:   events.SeverityInfo,
		CampaignID: c.id,
		Message:    "dependencies available again, pacing resumed",
		At:         e.now(),
	})
}

// Reset clears every snapshot. Configs and run states stay.
func (e *Engine) Reset() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, c := range e.campaigns {
		c.snapshot.Store(nil)
	}
}
