package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
)

var (
	ErrRunning    = errors.New("simulation already running")
	ErrNotRunning = errors.New("simulation not running")
)

// Reporter delivers telephony events to the dialer
type Reporter interface {
	Send(ctx context.Context, evs ...types.TelephonyEvent) error
}

// Simulator stands in for the SIP and ACD layers. It rings originated
// numbers, bridges answered calls to free simulated agents and reports
// every outcome and agent transition back to the dialer.
type Simulator struct {
	reporter Reporter
	config   Config

	running   bool
	startedAt *time.Time
	cancel    context.CancelFunc
	runCtx    context.Context
	wg        sync.WaitGroup

	// free agent IDs per campaign
	free   map[string][]string
	agents []agentRef

	rng *rand.Rand

	originated, inFlight                     atomic.Int64
	answered, abandoned, noAnswer, busy, bad atomic.Int64
	postErrors                               atomic.Int64

	mu     sync.Mutex
	logger zerolog.Logger
}

type agentRef struct {
	id         string
	campaignID string
}

// NewSimulator creates a stopped simulator
func NewSimulator(reporter Reporter, seed int64, logger zerolog.Logger) *Simulator {
	return &Simulator{
		reporter: reporter,
		config:   DefaultConfig(),
		free:     make(map[string][]string),
		rng:      rand.New(rand.NewSource(seed)),
		logger:   logger.With().Str("component", "simulator").Logger(),
	}
}

// Config returns the current configuration
func (s *Simulator) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// SetConfig replaces the configuration. Changes are refused while running.
func (s *Simulator) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	s.config = cfg
	return nil
}

// Start logs in the configured agents and makes them READY
func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunning
	}
	cfg := s.config
	s.agents = nil
	s.free = make(map[string][]string)
	for _, campaignID := range cfg.Campaigns {
		for i := 1; i <= cfg.AgentsPerCampaign; i++ {
			s.agents = append(s.agents, agentRef{id: fmt.Sprintf("%s-agent-%03d", campaignID, i), campaignID: campaignID})
		}
	}
	agents := s.agents
	s.mu.Unlock()

	now := time.Now()
	var evs []types.TelephonyEvent
	for _, a := range agents {
		evs = append(evs,
			types.TelephonyEvent{Type: types.EventLogin, CampaignID: a.campaignID, AgentID: a.id, At: now},
			types.TelephonyEvent{Type: types.EventTransition, CampaignID: a.campaignID, AgentID: a.id, NewState: types.StateReady, At: now},
		)
	}
	if len(evs) > 0 {
		if err := s.reporter.Send(ctx, evs...); err != nil {
			return fmt.Errorf("failed to log in agents: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	for _, a := range agents {
		s.free[a.campaignID] = append(s.free[a.campaignID], a.id)
	}
	s.running = true
	s.startedAt = &now
	s.runCtx = runCtx
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info().Int("agents", len(agents)).Strs("campaigns", cfg.Campaigns).Msg("simulation started")
	return nil
}

// Stop abandons in-flight calls and logs every agent out
func (s *Simulator) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	s.startedAt = nil
	s.cancel()
	agents := s.agents
	s.mu.Unlock()

	s.wg.Wait()

	var evs []types.TelephonyEvent
	for _, a := range agents {
		evs = append(evs, types.TelephonyEvent{Type: types.EventLogout, CampaignID: a.campaignID, AgentID: a.id, At: time.Now()})
	}
	if len(evs) > 0 {
		if err := s.reporter.Send(ctx, evs...); err != nil {
			s.logger.Warn().Err(err).Msg("failed to log agents out")
		}
	}

	s.mu.Lock()
	s.agents = nil
	s.free = make(map[string][]string)
	s.mu.Unlock()

	s.logger.Info().Msg("simulation stopped")
	return nil
}

// Originate accepts one dial command and plays the call out in the background
func (s *Simulator) Originate(cmd types.DialCommand) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	ctx := s.runCtx
	s.wg.Add(1)
	s.mu.Unlock()

	s.originated.Add(1)
	s.inFlight.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Add(-1)
		s.play(ctx, cmd)
	}()
	return nil
}

// play rings, rolls the outcome and, for an answered call, walks an agent
// through ON_CALL, WRAP_UP and back to READY
func (s *Simulator) play(ctx context.Context, cmd types.DialCommand) {
	cfg := s.Config()
	if !sleep(ctx, s.between(cfg.RingMin, cfg.RingMax)) {
		return
	}

	outcome := s.roll(cfg)
	if outcome != types.OutcomeAnswered {
		s.count(outcome)
		s.report(ctx, outcomeEvent(cmd, outcome))
		return
	}

	agentID, ok := s.claimAgent(cmd.CampaignID)
	if !ok {
		s.count(types.OutcomeAbandoned)
		s.report(ctx, outcomeEvent(cmd, types.OutcomeAbandoned))
		return
	}
	defer s.releaseAgent(cmd.CampaignID, agentID)

	s.count(types.OutcomeAnswered)
	s.report(ctx,
		transitionEvent(cmd.CampaignID, agentID, types.StateOnCall),
		outcomeEvent(cmd, types.OutcomeAnswered),
	)

	// a stop mid-call still returns the agent to READY so the next run starts clean
	sleep(ctx, s.between(cfg.TalkMin, cfg.TalkMax))
	s.report(context.Background(), transitionEvent(cmd.CampaignID, agentID, types.StateWrapUp))
	sleep(ctx, s.between(cfg.WrapMin, cfg.WrapMax))
	s.report(context.Background(), transitionEvent(cmd.CampaignID, agentID, types.StateReady))
}

func (s *Simulator) report(ctx context.Context, evs ...types.TelephonyEvent) {
	if err := s.reporter.Send(ctx, evs...); err != nil {
		s.postErrors.Add(1)
		s.logger.Debug().Err(err).Msg("failed to report events")
	}
}

func (s *Simulator) roll(cfg Config) types.Outcome {
	s.mu.Lock()
	p := s.rng.Float64()
	s.mu.Unlock()

	switch {
	case p < cfg.AnswerProb:
		return types.OutcomeAnswered
	case p < cfg.AnswerProb+cfg.BusyProb:
		return types.OutcomeBusy
	case p < cfg.AnswerProb+cfg.BusyProb+cfg.FailProb:
		return types.OutcomeFailed
	default:
		return types.OutcomeNoAnswer
	}
}

func (s *Simulator) between(lo, hi Duration) time.Duration {
	if hi <= lo {
		return time.Duration(lo)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(lo) + time.Duration(s.rng.Int63n(int64(hi-lo)))
}

func (s *Simulator) count(o types.Outcome) {
	switch o {
	case types.OutcomeAnswered:
		s.answered.Add(1)
	case types.OutcomeAbandoned:
		s.abandoned.Add(1)
	case types.OutcomeBusy:
		s.busy.Add(1)
	case types.OutcomeFailed:
		s.bad.Add(1)
	default:
		s.noAnswer.Add(1)
	}
}

func (s *Simulator) claimAgent(campaignID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool := s.free[campaignID]
	if len(pool) == 0 {
		return "", false
	}
	id := pool[0]
	s.free[campaignID] = pool[1:]
	return id, true
}

func (s *Simulator) releaseAgent(campaignID, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.free[campaignID] = append(s.free[campaignID], agentID)
	}
}

// Status reports counters and the current pool
func (s *Simulator) Status() Status {
	s.mu.Lock()
	free := 0
	for _, pool := range s.free {
		free += len(pool)
	}
	st := Status{
		Running:    s.running,
		StartedAt:  s.startedAt,
		Agents:     len(s.agents),
		FreeAgents: free,
	}
	s.mu.Unlock()

	st.Originated = s.originated.Load()
	st.InFlight = s.inFlight.Load()
	st.Answered = s.answered.Load()
	st.Abandoned = s.abandoned.Load()
	st.NoAnswer = s.noAnswer.Load()
	st.Busy = s.busy.Load()
	st.Failed = s.bad.Load()
	st.PostErrors = s.postErrors.Load()
	return st
}

func outcomeEvent(cmd types.DialCommand, o types.Outcome) types.TelephonyEvent {
	return types.TelephonyEvent{
		Type:       types.EventOutcome,
		CampaignID: cmd.CampaignID,
		AttemptID:  cmd.AttemptID,
		Outcome:    o,
		At:         time.Now(),
	}
}

func transitionEvent(campaignID, agentID string, state types.AgentState) types.TelephonyEvent {
	return types.TelephonyEvent{
		Type:       types.EventTransition,
		CampaignID: campaignID,
		AgentID:    agentID,
		NewState:   state,
		At:         time.Now(),
	}
}

// sleep waits d or until ctx is done, reporting whether the full wait elapsed
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
