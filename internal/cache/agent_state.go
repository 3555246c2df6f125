package cache

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxWrapUp is how long an agent may stay in WRAP_UP before being forced to READY
	DefaultMaxWrapUp = 2 * time.Minute
)

var (
	ErrAgentNotFound     = errors.New("agent not found")
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrAgentAssigned     = errors.New("agent already assigned to another campaign")
	ErrStaleTransition   = errors.New("transition is older than current state")
	ErrInvalidTransition = errors.New("invalid agent state transition")
)

// InvalidTransitionError carries the rejected (from, to) pair
type InvalidTransitionError struct {
	AgentID string
	From    types.AgentState
	To      types.AgentState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("agent %s: invalid transition %s -> %s", e.AgentID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// allowedTransitions is the agent state graph. Any state may go OFFLINE.
var allowedTransitions = map[types.AgentState][]types.AgentState{
	types.StateOffline: {types.StateReady},
	types.StateReady:   {types.StateOnCall, types.StatePaused, types.StateOffline},
	types.StateOnCall:  {types.StateWrapUp, types.StateOffline},
	types.StateWrapUp:  {types.StateReady, types.StateOffline},
	types.StatePaused:  {types.StateReady, types.StateOffline},
}

// CanTransition reports whether from -> to is an edge of the state graph
func CanTransition(from, to types.AgentState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// HandleTimeObserver receives talk+wrap durations when an agent finishes wrap-up
type HandleTimeObserver interface {
	ObserveHandleTime(campaignID string, handle time.Duration, at time.Time)
}

// ForcedTransition describes an agent pushed out of WRAP_UP by the max duration rule
type ForcedTransition struct {
	AgentID    string
	CampaignID string
	WrapUp     time.Duration
}

type roster struct {
	agents map[string]struct{}
	counts map[types.AgentState]int
}

func newRoster() *roster {
	return &roster{
		agents: make(map[string]struct{}),
		counts: make(map[types.AgentState]int, len(types.AllAgentStates)),
	}
}

// AgentStateTracker maintains the authoritative state of every agent, per campaign
type AgentStateTracker struct {
	agents    map[string]*types.Agent // agentID -> agent
	rosters   map[string]*roster      // campaignID -> roster
	maxWrapUp time.Duration
	observer  HandleTimeObserver
	now       func() time.Time
	logger    zerolog.Logger
	mu        sync.RWMutex
}

// NewAgentStateTracker creates a new agent state tracker
func NewAgentStateTracker(maxWrapUp time.Duration, logger zerolog.Logger) *AgentStateTracker {
	if maxWrapUp <= 0 {
		maxWrapUp = DefaultMaxWrapUp
	}
	return &AgentStateTracker{
		agents:    make(map[string]*types.Agent),
		rosters:   make(map[string]*roster),
		maxWrapUp: maxWrapUp,
		now:       time.Now,
		logger:    logger.With().Str("component", "agent_tracker").Logger(),
	}
}

// SetHandleTimeObserver registers the receiver of completed handle times
func (t *AgentStateTracker) SetHandleTimeObserver(o HandleTimeObserver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer = o
}

// EnsureCampaign creates an empty roster so counts for the campaign resolve to zero
func (t *AgentStateTracker) EnsureCampaign(campaignID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rosters[campaignID]; !ok {
		t.rosters[campaignID] = newRoster()
	}
}

// stamp bounds a reported event time by the local clock. A timestamp ahead of the
// clock would make every later real event look stale.
func (t *AgentStateTracker) stamp(at time.Time) time.Time {
	now := t.now()
	if at.IsZero() || at.After(now) {
		return now
	}
	return at
}

// Login assigns an agent to a campaign roster in OFFLINE state
func (t *AgentStateTracker) Login(agentID, campaignID string, at time.Time) error {
	at = t.stamp(at)

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.agents[agentID]; ok {
		if existing.CampaignID == campaignID {
			return nil
		}
		return fmt.Errorf("%w: %s is on %s", ErrAgentAssigned, agentID, existing.CampaignID)
	}

	r, ok := t.rosters[campaignID]
	if !ok {
		r = newRoster()
		t.rosters[campaignID] = r
	}

	t.agents[agentID] = &types.Agent{
		AgentID:        agentID,
		CampaignID:     campaignID,
		State:          types.StateOffline,
		StateEnteredAt: at,
		LoggedInAt:     at,
	}
	r.agents[agentID] = struct{}{}
	r.counts[types.StateOffline]++

	t.logger.Debug().Str("agent_id", agentID).Str("campaign_id", campaignID).Msg("agent logged in")
	return nil
}

// Logout removes an agent from its campaign roster
func (t *AgentStateTracker) Logout(agentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	agent, ok := t.agents[agentID]
	if !ok {
		return ErrAgentNotFound
	}
	if r, ok := t.rosters[agent.CampaignID]; ok {
		r.counts[agent.State]--
		delete(r.agents, agentID)
	}
	delete(t.agents, agentID)

	t.logger.Debug().Str("agent_id", agentID).Str("campaign_id", agent.CampaignID).Msg("agent logged out")
	return nil
}

// Transition moves an agent to newState. Rejected transitions leave the agent untouched.
func (t *AgentStateTracker) Transition(agentID string, newState types.AgentState, at time.Time) error {
	at = t.stamp(at)

	t.mu.Lock()
	agent, ok := t.agents[agentID]
	if !ok {
		t.mu.Unlock()
		return ErrAgentNotFound
	}

	from := agent.State
	if !newState.Valid() || !CanTransition(from, newState) {
		t.mu.Unlock()
		t.logger.Warn().
			Str("agent_id", agentID).
			Str("from", string(from)).
			Str("to", string(newState)).
			Msg("rejected invalid transition")
		return &InvalidTransitionError{AgentID: agentID, From: from, To: newState}
	}
	if at.Before(agent.StateEnteredAt) {
		t.mu.Unlock()
		t.logger.Warn().
			Str("agent_id", agentID).
			Time("at", at).
			Time("state_entered_at", agent.StateEnteredAt).
			Msg("rejected stale transition")
		return fmt.Errorf("%w: agent %s", ErrStaleTransition, agentID)
	}

	handle, campaignID, observer := t.applyLocked(agent, newState, at)
	t.mu.Unlock()

	if handle > 0 && observer != nil {
		observer.ObserveHandleTime(campaignID, handle, at)
	}
	return nil
}

// applyLocked mutates agent state and counters. Caller holds t.mu.
func (t *AgentStateTracker) applyLocked(agent *types.Agent, to types.AgentState, at time.Time) (time.Duration, string, HandleTimeObserver) {
	from := agent.State
	if r, ok := t.rosters[agent.CampaignID]; ok {
		r.counts[from]--
		r.counts[to]++
	}

	agent.State = to
	agent.StateEnteredAt = at

	var handle time.Duration
	switch to {
	case types.StateOnCall:
		started := at
		agent.CallStartedAt = &started
	case types.StateReady, types.StateOffline:
		if from == types.StateWrapUp && agent.CallStartedAt != nil {
			handle = at.Sub(*agent.CallStartedAt)
		}
		agent.CallStartedAt = nil
	}
	return handle, agent.CampaignID, t.observer
}

// CountByState returns agent counts per state for a campaign from maintained counters
func (t *AgentStateTracker) CountByState(campaignID string) (map[types.AgentState]int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.rosters[campaignID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCampaignNotFound, campaignID)
	}
	counts := make(map[types.AgentState]int, len(types.AllAgentStates))
	for _, s := range types.AllAgentStates {
		counts[s] = r.counts[s]
	}
	return counts, nil
}

// AgentsIdleLongerThan returns READY agents idle longer than d, longest idle first
func (t *AgentStateTracker) AgentsIdleLongerThan(campaignID string, d time.Duration, now time.Time) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.rosters[campaignID]
	if !ok {
		return nil
	}

	idle := make([]*types.Agent, 0)
	for id := range r.agents {
		agent := t.agents[id]
		if agent.State == types.StateReady && now.Sub(agent.StateEnteredAt) > d {
			idle = append(idle, agent)
		}
	}
	sort.Slice(idle, func(i, j int) bool {
		return idle[i].StateEnteredAt.Before(idle[j].StateEnteredAt)
	})

	ids := make([]string, len(idle))
	for i, a := range idle {
		ids[i] = a.AgentID
	}
	return ids
}

// BusyElapsed returns time since call start for every ON_CALL or WRAP_UP agent of a campaign
func (t *AgentStateTracker) BusyElapsed(campaignID string, now time.Time) ([]time.Duration, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.rosters[campaignID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCampaignNotFound, campaignID)
	}

	elapsed := make([]time.Duration, 0, r.counts[types.StateOnCall]+r.counts[types.StateWrapUp])
	for id := range r.agents {
		agent := t.agents[id]
		if (agent.State == types.StateOnCall || agent.State == types.StateWrapUp) && agent.CallStartedAt != nil {
			elapsed = append(elapsed, now.Sub(*agent.CallStartedAt))
		}
	}
	return elapsed, nil
}

// EnforceWrapUpLimit forces agents stuck in WRAP_UP past the max duration back to READY
func (t *AgentStateTracker) EnforceWrapUpLimit(now time.Time) []ForcedTransition {
	type handleReport struct {
		campaignID string
		handle     time.Duration
	}

	t.mu.Lock()
	var forced []ForcedTransition
	var reports []handleReport
	observer := t.observer
	for _, agent := range t.agents {
		if agent.State != types.StateWrapUp {
			continue
		}
		wrap := now.Sub(agent.StateEnteredAt)
		if wrap <= t.maxWrapUp {
			continue
		}
		handle, campaignID, _ := t.applyLocked(agent, types.StateReady, now)
		forced = append(forced, ForcedTransition{AgentID: agent.AgentID, CampaignID: campaignID, WrapUp: wrap})
		if handle > 0 {
			reports = append(reports, handleReport{campaignID: campaignID, handle: handle})
		}
	}
	t.mu.Unlock()

	for _, f := range forced {
		t.logger.Warn().
			Str("agent_id", f.AgentID).
			Str("campaign_id", f.CampaignID).
			Dur("wrap_up", f.WrapUp).
			Msg("wrap-up exceeded max duration, forced to READY")
	}
	if observer != nil {
		for _, rep := range reports {
			observer.ObserveHandleTime(rep.campaignID, rep.handle, now)
		}
	}
	return forced
}

// Get returns a copy of one agent
func (t *AgentStateTracker) Get(agentID string) (types.Agent, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	agent, ok := t.agents[agentID]
	if !ok {
		return types.Agent{}, false
	}
	return *agent, true
}

// List returns copies of all agents on a campaign roster
func (t *AgentStateTracker) List(campaignID string) []types.Agent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.rosters[campaignID]
	if !ok {
		return nil
	}
	agents := make([]types.Agent, 0, len(r.agents))
	for id := range r.agents {
		agents = append(agents, *t.agents[id])
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })
	return agents
}

// Count returns the total number of tracked agents
func (t *AgentStateTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.agents)
}

// Clear removes all agents and returns how many were removed. Rosters stay so counts resolve.
func (t *AgentStateTracker) Clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.agents)
	t.agents = make(map[string]*types.Agent)
	for id := range t.rosters {
		t.rosters[id] = newRoster()
	}
	return n
}
