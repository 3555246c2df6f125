package hopper

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownCampaign = errors.New("hopper: unknown campaign")
	ErrNotInFlight     = errors.New("hopper: lead is not in flight")
)

type campaignSlot struct {
	mu     sync.Mutex // single writer for this campaign's hopper
	hopper *campaignHopper
}

// Manager holds one lead hopper per campaign
type Manager struct {
	slots  map[string]*campaignSlot
	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewManager creates an empty hopper manager
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		slots:  make(map[string]*campaignSlot),
		logger: logger.With().Str("component", "hopper").Logger(),
	}
}

// EnsureCampaign creates the campaign hopper if it does not exist yet
func (m *Manager) EnsureCampaign(campaignID string, config types.PacingConfig) {
	m.slot(campaignID, config, true)
}

// SetConfig applies MinHopperLevel, MaxAttempts and RetryDelaySecs from a pacing config
func (m *Manager) SetConfig(campaignID string, config types.PacingConfig) {
	s, created := m.slot(campaignID, config, true)
	if created {
		return
	}
	s.mu.Lock()
	s.hopper.config = config.WithDefaults()
	s.mu.Unlock()
}

// slot returns the campaign slot, creating it when create is set
func (m *Manager) slot(campaignID string, config types.PacingConfig, create bool) (*campaignSlot, bool) {
	m.mu.RLock()
	s, ok := m.slots[campaignID]
	m.mu.RUnlock()
	if ok || !create {
		return s, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[campaignID]; ok {
		return s, false
	}
	s = &campaignSlot{hopper: newCampaignHopper(campaignID, config)}
	m.slots[campaignID] = s
	return s, true
}

func (m *Manager) lookup(campaignID string) (*campaignSlot, error) {
	s, _ := m.slot(campaignID, types.PacingConfig{}, false)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCampaign, campaignID)
	}
	return s, nil
}

// Load imports leads as PENDING. Leads whose ID is already known are ignored.
// Returns the number of entries added.
func (m *Manager) Load(campaignID string, entries []types.HopperEntry) int {
	s, _ := m.slot(campaignID, types.DefaultPacingConfig(), true)

	s.mu.Lock()
	added := 0
	for _, e := range entries {
		if s.hopper.add(e) {
			added++
		}
	}
	pending := s.hopper.counts[types.LeadPending]
	s.mu.Unlock()

	m.logger.Debug().
		Str("campaign_id", campaignID).
		Int("offered", len(entries)).
		Int("added", added).
		Int("pending", pending).
		Msg("leads loaded")
	return added
}

// NextBatch claims up to count PENDING entries in FIFO order and marks them IN_FLIGHT.
// A phone number is never claimed twice while one of its attempts is in flight.
func (m *Manager) NextBatch(campaignID string, count int) ([]types.HopperEntry, error) {
	s, err := m.lookup(campaignID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hopper.claim(count, time.Now()), nil
}

// Release returns a claimed lead to PENDING without counting the attempt.
// Used when an origination was refused before reaching the network.
func (m *Manager) Release(campaignID, leadID string) error {
	s, err := m.lookup(campaignID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	ok := s.hopper.release(leadID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInFlight, leadID)
	}
	return nil
}

// RecordOutcome settles an IN_FLIGHT lead. Retryable outcomes requeue the lead until
// MaxAttempts is reached. Leads that are not IN_FLIGHT are left untouched.
func (m *Manager) RecordOutcome(campaignID, leadID string, outcome types.Outcome) (types.LeadStatus, error) {
	s, err := m.lookup(campaignID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	status, ok := s.hopper.settle(leadID, outcome)
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotInFlight, leadID)
	}

	m.logger.Debug().
		Str("campaign_id", campaignID).
		Str("lead_id", leadID).
		Str("outcome", string(outcome)).
		Str("status", string(status)).
		Msg("lead settled")
	return status, nil
}

// Pending returns the PENDING count for a campaign
func (m *Manager) Pending(campaignID string) (int, error) {
	s, err := m.lookup(campaignID)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hopper.counts[types.LeadPending], nil
}

// NeedsReplenishment reports whether PENDING has dropped below MinHopperLevel
func (m *Manager) NeedsReplenishment(campaignID string) bool {
	s, err := m.lookup(campaignID)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hopper.counts[types.LeadPending] < s.hopper.config.MinHopperLevel
}

// Stats returns per-status counts for a campaign
func (m *Manager) Stats(campaignID string) (types.HopperStats, error) {
	s, err := m.lookup(campaignID)
	if err != nil {
		return types.HopperStats{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hopper.stats(), nil
}

// Entry returns a copy of one lead
func (m *Manager) Entry(campaignID, leadID string) (types.HopperEntry, bool) {
	s, err := m.lookup(campaignID)
	if err != nil {
		return types.HopperEntry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.hopper.entries[leadID]
	if !ok {
		return types.HopperEntry{}, false
	}
	return *e, true
}

// Campaigns returns the IDs of all known campaign hoppers, sorted
func (m *Manager) Campaigns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.slots))
	for id := range m.slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear wipes every hopper and returns the number of entries removed. Campaigns stay known.
func (m *Manager) Clear() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, s := range m.slots {
		s.mu.Lock()
		total += s.hopper.wipe()
		s.mu.Unlock()
	}

	m.logger.Info().Int("cleared", total).Msg("wiped all hopper entries")
	return total
}
