package hopper

import (
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
)

// campaignHopper is the lead queue of one campaign. Callers hold Manager's per-campaign lock.
type campaignHopper struct {
	id       string
	config   types.PacingConfig
	entries  map[string]*types.HopperEntry // leadID -> entry
	pending  []string                      // FIFO of PENDING leadIDs
	inFlight map[string]string             // phoneNumber -> leadID
	counts   map[types.LeadStatus]int
}

func newCampaignHopper(id string, config types.PacingConfig) *campaignHopper {
	return &campaignHopper{
		id:       id,
		config:   config.WithDefaults(),
		entries:  make(map[string]*types.HopperEntry),
		pending:  make([]string, 0),
		inFlight: make(map[string]string),
		counts:   make(map[types.LeadStatus]int, 4),
	}
}

// add queues a new lead as PENDING. Returns false for a leadID already known.
func (h *campaignHopper) add(e types.HopperEntry) bool {
	if e.LeadID == "" || e.PhoneNumber == "" {
		return false
	}
	if _, exists := h.entries[e.LeadID]; exists {
		return false
	}
	entry := &types.HopperEntry{
		LeadID:      e.LeadID,
		CampaignID:  h.id,
		PhoneNumber: e.PhoneNumber,
		Status:      types.LeadPending,
	}
	h.entries[e.LeadID] = entry
	h.pending = append(h.pending, e.LeadID)
	h.counts[types.LeadPending]++
	return true
}

// claim walks the pending FIFO and moves up to count entries to IN_FLIGHT.
// Entries whose phone is already in flight or still inside the retry delay keep their position.
func (h *campaignHopper) claim(count int, now time.Time) []types.HopperEntry {
	if count <= 0 || len(h.pending) == 0 {
		return nil
	}

	delay := h.config.RetryDelay()
	claimed := make([]types.HopperEntry, 0, count)
	remaining := make([]string, 0, len(h.pending))

	for i, leadID := range h.pending {
		if len(claimed) == count {
			remaining = append(remaining, h.pending[i:]...)
			break
		}
		entry, ok := h.entries[leadID]
		if !ok || entry.Status != types.LeadPending {
			continue
		}
		if _, busy := h.inFlight[entry.PhoneNumber]; busy {
			remaining = append(remaining, leadID)
			continue
		}
		if delay > 0 && entry.LastAttemptAt != nil && now.Sub(*entry.LastAttemptAt) < delay {
			remaining = append(remaining, leadID)
			continue
		}

		attemptAt := now
		entry.Status = types.LeadInFlight
		entry.AttemptCount++
		entry.LastAttemptAt = &attemptAt
		h.inFlight[entry.PhoneNumber] = leadID
		h.counts[types.LeadPending]--
		h.counts[types.LeadInFlight]++
		claimed = append(claimed, *entry)
	}

	h.pending = remaining
	return claimed
}

// release returns an IN_FLIGHT entry to the head of the FIFO without consuming the attempt
func (h *campaignHopper) release(leadID string) bool {
	entry, ok := h.entries[leadID]
	if !ok || entry.Status != types.LeadInFlight {
		return false
	}
	delete(h.inFlight, entry.PhoneNumber)
	entry.Status = types.LeadPending
	if entry.AttemptCount > 0 {
		entry.AttemptCount--
	}
	h.counts[types.LeadInFlight]--
	h.counts[types.LeadPending]++
	h.pending = append([]string{leadID}, h.pending...)
	return true
}

// settle applies a terminal outcome to an IN_FLIGHT entry and returns its new status
func (h *campaignHopper) settle(leadID string, outcome types.Outcome) (types.LeadStatus, bool) {
	entry, ok := h.entries[leadID]
	if !ok || entry.Status != types.LeadInFlight {
		return "", false
	}
	delete(h.inFlight, entry.PhoneNumber)
	h.counts[types.LeadInFlight]--

	switch {
	case !outcome.Retryable():
		entry.Status = types.LeadCompleted
	case h.config.MaxAttempts > 0 && entry.AttemptCount >= h.config.MaxAttempts:
		entry.Status = types.LeadExhausted
	default:
		entry.Status = types.LeadPending
		h.pending = append(h.pending, leadID)
	}
	h.counts[entry.Status]++
	return entry.Status, true
}

func (h *campaignHopper) stats() types.HopperStats {
	return types.HopperStats{
		CampaignID: h.id,
		Pending:    h.counts[types.LeadPending],
		InFlight:   h.counts[types.LeadInFlight],
		Exhausted:  h.counts[types.LeadExhausted],
		Completed:  h.counts[types.LeadCompleted],
		MinLevel:   h.config.MinHopperLevel,
	}
}

// wipe drops every entry and returns how many were removed
func (h *campaignHopper) wipe() int {
	n := len(h.entries)
	h.entries = make(map[string]*types.HopperEntry)
	h.pending = make([]string, 0)
	h.inFlight = make(map[string]string)
	h.counts = make(map[types.LeadStatus]int, 4)
	return n
}
