package cache

import (
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
)

// AttemptRegistry holds attempts that were dispatched and have not reported an outcome yet.
// Attempts that outlive the outcome timeout move to a late set: the call may still be up,
// so their lead stays claimed and a late outcome is still applied.
type AttemptRegistry struct {
	attempts    map[string]types.Attempt // attemptID -> attempt
	late        map[string]lateAttempt   // attemptID -> attempt past its timeout
	outstanding map[string]int           // campaignID -> open attempts
	mu          sync.RWMutex
}

type lateAttempt struct {
	attempt types.Attempt
	since   time.Time
}

// NewAttemptRegistry creates an empty registry
func NewAttemptRegistry() *AttemptRegistry {
	return &AttemptRegistry{
		attempts:    make(map[string]types.Attempt),
		late:        make(map[string]lateAttempt),
		outstanding: make(map[string]int),
	}
}

// Register records a newly issued attempt
func (r *AttemptRegistry) Register(a types.Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.attempts[a.AttemptID]; exists {
		return
	}
	if _, exists := r.late[a.AttemptID]; exists {
		return
	}
	r.attempts[a.AttemptID] = a
	r.outstanding[a.CampaignID]++
}

// Resolve removes and returns an open or late attempt. The second result is false for unknown IDs.
func (r *AttemptRegistry) Resolve(attemptID string) (types.Attempt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.attempts[attemptID]; ok {
		delete(r.attempts, attemptID)
		r.outstanding[a.CampaignID]--
		return a, true
	}
	if l, ok := r.late[attemptID]; ok {
		delete(r.late, attemptID)
		return l.attempt, true
	}
	return types.Attempt{}, false
}

// Outstanding returns the number of open attempts for a campaign. Late attempts are not counted.
func (r *AttemptRegistry) Outstanding(campaignID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outstanding[campaignID]
}

// Expire moves attempts issued before cutoff to the late set and returns them
func (r *AttemptRegistry) Expire(cutoff, now time.Time) []types.Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []types.Attempt
	for id, a := range r.attempts {
		if a.IssuedAt.Before(cutoff) {
			expired = append(expired, a)
			r.moveLateLocked(id, a, now)
		}
	}
	return expired
}

// MarkLate moves one open attempt to the late set. Used when the dispatcher cannot
// tell whether the origination reached the network.
func (r *AttemptRegistry) MarkLate(attemptID string, now time.Time) (types.Attempt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.attempts[attemptID]
	if !ok {
		return types.Attempt{}, false
	}
	r.moveLateLocked(attemptID, a, now)
	return a, true
}

func (r *AttemptRegistry) moveLateLocked(id string, a types.Attempt, now time.Time) {
	delete(r.attempts, id)
	r.outstanding[a.CampaignID]--
	r.late[id] = lateAttempt{attempt: a, since: now}
}

// DropLate forgets late attempts that went late before cutoff and returns them
func (r *AttemptRegistry) DropLate(cutoff time.Time) []types.Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []types.Attempt
	for id, l := range r.late {
		if l.since.Before(cutoff) {
			dropped = append(dropped, l.attempt)
			delete(r.late, id)
		}
	}
	return dropped
}

// Late returns the number of attempts waiting for a late outcome
func (r *AttemptRegistry) Late() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.late)
}

// Clear drops every open and late attempt
func (r *AttemptRegistry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.attempts) + len(r.late)
	r.attempts = make(map[string]types.Attempt)
	r.late = make(map[string]lateAttempt)
	r.outstanding = make(map[string]int)
	return n
}

// AttemptLedger remembers attempt IDs whose outcome was already applied
type AttemptLedger struct {
	seen map[string]time.Time // attemptID -> first processed
	ttl  time.Duration
	mu   sync.Mutex
}

// NewAttemptLedger creates a ledger that forgets entries after ttl
func NewAttemptLedger(ttl time.Duration) *AttemptLedger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AttemptLedger{
		seen: make(map[string]time.Time, 2000),
		ttl:  ttl,
	}
}

// FirstSeen marks the attempt processed and reports whether this was the first time
func (l *AttemptLedger) FirstSeen(attemptID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[attemptID]; ok {
		return false
	}
	l.seen[attemptID] = now
	return true
}

// Prune forgets entries older than the ledger ttl and returns how many were removed
func (l *AttemptLedger) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.ttl)
	removed := 0
	for id, at := range l.seen {
		if at.Before(cutoff) {
			delete(l.seen, id)
			removed++
		}
	}
	return removed
}

// Size returns the current number of remembered attempts
func (l *AttemptLedger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
