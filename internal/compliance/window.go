package compliance

import (
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
)

type sample struct {
	attemptID string
	outcome   types.Outcome
	at        time.Time
}

// window is a rolling set of attempt outcomes bounded by age or by count
type window struct {
	span     time.Duration
	maxCalls int
	samples  []sample
	seen     map[string]struct{}

	total     int
	answered  int
	abandoned int
}

func newWindow(span time.Duration, maxCalls int) *window {
	return &window{
		span:     span,
		maxCalls: maxCalls,
		samples:  make([]sample, 0, 64),
		seen:     make(map[string]struct{}),
	}
}

// add records an outcome. Returns false when the attempt is already in the window.
func (w *window) add(s sample) bool {
	if _, dup := w.seen[s.attemptID]; dup {
		return false
	}
	w.seen[s.attemptID] = struct{}{}

	// keep samples ordered by time; late arrivals are inserted in place
	i := len(w.samples)
	for i > 0 && w.samples[i-1].at.After(s.at) {
		i--
	}
	w.samples = append(w.samples, sample{})
	copy(w.samples[i+1:], w.samples[i:])
	w.samples[i] = s
	w.count(s.outcome, 1)

	if w.maxCalls > 0 {
		for len(w.samples) > w.maxCalls {
			w.dropOldest()
		}
	}
	return true
}

// evict drops samples older than the time span. Count-bounded windows keep everything.
func (w *window) evict(now time.Time) {
	if w.maxCalls > 0 || w.span <= 0 {
		return
	}
	cutoff := now.Add(-w.span)
	for len(w.samples) > 0 && w.samples[0].at.Before(cutoff) {
		w.dropOldest()
	}
}

func (w *window) dropOldest() {
	s := w.samples[0]
	w.samples = w.samples[1:]
	delete(w.seen, s.attemptID)
	w.count(s.outcome, -1)
}

func (w *window) count(o types.Outcome, delta int) {
	w.total += delta
	switch o {
	case types.OutcomeAnswered:
		w.answered += delta
	case types.OutcomeAbandoned:
		w.abandoned += delta
	}
}
