package pacing

import (
	"math"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
)

const (
	// DefaultHalfLife is the age at which a sample counts half as much as a fresh one
	DefaultHalfLife = 60 * time.Second
	// DefaultLookahead is how far ahead a busy agent is expected to free up
	DefaultLookahead = 10 * time.Second
	// horizonHalfLives bounds how long history stays usable without new samples
	horizonHalfLives = 5
)

// decayingMean is a time-decayed weighted average. Every sample starts with weight 1
// and loses half of it per half-life, so bursts and sparse traffic are weighted alike.
type decayingMean struct {
	sum    float64
	weight float64
	last   time.Time
}

func (d *decayingMean) decay(now time.Time, halfLife time.Duration) {
	if d.last.IsZero() || !now.After(d.last) {
		return
	}
	f := math.Pow(0.5, float64(now.Sub(d.last))/float64(halfLife))
	d.sum *= f
	d.weight *= f
	d.last = now
}

func (d *decayingMean) observe(x float64, at time.Time, halfLife time.Duration) {
	if d.last.IsZero() {
		d.last = at
	}
	if at.Before(d.last) {
		// late sample: age it relative to the current reference point
		f := math.Pow(0.5, float64(d.last.Sub(at))/float64(halfLife))
		d.sum += x * f
		d.weight += f
		return
	}
	d.decay(at, halfLife)
	d.sum += x
	d.weight++
}

// value returns the mean at now, and false when no sample is younger than the horizon
func (d decayingMean) value(now time.Time, halfLife time.Duration) (float64, bool) {
	if d.weight == 0 || now.Sub(d.last) > horizonHalfLives*halfLife {
		return 0, false
	}
	return d.sum / d.weight, true
}

type campaignModel struct {
	handle decayingMean // seconds
	answer decayingMean // 1 for a connected call, 0 otherwise
}

// Predictor keeps per-campaign estimates of average handle time and answer rate
type Predictor struct {
	halfLife  time.Duration
	lookahead time.Duration
	models    map[string]*campaignModel
	mu        sync.Mutex
}

// NewPredictor creates a predictor. Zero durations use the defaults.
func NewPredictor(halfLife, lookahead time.Duration) *Predictor {
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return &Predictor{
		halfLife:  halfLife,
		lookahead: lookahead,
		models:    make(map[string]*campaignModel),
	}
}

func (p *Predictor) modelLocked(campaignID string) *campaignModel {
	m, ok := p.models[campaignID]
	if !ok {
		m = &campaignModel{}
		p.models[campaignID] = m
	}
	return m
}

// ObserveHandleTime records talk plus wrap-up time of one finished call
func (p *Predictor) ObserveHandleTime(campaignID string, handle time.Duration, at time.Time) {
	if handle <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modelLocked(campaignID).handle.observe(handle.Seconds(), at, p.halfLife)
}

// ObserveOutcome records whether an attempt reached a live party
func (p *Predictor) ObserveOutcome(campaignID string, outcome types.Outcome, at time.Time) {
	x := 0.0
	if outcome.Connected() {
		x = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modelLocked(campaignID).answer.observe(x, at, p.halfLife)
}

// AnswerRate returns the decayed answer rate, and false without recent history
func (p *Predictor) AnswerRate(campaignID string, now time.Time) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.models[campaignID]
	if !ok {
		return 0, false
	}
	return m.answer.value(now, p.halfLife)
}

// AvgHandleTime returns the decayed average handle time, and false without recent history
func (p *Predictor) AvgHandleTime(campaignID string, now time.Time) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.models[campaignID]
	if !ok {
		return 0, false
	}
	secs, ok := m.handle.value(now, p.halfLife)
	if !ok {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// Forecast returns ready agents plus busy agents expected to free up within the lookahead.
// Without handle-time history only ready agents are counted.
func (p *Predictor) Forecast(campaignID string, ready int, busyElapsed []time.Duration, now time.Time) float64 {
	avg, ok := p.AvgHandleTime(campaignID, now)
	if !ok {
		return float64(ready)
	}
	freeing := 0
	for _, elapsed := range busyElapsed {
		if avg-elapsed <= p.lookahead {
			freeing++
		}
	}
	return float64(ready + freeing)
}

// Reset drops every campaign model
func (p *Predictor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.models = make(map[string]*campaignModel)
}
