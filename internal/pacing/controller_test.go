package pacing

import (
	"testing"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/stretchr/testify/assert"
)

func ratioConfig(ratio float64) types.PacingConfig {
	cfg := types.DefaultPacingConfig()
	cfg.DialMethod = types.DialRatio
	cfg.TargetRatio = ratio
	return cfg
}

func TestComputeRatio(t *testing.T) {
	tests := []struct {
		name     string
		in       Inputs
		expected int
	}{
		{
			name:     "ten ready at ratio two",
			in:       Inputs{Config: ratioConfig(2), Running: true, Ready: 10, Pending: 50, Throttle: 1},
			expected: 20,
		},
		{
			name:     "clamped to pending",
			in:       Inputs{Config: ratioConfig(2), Running: true, Ready: 10, Pending: 5, Throttle: 1},
			expected: 5,
		},
		{
			name:     "empty hopper",
			in:       Inputs{Config: ratioConfig(2), Running: true, Ready: 10, Pending: 0, Throttle: 1},
			expected: 0,
		},
		{
			name:     "no ready agents",
			in:       Inputs{Config: ratioConfig(2), Running: true, Ready: 0, Pending: 50, Throttle: 1},
			expected: 0,
		},
		{
			name:     "throttle zero",
			in:       Inputs{Config: ratioConfig(2), Running: true, Ready: 10, Pending: 50, Throttle: 0},
			expected: 0,
		},
		{
			name:     "half throttle floors",
			in:       Inputs{Config: ratioConfig(1.5), Running: true, Ready: 3, Pending: 50, Throttle: 0.5},
			expected: 2,
		},
		{
			name:     "paused",
			in:       Inputs{Config: ratioConfig(2), Running: false, Ready: 10, Pending: 50, Throttle: 1},
			expected: 0,
		},
		{
			name:     "outstanding attempts leave the target alone",
			in:       Inputs{Config: ratioConfig(2), Running: true, Ready: 10, Pending: 50, Throttle: 1, Outstanding: 15},
			expected: 20,
		},
		{
			name:     "manual never dials",
			in:       Inputs{Config: types.DefaultPacingConfig(), Running: true, Ready: 10, Pending: 50, Throttle: 1},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Compute(tt.in).Target)
		})
	}
}

func TestComputeNewAttemptsNetOfOutstanding(t *testing.T) {
	tests := []struct {
		name        string
		outstanding int
		pending     int
		target      int
		new         int
	}{
		{"nothing in flight", 0, 50, 20, 20},
		{"some in flight", 15, 50, 20, 5},
		{"more in flight than target", 40, 50, 20, 0},
		{"clamped target", 2, 5, 5, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Compute(Inputs{Config: ratioConfig(2), Running: true, Ready: 10, Pending: tt.pending, Throttle: 1, Outstanding: tt.outstanding})
			assert.Equal(t, tt.target, d.Target)
			assert.Equal(t, tt.new, d.New)
		})
	}
}

func TestComputeWithinBounds(t *testing.T) {
	for ready := 0; ready <= 20; ready++ {
		for pending := 0; pending <= 30; pending += 3 {
			for _, throttle := range []float64{0, 0.5, 0.75, 1} {
				d := Compute(Inputs{Config: ratioConfig(3), Running: true, Ready: ready, Pending: pending, Throttle: throttle})
				assert.GreaterOrEqual(t, d.Target, 0)
				assert.LessOrEqual(t, d.Target, pending)
				assert.LessOrEqual(t, d.Target, ready*3)
				assert.LessOrEqual(t, d.New, d.Target)
			}
		}
	}
}

func TestComputePredictive(t *testing.T) {
	cfg := types.DefaultPacingConfig()
	cfg.DialMethod = types.DialPredictive
	cfg.TargetRatio = 3

	tests := []struct {
		name     string
		in       Inputs
		expected int
		ratio    float64
	}{
		{
			name:     "no history uses target ratio",
			in:       Inputs{Config: cfg, Running: true, Ready: 4, Forecast: 4, Pending: 100, Throttle: 1},
			expected: 12,
			ratio:    3,
		},
		{
			name:     "half answer rate dials two per agent",
			in:       Inputs{Config: cfg, Running: true, Ready: 4, Forecast: 4, Pending: 100, Throttle: 1, AnswerRate: 0.5, HasAnswerRate: true},
			expected: 8,
			ratio:    2,
		},
		{
			name:     "low answer rate capped at target ratio",
			in:       Inputs{Config: cfg, Running: true, Ready: 4, Forecast: 4, Pending: 100, Throttle: 1, AnswerRate: 0.1, HasAnswerRate: true},
			expected: 12,
			ratio:    3,
		},
		{
			name:     "high answer rate floors at one",
			in:       Inputs{Config: cfg, Running: true, Ready: 4, Forecast: 4, Pending: 100, Throttle: 1, AnswerRate: 1, HasAnswerRate: true},
			expected: 4,
			ratio:    1,
		},
		{
			name:     "forecast adds agents about to free up",
			in:       Inputs{Config: cfg, Running: true, Ready: 4, Forecast: 6, Pending: 100, Throttle: 1, AnswerRate: 0.5, HasAnswerRate: true},
			expected: 12,
			ratio:    2,
		},
		{
			name:     "no ready agents",
			in:       Inputs{Config: cfg, Running: true, Ready: 0, Forecast: 6, Pending: 100, Throttle: 1},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Compute(tt.in)
			assert.Equal(t, tt.expected, d.Target)
			if tt.ratio > 0 {
				assert.InDelta(t, tt.ratio, d.Ratio, 1e-9)
			}
		})
	}
}
