package pacing

import (
	"math"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
)

// Inputs is everything one dial-target computation looks at
type Inputs struct {
	Config      types.PacingConfig
	Running     bool
	Ready       int
	Pending     int
	Outstanding int
	Throttle    float64

	// PREDICTIVE only
	Forecast      float64
	AnswerRate    float64
	HasAnswerRate bool
}

// Decision is the result of one computation
type Decision struct {
	Target int     // floor(raw x throttle) clamped to the pending leads
	New    int     // attempts to originate now: Target less those already in flight
	Raw    int     // agents x ratio before throttle
	Ratio  float64 // lines per agent actually applied
	Agents float64 // agents the ratio was applied to
}

// Compute returns how many new attempts a campaign should originate. It is pure:
// the same inputs always give the same decision.
func Compute(in Inputs) Decision {
	if !in.Running || in.Pending <= 0 || in.Ready <= 0 {
		return Decision{}
	}

	var d Decision
	switch in.Config.DialMethod {
	case types.DialRatio:
		d.Agents = float64(in.Ready)
		d.Ratio = in.Config.TargetRatio
	case types.DialPredictive:
		d.Agents = math.Max(in.Forecast, float64(in.Ready))
		d.Ratio = predictiveRatio(in)
	default:
		return Decision{}
	}

	d.Raw = int(math.Floor(d.Agents * d.Ratio))
	throttle := math.Min(math.Max(in.Throttle, 0), 1)
	d.Target = clamp(int(math.Floor(float64(d.Raw)*throttle)), 0, in.Pending)
	d.New = clamp(d.Target-in.Outstanding, 0, d.Target)
	return d
}

// predictiveRatio is the lines-per-agent needed to reach one live party per agent,
// never below 1 and never above the configured target ratio
func predictiveRatio(in Inputs) float64 {
	ceiling := math.Max(in.Config.TargetRatio, 1)
	if !in.HasAnswerRate || in.AnswerRate <= 0 {
		return ceiling
	}
	return math.Min(math.Max(1/in.AnswerRate, 1), ceiling)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
