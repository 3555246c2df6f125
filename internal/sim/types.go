package sim

import (
	"errors"
	"fmt"
	"time"
)

// Duration is a time.Duration that reads and writes JSON as a Go duration string
type Duration time.Duration

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", time.Duration(d).String())), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' {
		return errors.New("duration must be a string like \"3s\"")
	}
	v, err := time.ParseDuration(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config shapes the simulated telephony. Probabilities not covered by
// Answer, Busy and Failed end as NO_ANSWER.
type Config struct {
	Campaigns         []string `json:"campaigns"`
	AgentsPerCampaign int      `json:"agentsPerCampaign"`

	AnswerProb float64 `json:"answerProb"`
	BusyProb   float64 `json:"busyProb"`
	FailProb   float64 `json:"failProb"`

	RingMin Duration `json:"ringMin"`
	RingMax Duration `json:"ringMax"`
	TalkMin Duration `json:"talkMin"`
	TalkMax Duration `json:"talkMax"`
	WrapMin Duration `json:"wrapMin"`
	WrapMax Duration `json:"wrapMax"`
}

// DefaultConfig is a small campaign with a 30% answer rate
func DefaultConfig() Config {
	return Config{
		Campaigns:         []string{"demo"},
		AgentsPerCampaign: 10,
		AnswerProb:        0.3,
		BusyProb:          0.1,
		FailProb:          0.05,
		RingMin:           Duration(3 * time.Second),
		RingMax:           Duration(20 * time.Second),
		TalkMin:           Duration(30 * time.Second),
		TalkMax:           Duration(3 * time.Minute),
		WrapMin:           Duration(5 * time.Second),
		WrapMax:           Duration(30 * time.Second),
	}
}

// Validate checks probabilities and ranges
func (c Config) Validate() error {
	for _, p := range []float64{c.AnswerProb, c.BusyProb, c.FailProb} {
		if p < 0 || p > 1 {
			return errors.New("probabilities must be within [0,1]")
		}
	}
	if c.AnswerProb+c.BusyProb+c.FailProb > 1 {
		return errors.New("answerProb + busyProb + failProb must not exceed 1")
	}
	if c.AgentsPerCampaign < 0 {
		return errors.New("agentsPerCampaign must not be negative")
	}
	if c.RingMax < c.RingMin || c.TalkMax < c.TalkMin || c.WrapMax < c.WrapMin {
		return errors.New("max durations must not be below min durations")
	}
	return nil
}

// Status is the simulator state reported by GET /status
type Status struct {
	Running    bool       `json:"running"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	Agents     int        `json:"agents"`
	FreeAgents int        `json:"freeAgents"`
	Originated int64      `json:"originated"`
	InFlight   int64      `json:"inFlight"`
	Answered   int64      `json:"answered"`
	Abandoned  int64      `json:"abandoned"`
	NoAnswer   int64      `json:"noAnswer"`
	Busy       int64      `json:"busy"`
	Failed     int64      `json:"failed"`
	PostErrors int64      `json:"postErrors"`
}
