package types

import (
	"errors"
	"fmt"
	"time"
)

// DialMethod selects how a campaign originates calls
type DialMethod string

const (
	DialManual     DialMethod = "MANUAL"
	DialRatio      DialMethod = "RATIO"
	DialPredictive DialMethod = "PREDICTIVE"
)

// ErrInvalidConfig is returned when a pacing config fails validation
var ErrInvalidConfig = errors.New("invalid pacing config")

// PacingConfig is the per-campaign pacing configuration
type PacingConfig struct {
	DialMethod         DialMethod `json:"dialMethod" yaml:"dialMethod"`
	TargetRatio        float64    `json:"targetRatio" yaml:"targetRatio"`
	MaxDropRatePercent float64    `json:"maxDropRatePercent" yaml:"maxDropRatePercent"`
	MinHopperLevel     int        `json:"minHopperLevel" yaml:"minHopperLevel"`
	MaxAttempts        int        `json:"maxAttempts,omitempty" yaml:"maxAttempts"`
	RetryDelaySecs     int        `json:"retryDelaySecs,omitempty" yaml:"retryDelaySecs"`
}

// DefaultMaxAttempts is used when a config leaves MaxAttempts unset
const DefaultMaxAttempts = 3

// MaxTargetRatio caps lines per agent. Nothing real dials more, and the cap keeps
// agents x ratio well inside int range.
const MaxTargetRatio = 20.0

// DefaultPacingConfig returns the config a campaign gets before one is written
func DefaultPacingConfig() PacingConfig {
	return PacingConfig{
		DialMethod:         DialManual,
		TargetRatio:        1.0,
		MaxDropRatePercent: 3.0,
		MinHopperLevel:     50,
		MaxAttempts:        DefaultMaxAttempts,
	}
}

// Validate checks the config ranges. Errors wrap ErrInvalidConfig.
func (c PacingConfig) Validate() error {
	switch c.DialMethod {
	case DialManual, DialRatio, DialPredictive:
	default:
		return fmt.Errorf("%w: unknown dialMethod %q", ErrInvalidConfig, c.DialMethod)
	}
	// negated ranges so NaN is rejected too
	if !(c.MaxDropRatePercent >= 0 && c.MaxDropRatePercent <= 100) {
		return fmt.Errorf("%w: maxDropRatePercent %.2f outside [0, 100]", ErrInvalidConfig, c.MaxDropRatePercent)
	}
	if !(c.TargetRatio >= 1.0 && c.TargetRatio <= MaxTargetRatio) {
		return fmt.Errorf("%w: targetRatio %.2f outside [1, %.0f]", ErrInvalidConfig, c.TargetRatio, MaxTargetRatio)
	}
	if c.MinHopperLevel < 0 {
		return fmt.Errorf("%w: minHopperLevel %d is negative", ErrInvalidConfig, c.MinHopperLevel)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("%w: maxAttempts %d is negative", ErrInvalidConfig, c.MaxAttempts)
	}
	if c.RetryDelaySecs < 0 {
		return fmt.Errorf("%w: retryDelaySecs %d is negative", ErrInvalidConfig, c.RetryDelaySecs)
	}
	return nil
}

// WithDefaults fills optional zero fields
func (c PacingConfig) WithDefaults() PacingConfig {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// RetryDelay returns the minimum gap between two attempts on the same lead
func (c PacingConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySecs) * time.Second
}

// RunState is whether a campaign is allowed to originate
type RunState string

const (
	RunRunning RunState = "RUNNING"
	RunPaused  RunState = "PAUSED"
)

// ComplianceState classifies the current drop rate against the ceiling
type ComplianceState string

const (
	ComplianceNormal  ComplianceState = "NORMAL"
	ComplianceWarning ComplianceState = "WARNING"
	ComplianceBreach  ComplianceState = "BREACH"
)

// HopperState classifies lead availability
type HopperState string

const (
	HopperOK        HopperState = "OK"
	HopperLow       HopperState = "LOW"
	HopperExhausted HopperState = "EXHAUSTED"
)

// PacingSnapshot is produced once per control tick and never mutated afterwards
type PacingSnapshot struct {
	CampaignID           string          `json:"campaignId"`
	DialMethod           DialMethod      `json:"dialMethod"`
	RunState             RunState        `json:"runState"`
	ReadyAgents          int             `json:"readyAgents"`
	OnCallAgents         int             `json:"onCallAgents"`
	PendingHopperCount   int             `json:"pendingHopperCount"`
	RecentAnswerRate     float64         `json:"recentAnswerRate"`
	RecentAbandonRate    float64         `json:"recentAbandonRate"`
	CurrentDialTarget    int             `json:"currentDialTarget"`
	NewAttempts          int             `json:"newAttempts"` // target less outstanding attempts
	ThrottleFactor       float64         `json:"throttleFactor"`
	ComplianceState      ComplianceState `json:"complianceState"`
	HopperState          HopperState     `json:"hopperState"`
	AvailabilityForecast float64         `json:"availabilityForecast"`
	AvgHandleTimeSecs    float64         `json:"avgHandleTimeSecs"`
	OutstandingAttempts  int             `json:"outstandingAttempts"`
	Dispatched           int             `json:"dispatched"`
	FailClosed           bool            `json:"failClosed"`
	FailReason           string          `json:"failReason,omitempty"`
	ComputedAt           time.Time       `json:"computedAt"`
}

// SnapshotMessage wraps all campaign snapshots for the dashboard stream
type SnapshotMessage struct {
	Type      string            `json:"type"` // always "pacing_snapshot"
	Timestamp time.Time         `json:"timestamp"`
	Campaigns []*PacingSnapshot `json:"campaigns"`
	Alerts    []AgentAlert      `json:"alerts,omitempty"`
}
