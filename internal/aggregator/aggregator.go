package aggregator

import (
	"context"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/alerts"
	"github.com/dennisdiepolder/monti/dialer/internal/metrics"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
)

// SnapshotSource provides the latest pacing snapshot per campaign
type SnapshotSource interface {
	Snapshots() []*types.PacingSnapshot
}

// AgentLister lists the agents of one campaign and the READY agents idling past a limit
type AgentLister interface {
	List(campaignID string) []types.Agent
	AgentsIdleLongerThan(campaignID string, d time.Duration, now time.Time) []string
}

// HopperStatter reports hopper composition for one campaign
type HopperStatter interface {
	Stats(campaignID string) (types.HopperStats, error)
}

// Broadcaster pushes snapshot messages to dashboards
type Broadcaster interface {
	Broadcast(msg *types.SnapshotMessage)
	ClientCount() int
}

// Aggregator collects pacing snapshots and agent alerts and pushes them to the dashboard hub
type Aggregator struct {
	snapshots  SnapshotSource
	agents     AgentLister
	hoppers    HopperStatter
	hub        Broadcaster
	thresholds alerts.Thresholds
	interval   time.Duration
	logger     zerolog.Logger
}

// NewAggregator creates a new aggregator
func NewAggregator(snapshots SnapshotSource, agents AgentLister, hoppers HopperStatter, hub Broadcaster, thresholds alerts.Thresholds, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		snapshots:  snapshots,
		agents:     agents,
		hoppers:    hoppers,
		hub:        hub,
		thresholds: thresholds,
		interval:   time.Second,
		logger:     logger.With().Str("component", "aggregator").Logger(),
	}
}

// Start begins broadcasting snapshots once per second
func (a *Aggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info().Msg("aggregator started")

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("aggregator stopped")
			return

		case now := <-ticker.C:
			a.Cycle(now)
		}
	}
}

// Cycle builds and broadcasts one snapshot message. It returns nil when
// there is nothing to send.
func (a *Aggregator) Cycle(now time.Time) *types.SnapshotMessage {
	cycleStart := time.Now()
	m := metrics.Get()

	snaps := a.snapshots.Snapshots()
	if len(snaps) == 0 {
		return nil
	}

	msg := &types.SnapshotMessage{
		Type:      "pacing_snapshot",
		Timestamp: now,
		Campaigns: snaps,
	}
	for _, s := range snaps {
		agents := a.agents.List(s.CampaignID)
		msg.Alerts = append(msg.Alerts, alerts.CheckAgentAlerts(agents, a.thresholds, now)...)
		if a.thresholds.Idle > 0 {
			idle := a.agents.AgentsIdleLongerThan(s.CampaignID, a.thresholds.Idle, now)
			msg.Alerts = append(msg.Alerts, alerts.IdleAlerts(idle, agents, now)...)
		}

		if stats, err := a.hoppers.Stats(s.CampaignID); err == nil {
			m.UpdateHopperStats(stats)
		}
	}

	a.hub.Broadcast(msg)
	m.RecordAggregationCycle(time.Since(cycleStart))

	a.logger.Debug().
		Int("campaigns", len(snaps)).
		Int("alerts", len(msg.Alerts)).
		Int("clients", a.hub.ClientCount()).
		Msg("snapshots broadcasted")
	return msg
}
