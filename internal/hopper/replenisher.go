package hopper

import (
	"context"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
)

// LeadSource hands out leads that have not been loaded into a hopper yet
type LeadSource interface {
	FetchLeads(ctx context.Context, campaignID string, limit int) ([]types.HopperEntry, error)
}

// Replenisher tops up hoppers that fell below their minimum level
type Replenisher struct {
	mgr      *Manager
	source   LeadSource
	interval time.Duration
	logger   zerolog.Logger
}

// NewReplenisher creates a replenisher polling every interval
func NewReplenisher(mgr *Manager, source LeadSource, interval time.Duration, logger zerolog.Logger) *Replenisher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Replenisher{
		mgr:      mgr,
		source:   source,
		interval: interval,
		logger:   logger.With().Str("component", "hopper_replenisher").Logger(),
	}
}

// Start runs until the context is cancelled
func (r *Replenisher) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("replenisher started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("replenisher stopped")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick performs one replenishment pass and returns the number of leads loaded
func (r *Replenisher) Tick(ctx context.Context) int {
	loaded := 0
	for _, campaignID := range r.mgr.Campaigns() {
		if !r.mgr.NeedsReplenishment(campaignID) {
			continue
		}
		stats, err := r.mgr.Stats(campaignID)
		if err != nil {
			continue
		}

		// fill to twice the minimum so the next pass is not immediately due
		want := 2*stats.MinLevel - stats.Pending
		if want <= 0 {
			continue
		}

		leads, err := r.source.FetchLeads(ctx, campaignID, want)
		if err != nil {
			r.logger.Error().Err(err).Str("campaign_id", campaignID).Msg("failed to fetch leads")
			continue
		}
		if len(leads) == 0 {
			r.logger.Warn().
				Str("campaign_id", campaignID).
				Int("pending", stats.Pending).
				Int("min_level", stats.MinLevel).
				Msg("hopper below minimum and lead source is empty")
			continue
		}
		loaded += r.mgr.Load(campaignID, leads)
	}
	return loaded
}
