package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LogPublisher writes events to the structured log
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a publisher that logs every event
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

// Publish implements Publisher
func (p *LogPublisher) Publish(_ context.Context, e Event) {
	var ev *zerolog.Event
	switch e.Severity {
	case SeverityCritical:
		ev = p.logger.Error()
	case SeverityWarning:
		ev = p.logger.Warn()
	default:
		ev = p.logger.Info()
	}

	ev = ev.Str("event", e.Type)
	if e.CampaignID != "" {
		ev = ev.Str("campaign_id", e.CampaignID)
	}
	if e.AgentID != "" {
		ev = ev.Str("agent_id", e.AgentID)
	}
	if e.AttemptID != "" {
		ev = ev.Str("attempt_id", e.AttemptID)
	}
	if len(e.Fields) > 0 {
		ev = ev.Fields(e.Fields)
	}
	ev.Msg(e.Message)
}
