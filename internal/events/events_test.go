package events

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferRecentNewestFirst(t *testing.T) {
	b := NewBuffer(3)
	ctx := context.Background()
	for _, typ := range []string{"a", "b", "c", "d"} {
		b.Publish(ctx, Event{Type: typ})
	}

	recent := b.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "d", recent[0].Type)
	assert.Equal(t, "c", recent[1].Type)
	assert.Equal(t, "b", recent[2].Type)

	assert.Len(t, b.Recent(2), 2)

	b.Reset()
	assert.Empty(t, b.Recent(0))
}

func TestBufferOfType(t *testing.T) {
	b := NewBuffer(10)
	ctx := context.Background()
	b.Publish(ctx, Event{Type: TypeComplianceBreach, CampaignID: "c1"})
	b.Publish(ctx, Event{Type: TypeWrapUpForced, AgentID: "a1"})
	b.Publish(ctx, Event{Type: TypeComplianceBreach, CampaignID: "c2"})

	breaches := b.OfType(TypeComplianceBreach)
	require.Len(t, breaches, 2)
	assert.Equal(t, "c2", breaches[0].CampaignID)
}

func TestMultiStampsTime(t *testing.T) {
	b1, b2 := NewBuffer(5), NewBuffer(5)
	Multi{b1, b2}.Publish(context.Background(), Event{Type: "x"})

	require.Len(t, b1.Recent(0), 1)
	require.Len(t, b2.Recent(0), 1)
	assert.False(t, b1.Recent(0)[0].At.IsZero())
}

func TestLogPublisherFields(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))

	p.Publish(context.Background(), Event{
		Type:       TypeComplianceBreach,
		Severity:   SeverityCritical,
		CampaignID: "camp-1",
		Message:    "drop rate ceiling reached",
		Fields:     map[string]any{"drop_rate": 3.5},
		At:         time.Now(),
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, TypeComplianceBreach, entry["event"])
	assert.Equal(t, "camp-1", entry["campaign_id"])
	assert.Equal(t, 3.5, entry["drop_rate"])
	assert.Equal(t, "drop rate ceiling reached", entry["message"])
}
