package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/auth"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotMessage() *types.SnapshotMessage {
	return &types.SnapshotMessage{
		Type:      "pacing_snapshot",
		Timestamp: time.Now(),
		Campaigns: []*types.PacingSnapshot{
			{CampaignID: "camp-1", CurrentDialTarget: 4},
			{CampaignID: "camp-2", CurrentDialTarget: 7},
		},
		Alerts: []types.AgentAlert{
			{AgentID: "a1", CampaignID: "camp-1", Rule: "wrapup_long"},
			{AgentID: "a2", CampaignID: "camp-2", Rule: "pause_long"},
		},
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	require.NotNil(t, hub)
	assert.NotNil(t, hub.clients)
	assert.NotNil(t, hub.broadcast)
	assert.NotNil(t, hub.register)
	assert.NotNil(t, hub.unregister)
}

func TestHubClientCount(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	assert.Equal(t, 0, hub.ClientCount())

	hub.mu.Lock()
	hub.clients[&Client{id: "test1"}] = true
	hub.clients[&Client{id: "test2"}] = true
	hub.mu.Unlock()

	assert.Equal(t, 2, hub.ClientCount())
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()

	client := &Client{id: "test-client", hub: hub, send: make(chan []byte, 1)}

	hub.register <- client
	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.unregister <- client
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubBroadcastFiltersByCampaign(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()

	admin := &Client{id: "admin", hub: hub, send: make(chan []byte, 4),
		claims: &auth.Claims{Role: auth.RoleAdmin}}
	supervisor := &Client{id: "sup", hub: hub, send: make(chan []byte, 4),
		claims: &auth.Claims{Role: auth.RoleSupervisor, Campaigns: []string{"camp-2"}}}
	outsider := &Client{id: "out", hub: hub, send: make(chan []byte, 4),
		claims: &auth.Claims{Role: auth.RoleViewer, Campaigns: []string{"camp-9"}}}

	hub.register <- admin
	hub.register <- supervisor
	hub.register <- outsider

	hub.Broadcast(snapshotMessage())

	read := func(c *Client) types.SnapshotMessage {
		t.Helper()
		select {
		case data := <-c.send:
			var msg types.SnapshotMessage
			require.NoError(t, json.Unmarshal(data, &msg))
			return msg
		case <-time.After(time.Second):
			t.Fatalf("client %s did not receive a message", c.id)
			return types.SnapshotMessage{}
		}
	}

	all := read(admin)
	assert.Len(t, all.Campaigns, 2)
	assert.Len(t, all.Alerts, 2)

	own := read(supervisor)
	require.Len(t, own.Campaigns, 1)
	assert.Equal(t, "camp-2", own.Campaigns[0].CampaignID)
	assert.Equal(t, 7, own.Campaigns[0].CurrentDialTarget)
	require.Len(t, own.Alerts, 1)
	assert.Equal(t, "a2", own.Alerts[0].AgentID)

	select {
	case <-outsider.send:
		t.Fatal("outsider should not receive snapshots")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFilterSnapshotWithoutClaims(t *testing.T) {
	msg := snapshotMessage()
	c := &Client{}
	assert.Same(t, msg, c.FilterSnapshot(msg))
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()

	slow := &Client{id: "slow", hub: hub, send: make(chan []byte)}
	hub.register <- slow
	hub.Broadcast(snapshotMessage())

	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}
