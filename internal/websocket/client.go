package websocket

import (
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/auth"
	"github.com/dennisdiepolder/monti/dialer/internal/config"
	"github.com/dennisdiepolder/monti/dialer/internal/metrics"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client is a middleman between a dashboard websocket connection and the hub
type Client struct {
	id string

	hub *Hub

	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	config *config.Config

	logger zerolog.Logger

	// User claims used for campaign filtering, nil means unrestricted
	claims *auth.Claims
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, cfg *config.Config, logger zerolog.Logger, claims *auth.Claims) *Client {
	clientID := uuid.New().String()
	return &Client{
		id:     clientID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		config: cfg,
		logger: logger.With().Str("client_id", clientID).Logger(),
		claims: claims,
	}
}

// readPump drains the connection so pongs and close frames are handled.
// Dashboards never send anything meaningful.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error().Err(err).Msg("websocket read error")
				metrics.Get().RecordWebSocketError()
			}
			break
		}
		c.logger.Debug().Str("message", string(message)).Msg("received message from client")
	}
}

// writePump pumps messages from the hub to the websocket connection.
// At most one writer per connection runs this.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// one snapshot per frame so dashboards can parse each message on its own
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// FilterSnapshot drops the campaigns and alerts the client may not see.
// Returns nil if nothing is left to send.
func (c *Client) FilterSnapshot(msg *types.SnapshotMessage) *types.SnapshotMessage {
	if c.claims == nil || auth.HasRole(c.claims, auth.RoleAdmin) {
		return msg
	}

	var campaigns []*types.PacingSnapshot
	for _, s := range msg.Campaigns {
		if c.claims.CanAccessCampaign(s.CampaignID) {
			campaigns = append(campaigns, s)
		}
	}
	if len(campaigns) == 0 {
		return nil
	}

	var alerts []types.AgentAlert
	for _, a := range msg.Alerts {
		if c.claims.CanAccessCampaign(a.CampaignID) {
			alerts = append(alerts, a)
		}
	}

	return &types.SnapshotMessage{
		Type:      msg.Type,
		Timestamp: msg.Timestamp,
		Campaigns: campaigns,
		Alerts:    alerts,
	}
}
