package websocket

import (
	"encoding/json"
	"sync"

	"github.com/dennisdiepolder/monti/dialer/internal/metrics"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
)

// Hub maintains the set of dashboard clients and pushes pacing snapshots to them
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Snapshot messages to fan out
	broadcast chan *types.SnapshotMessage

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex to protect clients map
	mu sync.RWMutex

	logger zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan *types.SnapshotMessage, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger.With().Str("component", "dashboard_hub").Logger(),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	m := metrics.Get()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			m.RecordWebSocketConnect()
			h.logger.Info().
				Str("client_id", client.id).
				Int("total_clients", total).
				Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				m.RecordWebSocketDisconnect()
				h.logger.Info().
					Str("client_id", client.id).
					Int("total_clients", len(h.clients)).
					Msg("client disconnected")
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.broadcastFiltered(msg)
		}
	}
}

// Broadcast queues a snapshot message for all clients. A full queue drops the
// message; the next tick carries fresher state anyway.
func (h *Hub) Broadcast(msg *types.SnapshotMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn().Msg("broadcast queue full, dropping snapshot")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcastFiltered sends each client only the campaigns it may see
func (h *Hub) broadcastFiltered(msg *types.SnapshotMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		filtered := client.FilterSnapshot(msg)
		if filtered == nil {
			continue
		}

		data, err := json.Marshal(filtered)
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to marshal snapshot message")
			continue
		}

		select {
		case client.send <- data:
			metrics.Get().RecordWebSocketMessage()
		default:
			// Client's send buffer is full, close and remove it
			close(client.send)
			delete(h.clients, client)
			metrics.Get().RecordWebSocketDisconnect()
			h.logger.Warn().
				Str("client_id", client.id).
				Msg("client send buffer full, closing connection")
		}
	}
}
