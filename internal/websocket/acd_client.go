package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/metrics"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the ACD
	acdWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the ACD
	acdPongWait = 30 * time.Second

	// Send pings with this period (must be less than acdPongWait)
	acdPingPeriod = 20 * time.Second

	// Maximum event frame size
	acdMaxMessageSize = 8192
)

// ACDConn is one websocket connection from the ACD layer. Each text frame
// carries one TelephonyEvent and is answered with one EventAck.
type ACDConn struct {
	id   string
	feed *ACDFeed
	conn *websocket.Conn

	// Buffered channel of outbound acks
	send chan []byte

	logger zerolog.Logger

	// done is closed when the read pump exits
	done chan struct{}

	closeOnce sync.Once
}

// NewACDConn creates a new ACDConn
func NewACDConn(feed *ACDFeed, conn *websocket.Conn, logger zerolog.Logger) *ACDConn {
	id := uuid.New().String()
	return &ACDConn{
		id:     id,
		feed:   feed,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: logger.With().Str("conn_id", id).Logger(),
		done:   make(chan struct{}),
	}
}

func (c *ACDConn) readPump() {
	defer func() {
		close(c.done)
		c.feed.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(acdMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(acdPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(acdPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Msg("acd websocket read error")
				metrics.Get().RecordWebSocketError()
			}
			return
		}

		var ev types.TelephonyEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			metrics.Get().RecordEventError()
			c.sendAck(types.EventAck{Type: "ack", Status: "error", Error: "invalid JSON"})
			continue
		}
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		if !c.feed.submit(inboundEvent{conn: c, event: ev}) {
			return
		}
	}
}

func (c *ACDConn) writePump() {
	ticker := time.NewTicker(acdPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(acdWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(acdWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the connection's read and write pumps
func (c *ACDConn) Start() {
	go c.writePump()
	go c.readPump()
}

// Close closes the send channel (idempotent)
func (c *ACDConn) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// sendAck queues an ack without blocking. Acks for a connection that is
// going away are dropped.
func (c *ACDConn) sendAck(ack types.EventAck) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	select {
	case c.send <- marshalAck(ack):
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn().Str("ref", ack.Ref).Msg("ack buffer full, dropping ack")
		return false
	}
}
