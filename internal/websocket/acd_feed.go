package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/dennisdiepolder/monti/dialer/internal/ingestion"
	"github.com/dennisdiepolder/monti/dialer/internal/metrics"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrFeedStarted is returned when Start is called twice
var ErrFeedStarted = errors.New("acd feed already started")

// acdUpgrader is the WebSocket upgrader for ACD connections
var acdUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// internal service, reached only from the telephony network
		return true
	},
}

var _ ingestion.EventSource = (*ACDFeed)(nil)

type inboundEvent struct {
	conn  *ACDConn
	event types.TelephonyEvent
}

// ACDFeed accepts websocket connections from the ACD/telephony layer and
// forwards their events to the processor in arrival order
type ACDFeed struct {
	conns map[*ACDConn]bool

	register   chan *ACDConn
	unregister chan *ACDConn
	inbound    chan inboundEvent

	// closed when Start returns
	done    chan struct{}
	started atomic.Bool

	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewACDFeed creates a new ACDFeed
func NewACDFeed(logger zerolog.Logger) *ACDFeed {
	return &ACDFeed{
		conns:      make(map[*ACDConn]bool),
		register:   make(chan *ACDConn),
		unregister: make(chan *ACDConn),
		inbound:    make(chan inboundEvent, 1000),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "acd_feed").Logger(),
	}
}

// Start runs the feed loop until the context is cancelled
func (f *ACDFeed) Start(ctx context.Context, processor ingestion.EventProcessor) error {
	if !f.started.CompareAndSwap(false, true) {
		return ErrFeedStarted
	}
	defer close(f.done)

	m := metrics.Get()
	f.logger.Info().Msg("acd feed started")

	for {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			for conn := range f.conns {
				delete(f.conns, conn)
				conn.Close()
			}
			f.mu.Unlock()
			f.logger.Info().Msg("acd feed stopped")
			return nil

		case conn := <-f.register:
			f.mu.Lock()
			f.conns[conn] = true
			total := len(f.conns)
			f.mu.Unlock()
			f.logger.Info().
				Str("conn_id", conn.id).
				Int("total_connections", total).
				Msg("acd connected")

		case conn := <-f.unregister:
			f.mu.Lock()
			if _, ok := f.conns[conn]; ok {
				delete(f.conns, conn)
				conn.Close()
				f.logger.Info().
					Str("conn_id", conn.id).
					Int("total_connections", len(f.conns)).
					Msg("acd disconnected")
			}
			f.mu.Unlock()

		case in := <-f.inbound:
			m.RecordEventReceived()
			ack := types.EventAck{Type: "ack", Ref: in.event.Ref, Status: "ok"}
			result, err := ingestion.Process(ctx, processor, in.event)
			switch {
			case err != nil:
				m.RecordEventError()
				ack.Status = "error"
				ack.Error = err.Error()
				f.logger.Debug().Err(err).
					Str("conn_id", in.conn.id).
					Str("type", in.event.Type).
					Msg("acd event rejected")
			case result != "":
				m.RecordEventProcessed(in.event.Type)
				ack.Status = string(result)
			default:
				m.RecordEventProcessed(in.event.Type)
			}
			in.conn.sendAck(ack)
		}
	}
}

// ConnectionCount returns the number of connected ACD feeds
func (f *ACDFeed) ConnectionCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.conns)
}

// ServeHTTP upgrades an ACD connection. Until Start runs there is nothing to
// deliver events to, so connections are refused.
func (f *ACDFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !f.started.Load() {
		http.Error(w, "acd feed not running", http.StatusServiceUnavailable)
		return
	}
	select {
	case <-f.done:
		http.Error(w, "acd feed stopped", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := acdUpgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error().Err(err).Msg("failed to upgrade acd connection")
		return
	}

	c := NewACDConn(f, conn, f.logger)
	select {
	case f.register <- c:
	case <-f.done:
		conn.Close()
		return
	}
	c.Start()
}

// submit hands an event to the feed loop, giving up once the feed stops
func (f *ACDFeed) submit(in inboundEvent) bool {
	select {
	case f.inbound <- in:
		return true
	case <-f.done:
		return false
	}
}

func (f *ACDFeed) leave(c *ACDConn) {
	select {
	case f.unregister <- c:
	case <-f.done:
	}
}

func marshalAck(ack types.EventAck) []byte {
	data, _ := json.Marshal(ack)
	return data
}
