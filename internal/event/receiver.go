package event

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/ingestion"
	"github.com/dennisdiepolder/monti/dialer/internal/metrics"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
)

// maxBatch bounds one bulk request
const maxBatch = 5000

// BatchResult summarizes one bulk request
type BatchResult struct {
	Accepted   int      `json:"accepted"`
	Duplicates int      `json:"duplicates"`
	Unknown    int      `json:"unknown"`
	Rejected   int      `json:"rejected"`
	Errors     []string `json:"errors,omitempty"`
}

// Receiver handles bulk telephony events posted by the ACD bridge or the simulator
type Receiver struct {
	processor      ingestion.EventProcessor
	logger         zerolog.Logger
	eventsReceived int64
	eventsRejected int64
	lastReceived   time.Time
	mu             sync.RWMutex
}

// NewReceiver creates a new event receiver
func NewReceiver(processor ingestion.EventProcessor, logger zerolog.Logger) *Receiver {
	return &Receiver{
		processor: processor,
		logger:    logger.With().Str("component", "event_receiver").Logger(),
	}
}

// HandleEvents accepts a JSON array of telephony events and applies them in order
func (r *Receiver) HandleEvents(w http.ResponseWriter, req *http.Request) {
	m := metrics.Get()

	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var batch []types.TelephonyEvent
	if err := json.NewDecoder(req.Body).Decode(&batch); err != nil {
		r.logger.Error().Err(err).Msg("failed to decode events")
		m.RecordEventError()
		http.Error(w, "invalid events", http.StatusBadRequest)
		return
	}
	if len(batch) > maxBatch {
		http.Error(w, "too many events", http.StatusRequestEntityTooLarge)
		return
	}

	result := r.apply(req, batch)

	atomic.AddInt64(&r.eventsReceived, int64(len(batch)))
	atomic.AddInt64(&r.eventsRejected, int64(result.Rejected))
	r.mu.Lock()
	r.lastReceived = time.Now()
	r.mu.Unlock()

	// Log periodically
	count := atomic.LoadInt64(&r.eventsReceived)
	if count/1000 != (count-int64(len(batch)))/1000 {
		r.logger.Info().
			Int64("total_received", count).
			Int64("total_rejected", atomic.LoadInt64(&r.eventsRejected)).
			Msg("events received")
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (r *Receiver) apply(req *http.Request, batch []types.TelephonyEvent) BatchResult {
	m := metrics.Get()
	var result BatchResult

	for _, ev := range batch {
		m.RecordEventReceived()
		res, err := ingestion.Process(req.Context(), r.processor, ev)
		if err != nil {
			result.Rejected++
			if len(result.Errors) < 20 {
				result.Errors = append(result.Errors, err.Error())
			}
			if !errors.Is(err, ingestion.ErrInvalidEvent) {
				r.logger.Debug().Err(err).Str("type", ev.Type).Str("agent_id", ev.AgentID).Msg("event rejected")
			}
			continue
		}
		switch res {
		case ingestion.OutcomeDuplicate:
			result.Duplicates++
		case ingestion.OutcomeUnknown:
			result.Unknown++
		default:
			result.Accepted++
		}
	}
	return result
}

// GetStats returns receiver statistics
func (r *Receiver) GetStats(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	lastReceived := r.lastReceived
	r.mu.RUnlock()

	stats := map[string]interface{}{
		"events_received": atomic.LoadInt64(&r.eventsReceived),
		"events_rejected": atomic.LoadInt64(&r.eventsRejected),
		"last_received":   lastReceived,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
