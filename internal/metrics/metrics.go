package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "monti_dialer"

// Metrics holds all application collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	// Event metrics
	eventsReceived  prometheus.Counter
	eventsProcessed *prometheus.CounterVec
	eventErrors     prometheus.Counter

	// WebSocket metrics
	wsConnections    prometheus.Counter
	wsDisconnections prometheus.Counter
	wsMessages       prometheus.Counter
	wsErrors         prometheus.Counter
	wsActive         prometheus.Gauge
	activeConns      atomic.Int64

	// Aggregation metrics
	aggregationCycles   prometheus.Counter
	aggregationDuration prometheus.Histogram

	// Pacing metrics
	tickDuration   *prometheus.HistogramVec
	tickPanics     *prometheus.CounterVec
	failClosed     *prometheus.GaugeVec
	dialTarget     *prometheus.GaugeVec
	throttleFactor *prometheus.GaugeVec
	dropRate       *prometheus.GaugeVec
	outstanding    *prometheus.GaugeVec
	dispatches     *prometheus.CounterVec
	outcomes       *prometheus.CounterVec

	// Agent and hopper metrics
	agentsByState *prometheus.GaugeVec
	hopperLeads   *prometheus.GaugeVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var instance *Metrics
var once sync.Once

// Get returns the process-wide metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New creates a metrics set on its own registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		eventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "received_total",
			Help: "Telephony events received.",
		}),
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "processed_total",
			Help: "Telephony events processed, by type.",
		}, []string{"type"}),
		eventErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "errors_total",
			Help: "Telephony events rejected.",
		}),

		wsConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "websocket", Name: "connections_total",
			Help: "WebSocket connections accepted.",
		}),
		wsDisconnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "websocket", Name: "disconnections_total",
			Help: "WebSocket connections closed.",
		}),
		wsMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "websocket", Name: "messages_total",
			Help: "WebSocket messages sent.",
		}),
		wsErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "websocket", Name: "errors_total",
			Help: "WebSocket read or write errors.",
		}),
		wsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "websocket", Name: "active_connections",
			Help: "Currently open WebSocket connections.",
		}),

		aggregationCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "aggregation", Name: "cycles_total",
			Help: "Snapshot broadcast cycles.",
		}),
		aggregationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "aggregation", Name: "duration_seconds",
			Help:    "Time spent building a snapshot broadcast.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pacing", Name: "tick_duration_seconds",
			Help:    "Duration of one pacing control tick.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"campaign"}),
		tickPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pacing", Name: "tick_panics_total",
			Help: "Recovered panics inside a pacing tick.",
		}, []string{"campaign"}),
		failClosed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pacing", Name: "fail_closed",
			Help: "1 while a campaign is failing closed on a dependency error.",
		}, []string{"campaign"}),
		dialTarget: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pacing", Name: "dial_target",
			Help: "New attempts requested on the last tick.",
		}, []string{"campaign"}),
		throttleFactor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "compliance", Name: "throttle_factor",
			Help: "Throttle factor applied by the compliance governor.",
		}, []string{"campaign"}),
		dropRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "compliance", Name: "drop_rate_percent",
			Help: "Abandoned call rate over the rolling window.",
		}, []string{"campaign"}),
		outstanding: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pacing", Name: "outstanding_attempts",
			Help: "Attempts dispatched without a terminal outcome.",
		}, []string{"campaign"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "attempts_total",
			Help: "Origination attempts handed to the dispatcher, by result.",
		}, []string{"campaign", "result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "outcomes_total",
			Help: "Terminal attempt outcomes, by outcome.",
		}, []string{"campaign", "outcome"}),

		agentsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "agents", Name: "by_state",
			Help: "Agents per campaign and state.",
		}, []string{"campaign", "state"}),
		hopperLeads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "hopper", Name: "leads",
			Help: "Hopper entries per campaign and status.",
		}, []string{"campaign", "status"}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests, by route and status.",
		}, []string{"endpoint", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsReceived, m.eventsProcessed, m.eventErrors,
		m.wsConnections, m.wsDisconnections, m.wsMessages, m.wsErrors, m.wsActive,
		m.aggregationCycles, m.aggregationDuration,
		m.tickDuration, m.tickPanics, m.failClosed, m.dialTarget, m.throttleFactor,
		m.dropRate, m.outstanding, m.dispatches, m.outcomes,
		m.agentsByState, m.hopperLeads,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordEventReceived increments the events received counter
func (m *Metrics) RecordEventReceived() {
	if m == nil {
		return
	}
	m.eventsReceived.Inc()
}

// RecordEventProcessed increments the processed counter for one event type
func (m *Metrics) RecordEventProcessed(eventType string) {
	if m == nil {
		return
	}
	m.eventsProcessed.WithLabelValues(eventType).Inc()
}

// RecordEventError increments the event processing error counter
func (m *Metrics) RecordEventError() {
	if m == nil {
		return
	}
	m.eventErrors.Inc()
}

// RecordWebSocketConnect increments connection counters
func (m *Metrics) RecordWebSocketConnect() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
	m.wsActive.Inc()
	m.activeConns.Add(1)
}

// RecordWebSocketDisconnect increments the disconnection counter
func (m *Metrics) RecordWebSocketDisconnect() {
	if m == nil {
		return
	}
	m.wsDisconnections.Inc()
	m.wsActive.Dec()
	m.activeConns.Add(-1)
}

// RecordWebSocketMessage increments the message counter
func (m *Metrics) RecordWebSocketMessage() {
	if m == nil {
		return
	}
	m.wsMessages.Inc()
}

// RecordWebSocketError increments the WebSocket error counter
func (m *Metrics) RecordWebSocketError() {
	if m == nil {
		return
	}
	m.wsErrors.Inc()
}

// GetActiveConnections returns current WebSocket connections
func (m *Metrics) GetActiveConnections() int64 {
	if m == nil {
		return 0
	}
	return m.activeConns.Load()
}

// RecordAggregationCycle records one snapshot broadcast
func (m *Metrics) RecordAggregationCycle(duration time.Duration) {
	if m == nil {
		return
	}
	m.aggregationCycles.Inc()
	m.aggregationDuration.Observe(duration.Seconds())
}

// RecordTick records the duration of one pacing tick
func (m *Metrics) RecordTick(campaignID string, duration time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.WithLabelValues(campaignID).Observe(duration.Seconds())
}

// RecordTickPanic counts a recovered panic in a campaign loop
func (m *Metrics) RecordTickPanic(campaignID string) {
	if m == nil {
		return
	}
	m.tickPanics.WithLabelValues(campaignID).Inc()
}

// UpdateSnapshot exports the gauges carried by a pacing snapshot
func (m *Metrics) UpdateSnapshot(s *types.PacingSnapshot, dropRate float64) {
	if m == nil || s == nil {
		return
	}
	failClosed := 0.0
	if s.FailClosed {
		failClosed = 1
	}
	m.failClosed.WithLabelValues(s.CampaignID).Set(failClosed)
	m.dialTarget.WithLabelValues(s.CampaignID).Set(float64(s.CurrentDialTarget))
	m.throttleFactor.WithLabelValues(s.CampaignID).Set(s.ThrottleFactor)
	m.dropRate.WithLabelValues(s.CampaignID).Set(dropRate)
	m.outstanding.WithLabelValues(s.CampaignID).Set(float64(s.OutstandingAttempts))
}

// RecordDispatch counts attempts by result: queued, rejected, failed
func (m *Metrics) RecordDispatch(campaignID, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dispatches.WithLabelValues(campaignID, result).Add(float64(n))
}

// RecordOutcome counts a terminal attempt outcome
func (m *Metrics) RecordOutcome(campaignID string, outcome types.Outcome) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(campaignID, string(outcome)).Inc()
}

// UpdateAgentStats sets the per-state agent gauges of a campaign
func (m *Metrics) UpdateAgentStats(campaignID string, counts map[types.AgentState]int) {
	if m == nil {
		return
	}
	for _, state := range types.AllAgentStates {
		m.agentsByState.WithLabelValues(campaignID, string(state)).Set(float64(counts[state]))
	}
}

// UpdateHopperStats sets the per-status hopper gauges of a campaign
func (m *Metrics) UpdateHopperStats(stats types.HopperStats) {
	if m == nil {
		return
	}
	m.hopperLeads.WithLabelValues(stats.CampaignID, string(types.LeadPending)).Set(float64(stats.Pending))
	m.hopperLeads.WithLabelValues(stats.CampaignID, string(types.LeadInFlight)).Set(float64(stats.InFlight))
	m.hopperLeads.WithLabelValues(stats.CampaignID, string(types.LeadExhausted)).Set(float64(stats.Exhausted))
	m.hopperLeads.WithLabelValues(stats.CampaignID, string(types.LeadCompleted)).Set(float64(stats.Completed))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
