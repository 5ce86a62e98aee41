// Package metrics exposes Prometheus instrumentation for the control loop,
// exits, endpoints, and the position book.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"solana-trading-bot/internal/events"
)

// Metrics holds all collectors. Register once at startup.
type Metrics struct {
	TicksTotal         prometheus.Counter
	TickDuration       prometheus.Histogram
	TicksAborted       prometheus.Counter
	OpenPositions      prometheus.Gauge
	ExitsTriggered     *prometheus.CounterVec
	ExitAttempts       *prometheus.CounterVec
	PositionsClosed    *prometheus.CounterVec
	PositionsFailed    prometheus.Counter
	CommandsReceived   *prometheus.CounterVec
	EndpointState      *prometheus.GaugeVec
	TipLamportsOffered prometheus.Histogram
}

// New creates and registers the collectors on the given registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_ticks_total",
			Help: "Completed control loop ticks.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_tick_duration_seconds",
			Help:    "Control loop tick duration.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 2, 5},
		}),
		TicksAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_ticks_aborted_total",
			Help: "Ticks aborted because the position store was unavailable.",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "positions_open",
			Help: "Positions currently under management.",
		}),
		ExitsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exits_triggered_total",
			Help: "Exit intents produced by the decision engine.",
		}, []string{"reason"}),
		ExitAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exit_attempts_total",
			Help: "Exit bundle submissions by result.",
		}, []string{"result"}),
		PositionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "positions_closed_total",
			Help: "Positions confirmed closed, by reason.",
		}, []string{"reason"}),
		PositionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "positions_failed_total",
			Help: "Positions that exhausted exit retries.",
		}),
		CommandsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commands_received_total",
			Help: "External commands accepted, by action.",
		}, []string{"action"}),
		EndpointState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rpc_endpoint_state",
			Help: "Endpoint health: 0 healthy, 1 degraded, 2 unhealthy.",
		}, []string{"endpoint"}),
		TipLamportsOffered: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exit_tip_lamports",
			Help:    "Tip offered per exit attempt, in lamports.",
			Buckets: prometheus.ExponentialBuckets(1e6, 2, 8),
		}),
	}

	reg.MustRegister(
		m.TicksTotal, m.TickDuration, m.TicksAborted, m.OpenPositions,
		m.ExitsTriggered, m.ExitAttempts, m.PositionsClosed, m.PositionsFailed,
		m.CommandsReceived, m.EndpointState, m.TipLamportsOffered,
	)
	return m
}

// BindEventBus wires event-driven counters to the bus so publishers stay
// decoupled from the metrics registry.
func (m *Metrics) BindEventBus(bus *events.EventBus) {
	bus.Subscribe(events.EventExitTriggered, func(e events.Event) {
		if reason, ok := e.Data["reason"].(string); ok {
			m.ExitsTriggered.WithLabelValues(reason).Inc()
		}
	})
	bus.Subscribe(events.EventExitAttempted, func(e events.Event) {
		if result, ok := e.Data["result"].(string); ok {
			m.ExitAttempts.WithLabelValues(result).Inc()
		}
		if tip, ok := e.Data["tip_lamports"].(uint64); ok {
			m.TipLamportsOffered.Observe(float64(tip))
		}
	})
	bus.Subscribe(events.EventPositionClosed, func(e events.Event) {
		if reason, ok := e.Data["reason"].(string); ok {
			m.PositionsClosed.WithLabelValues(reason).Inc()
		}
	})
	bus.Subscribe(events.EventPositionFailed, func(e events.Event) {
		m.PositionsFailed.Inc()
	})
	bus.Subscribe(events.EventCommandReceived, func(e events.Event) {
		if action, ok := e.Data["action"].(string); ok {
			m.CommandsReceived.WithLabelValues(action).Inc()
		}
	})
}

// SetEndpointState records an endpoint's health classification.
func (m *Metrics) SetEndpointState(endpoint string, state string) {
	var v float64
	switch state {
	case "DEGRADED":
		v = 1
	case "UNHEALTHY":
		v = 2
	}
	m.EndpointState.WithLabelValues(endpoint).Set(v)
}
