package rpc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"solana-trading-bot/internal/logging"
)

// Manager errors
var (
	ErrNoEndpoints           = errors.New("no endpoints configured")
	ErrAllEndpointsExhausted = errors.New("all endpoints exhausted")
)

// ManagerConfig holds endpoint health thresholds.
type ManagerConfig struct {
	// DegradedAfter consecutive failures mark an endpoint Degraded.
	DegradedAfter int
	// UnhealthyAfter consecutive failures mark it Unhealthy.
	UnhealthyAfter int
	// ProbeTimeout bounds each health probe; a timeout counts as a failure.
	ProbeTimeout time.Duration
}

// DefaultManagerConfig returns the standard thresholds.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		DegradedAfter:  3,
		UnhealthyAfter: 6,
		ProbeTimeout:   2 * time.Second,
	}
}

// HealthProber checks whether an endpoint responds. Implemented by Client
// with the getHealth RPC; stubbed in tests.
type HealthProber interface {
	Probe(ctx context.Context, endpoint *Endpoint) error
}

// Manager routes work to the healthiest available endpoint and keeps the
// health state machine fed from probe results and submission outcomes.
type Manager struct {
	endpoints []*Endpoint
	cfg       ManagerConfig
	prober    HealthProber
	logger    *logging.Logger
}

// NewManager creates a manager over the given endpoints.
func NewManager(endpoints []*Endpoint, cfg ManagerConfig, prober HealthProber, logger *logging.Logger) (*Manager, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if cfg.DegradedAfter <= 0 {
		cfg.DegradedAfter = 3
	}
	if cfg.UnhealthyAfter <= cfg.DegradedAfter {
		cfg.UnhealthyAfter = cfg.DegradedAfter * 2
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	return &Manager{
		endpoints: endpoints,
		cfg:       cfg,
		prober:    prober,
		logger:    logger.WithComponent("rpc_manager"),
	}, nil
}

// candidates returns endpoints in preference order: Healthy by most recent
// success, then Degraded, then Unhealthy as last resort.
func (m *Manager) candidates() []*Endpoint {
	ranked := make([]*Endpoint, len(m.endpoints))
	copy(ranked, m.endpoints)

	rank := func(s HealthState) int {
		switch s {
		case Healthy:
			return 0
		case Degraded:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := rank(ranked[i].State()), rank(ranked[j].State())
		if ri != rj {
			return ri < rj
		}
		return ranked[i].LastSuccess().After(ranked[j].LastSuccess())
	})
	return ranked
}

// Best returns the preferred endpoint. Selecting an Unhealthy endpoint is
// legal as a last resort but logged loudly.
func (m *Manager) Best() (*Endpoint, error) {
	ranked := m.candidates()
	best := ranked[0]
	if best.State() == Unhealthy {
		m.logger.Error("All endpoints unhealthy, using last resort",
			"endpoint", best.Name)
	}
	return best, nil
}

// ReportOutcome feeds a submission result into an endpoint's health state.
func (m *Manager) ReportOutcome(name string, ok bool) {
	for _, e := range m.endpoints {
		if e.Name != name {
			continue
		}
		if ok {
			e.recordSuccess()
		} else {
			e.recordFailure(m.cfg.DegradedAfter, m.cfg.UnhealthyAfter)
			m.logger.Warn("Endpoint failure reported",
				"endpoint", name, "state", string(e.State()))
		}
		return
	}
}

// Do runs fn against the best endpoint, recording the outcome, and falls
// through the remaining candidates on failure. A context cancellation stops
// the fall-through immediately.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, e *Endpoint) error) error {
	var lastErr error
	for _, e := range m.candidates() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn(ctx, e)
		if err == nil {
			e.recordSuccess()
			return nil
		}
		e.recordFailure(m.cfg.DegradedAfter, m.cfg.UnhealthyAfter)
		m.logger.ForEndpoint(e.Name).Warn("Endpoint call failed, falling through",
			"state", string(e.State()), "error", err)
		lastErr = err
	}
	return fmt.Errorf("%w: last error: %v", ErrAllEndpointsExhausted, lastErr)
}

// HealthcheckTick probes every endpoint once. A probe success restores the
// endpoint to Healthy; a timeout or error counts as a failure.
func (m *Manager) HealthcheckTick(ctx context.Context) {
	for _, e := range m.endpoints {
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		err := m.prober.Probe(probeCtx, e)
		cancel()

		if err != nil {
			e.recordFailure(m.cfg.DegradedAfter, m.cfg.UnhealthyAfter)
			m.logger.Debug("Health probe failed",
				"endpoint", e.Name, "state", string(e.State()), "error", err)
			continue
		}
		if e.State() != Healthy {
			m.logger.Info("Endpoint recovered", "endpoint", e.Name)
		}
		e.recordSuccess()
	}
}

// Statuses returns snapshots of every endpoint for the API and metrics.
func (m *Manager) Statuses() []EndpointStatus {
	statuses := make([]EndpointStatus, 0, len(m.endpoints))
	for _, e := range m.endpoints {
		statuses = append(statuses, e.Status())
	}
	return statuses
}
