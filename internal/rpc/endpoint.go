// Package rpc manages the pool of Solana JSON-RPC endpoints: per-endpoint
// health tracking, best-endpoint selection, and the HTTP client used for
// health probes, fee sampling, and bundle submission.
package rpc

import (
	"sync"
	"time"
)

// HealthState is the health classification of a single endpoint.
type HealthState string

const (
	Healthy   HealthState = "HEALTHY"
	Degraded  HealthState = "DEGRADED"
	Unhealthy HealthState = "UNHEALTHY"
)

// Endpoint is one RPC endpoint with its health bookkeeping. All state is
// guarded by the embedded mutex; the manager reads snapshots.
type Endpoint struct {
	Name string
	URL  string

	mu           sync.Mutex
	state        HealthState
	consecutive  int
	lastSuccess  time.Time
	lastFailure  time.Time
	totalSuccess uint64
	totalFailure uint64
}

// NewEndpoint creates a Healthy endpoint.
func NewEndpoint(name, url string) *Endpoint {
	return &Endpoint{
		Name:        name,
		URL:         url,
		state:       Healthy,
		lastSuccess: time.Now(),
	}
}

// State returns the current health classification.
func (e *Endpoint) State() HealthState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastSuccess returns the time of the most recent successful interaction.
func (e *Endpoint) LastSuccess() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSuccess
}

// recordSuccess resets failure tracking. A single success fully restores
// the endpoint regardless of prior state.
func (e *Endpoint) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutive = 0
	e.state = Healthy
	e.lastSuccess = time.Now()
	e.totalSuccess++
}

// recordFailure bumps the consecutive failure count and reclassifies the
// endpoint against the thresholds.
func (e *Endpoint) recordFailure(degradedAfter, unhealthyAfter int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutive++
	e.lastFailure = time.Now()
	e.totalFailure++
	switch {
	case e.consecutive >= unhealthyAfter:
		e.state = Unhealthy
	case e.consecutive >= degradedAfter:
		e.state = Degraded
	}
}

// EndpointStatus is a read-only snapshot for the API and metrics.
type EndpointStatus struct {
	Name                string      `json:"name"`
	URL                 string      `json:"url"`
	State               HealthState `json:"state"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastSuccess         time.Time   `json:"last_success"`
	LastFailure         time.Time   `json:"last_failure,omitempty"`
	TotalSuccess        uint64      `json:"total_success"`
	TotalFailure        uint64      `json:"total_failure"`
}

// Status returns a snapshot of the endpoint's health bookkeeping.
func (e *Endpoint) Status() EndpointStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EndpointStatus{
		Name:                e.Name,
		URL:                 e.URL,
		State:               e.state,
		ConsecutiveFailures: e.consecutive,
		LastSuccess:         e.lastSuccess,
		LastFailure:         e.lastFailure,
		TotalSuccess:        e.totalSuccess,
		TotalFailure:        e.totalFailure,
	}
}
