package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"solana-trading-bot/internal/logging"
)

// stubProber fails probes for endpoints listed in failing.
type stubProber struct {
	failing map[string]bool
}

func (p *stubProber) Probe(ctx context.Context, e *Endpoint) error {
	if p.failing[e.Name] {
		return errors.New("probe failed")
	}
	return nil
}

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "FATAL", Output: "stderr", JSONFormat: true})
}

func newTestManager(t *testing.T, prober HealthProber, names ...string) *Manager {
	t.Helper()
	endpoints := make([]*Endpoint, len(names))
	for i, n := range names {
		endpoints[i] = NewEndpoint(n, "http://"+n+".invalid")
	}
	m, err := NewManager(endpoints, DefaultManagerConfig(), prober, testLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

// ============================================================================
// TEST CASES: HEALTH STATE MACHINE
// ============================================================================

// TestFailureThresholds verifies Healthy -> Degraded -> Unhealthy progression
func TestFailureThresholds(t *testing.T) {
	m := newTestManager(t, &stubProber{}, "primary")
	e := m.endpoints[0]

	for i := 0; i < 2; i++ {
		m.ReportOutcome("primary", false)
	}
	if e.State() != Healthy {
		t.Errorf("Expected Healthy after 2 failures, got %s", e.State())
	}

	m.ReportOutcome("primary", false)
	if e.State() != Degraded {
		t.Errorf("Expected Degraded after 3 failures, got %s", e.State())
	}

	for i := 0; i < 3; i++ {
		m.ReportOutcome("primary", false)
	}
	if e.State() != Unhealthy {
		t.Errorf("Expected Unhealthy after 6 failures, got %s", e.State())
	}
}

// TestSingleSuccessRestores verifies one success returns the endpoint to
// Healthy and zeroes the failure count
func TestSingleSuccessRestores(t *testing.T) {
	m := newTestManager(t, &stubProber{}, "primary")
	e := m.endpoints[0]

	for i := 0; i < 6; i++ {
		m.ReportOutcome("primary", false)
	}
	if e.State() != Unhealthy {
		t.Fatalf("Setup: expected Unhealthy, got %s", e.State())
	}

	m.ReportOutcome("primary", true)
	if e.State() != Healthy {
		t.Errorf("Expected Healthy after success, got %s", e.State())
	}

	// Failure counting restarts from zero.
	m.ReportOutcome("primary", false)
	m.ReportOutcome("primary", false)
	if e.State() != Healthy {
		t.Errorf("Expected Healthy after 2 fresh failures, got %s", e.State())
	}
}

// TestProbeRecovery verifies HealthcheckTick restores failed endpoints
func TestProbeRecovery(t *testing.T) {
	prober := &stubProber{failing: map[string]bool{"primary": true}}
	m := newTestManager(t, prober, "primary")
	e := m.endpoints[0]

	for i := 0; i < 6; i++ {
		m.HealthcheckTick(context.Background())
	}
	if e.State() != Unhealthy {
		t.Fatalf("Expected Unhealthy after failed probes, got %s", e.State())
	}

	prober.failing["primary"] = false
	m.HealthcheckTick(context.Background())
	if e.State() != Healthy {
		t.Errorf("Expected Healthy after successful probe, got %s", e.State())
	}
}

// ============================================================================
// TEST CASES: SELECTION AND FALL-THROUGH
// ============================================================================

// TestBestPrefersHealthy verifies healthy endpoints beat degraded ones
func TestBestPrefersHealthy(t *testing.T) {
	m := newTestManager(t, &stubProber{}, "primary", "backup")

	for i := 0; i < 3; i++ {
		m.ReportOutcome("primary", false)
	}

	best, err := m.Best()
	if err != nil {
		t.Fatalf("Best failed: %v", err)
	}
	if best.Name != "backup" {
		t.Errorf("Expected backup, got %s", best.Name)
	}
}

// TestBestMostRecentSuccess verifies ties break on most recent success
func TestBestMostRecentSuccess(t *testing.T) {
	m := newTestManager(t, &stubProber{}, "primary", "backup")

	m.endpoints[0].mu.Lock()
	m.endpoints[0].lastSuccess = time.Now().Add(-time.Hour)
	m.endpoints[0].mu.Unlock()
	m.ReportOutcome("backup", true)

	best, err := m.Best()
	if err != nil {
		t.Fatalf("Best failed: %v", err)
	}
	if best.Name != "backup" {
		t.Errorf("Expected backup (fresher success), got %s", best.Name)
	}
}

// TestBestLastResort verifies an unhealthy endpoint is still selectable
func TestBestLastResort(t *testing.T) {
	m := newTestManager(t, &stubProber{}, "primary")
	for i := 0; i < 6; i++ {
		m.ReportOutcome("primary", false)
	}

	best, err := m.Best()
	if err != nil {
		t.Fatalf("Best failed: %v", err)
	}
	if best.Name != "primary" {
		t.Errorf("Expected primary as last resort, got %s", best.Name)
	}
}

// TestDoFallsThrough verifies Do tries the next candidate after a failure
func TestDoFallsThrough(t *testing.T) {
	m := newTestManager(t, &stubProber{}, "primary", "backup")
	// Ranking is by most recent success, so pin primary to the front.
	m.ReportOutcome("primary", true)

	var tried []string
	err := m.Do(context.Background(), func(ctx context.Context, e *Endpoint) error {
		tried = append(tried, e.Name)
		if e.Name == "primary" {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if len(tried) != 2 {
		t.Fatalf("Expected 2 attempts, got %d: %v", len(tried), tried)
	}
	if m.endpoints[0].Status().ConsecutiveFailures != 1 {
		t.Error("Primary failure was not recorded")
	}
	if m.endpoints[1].State() != Healthy {
		t.Error("Backup success was not recorded")
	}
}

// TestDoExhaustion verifies the sentinel error after all candidates fail
func TestDoExhaustion(t *testing.T) {
	m := newTestManager(t, &stubProber{}, "primary", "backup")

	err := m.Do(context.Background(), func(ctx context.Context, e *Endpoint) error {
		return errors.New("down")
	})
	if !errors.Is(err, ErrAllEndpointsExhausted) {
		t.Errorf("Expected ErrAllEndpointsExhausted, got %v", err)
	}
}

// TestDoRespectsCancellation verifies a cancelled context stops fall-through
func TestDoRespectsCancellation(t *testing.T) {
	m := newTestManager(t, &stubProber{}, "primary", "backup")
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := m.Do(ctx, func(ctx context.Context, e *Endpoint) error {
		calls++
		cancel()
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", calls)
	}
}

// TestNewManagerRejectsEmpty verifies configuration validation
func TestNewManagerRejectsEmpty(t *testing.T) {
	_, err := NewManager(nil, DefaultManagerConfig(), &stubProber{}, testLogger())
	if !errors.Is(err, ErrNoEndpoints) {
		t.Errorf("Expected ErrNoEndpoints, got %v", err)
	}
}
