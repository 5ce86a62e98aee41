package decision

import (
	"testing"
	"time"

	"solana-trading-bot/internal/position"
)

func freshPosition(mint string) *position.Position {
	pos := position.New(mint, "Wallet", 0.00002, 1.0, "sniper")
	pos.RefreshPrice(pos.EntryPrice, time.Now())
	return pos
}

// ============================================================================
// TEST CASES: PRIORITY ORDER
// ============================================================================

// TestHoldWhenNothingTriggers verifies the default outcome
func TestHoldWhenNothingTriggers(t *testing.T) {
	engine := NewEngine(Config{})
	pos := freshPosition("MintAAA")

	intent := engine.Evaluate(pos, Signals{}, time.Now())
	if intent.Action != ActionHold {
		t.Errorf("Expected hold, got exit(%s)", intent.Reason)
	}
}

// TestEmergencyBeatsEverything verifies emergency wins over all other rules
func TestEmergencyBeatsEverything(t *testing.T) {
	engine := NewEngine(Config{})
	now := time.Now()

	// Position that would also trigger timeout, stop-loss, and data error.
	pos := freshPosition("MintAAA")
	pos.CreatedAt = now.Add(-2 * time.Hour)
	pos.PnLPercent = -90
	pos.EntryPrice = 0

	intent := engine.Evaluate(pos, Signals{Emergency: true}, now)
	if intent.Action != ActionExit || intent.Reason != ReasonEmergency {
		t.Errorf("Expected exit(%s), got %+v", ReasonEmergency, intent)
	}
}

// TestDataErrorBeatsTimeout verifies malformed records exit as DATA_ERROR
// even when other rules also match
func TestDataErrorBeatsTimeout(t *testing.T) {
	engine := NewEngine(Config{})
	now := time.Now()

	pos := freshPosition("MintAAA")
	pos.CreatedAt = now.Add(-2 * time.Hour) // also timed out
	pos.EntryPrice = 0                      // malformed

	intent := engine.Evaluate(pos, Signals{}, now)
	if intent.Reason != ReasonDataError {
		t.Errorf("Expected %s, got %s", ReasonDataError, intent.Reason)
	}
}

// TestTimeoutBeatsStopLoss verifies the timeout rule outranks PnL rules
func TestTimeoutBeatsStopLoss(t *testing.T) {
	engine := NewEngine(Config{})
	now := time.Now()

	pos := freshPosition("MintAAA")
	pos.CreatedAt = now.Add(-time.Duration(pos.TimeoutSeconds+1) * time.Second)
	pos.PnLPercent = -90

	intent := engine.Evaluate(pos, Signals{}, now)
	if intent.Reason != ReasonTimeout {
		t.Errorf("Expected %s, got %s", ReasonTimeout, intent.Reason)
	}
}

// TestStopLossBeatsTakeProfit is a structural guard: both can never be true
// for sane thresholds, but the order is fixed regardless
func TestStopLossTriggers(t *testing.T) {
	engine := NewEngine(Config{})
	pos := freshPosition("MintAAA")
	pos.PnLPercent = -25.0 // boundary: exactly at threshold triggers

	intent := engine.Evaluate(pos, Signals{}, time.Now())
	if intent.Reason != ReasonStopLoss {
		t.Errorf("Expected %s at exact threshold, got %+v", ReasonStopLoss, intent)
	}

	pos.PnLPercent = -24.9
	intent = engine.Evaluate(pos, Signals{}, time.Now())
	if intent.Action != ActionHold {
		t.Errorf("Expected hold just above threshold, got exit(%s)", intent.Reason)
	}
}

// TestTakeProfitTriggers verifies the take-profit boundary is inclusive
func TestTakeProfitTriggers(t *testing.T) {
	engine := NewEngine(Config{})
	pos := freshPosition("MintAAA")

	pos.PnLPercent = 100.0
	intent := engine.Evaluate(pos, Signals{}, time.Now())
	if intent.Reason != ReasonTakeProfit {
		t.Errorf("Expected %s at exact target, got %+v", ReasonTakeProfit, intent)
	}

	pos.PnLPercent = 99.9
	intent = engine.Evaluate(pos, Signals{}, time.Now())
	if intent.Action != ActionHold {
		t.Errorf("Expected hold just below target, got exit(%s)", intent.Reason)
	}
}

// ============================================================================
// TEST CASES: ADVISORY SIGNALS
// ============================================================================

// TestAdvisoryClose verifies an advisory close exits a healthy position
func TestAdvisoryClose(t *testing.T) {
	engine := NewEngine(Config{})
	pos := freshPosition("MintAAA")

	signals := Signals{AdvisoryCloses: map[string]bool{"MintAAA": true}}
	intent := engine.Evaluate(pos, signals, time.Now())
	if intent.Reason != ReasonAdvisory {
		t.Errorf("Expected %s, got %+v", ReasonAdvisory, intent)
	}
}

// TestAdvisoryCannotMaskStopLoss verifies hard rules outrank advisory
func TestAdvisoryCannotMaskStopLoss(t *testing.T) {
	engine := NewEngine(Config{})
	pos := freshPosition("MintAAA")
	pos.PnLPercent = -50

	signals := Signals{AdvisoryCloses: map[string]bool{"MintAAA": true}}
	intent := engine.Evaluate(pos, signals, time.Now())
	if intent.Reason != ReasonStopLoss {
		t.Errorf("Expected %s, got %s", ReasonStopLoss, intent.Reason)
	}
}

// TestPausedStrategySuppressesAdvisoryOnly verifies a paused strategy drops
// advisory exits but leaves safety rules active
func TestPausedStrategySuppressesAdvisoryOnly(t *testing.T) {
	engine := NewEngine(Config{})
	paused := map[string]bool{"sniper": true}

	pos := freshPosition("MintAAA")
	signals := Signals{
		AdvisoryCloses:   map[string]bool{"MintAAA": true},
		PausedStrategies: paused,
	}
	intent := engine.Evaluate(pos, signals, time.Now())
	if intent.Action != ActionHold {
		t.Errorf("Expected hold for paused strategy, got exit(%s)", intent.Reason)
	}

	// Stop-loss still fires while paused.
	pos.PnLPercent = -50
	intent = engine.Evaluate(pos, signals, time.Now())
	if intent.Reason != ReasonStopLoss {
		t.Errorf("Expected %s despite pause, got %+v", ReasonStopLoss, intent)
	}
}

// ============================================================================
// TEST CASES: STALE DATA
// ============================================================================

// TestStalePriceFailsSafe verifies stale market data exits as DATA_ERROR
func TestStalePriceFailsSafe(t *testing.T) {
	engine := NewEngine(Config{StalePriceAfter: 30 * time.Second})
	now := time.Now()

	pos := freshPosition("MintAAA")
	pos.LastAnalysisAt = now.Add(-time.Minute)

	intent := engine.Evaluate(pos, Signals{}, now)
	if intent.Reason != ReasonDataError {
		t.Errorf("Expected %s for stale data, got %+v", ReasonDataError, intent)
	}
}

// TestStaleCheckDisabledByDefault verifies zero config skips the check
func TestStaleCheckDisabledByDefault(t *testing.T) {
	engine := NewEngine(Config{})
	now := time.Now()

	pos := freshPosition("MintAAA")
	pos.LastAnalysisAt = now.Add(-time.Hour)

	intent := engine.Evaluate(pos, Signals{}, now)
	if intent.Action != ActionHold {
		t.Errorf("Expected hold with stale check disabled, got exit(%s)", intent.Reason)
	}
}

// TestReasonHardClassification verifies fee schedule classification
func TestReasonHardClassification(t *testing.T) {
	hard := []ExitReason{ReasonEmergency, ReasonDataError, ReasonTimeout, ReasonStopLoss, ReasonTakeProfit}
	for _, r := range hard {
		if !r.Hard() {
			t.Errorf("Reason %s should be hard", r)
		}
	}
	if ReasonAdvisory.Hard() {
		t.Error("Advisory reason should not be hard")
	}
}
