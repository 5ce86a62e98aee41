package database

import (
	"context"
	"errors"
	"sync"
	"testing"

	"solana-trading-bot/internal/position"
)

// ============================================================================
// TEST CASES: LIFECYCLE THROUGH THE STORE
// ============================================================================

// TestCreateAndGet verifies round-trip storage
func TestCreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	pos := position.New("MintAAA", "Wallet", 0.00002, 1.0, "sniper")
	if err := store.Create(ctx, pos); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "MintAAA")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Mint != "MintAAA" || got.Status != position.StatusOpen {
		t.Errorf("Unexpected position: %+v", got)
	}
}

// TestCreateDuplicate verifies double-create is rejected
func TestCreateDuplicate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	pos := position.New("MintAAA", "Wallet", 1.0, 1.0, "tag")
	if err := store.Create(ctx, pos); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	err := store.Create(ctx, pos)
	if !errors.Is(err, ErrPositionExists) {
		t.Errorf("Expected ErrPositionExists, got %v", err)
	}
}

// TestGetMissing verifies the not-found error
func TestGetMissing(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "NoSuchMint")
	if !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("Expected ErrPositionNotFound, got %v", err)
	}
}

// TestCloseIsForwardOnly verifies a second Close does not mutate the record
func TestCloseIsForwardOnly(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	pos := position.New("MintAAA", "Wallet", 1.0, 1.0, "tag")
	if err := store.Create(ctx, pos); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	first := position.CloseOutcome{Status: position.StatusClosed, Reason: "TAKE_PROFIT", ExitPrice: 2.0}
	if err := store.Close(ctx, "MintAAA", first); err != nil {
		t.Fatalf("First Close failed: %v", err)
	}

	second := position.CloseOutcome{Status: position.StatusFailed, Reason: "MANUAL", ExitPrice: 0}
	err := store.Close(ctx, "MintAAA", second)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition on second Close, got %v", err)
	}

	got, err := store.Get(ctx, "MintAAA")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != position.StatusClosed {
		t.Errorf("Second Close mutated status to %s", got.Status)
	}
	if got.CloseReason != "TAKE_PROFIT" {
		t.Errorf("Second Close mutated reason to %s", got.CloseReason)
	}
	if got.ExitPrice != 2.0 {
		t.Errorf("Second Close mutated exit price to %v", got.ExitPrice)
	}
}

// TestGetAllOpenExcludesTerminal verifies terminal positions drop out of scans
func TestGetAllOpenExcludesTerminal(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, mint := range []string{"MintA", "MintB", "MintC"} {
		if err := store.Create(ctx, position.New(mint, "Wallet", 1.0, 1.0, "tag")); err != nil {
			t.Fatalf("Create %s failed: %v", mint, err)
		}
	}
	if err := store.Close(ctx, "MintB", position.CloseOutcome{Status: position.StatusClosed, Reason: "TIMEOUT"}); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	open, err := store.GetAllOpen(ctx)
	if err != nil {
		t.Fatalf("GetAllOpen failed: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("Expected 2 open positions, got %d", len(open))
	}
	for _, p := range open {
		if p.Mint == "MintB" {
			t.Error("Closed position returned from GetAllOpen")
		}
	}
}

// TestUpdateIsAtomicPerMint verifies concurrent read-modify-write cycles
// never lose increments
func TestUpdateIsAtomicPerMint(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	pos := position.New("MintAAA", "Wallet", 1.0, 1.0, "tag")
	if err := store.Create(ctx, pos); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_ = store.Update(ctx, "MintAAA", func(p *position.Position) error {
				p.RiskScoreAtEntry++
				return nil
			})
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "MintAAA")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RiskScoreAtEntry != 50+workers {
		t.Errorf("Lost updates: expected %d, got %d", 50+workers, got.RiskScoreAtEntry)
	}
}

// TestUpdateAbortsOnMutateError verifies a failed mutate does not persist
func TestUpdateAbortsOnMutateError(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	pos := position.New("MintAAA", "Wallet", 1.0, 1.0, "tag")
	if err := store.Create(ctx, pos); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	boom := errors.New("mutate rejected")
	err := store.Update(ctx, "MintAAA", func(p *position.Position) error {
		p.TakeProfitPercent = 500
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected mutate error, got %v", err)
	}

	got, _ := store.Get(ctx, "MintAAA")
	if got.TakeProfitPercent == 500 {
		t.Error("Aborted update was persisted")
	}
}

// ============================================================================
// TEST CASES: COMMAND QUEUE
// ============================================================================

// TestDrainCommandsConsumeOnce verifies each command is delivered exactly once
func TestDrainCommandsConsumeOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cmd := position.NewCommand(position.ActionClosePosition, "MintAAA", "test", "operator")
		if err := store.PushCommand(ctx, cmd); err != nil {
			t.Fatalf("PushCommand failed: %v", err)
		}
	}

	first, err := store.DrainCommands(ctx)
	if err != nil {
		t.Fatalf("DrainCommands failed: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("Expected 3 commands, got %d", len(first))
	}

	second, err := store.DrainCommands(ctx)
	if err != nil {
		t.Fatalf("Second DrainCommands failed: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("Expected empty second drain, got %d commands", len(second))
	}
}

// TestStrategyPauseFlags verifies pause set/clear round-trips
func TestStrategyPauseFlags(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.SetStrategyPaused(ctx, "sniper", true); err != nil {
		t.Fatalf("SetStrategyPaused failed: %v", err)
	}
	paused, err := store.PausedStrategies(ctx)
	if err != nil {
		t.Fatalf("PausedStrategies failed: %v", err)
	}
	if !paused["sniper"] {
		t.Error("Expected sniper to be paused")
	}

	if err := store.SetStrategyPaused(ctx, "sniper", false); err != nil {
		t.Fatalf("Unpause failed: %v", err)
	}
	paused, _ = store.PausedStrategies(ctx)
	if paused["sniper"] {
		t.Error("Expected sniper to be unpaused")
	}
}

// ============================================================================
// TEST CASES: OUTAGE BEHAVIOR
// ============================================================================

// TestOutageWrapsStoreUnavailable verifies every operation surfaces the
// sentinel error during an outage
func TestOutageWrapsStoreUnavailable(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Unavailable = true

	if _, err := store.GetAllOpen(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("GetAllOpen: expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := store.DrainCommands(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("DrainCommands: expected ErrStoreUnavailable, got %v", err)
	}
	if err := store.HealthCheck(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("HealthCheck: expected ErrStoreUnavailable, got %v", err)
	}
}
