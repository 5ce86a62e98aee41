package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"solana-trading-bot/internal/database"
	"solana-trading-bot/internal/decision"
	"solana-trading-bot/internal/events"
	"solana-trading-bot/internal/position"
	"solana-trading-bot/internal/wallet"
)

// stubNetwork scripts network behavior for tests.
type stubNetwork struct {
	mu         sync.Mutex
	submits    int
	confirm    bool
	failSubmit bool
	congestion uint64
}

func (n *stubNetwork) Blockhash(ctx context.Context) (string, error) {
	return "9sHcv6xwn9YkB8nxTUGKDwPwNnmqVp5oLXxJiLrhRsSm", nil
}

func (n *stubNetwork) CongestionFee(ctx context.Context) (uint64, error) {
	return n.congestion, nil
}

func (n *stubNetwork) SubmitBundle(ctx context.Context, txs []string) (string, string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.submits++
	if n.failSubmit {
		return "", "", errors.New("rate limited")
	}
	return fmt.Sprintf("bundle-%d", n.submits), "primary", nil
}

func (n *stubNetwork) BundleConfirmed(ctx context.Context, bundleID string) (bool, error) {
	return n.confirm, nil
}

func (n *stubNetwork) submitCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.submits
}

// memAudit records audit calls in memory.
type memAudit struct {
	mu       sync.Mutex
	attempts []*position.ExitAttempt
	results  map[string]position.AttemptResult
	bundles  map[string]string
	outcomes []*position.Position
	last     int
}

func newMemAudit() *memAudit {
	return &memAudit{
		results: make(map[string]position.AttemptResult),
		bundles: make(map[string]string),
	}
}

func (a *memAudit) RecordAttempt(ctx context.Context, att *position.ExitAttempt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *att
	a.attempts = append(a.attempts, &cp)
	return nil
}

func (a *memAudit) UpdateAttemptResult(ctx context.Context, id string, result position.AttemptResult, bundleID, errDetail string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results[id] = result
	a.bundles[id] = bundleID
	return nil
}

func (a *memAudit) LastAttemptNumber(ctx context.Context, mint string) (int, error) {
	return a.last, nil
}

func (a *memAudit) LastConfirmedAttempt(ctx context.Context, mint string) (*position.ExitAttempt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.attempts) - 1; i >= 0; i-- {
		att := a.attempts[i]
		if att.PositionMint == mint && a.results[att.ID] == position.AttemptConfirmed {
			cp := *att
			cp.Result = position.AttemptConfirmed
			cp.BundleID = a.bundles[att.ID]
			return &cp, nil
		}
	}
	return nil, nil
}

func (a *memAudit) RecordOutcome(ctx context.Context, pos *position.Position) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = append(a.outcomes, pos.Clone())
	return nil
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.ConfirmTimeout = 20 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	return cfg
}

func newTestExecutor(t *testing.T, net Network, audit AuditTrail, cfg Config) (*Executor, *database.MemoryStore) {
	t.Helper()
	store := database.NewMemoryStore()
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("wallet.Generate failed: %v", err)
	}
	x := New(store, audit, net, w, events.NewEventBus(), zerolog.Nop(), cfg)
	return x, store
}

func openPosition(t *testing.T, store *database.MemoryStore, mint string) {
	t.Helper()
	pos := position.New(mint, "Wallet", 0.00002, 1.0, "sniper")
	if err := store.Create(context.Background(), pos); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
}

// ============================================================================
// TEST CASES: HAPPY PATH
// ============================================================================

// TestExitConfirmsFirstAttempt verifies a confirmed bundle closes the position
func TestExitConfirmsFirstAttempt(t *testing.T) {
	net := &stubNetwork{confirm: true}
	audit := newMemAudit()
	x, store := newTestExecutor(t, net, audit, fastConfig())
	openPosition(t, store, "MintAAA")

	outcome, err := x.SubmitExit(context.Background(), "MintAAA", decision.ReasonStopLoss)
	if err != nil {
		t.Fatalf("SubmitExit failed: %v", err)
	}
	if outcome.Final != position.StatusClosed {
		t.Errorf("Expected Closed, got %s", outcome.Final)
	}
	if outcome.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", outcome.Attempts)
	}

	pos, err := store.Get(context.Background(), "MintAAA")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if pos.Status != position.StatusClosed {
		t.Errorf("Stored status should be Closed, got %s", pos.Status)
	}
	if pos.CloseReason != string(decision.ReasonStopLoss) {
		t.Errorf("Expected close reason %s, got %s", decision.ReasonStopLoss, pos.CloseReason)
	}

	if len(audit.attempts) != 1 {
		t.Fatalf("Expected 1 audit attempt, got %d", len(audit.attempts))
	}
	if audit.results[audit.attempts[0].ID] != position.AttemptConfirmed {
		t.Error("Attempt result should be Confirmed")
	}
	if len(audit.outcomes) != 1 {
		t.Errorf("Expected 1 recorded outcome, got %d", len(audit.outcomes))
	}
}

// ============================================================================
// TEST CASES: IDEMPOTENCY AND CONCURRENCY
// ============================================================================

// TestIdempotentOnTerminal verifies a second exit is a no-op
func TestIdempotentOnTerminal(t *testing.T) {
	net := &stubNetwork{confirm: true}
	x, store := newTestExecutor(t, net, newMemAudit(), fastConfig())
	openPosition(t, store, "MintAAA")

	if _, err := x.SubmitExit(context.Background(), "MintAAA", decision.ReasonTakeProfit); err != nil {
		t.Fatalf("First SubmitExit failed: %v", err)
	}
	submitsAfterFirst := net.submitCount()

	outcome, err := x.SubmitExit(context.Background(), "MintAAA", decision.ReasonStopLoss)
	if err != nil {
		t.Fatalf("Second SubmitExit failed: %v", err)
	}
	if outcome.Final != position.StatusClosed {
		t.Errorf("Expected Closed from no-op exit, got %s", outcome.Final)
	}
	if net.submitCount() != submitsAfterFirst {
		t.Error("No-op exit should not submit bundles")
	}

	pos, _ := store.Get(context.Background(), "MintAAA")
	if pos.CloseReason != string(decision.ReasonTakeProfit) {
		t.Errorf("Second exit overwrote close reason: %s", pos.CloseReason)
	}
}

// TestConcurrentExitRejected verifies the per-mint in-flight guard
func TestConcurrentExitRejected(t *testing.T) {
	net := &stubNetwork{confirm: true}
	x, store := newTestExecutor(t, net, newMemAudit(), fastConfig())
	openPosition(t, store, "MintAAA")

	if !x.acquireSlot("MintAAA") {
		t.Fatal("Setup: acquireSlot failed")
	}
	defer x.releaseSlot("MintAAA")

	_, err := x.SubmitExit(context.Background(), "MintAAA", decision.ReasonStopLoss)
	if !errors.Is(err, ErrExitInFlight) {
		t.Errorf("Expected ErrExitInFlight, got %v", err)
	}
}

// TestResumesClosingPosition verifies a Closing position (restart case) is
// driven to terminal rather than rejected
func TestResumesClosingPosition(t *testing.T) {
	net := &stubNetwork{confirm: true}
	x, store := newTestExecutor(t, net, newMemAudit(), fastConfig())
	openPosition(t, store, "MintAAA")

	err := store.Update(context.Background(), "MintAAA", func(p *position.Position) error {
		return p.Transition(position.StatusClosing)
	})
	if err != nil {
		t.Fatalf("Setup transition failed: %v", err)
	}

	outcome, err := x.SubmitExit(context.Background(), "MintAAA", decision.ReasonTimeout)
	if err != nil {
		t.Fatalf("SubmitExit failed: %v", err)
	}
	if outcome.Final != position.StatusClosed {
		t.Errorf("Expected Closed, got %s", outcome.Final)
	}
}

// ============================================================================
// TEST CASES: RETRY AND EXHAUSTION
// ============================================================================

// TestFailedAfterMaxAttempts verifies exhaustion marks the position Failed
func TestFailedAfterMaxAttempts(t *testing.T) {
	net := &stubNetwork{confirm: false} // every attempt times out
	audit := newMemAudit()
	x, store := newTestExecutor(t, net, audit, fastConfig())
	openPosition(t, store, "MintAAA")

	outcome, err := x.SubmitExit(context.Background(), "MintAAA", decision.ReasonStopLoss)
	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Fatalf("Expected ErrMaxAttemptsExhausted, got %v", err)
	}
	if outcome.Final != position.StatusFailed {
		t.Errorf("Expected Failed, got %s", outcome.Final)
	}
	if outcome.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", outcome.Attempts)
	}

	pos, _ := store.Get(context.Background(), "MintAAA")
	if pos.Status != position.StatusFailed {
		t.Errorf("Stored status should be Failed, got %s", pos.Status)
	}
	if len(audit.attempts) != 3 {
		t.Errorf("Expected 3 audit rows, got %d", len(audit.attempts))
	}
}

// TestFeeEscalationMonotonic verifies tips strictly increase across retries
func TestFeeEscalationMonotonic(t *testing.T) {
	net := &stubNetwork{confirm: false}
	audit := newMemAudit()
	x, store := newTestExecutor(t, net, audit, fastConfig())
	openPosition(t, store, "MintAAA")

	_, _ = x.SubmitExit(context.Background(), "MintAAA", decision.ReasonStopLoss)

	if len(audit.attempts) != 3 {
		t.Fatalf("Expected 3 attempts, got %d", len(audit.attempts))
	}
	for i := 1; i < len(audit.attempts); i++ {
		prev, cur := audit.attempts[i-1].TipLamports, audit.attempts[i].TipLamports
		if cur <= prev {
			t.Errorf("Tip did not escalate: attempt %d paid %d, attempt %d paid %d",
				i, prev, i+1, cur)
		}
	}
}

// TestAttemptNumberingResumesFromAudit verifies restart-safe numbering
func TestAttemptNumberingResumesFromAudit(t *testing.T) {
	net := &stubNetwork{confirm: true}
	audit := newMemAudit()
	audit.last = 2 // two attempts recorded before the restart
	x, store := newTestExecutor(t, net, audit, fastConfig())
	openPosition(t, store, "MintAAA")

	outcome, err := x.SubmitExit(context.Background(), "MintAAA", decision.ReasonStopLoss)
	if err != nil {
		t.Fatalf("SubmitExit failed: %v", err)
	}
	if outcome.Attempts != 3 {
		t.Errorf("Expected resumed attempt number 3, got %d", outcome.Attempts)
	}
	if len(audit.attempts) != 1 || audit.attempts[0].AttemptNumber != 3 {
		t.Errorf("Expected single attempt numbered 3, got %+v", audit.attempts)
	}
}

// flakyCloseStore fails Close a scripted number of times before delegating.
type flakyCloseStore struct {
	*database.MemoryStore
	mu        sync.Mutex
	failTimes int
}

func (s *flakyCloseStore) Close(ctx context.Context, mint string, outcome position.CloseOutcome) error {
	s.mu.Lock()
	fail := s.failTimes > 0
	if fail {
		s.failTimes--
	}
	s.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: connection reset", database.ErrStoreUnavailable)
	}
	return s.MemoryStore.Close(ctx, mint, outcome)
}

// TestConfirmedExitNeverResubmitted verifies a transient close failure after
// confirmation retries only the close, never the submission
func TestConfirmedExitNeverResubmitted(t *testing.T) {
	net := &stubNetwork{confirm: true}
	audit := newMemAudit()
	store := &flakyCloseStore{MemoryStore: database.NewMemoryStore(), failTimes: 1}
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("wallet.Generate failed: %v", err)
	}
	x := New(store, audit, net, w, events.NewEventBus(), zerolog.Nop(), fastConfig())
	openPosition(t, store.MemoryStore, "MintAAA")

	outcome, err := x.SubmitExit(context.Background(), "MintAAA", decision.ReasonStopLoss)
	if err != nil {
		t.Fatalf("SubmitExit failed: %v", err)
	}
	if outcome.Final != position.StatusClosed {
		t.Errorf("Expected Closed, got %s", outcome.Final)
	}
	if net.submitCount() != 1 {
		t.Fatalf("Expected exactly 1 bundle submission for a confirmed exit, got %d", net.submitCount())
	}

	pos, _ := store.Get(context.Background(), "MintAAA")
	if pos.Status != position.StatusClosed {
		t.Errorf("Stored status should be Closed, got %s", pos.Status)
	}
}

// TestResumeAfterConfirmationSkipsSubmission verifies the cross-restart
// case: a Closing position whose bundle already confirmed is closed out
// without building a new bundle
func TestResumeAfterConfirmationSkipsSubmission(t *testing.T) {
	net := &stubNetwork{confirm: true}
	audit := newMemAudit()
	x, store := newTestExecutor(t, net, audit, fastConfig())
	openPosition(t, store, "MintAAA")

	err := store.Update(context.Background(), "MintAAA", func(p *position.Position) error {
		p.CloseReason = string(decision.ReasonStopLoss)
		return p.Transition(position.StatusClosing)
	})
	if err != nil {
		t.Fatalf("Setup transition failed: %v", err)
	}

	// The pre-crash run confirmed attempt 1 but never applied the close.
	att := position.NewExitAttempt("MintAAA", 1, string(decision.ReasonStopLoss), 1_000_000, "primary")
	if err := audit.RecordAttempt(context.Background(), att); err != nil {
		t.Fatalf("Setup RecordAttempt failed: %v", err)
	}
	if err := audit.UpdateAttemptResult(context.Background(), att.ID, position.AttemptConfirmed, "bundle-prior", ""); err != nil {
		t.Fatalf("Setup UpdateAttemptResult failed: %v", err)
	}

	outcome, err := x.SubmitExit(context.Background(), "MintAAA", decision.ReasonStopLoss)
	if err != nil {
		t.Fatalf("SubmitExit failed: %v", err)
	}
	if net.submitCount() != 0 {
		t.Fatalf("Resumed confirmed exit must not submit, got %d submissions", net.submitCount())
	}
	if outcome.BundleID != "bundle-prior" {
		t.Errorf("Expected prior bundle ID, got %q", outcome.BundleID)
	}

	pos, _ := store.Get(context.Background(), "MintAAA")
	if pos.Status != position.StatusClosed {
		t.Errorf("Stored status should be Closed, got %s", pos.Status)
	}
}

// TestRejectedSubmissionRetries verifies submission errors consume attempts
func TestRejectedSubmissionRetries(t *testing.T) {
	net := &stubNetwork{failSubmit: true}
	audit := newMemAudit()
	x, store := newTestExecutor(t, net, audit, fastConfig())
	openPosition(t, store, "MintAAA")

	_, err := x.SubmitExit(context.Background(), "MintAAA", decision.ReasonTimeout)
	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Fatalf("Expected ErrMaxAttemptsExhausted, got %v", err)
	}
	if net.submitCount() != 3 {
		t.Errorf("Expected 3 submission attempts, got %d", net.submitCount())
	}
	for _, att := range audit.attempts {
		if audit.results[att.ID] != position.AttemptRejected {
			t.Errorf("Attempt %d should be Rejected, got %s", att.AttemptNumber, audit.results[att.ID])
		}
	}
}
