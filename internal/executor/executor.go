// Package executor turns an exit intent into a confirmed on-chain exit:
// it acquires the position's exit slot, builds and signs the bundle, bids
// the tip, submits through the endpoint manager, and retries with fee
// escalation until confirmation or exhaustion.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"solana-trading-bot/internal/database"
	"solana-trading-bot/internal/decision"
	"solana-trading-bot/internal/events"
	"solana-trading-bot/internal/position"
	"solana-trading-bot/internal/wallet"
)

// Executor errors
var (
	ErrExitInFlight         = errors.New("exit already in flight for position")
	ErrSubmissionRejected   = errors.New("bundle submission rejected")
	ErrSubmissionTimedOut   = errors.New("bundle confirmation timed out")
	ErrMaxAttemptsExhausted = errors.New("exit attempts exhausted")
)

// errAlreadyTerminal aborts acquisition when the position finished earlier.
var errAlreadyTerminal = errors.New("position already terminal")

// AuditTrail is the audit persistence the executor writes through.
// Implemented by database.AuditRepository; stubbed in tests.
type AuditTrail interface {
	RecordAttempt(ctx context.Context, att *position.ExitAttempt) error
	UpdateAttemptResult(ctx context.Context, attemptID string, result position.AttemptResult, bundleID, errDetail string) error
	LastAttemptNumber(ctx context.Context, mint string) (int, error)
	LastConfirmedAttempt(ctx context.Context, mint string) (*position.ExitAttempt, error)
	RecordOutcome(ctx context.Context, pos *position.Position) error
}

// NoopAudit satisfies AuditTrail without persistence, for development
// without Postgres.
type NoopAudit struct{}

func (NoopAudit) RecordAttempt(context.Context, *position.ExitAttempt) error { return nil }
func (NoopAudit) UpdateAttemptResult(context.Context, string, position.AttemptResult, string, string) error {
	return nil
}
func (NoopAudit) LastAttemptNumber(context.Context, string) (int, error) { return 0, nil }
func (NoopAudit) LastConfirmedAttempt(context.Context, string) (*position.ExitAttempt, error) {
	return nil, nil
}
func (NoopAudit) RecordOutcome(context.Context, *position.Position) error { return nil }

// Config holds retry and confirmation settings.
type Config struct {
	// MaxAttempts bounds submissions per exit before the position is
	// marked Failed.
	MaxAttempts int
	// ConfirmTimeout bounds how long one attempt waits for confirmation.
	ConfirmTimeout time.Duration
	// PollInterval is the confirmation polling cadence.
	PollInterval time.Duration
	// Fees is the tip schedule.
	Fees FeeConfig
}

// DefaultConfig returns the standard executor settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		ConfirmTimeout: 8 * time.Second,
		PollInterval:   500 * time.Millisecond,
		Fees:           DefaultFeeConfig(),
	}
}

// ExitOutcome reports how an exit finished.
type ExitOutcome struct {
	Mint     string
	Final    position.Status
	Reason   string
	Attempts int
	BundleID string
}

// Executor drives exits to a terminal state. Safe for concurrent use
// across different mints; per-mint concurrency is rejected.
type Executor struct {
	store   database.Store
	audit   AuditTrail
	network Network
	wallet  *wallet.Wallet
	bus     *events.EventBus
	logger  zerolog.Logger
	cfg     Config

	mu       sync.Mutex
	inFlight map[string]bool
}

// New creates an executor.
func New(store database.Store, audit AuditTrail, network Network, w *wallet.Wallet, bus *events.EventBus, logger zerolog.Logger, cfg Config) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 8 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Executor{
		store:    store,
		audit:    audit,
		network:  network,
		wallet:   w,
		bus:      bus,
		logger:   logger.With().Str("component", "executor").Logger(),
		cfg:      cfg,
		inFlight: make(map[string]bool),
	}
}

// InFlight reports whether an exit is currently running for the mint.
func (x *Executor) InFlight(mint string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.inFlight[mint]
}

func (x *Executor) acquireSlot(mint string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.inFlight[mint] {
		return false
	}
	x.inFlight[mint] = true
	return true
}

func (x *Executor) releaseSlot(mint string) {
	x.mu.Lock()
	delete(x.inFlight, mint)
	x.mu.Unlock()
}

// SubmitExit drives the position to a terminal state for the given reason.
// Calling it on an already-terminal position is a no-op returning the
// recorded final status; a concurrent call for the same mint returns
// ErrExitInFlight without touching the position.
func (x *Executor) SubmitExit(ctx context.Context, mint string, reason decision.ExitReason) (*ExitOutcome, error) {
	if !x.acquireSlot(mint) {
		return nil, fmt.Errorf("%w: %s", ErrExitInFlight, mint)
	}
	defer x.releaseSlot(mint)

	// Acquire the exit through the store: Open moves to Closing, a
	// Closing position is resumed (restart case), terminal is a no-op.
	var terminalStatus position.Status
	err := x.store.Update(ctx, mint, func(p *position.Position) error {
		if p.Terminal() {
			terminalStatus = p.Status
			return errAlreadyTerminal
		}
		if p.Status == position.StatusClosing {
			return nil
		}
		if err := p.Transition(position.StatusClosing); err != nil {
			return err
		}
		// Stamp the trigger so a restart can resume with the same reason.
		p.CloseReason = string(reason)
		return nil
	})
	if errors.Is(err, errAlreadyTerminal) {
		x.logger.Debug().Str("mint", mint).Str("status", string(terminalStatus)).
			Msg("Exit requested for terminal position, nothing to do")
		return &ExitOutcome{Mint: mint, Final: terminalStatus, Reason: string(reason)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquire exit for %s: %w", mint, err)
	}

	// A bundle that already confirmed must never be rebuilt or resubmitted;
	// the only remaining work is applying the close. Covers a crash or a
	// transient store failure between confirmation and close.
	if prior, err := x.audit.LastConfirmedAttempt(ctx, mint); err != nil {
		x.logger.Warn().Err(err).Str("mint", mint).
			Msg("Could not read confirmed-attempt history")
	} else if prior != nil {
		x.logger.Info().Str("mint", mint).Str("bundle_id", prior.BundleID).
			Int("attempt", prior.AttemptNumber).
			Msg("Resuming already-confirmed exit, applying close only")
		if err := x.finalize(ctx, mint, reason, prior.BundleID, prior.AttemptNumber); err != nil {
			return nil, err
		}
		return &ExitOutcome{
			Mint:     mint,
			Final:    position.StatusClosed,
			Reason:   string(reason),
			Attempts: prior.AttemptNumber,
			BundleID: prior.BundleID,
		}, nil
	}

	start, err := x.audit.LastAttemptNumber(ctx, mint)
	if err != nil {
		x.logger.Warn().Err(err).Str("mint", mint).
			Msg("Could not read attempt history, starting from attempt 1")
		start = 0
	}

	var lastErr error
	attempts := start
	for n := start + 1; n <= x.cfg.MaxAttempts; n++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Idempotent re-check: another path may have finished the exit.
		fresh, err := x.store.Get(ctx, mint)
		if err != nil {
			return nil, fmt.Errorf("re-check %s: %w", mint, err)
		}
		if fresh.Terminal() {
			return &ExitOutcome{Mint: mint, Final: fresh.Status, Reason: string(reason), Attempts: attempts}, nil
		}

		attempts = n
		bundleID, err := x.attempt(ctx, fresh, reason, n)
		if err == nil {
			if err := x.finalize(ctx, mint, reason, bundleID, n); err != nil {
				// Confirmed on chain but not yet closed in the store: the
				// position stays Closing with a CONFIRMED audit row, and
				// the next SubmitExit resumes at the close, never at a
				// resubmission.
				return nil, err
			}
			return &ExitOutcome{
				Mint:     mint,
				Final:    position.StatusClosed,
				Reason:   string(reason),
				Attempts: n,
				BundleID: bundleID,
			}, nil
		}
		lastErr = err
		x.logger.Warn().Err(err).Str("mint", mint).Int("attempt", n).
			Msg("Exit attempt failed")
	}

	// Exhausted. The position needs operator follow-up, so it moves to
	// Failed rather than silently retrying forever.
	if err := x.store.Close(ctx, mint, position.CloseOutcome{
		Status: position.StatusFailed,
		Reason: string(reason),
	}); err != nil && !errors.Is(err, position.ErrInvalidTransition) {
		x.logger.Error().Err(err).Str("mint", mint).Msg("Failed to mark position Failed")
	}
	if closed, err := x.store.Get(ctx, mint); err == nil {
		if err := x.audit.RecordOutcome(ctx, closed); err != nil {
			x.logger.Error().Err(err).Str("mint", mint).Msg("Failed to record Failed outcome")
		}
	}
	x.bus.PublishPositionFailed(mint, string(reason), attempts)
	x.logger.Error().Str("mint", mint).Str("reason", string(reason)).Int("attempts", attempts).
		Msg("Exit exhausted all attempts, position marked FAILED")

	return &ExitOutcome{Mint: mint, Final: position.StatusFailed, Reason: string(reason), Attempts: attempts},
		fmt.Errorf("%w for %s after %d attempts: %v", ErrMaxAttemptsExhausted, mint, attempts, lastErr)
}

// attempt runs one record-submit-confirm cycle and returns the confirmed
// bundle ID. Applying the close is the caller's job; a confirmed attempt
// is past the point of no return for resubmission.
func (x *Executor) attempt(ctx context.Context, pos *position.Position, reason decision.ExitReason, n int) (string, error) {
	congestionFee, _ := x.network.CongestionFee(ctx)
	tip := x.cfg.Fees.TipForAttempt(pos.PositionSize, congestionFee, reason.Hard(), n)

	att := position.NewExitAttempt(pos.Mint, n, string(reason), tip, "")
	if err := x.audit.RecordAttempt(ctx, att); err != nil {
		// Audit failure must not leave the position in the market.
		x.logger.Error().Err(err).Str("mint", pos.Mint).Msg("Audit write failed, continuing exit")
	}

	blockhash, err := x.network.Blockhash(ctx)
	if err != nil {
		x.resolveAttempt(ctx, att, position.AttemptRejected, "", err.Error())
		return "", fmt.Errorf("%w: blockhash: %v", ErrSubmissionRejected, err)
	}

	txs, err := BuildExitBundle(x.wallet, pos, blockhash, tip)
	if err != nil {
		x.resolveAttempt(ctx, att, position.AttemptRejected, "", err.Error())
		return "", fmt.Errorf("%w: build: %v", ErrSubmissionRejected, err)
	}

	bundleID, endpoint, err := x.network.SubmitBundle(ctx, txs)
	if err != nil {
		x.resolveAttempt(ctx, att, position.AttemptRejected, "", err.Error())
		return "", fmt.Errorf("%w: %v", ErrSubmissionRejected, err)
	}
	att.Endpoint = endpoint

	x.logger.Info().Str("mint", pos.Mint).Int("attempt", n).
		Uint64("tip_lamports", tip).Str("bundle_id", bundleID).Str("endpoint", endpoint).
		Msg("Exit bundle submitted")

	confirmed, err := x.awaitConfirmation(ctx, bundleID)
	if err != nil {
		x.resolveAttempt(ctx, att, position.AttemptRejected, bundleID, err.Error())
		x.bus.PublishExitAttempted(pos.Mint, n, tip, string(position.AttemptRejected))
		return "", fmt.Errorf("%w: %v", ErrSubmissionRejected, err)
	}
	if !confirmed {
		x.resolveAttempt(ctx, att, position.AttemptTimedOut, bundleID, "")
		x.bus.PublishExitAttempted(pos.Mint, n, tip, string(position.AttemptTimedOut))
		return "", fmt.Errorf("%w: bundle %s", ErrSubmissionTimedOut, bundleID)
	}

	x.resolveAttempt(ctx, att, position.AttemptConfirmed, bundleID, "")
	x.bus.PublishExitAttempted(pos.Mint, n, tip, string(position.AttemptConfirmed))

	x.logger.Info().Str("mint", pos.Mint).Str("reason", string(reason)).
		Int("attempt", n).Str("bundle_id", bundleID).
		Msg("Exit bundle confirmed")

	return bundleID, nil
}

// finalizeRetries bounds how often the post-confirmation close is retried
// within one SubmitExit call before giving up and leaving the position
// Closing for the next resume.
const finalizeRetries = 3

// finalize applies a confirmed exit to the store and audit trail. The
// bundle has already landed on chain, so only the close is retried here;
// resubmitting would sell the position twice.
func (x *Executor) finalize(ctx context.Context, mint string, reason decision.ExitReason, bundleID string, n int) error {
	exitPrice := 0.0
	if p, err := x.store.Get(ctx, mint); err == nil {
		exitPrice = p.CurrentPrice
	}

	var lastErr error
	for i := 0; i < finalizeRetries; i++ {
		err := x.store.Close(ctx, mint, position.CloseOutcome{
			Status:    position.StatusClosed,
			Reason:    string(reason),
			ExitPrice: exitPrice,
		})
		if err == nil || errors.Is(err, position.ErrInvalidTransition) {
			lastErr = nil
			break
		}
		lastErr = err
		x.logger.Warn().Err(err).Str("mint", mint).Str("bundle_id", bundleID).
			Msg("Close after confirmation failed, retrying close only")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(x.cfg.PollInterval):
		}
	}
	if lastErr != nil {
		return fmt.Errorf("close %s after confirmation: %w", mint, lastErr)
	}

	if closed, err := x.store.Get(ctx, mint); err == nil {
		if err := x.audit.RecordOutcome(ctx, closed); err != nil {
			x.logger.Error().Err(err).Str("mint", mint).Msg("Failed to record outcome")
		}
		x.bus.PublishPositionClosed(closed.Mint, closed.CloseReason, closed.EntryPrice, closed.ExitPrice, closed.PnLPercent)
	}

	x.logger.Info().Str("mint", mint).Str("reason", string(reason)).
		Int("attempt", n).Str("bundle_id", bundleID).
		Msg("Position exit confirmed")
	return nil
}

// awaitConfirmation polls until the bundle lands or the attempt window
// closes. Returns (false, nil) on a clean timeout.
func (x *Executor) awaitConfirmation(ctx context.Context, bundleID string) (bool, error) {
	deadline := time.NewTimer(x.cfg.ConfirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(x.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
			confirmed, err := x.network.BundleConfirmed(ctx, bundleID)
			if err != nil {
				return false, err
			}
			if confirmed {
				return true, nil
			}
		}
	}
}

func (x *Executor) resolveAttempt(ctx context.Context, att *position.ExitAttempt, result position.AttemptResult, bundleID, errDetail string) {
	att.Result = result
	att.BundleID = bundleID
	att.Error = errDetail
	if err := x.audit.UpdateAttemptResult(ctx, att.ID, result, bundleID, errDetail); err != nil {
		x.logger.Error().Err(err).Str("attempt_id", att.ID).Msg("Failed to update attempt result")
	}
}
