package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"solana-trading-bot/internal/position"
)

// AuditRepository persists exit attempts and terminal outcomes to Postgres.
// It is write-mostly and append-only: rows are inserted before a submission
// goes out and updated once with the result, never deleted.
type AuditRepository struct {
	db     *DB
	logger zerolog.Logger
}

// NewAuditRepository creates an audit repository on the shared pool.
func NewAuditRepository(db *DB, logger zerolog.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger.With().Str("component", "audit_repository").Logger(),
	}
}

// RecordAttempt inserts a pending attempt row before submission.
func (r *AuditRepository) RecordAttempt(ctx context.Context, att *position.ExitAttempt) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO exit_attempts
			(id, position_mint, attempt_number, reason, tip_lamports, endpoint, result, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		att.ID, att.PositionMint, att.AttemptNumber, att.Reason,
		int64(att.TipLamports), att.Endpoint, string(att.Result), att.SubmittedAt,
	)
	if err != nil {
		r.logger.Error().Err(err).
			Str("mint", att.PositionMint).
			Int("attempt", att.AttemptNumber).
			Msg("Failed to record exit attempt")
		return fmt.Errorf("record attempt for %s: %w", att.PositionMint, err)
	}

	r.logger.Debug().
		Str("mint", att.PositionMint).
		Int("attempt", att.AttemptNumber).
		Uint64("tip_lamports", att.TipLamports).
		Msg("Exit attempt recorded")
	return nil
}

// UpdateAttemptResult writes the terminal result of an attempt.
func (r *AuditRepository) UpdateAttemptResult(ctx context.Context, attemptID string, result position.AttemptResult, bundleID, errDetail string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE exit_attempts
		 SET result = $2, bundle_id = NULLIF($3, ''), error = NULLIF($4, ''), resolved_at = $5
		 WHERE id = $1`,
		attemptID, string(result), bundleID, errDetail, time.Now(),
	)
	if err != nil {
		r.logger.Error().Err(err).
			Str("attempt_id", attemptID).
			Str("result", string(result)).
			Msg("Failed to update exit attempt result")
		return fmt.Errorf("update attempt %s: %w", attemptID, err)
	}
	return nil
}

// AttemptsForMint returns the attempt history for a position, oldest first.
func (r *AuditRepository) AttemptsForMint(ctx context.Context, mint string) ([]*position.ExitAttempt, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, position_mint, attempt_number, reason, tip_lamports,
		        COALESCE(endpoint, ''), COALESCE(bundle_id, ''), result,
		        COALESCE(error, ''), submitted_at, COALESCE(resolved_at, 'epoch'::timestamptz)
		 FROM exit_attempts
		 WHERE position_mint = $1
		 ORDER BY attempt_number ASC`,
		mint,
	)
	if err != nil {
		return nil, fmt.Errorf("query attempts for %s: %w", mint, err)
	}
	defer rows.Close()

	var attempts []*position.ExitAttempt
	for rows.Next() {
		var att position.ExitAttempt
		var tip int64
		var result string
		if err := rows.Scan(
			&att.ID, &att.PositionMint, &att.AttemptNumber, &att.Reason, &tip,
			&att.Endpoint, &att.BundleID, &result, &att.Error,
			&att.SubmittedAt, &att.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		att.TipLamports = uint64(tip)
		att.Result = position.AttemptResult(result)
		attempts = append(attempts, &att)
	}
	return attempts, rows.Err()
}

// LastAttemptNumber returns the highest recorded attempt number for a mint,
// or 0 when no attempts exist. Restart recovery resumes numbering from here.
func (r *AuditRepository) LastAttemptNumber(ctx context.Context, mint string) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(attempt_number), 0) FROM exit_attempts WHERE position_mint = $1`,
		mint,
	).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("last attempt number for %s: %w", mint, err)
	}
	return n, nil
}

// LastConfirmedAttempt returns the most recent CONFIRMED attempt for a
// mint, or nil when none exists. The executor consults this before any
// submission: a confirmed bundle is already on chain and must never be
// resubmitted, only closed out.
func (r *AuditRepository) LastConfirmedAttempt(ctx context.Context, mint string) (*position.ExitAttempt, error) {
	var att position.ExitAttempt
	var tip int64
	var result string
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, position_mint, attempt_number, reason, tip_lamports,
		        COALESCE(endpoint, ''), COALESCE(bundle_id, ''), result,
		        COALESCE(error, ''), submitted_at, COALESCE(resolved_at, 'epoch'::timestamptz)
		 FROM exit_attempts
		 WHERE position_mint = $1 AND result = $2
		 ORDER BY attempt_number DESC
		 LIMIT 1`,
		mint, string(position.AttemptConfirmed),
	).Scan(
		&att.ID, &att.PositionMint, &att.AttemptNumber, &att.Reason, &tip,
		&att.Endpoint, &att.BundleID, &result, &att.Error,
		&att.SubmittedAt, &att.ResolvedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last confirmed attempt for %s: %w", mint, err)
	}
	att.TipLamports = uint64(tip)
	att.Result = position.AttemptResult(result)
	return &att, nil
}

// RecordOutcome writes the terminal outcome row for a closed position.
// The insert is idempotent per mint; a repeat close attempt changes nothing.
func (r *AuditRepository) RecordOutcome(ctx context.Context, pos *position.Position) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO position_outcomes
			(position_mint, wallet_address, strategy_tag, status, close_reason,
			 entry_price, exit_price, position_size_sol, pnl_sol, pnl_percent,
			 opened_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (position_mint) DO NOTHING`,
		pos.Mint, pos.WalletAddress, pos.StrategyTag, string(pos.Status), pos.CloseReason,
		pos.EntryPrice, pos.ExitPrice, pos.PositionSize, pos.PnL, pos.PnLPercent,
		pos.CreatedAt, pos.ClosedAt,
	)
	if err != nil {
		r.logger.Error().Err(err).
			Str("mint", pos.Mint).
			Str("status", string(pos.Status)).
			Msg("Failed to record position outcome")
		return fmt.Errorf("record outcome for %s: %w", pos.Mint, err)
	}

	r.logger.Info().
		Str("mint", pos.Mint).
		Str("status", string(pos.Status)).
		Str("reason", pos.CloseReason).
		Float64("pnl_percent", pos.PnLPercent).
		Msg("Position outcome recorded")
	return nil
}
