package position

import (
	"time"

	"github.com/google/uuid"
)

// AttemptResult is the outcome of a single exit submission.
type AttemptResult string

const (
	AttemptPending   AttemptResult = "PENDING"
	AttemptConfirmed AttemptResult = "CONFIRMED"
	AttemptRejected  AttemptResult = "REJECTED"
	AttemptTimedOut  AttemptResult = "TIMED_OUT"
)

// ExitAttempt is one submission of an exit bundle for a position. Attempts
// are persisted before submission so attempt numbering survives a restart.
type ExitAttempt struct {
	ID            string        `json:"id"`
	PositionMint  string        `json:"position_mint"`
	AttemptNumber int           `json:"attempt_number"`
	Reason        string        `json:"reason"`
	TipLamports   uint64        `json:"tip_lamports"`
	Endpoint      string        `json:"endpoint"`
	BundleID      string        `json:"bundle_id,omitempty"`
	Result        AttemptResult `json:"result"`
	Error         string        `json:"error,omitempty"`
	SubmittedAt   time.Time     `json:"submitted_at"`
	ResolvedAt    time.Time     `json:"resolved_at,omitempty"`
}

// NewExitAttempt builds a pending attempt record ready to persist.
func NewExitAttempt(mint string, number int, reason string, tipLamports uint64, endpoint string) *ExitAttempt {
	return &ExitAttempt{
		ID:            uuid.NewString(),
		PositionMint:  mint,
		AttemptNumber: number,
		Reason:        reason,
		TipLamports:   tipLamports,
		Endpoint:      endpoint,
		Result:        AttemptPending,
		SubmittedAt:   time.Now(),
	}
}

// Resolved reports whether the attempt has a final result.
func (a *ExitAttempt) Resolved() bool {
	return a.Result != AttemptPending
}
