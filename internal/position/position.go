// Package position defines the domain model for autonomously managed
// trades: the position itself, the external commands that can steer it,
// and the exit attempts recorded while closing it.
package position

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Status represents the lifecycle state of a position.
type Status string

const (
	StatusOpen    Status = "OPEN"    // Under active management
	StatusClosing Status = "CLOSING" // An exit is in flight
	StatusClosed  Status = "CLOSED"  // Exit confirmed on-chain
	StatusFailed  Status = "FAILED"  // Exit exhausted retries, needs operator follow-up
)

// Lifecycle errors
var (
	ErrInvalidTransition = errors.New("invalid position status transition")
	ErrInvalidPosition   = errors.New("invalid position data")
)

// Position is a single trade under autonomous management, from the
// strategy handoff until it reaches a terminal status. Closed and failed
// positions are retained for audit; they are never deleted by this system.
type Position struct {
	Mint          string `json:"mint"`
	WalletAddress string `json:"wallet_address"`

	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
	PositionSize float64 `json:"position_size_sol"`
	PnL          float64 `json:"pnl"`
	PnLPercent   float64 `json:"pnl_percent"`

	TakeProfitPercent float64 `json:"take_profit_percent"`
	StopLossPercent   float64 `json:"stop_loss_percent"`
	TimeoutSeconds    int64   `json:"timeout_seconds"`

	Status      Status `json:"status"`
	StrategyTag string `json:"strategy_tag"`
	DexUsed     string `json:"dex_used"`

	SlippageTolerance float64 `json:"slippage_tolerance"`
	RiskScoreAtEntry  int     `json:"risk_score_at_entry"`

	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastAnalysisAt time.Time `json:"last_analysis_at"`

	// Terminal outcome fields, set on close.
	CloseReason string    `json:"close_reason,omitempty"`
	ExitPrice   float64   `json:"exit_price,omitempty"`
	ClosedAt    time.Time `json:"closed_at,omitempty"`
}

// New creates an open position with default risk parameters for any the
// strategy left unset.
func New(mint, wallet string, entryPrice, sizeSOL float64, strategyTag string) *Position {
	now := time.Now()
	return &Position{
		Mint:              mint,
		WalletAddress:     wallet,
		EntryPrice:        entryPrice,
		CurrentPrice:      entryPrice,
		PositionSize:      sizeSOL,
		TakeProfitPercent: DefaultTakeProfitPercent,
		StopLossPercent:   DefaultStopLossPercent,
		TimeoutSeconds:    DefaultTimeoutSeconds,
		Status:            StatusOpen,
		StrategyTag:       strategyTag,
		DexUsed:           "Jupiter",
		SlippageTolerance: 1.0,
		RiskScoreAtEntry:  50,
		CreatedAt:         now,
		UpdatedAt:         now,
		LastAnalysisAt:    now,
	}
}

// Default risk parameters applied when the originating strategy omits them.
const (
	DefaultTakeProfitPercent = 100.0
	DefaultStopLossPercent   = 25.0
	DefaultTimeoutSeconds    = 600
)

// AgeSeconds returns how long the position has been open.
func (p *Position) AgeSeconds(now time.Time) int64 {
	age := now.Sub(p.CreatedAt)
	if age < 0 {
		return 0
	}
	return int64(age.Seconds())
}

// TimedOut reports whether the position exceeded its timeout.
func (p *Position) TimedOut(now time.Time) bool {
	return p.AgeSeconds(now) >= p.TimeoutSeconds
}

// PnLPercentAt computes the unrealized PnL percentage at the given price.
func (p *Position) PnLPercentAt(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return ((price - p.EntryPrice) / p.EntryPrice) * 100.0
}

// RefreshPrice updates runtime market fields from a fresh price read.
func (p *Position) RefreshPrice(price float64, now time.Time) {
	p.CurrentPrice = price
	p.PnLPercent = p.PnLPercentAt(price)
	tokenAmount := 0.0
	if p.EntryPrice > 0 {
		tokenAmount = p.PositionSize / p.EntryPrice
	}
	p.PnL = tokenAmount*price - p.PositionSize
	p.LastAnalysisAt = now
	p.UpdatedAt = now
}

// Terminal reports whether the position reached a final status.
func (p *Position) Terminal() bool {
	return p.Status == StatusClosed || p.Status == StatusFailed
}

// CanTransition reports whether moving to the target status is a legal
// forward transition. Closing is never re-entered once left.
func (p *Position) CanTransition(to Status) bool {
	switch p.Status {
	case StatusOpen:
		return to == StatusClosing || to == StatusClosed || to == StatusFailed
	case StatusClosing:
		return to == StatusClosed || to == StatusFailed
	default:
		return false
	}
}

// Transition moves the position to the target status, enforcing the
// forward-only lifecycle.
func (p *Position) Transition(to Status) error {
	if !p.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, p.Status, to, p.Mint)
	}
	p.Status = to
	p.UpdatedAt = time.Now()
	return nil
}

// Validate checks the fields the decision engine depends on. A position
// failing validation is treated as a data error and exited, never held.
func (p *Position) Validate() error {
	if p.Mint == "" {
		return fmt.Errorf("%w: empty mint", ErrInvalidPosition)
	}
	if p.EntryPrice <= 0 || math.IsNaN(p.EntryPrice) || math.IsInf(p.EntryPrice, 0) {
		return fmt.Errorf("%w: entry price %v for %s", ErrInvalidPosition, p.EntryPrice, p.Mint)
	}
	if p.PositionSize <= 0 || math.IsNaN(p.PositionSize) {
		return fmt.Errorf("%w: position size %v for %s", ErrInvalidPosition, p.PositionSize, p.Mint)
	}
	if math.IsNaN(p.PnLPercent) || math.IsInf(p.PnLPercent, 0) {
		return fmt.Errorf("%w: pnl %v for %s", ErrInvalidPosition, p.PnLPercent, p.Mint)
	}
	if p.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: timeout %d for %s", ErrInvalidPosition, p.TimeoutSeconds, p.Mint)
	}
	return nil
}

// Clone returns a copy so tick-scoped views never alias stored state.
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}

// CloseOutcome is the terminal result applied to a position.
type CloseOutcome struct {
	Status    Status  `json:"status"` // StatusClosed or StatusFailed
	Reason    string  `json:"reason"`
	ExitPrice float64 `json:"exit_price"`
}
