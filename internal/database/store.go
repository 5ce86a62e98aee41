// Package database provides the canonical position store (Redis-backed,
// with an in-memory implementation for development and tests) and the
// PostgreSQL audit repository for exit attempts and terminal outcomes.
package database

import (
	"context"
	"errors"

	"solana-trading-bot/internal/position"
)

// Store errors. ErrStoreUnavailable wraps any transport failure so callers
// can distinguish "store down" from "record missing" with errors.Is.
var (
	ErrStoreUnavailable  = errors.New("position store unavailable")
	ErrPositionNotFound  = errors.New("position not found")
	ErrPositionExists    = errors.New("position already exists")
	ErrInvalidTransition = position.ErrInvalidTransition
)

// Store is the canonical repository for live positions and the external
// command queue. All mutations of a single position are serialized by the
// implementation; callers never coordinate their own locking.
type Store interface {
	// Create registers a new open position. Fails with ErrPositionExists
	// if the mint is already tracked.
	Create(ctx context.Context, pos *position.Position) error

	// Get returns a copy of the position for the mint.
	Get(ctx context.Context, mint string) (*position.Position, error)

	// GetAllOpen returns copies of every position still under management
	// (Open or Closing). An empty result is not an error.
	GetAllOpen(ctx context.Context) ([]*position.Position, error)

	// Update applies mutate to the current record atomically with respect
	// to other updates of the same mint, then persists the result. The
	// mutate func returning an error aborts the update without persisting.
	Update(ctx context.Context, mint string, mutate func(*position.Position) error) error

	// Close moves the position to its terminal status. A repeat Close on
	// an already-terminal position returns ErrInvalidTransition and does
	// not mutate stored state.
	Close(ctx context.Context, mint string, outcome position.CloseOutcome) error

	// PushCommand appends an external command to the queue.
	PushCommand(ctx context.Context, cmd position.Command) error

	// DrainCommands removes and returns all queued commands. Each command
	// is returned exactly once; a drain that fails mid-way must not
	// re-deliver already-returned commands.
	DrainCommands(ctx context.Context) ([]position.Command, error)

	// SetStrategyPaused flags or clears the pause state for a strategy tag.
	SetStrategyPaused(ctx context.Context, tag string, paused bool) error

	// PausedStrategies returns the set of currently paused strategy tags.
	PausedStrategies(ctx context.Context) (map[string]bool, error)

	// HealthCheck reports whether the store is reachable.
	HealthCheck(ctx context.Context) error
}
