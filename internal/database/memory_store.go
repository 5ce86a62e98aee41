package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"solana-trading-bot/internal/position"
)

// MemoryStore is an in-memory Store used in tests and for local development
// without Redis. It honors the same lifecycle and consume-once semantics as
// the Redis implementation.
type MemoryStore struct {
	mu        sync.Mutex
	positions map[string]*position.Position
	commands  []position.Command
	paused    map[string]bool

	// Unavailable simulates a transport outage when set; every operation
	// fails with ErrStoreUnavailable.
	Unavailable bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]*position.Position),
		paused:    make(map[string]bool),
	}
}

func (s *MemoryStore) checkAvailable(op string) error {
	if s.Unavailable {
		return fmt.Errorf("%w: %s: simulated outage", ErrStoreUnavailable, op)
	}
	return nil
}

// Create registers a new open position.
func (s *MemoryStore) Create(ctx context.Context, pos *position.Position) error {
	if err := pos.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable("create"); err != nil {
		return err
	}
	if _, ok := s.positions[pos.Mint]; ok {
		return fmt.Errorf("%w: %s", ErrPositionExists, pos.Mint)
	}
	s.positions[pos.Mint] = pos.Clone()
	return nil
}

// Get returns a copy of the stored position.
func (s *MemoryStore) Get(ctx context.Context, mint string) (*position.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable("get"); err != nil {
		return nil, err
	}
	pos, ok := s.positions[mint]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, mint)
	}
	return pos.Clone(), nil
}

// GetAllOpen returns copies of every non-terminal position.
func (s *MemoryStore) GetAllOpen(ctx context.Context) ([]*position.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable("getallopen"); err != nil {
		return nil, err
	}
	open := make([]*position.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		if !pos.Terminal() {
			open = append(open, pos.Clone())
		}
	}
	return open, nil
}

// Update applies mutate atomically.
func (s *MemoryStore) Update(ctx context.Context, mint string, mutate func(*position.Position) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable("update"); err != nil {
		return err
	}
	pos, ok := s.positions[mint]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, mint)
	}
	working := pos.Clone()
	if err := mutate(working); err != nil {
		return err
	}
	working.UpdatedAt = time.Now()
	s.positions[mint] = working
	return nil
}

// Close moves the position to its terminal status.
func (s *MemoryStore) Close(ctx context.Context, mint string, outcome position.CloseOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable("close"); err != nil {
		return err
	}
	pos, ok := s.positions[mint]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, mint)
	}
	working := pos.Clone()
	if err := working.Transition(outcome.Status); err != nil {
		return err
	}
	now := time.Now()
	working.CloseReason = outcome.Reason
	working.ExitPrice = outcome.ExitPrice
	working.ClosedAt = now
	working.UpdatedAt = now
	s.positions[mint] = working
	return nil
}

// PushCommand appends a command to the queue.
func (s *MemoryStore) PushCommand(ctx context.Context, cmd position.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable("pushcommand"); err != nil {
		return err
	}
	s.commands = append(s.commands, cmd)
	return nil
}

// DrainCommands returns and clears the queue.
func (s *MemoryStore) DrainCommands(ctx context.Context) ([]position.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable("draincommands"); err != nil {
		return nil, err
	}
	drained := s.commands
	s.commands = nil
	return drained, nil
}

// SetStrategyPaused flags or clears the pause state for a strategy tag.
func (s *MemoryStore) SetStrategyPaused(ctx context.Context, tag string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable("setstrategypaused"); err != nil {
		return err
	}
	if paused {
		s.paused[tag] = true
	} else {
		delete(s.paused, tag)
	}
	return nil
}

// PausedStrategies returns the currently paused strategy tags.
func (s *MemoryStore) PausedStrategies(ctx context.Context) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable("pausedstrategies"); err != nil {
		return nil, err
	}
	paused := make(map[string]bool, len(s.paused))
	for tag := range s.paused {
		paused[tag] = true
	}
	return paused, nil
}

// HealthCheck reports simulated availability.
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkAvailable("healthcheck")
}
