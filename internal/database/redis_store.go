package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"solana-trading-bot/internal/position"
)

// Redis key layout for the canonical store
const (
	// PositionKeyPrefix is the prefix for individual position keys.
	// Format: position:{mint}
	PositionKeyPrefix = "position"

	// ActivePositionsKey is the set of mints still under management.
	ActivePositionsKey = "positions:active"

	// CommandQueueKey is the list external commands are pushed onto.
	CommandQueueKey = "commands:queue"

	// PausedStrategiesKey is the set of paused strategy tags.
	PausedStrategiesKey = "strategies:paused"

	// ClosedPositionTTL keeps terminal records readable for a while after
	// close; the durable audit trail lives in Postgres.
	ClosedPositionTTL = 24 * time.Hour
)

// RedisStore is the Redis-backed canonical position store. Mutations of a
// single mint are serialized through a per-mint mutex so read-modify-write
// cycles never interleave; different mints proceed concurrently.
type RedisStore struct {
	client *redis.Client

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRedisStore creates a store on an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *RedisStore) mintLock(mint string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[mint]
	if !ok {
		l = &sync.Mutex{}
		s.locks[mint] = l
	}
	return l
}

func (s *RedisStore) positionKey(mint string) string {
	return fmt.Sprintf("%s:%s", PositionKeyPrefix, mint)
}

// unavailable wraps a transport error so callers can match ErrStoreUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// Create registers a new open position.
func (s *RedisStore) Create(ctx context.Context, pos *position.Position) error {
	if err := pos.Validate(); err != nil {
		return err
	}

	lock := s.mintLock(pos.Mint)
	lock.Lock()
	defer lock.Unlock()

	key := s.positionKey(pos.Mint)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return unavailable("create/exists", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrPositionExists, pos.Mint)
	}

	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position %s: %w", pos.Mint, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, ActivePositionsKey, pos.Mint)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("create/exec", err)
	}
	return nil
}

// Get returns a copy of the stored position.
func (s *RedisStore) Get(ctx context.Context, mint string) (*position.Position, error) {
	data, err := s.client.Get(ctx, s.positionKey(mint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, mint)
	}
	if err != nil {
		return nil, unavailable("get", err)
	}

	var pos position.Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return nil, fmt.Errorf("unmarshal position %s: %w", mint, err)
	}
	return &pos, nil
}

// GetAllOpen returns every position in the active set. Mints whose record
// vanished are pruned from the set rather than surfaced as errors.
func (s *RedisStore) GetAllOpen(ctx context.Context) ([]*position.Position, error) {
	mints, err := s.client.SMembers(ctx, ActivePositionsKey).Result()
	if err != nil {
		return nil, unavailable("getallopen/smembers", err)
	}
	if len(mints) == 0 {
		return []*position.Position{}, nil
	}

	keys := make([]string, len(mints))
	for i, m := range mints {
		keys[i] = s.positionKey(m)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("getallopen/mget", err)
	}

	positions := make([]*position.Position, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok || raw == "" {
			// Dangling set entry, clean it up opportunistically.
			s.client.SRem(ctx, ActivePositionsKey, mints[i])
			continue
		}
		var pos position.Position
		if err := json.Unmarshal([]byte(raw), &pos); err != nil {
			return nil, fmt.Errorf("unmarshal position %s: %w", mints[i], err)
		}
		if pos.Terminal() {
			s.client.SRem(ctx, ActivePositionsKey, pos.Mint)
			continue
		}
		positions = append(positions, &pos)
	}
	return positions, nil
}

// Update applies mutate under the mint's lock and persists the result.
func (s *RedisStore) Update(ctx context.Context, mint string, mutate func(*position.Position) error) error {
	lock := s.mintLock(mint)
	lock.Lock()
	defer lock.Unlock()

	pos, err := s.Get(ctx, mint)
	if err != nil {
		return err
	}
	if err := mutate(pos); err != nil {
		return err
	}
	pos.UpdatedAt = time.Now()

	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position %s: %w", mint, err)
	}
	if err := s.client.Set(ctx, s.positionKey(mint), data, 0).Err(); err != nil {
		return unavailable("update/set", err)
	}
	return nil
}

// Close moves the position to a terminal status and drops it from the
// active set. Terminal records are kept with a TTL for operator inspection.
func (s *RedisStore) Close(ctx context.Context, mint string, outcome position.CloseOutcome) error {
	lock := s.mintLock(mint)
	lock.Lock()
	defer lock.Unlock()

	pos, err := s.Get(ctx, mint)
	if err != nil {
		return err
	}
	if err := pos.Transition(outcome.Status); err != nil {
		return err
	}
	now := time.Now()
	pos.CloseReason = outcome.Reason
	pos.ExitPrice = outcome.ExitPrice
	pos.ClosedAt = now
	pos.UpdatedAt = now

	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position %s: %w", mint, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.positionKey(mint), data, ClosedPositionTTL)
	pipe.SRem(ctx, ActivePositionsKey, mint)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("close/exec", err)
	}
	return nil
}

// PushCommand appends a command to the queue.
func (s *RedisStore) PushCommand(ctx context.Context, cmd position.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command %s: %w", cmd.ID, err)
	}
	if err := s.client.RPush(ctx, CommandQueueKey, data).Err(); err != nil {
		return unavailable("pushcommand", err)
	}
	return nil
}

// DrainCommands pops every queued command. Each pop removes the entry from
// Redis before it is returned, so a command is never delivered twice; a
// transport failure mid-drain returns what was already consumed.
func (s *RedisStore) DrainCommands(ctx context.Context) ([]position.Command, error) {
	var commands []position.Command
	for {
		data, err := s.client.LPop(ctx, CommandQueueKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return commands, nil
		}
		if err != nil {
			return commands, unavailable("draincommands", err)
		}
		var cmd position.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			// Malformed entry is dropped, not retried.
			continue
		}
		commands = append(commands, cmd)
	}
}

// SetStrategyPaused flags or clears the pause state for a strategy tag.
func (s *RedisStore) SetStrategyPaused(ctx context.Context, tag string, paused bool) error {
	var err error
	if paused {
		err = s.client.SAdd(ctx, PausedStrategiesKey, tag).Err()
	} else {
		err = s.client.SRem(ctx, PausedStrategiesKey, tag).Err()
	}
	if err != nil {
		return unavailable("setstrategypaused", err)
	}
	return nil
}

// PausedStrategies returns the currently paused strategy tags.
func (s *RedisStore) PausedStrategies(ctx context.Context) (map[string]bool, error) {
	tags, err := s.client.SMembers(ctx, PausedStrategiesKey).Result()
	if err != nil {
		return nil, unavailable("pausedstrategies", err)
	}
	paused := make(map[string]bool, len(tags))
	for _, t := range tags {
		paused[t] = true
	}
	return paused, nil
}

// HealthCheck pings Redis with a short deadline.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}
