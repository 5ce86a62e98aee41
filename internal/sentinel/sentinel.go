// Package sentinel runs the control loop: every tick it drains external
// commands, refreshes prices, evaluates every open position, and dispatches
// exits. Ticks never overlap; an overrunning tick delays the next one.
package sentinel

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"solana-trading-bot/internal/database"
	"solana-trading-bot/internal/decision"
	"solana-trading-bot/internal/events"
	"solana-trading-bot/internal/executor"
	"solana-trading-bot/internal/logging"
	"solana-trading-bot/internal/metrics"
	"solana-trading-bot/internal/position"
	"solana-trading-bot/internal/rpc"
)

// Config holds the control loop settings.
type Config struct {
	// TickInterval is the evaluation cadence.
	TickInterval time.Duration
	// MaxConcurrentExits bounds simultaneous exit submissions.
	MaxConcurrentExits int
	// PriceWorkers bounds concurrent price refreshes within a tick.
	PriceWorkers int
	// HealthcheckInterval is the endpoint probe cadence.
	HealthcheckInterval time.Duration
}

// DefaultConfig returns the standard loop settings.
func DefaultConfig() Config {
	return Config{
		TickInterval:        200 * time.Millisecond,
		MaxConcurrentExits:  4,
		PriceWorkers:        8,
		HealthcheckInterval: 10 * time.Second,
	}
}

// Sentinel is the autonomous position manager's control loop.
type Sentinel struct {
	store   database.Store
	engine  *decision.Engine
	exec    *executor.Executor
	prices  rpc.PriceSource
	rpcMgr  *rpc.Manager
	bus     *events.EventBus
	metrics *metrics.Metrics
	logger  *logging.Logger
	cfg     Config

	// exits outlive individual ticks so a slow confirmation never stalls
	// the loop; in-flight dedupe lives in the executor.
	exits *errgroup.Group
}

// New creates a sentinel. metrics may be nil (instrumentation disabled).
func New(store database.Store, engine *decision.Engine, exec *executor.Executor, prices rpc.PriceSource, rpcMgr *rpc.Manager, bus *events.EventBus, m *metrics.Metrics, logger *logging.Logger, cfg Config) *Sentinel {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 200 * time.Millisecond
	}
	if cfg.MaxConcurrentExits <= 0 {
		cfg.MaxConcurrentExits = 4
	}
	if cfg.PriceWorkers <= 0 {
		cfg.PriceWorkers = 8
	}
	exits := &errgroup.Group{}
	exits.SetLimit(cfg.MaxConcurrentExits)
	return &Sentinel{
		store:   store,
		engine:  engine,
		exec:    exec,
		prices:  prices,
		rpcMgr:  rpcMgr,
		bus:     bus,
		metrics: m,
		logger:  logger.WithComponent("sentinel"),
		cfg:     cfg,
		exits:   exits,
	}
}

// Run drives the loop until the context ends, then waits for in-flight
// exits to settle. The tick body runs inline in this goroutine, so ticks
// are single-flight by construction.
func (s *Sentinel) Run(ctx context.Context) error {
	s.logger.Info("Control loop starting",
		"tick_interval", s.cfg.TickInterval.String(),
		"max_concurrent_exits", s.cfg.MaxConcurrentExits)

	if s.rpcMgr != nil {
		go s.healthLoop(ctx)
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Control loop stopping, waiting for in-flight exits")
			err := s.exits.Wait()
			s.logger.Info("Control loop stopped")
			return err
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// WaitExits blocks until every dispatched exit has settled.
func (s *Sentinel) WaitExits() error {
	return s.exits.Wait()
}

func (s *Sentinel) healthLoop(ctx context.Context) {
	interval := s.cfg.HealthcheckInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.rpcMgr.HealthcheckTick(ctx)
			if s.metrics != nil {
				for _, st := range s.rpcMgr.Statuses() {
					s.metrics.SetEndpointState(st.Name, string(st.State))
				}
			}
		}
	}
}

// tickSignals is what one drain produced.
type tickSignals struct {
	emergency       bool
	emergencySource string
	advisoryCloses  map[string]bool
}

// Tick runs one full evaluation cycle. Exported for tests; Run is the only
// production caller.
func (s *Sentinel) Tick(ctx context.Context) {
	started := time.Now()

	commands, err := s.store.DrainCommands(ctx)
	if err != nil {
		s.abortTick("command drain failed", err)
		return
	}
	signals := s.applyCommands(ctx, commands)

	positions, err := s.store.GetAllOpen(ctx)
	if err != nil {
		s.abortTick("position scan failed", err)
		return
	}
	if s.metrics != nil {
		s.metrics.OpenPositions.Set(float64(len(positions)))
	}

	paused, err := s.store.PausedStrategies(ctx)
	if err != nil {
		// Pause flags only suppress advisory exits; evaluating without
		// them fails toward action, which is the safe direction.
		s.logger.Warn("Could not load pause flags", "error", err)
		paused = map[string]bool{}
	}

	s.refreshPrices(ctx, positions)

	if signals.emergency {
		s.bus.PublishEmergencyStop(signals.emergencySource, len(positions))
		s.logger.Error("EMERGENCY STOP: exiting all open positions",
			"source", signals.emergencySource, "open_positions", len(positions))
	}

	now := time.Now()
	engineSignals := decision.Signals{
		Emergency:        signals.emergency,
		AdvisoryCloses:   signals.advisoryCloses,
		PausedStrategies: paused,
	}
	for _, pos := range positions {
		s.dispatch(ctx, pos, engineSignals, now)
	}

	if s.metrics != nil {
		s.metrics.TicksTotal.Inc()
		s.metrics.TickDuration.Observe(time.Since(started).Seconds())
	}
}

func (s *Sentinel) abortTick(msg string, err error) {
	if errors.Is(err, database.ErrStoreUnavailable) {
		s.logger.Error("Tick aborted: "+msg, "error", err)
		if s.metrics != nil {
			s.metrics.TicksAborted.Inc()
		}
		s.bus.Publish(events.Event{
			Type: events.EventStoreUnavailable,
			Data: map[string]interface{}{"error": err.Error()},
		})
		return
	}
	s.logger.Error("Tick aborted: "+msg, "error", err)
}

// applyCommands processes a drained batch: immediate mutations happen here,
// evaluation-affecting signals are returned for this tick only.
func (s *Sentinel) applyCommands(ctx context.Context, commands []position.Command) tickSignals {
	signals := tickSignals{advisoryCloses: make(map[string]bool)}

	for _, cmd := range commands {
		if !cmd.Action.Valid() {
			s.logger.ForCommand(cmd.ID, string(cmd.Action), cmd.Source).
				Warn("Dropping command with unknown action")
			s.bus.Publish(events.Event{
				Type: events.EventCommandDropped,
				Data: map[string]interface{}{"id": cmd.ID, "action": string(cmd.Action)},
			})
			continue
		}
		s.bus.PublishCommandReceived(cmd.ID, string(cmd.Action), cmd.TargetMint, cmd.Source)

		switch cmd.Action {
		case position.ActionEmergencyStopAll:
			signals.emergency = true
			signals.emergencySource = cmd.Source

		case position.ActionClosePosition:
			if cmd.TargetMint == "" {
				s.logger.Warn("Dropping close command without target", "id", cmd.ID)
				continue
			}
			signals.advisoryCloses[cmd.TargetMint] = true

		case position.ActionAdjustTarget:
			s.adjustTargets(ctx, cmd)

		case position.ActionPauseStrategy:
			if cmd.StrategyTag == "" {
				s.logger.Warn("Dropping pause command without strategy tag", "id", cmd.ID)
				continue
			}
			if err := s.store.SetStrategyPaused(ctx, cmd.StrategyTag, !cmd.Resume); err != nil {
				s.logger.Error("Failed to update strategy pause flag",
					"strategy", cmd.StrategyTag, "error", err)
				continue
			}
			s.bus.Publish(events.Event{
				Type: events.EventStrategyPaused,
				Data: map[string]interface{}{"strategy": cmd.StrategyTag, "paused": !cmd.Resume},
			})
			s.logger.Info("Strategy pause flag updated",
				"strategy", cmd.StrategyTag, "paused", !cmd.Resume, "source", cmd.Source)
		}
	}
	return signals
}

func (s *Sentinel) adjustTargets(ctx context.Context, cmd position.Command) {
	if cmd.TargetMint == "" || (cmd.TakeProfitPercent == nil && cmd.StopLossPercent == nil) {
		s.logger.Warn("Dropping adjust command without targets", "id", cmd.ID)
		return
	}
	err := s.store.Update(ctx, cmd.TargetMint, func(p *position.Position) error {
		if cmd.TakeProfitPercent != nil {
			p.TakeProfitPercent = *cmd.TakeProfitPercent
		}
		if cmd.StopLossPercent != nil {
			p.StopLossPercent = *cmd.StopLossPercent
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to adjust targets", "mint", cmd.TargetMint, "error", err)
		return
	}
	s.logger.Info("Targets adjusted", "mint", cmd.TargetMint, "source", cmd.Source)
}

// refreshPrices updates every open position from the price feed with
// bounded concurrency. A missing quote leaves the stored price untouched;
// the staleness rule turns persistent gaps into a data-error exit.
func (s *Sentinel) refreshPrices(ctx context.Context, positions []*position.Position) {
	if s.prices == nil {
		return
	}
	g := &errgroup.Group{}
	g.SetLimit(s.cfg.PriceWorkers)
	for _, pos := range positions {
		pos := pos
		g.Go(func() error {
			s.prices.Subscribe(pos.Mint)
			price, at, err := s.prices.Price(pos.Mint)
			if err != nil {
				return nil
			}
			pos.RefreshPrice(price, at)
			if err := s.store.Update(ctx, pos.Mint, func(p *position.Position) error {
				p.RefreshPrice(price, at)
				return nil
			}); err != nil {
				s.logger.ForPosition(pos.Mint, pos.StrategyTag).Warn("Price persist failed", "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// dispatch evaluates one position and hands exits to the executor pool.
func (s *Sentinel) dispatch(ctx context.Context, pos *position.Position, signals decision.Signals, now time.Time) {
	if s.exec.InFlight(pos.Mint) {
		return
	}

	var reason decision.ExitReason
	switch pos.Status {
	case position.StatusClosing:
		// Restart recovery: an exit was acquired but never finished.
		reason = resumeReason(pos)
	case position.StatusOpen:
		intent := s.engine.Evaluate(pos, signals, now)
		if intent.Action != decision.ActionExit {
			return
		}
		reason = intent.Reason
		s.bus.PublishExitTriggered(pos.Mint, string(intent.Reason), intent.Detail, pos.PnLPercent)
		s.logger.ForExit(pos.Mint, string(intent.Reason)).Info("Exit triggered",
			"detail", intent.Detail, "pnl_percent", pos.PnLPercent)
	default:
		return
	}

	mint := pos.Mint
	dispatched := s.exits.TryGo(func() error {
		if _, err := s.exec.SubmitExit(ctx, mint, reason); err != nil &&
			!errors.Is(err, executor.ErrExitInFlight) {
			s.logger.ForExit(mint, string(reason)).Error("Exit failed", "error", err)
		}
		// Exit failures are terminal per position, never loop-fatal.
		if s.prices != nil {
			s.prices.Unsubscribe(mint)
		}
		return nil
	})
	if !dispatched {
		// All exit slots busy. Blocking here would stretch the tick, so
		// defer: the position is still Open/Closing and the next tick
		// re-dispatches it.
		s.logger.ForExit(mint, string(reason)).Warn("Exit dispatch deferred, all exit slots busy")
	}
}

// resumeReason recovers the exit reason stamped when the exit was first
// acquired. Unknown or missing stamps resume as a data error, which uses
// the aggressive fee schedule.
func resumeReason(pos *position.Position) decision.ExitReason {
	switch r := decision.ExitReason(pos.CloseReason); r {
	case decision.ReasonEmergency, decision.ReasonDataError, decision.ReasonTimeout,
		decision.ReasonStopLoss, decision.ReasonTakeProfit, decision.ReasonAdvisory:
		return r
	default:
		return decision.ReasonDataError
	}
}
