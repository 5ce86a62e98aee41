// Package decision implements the pure rule evaluation that turns a
// position snapshot plus tick-scoped signals into a hold-or-exit intent.
// It performs no I/O; every input arrives as an argument.
package decision

import (
	"time"

	"solana-trading-bot/internal/position"
)

// ExitReason labels why an exit was decided. Hard reasons (everything
// except ReasonAdvisory) can never be masked by advisory signals or
// strategy pauses.
type ExitReason string

const (
	ReasonEmergency  ExitReason = "EMERGENCY_STOP"
	ReasonDataError  ExitReason = "DATA_ERROR"
	ReasonTimeout    ExitReason = "TIMEOUT"
	ReasonStopLoss   ExitReason = "STOP_LOSS"
	ReasonTakeProfit ExitReason = "TAKE_PROFIT"
	ReasonAdvisory   ExitReason = "EXTERNAL_COMMAND"
)

// Hard reports whether the reason comes from a safety rule rather than an
// advisory signal. Hard exits use the aggressive fee schedule.
func (r ExitReason) Hard() bool {
	return r != ReasonAdvisory
}

// Action is what the control loop should do with a position this tick.
type Action int

const (
	ActionHold Action = iota
	ActionExit
)

// Intent is the evaluation result for one position.
type Intent struct {
	Action Action
	Reason ExitReason
	Detail string
}

func hold() Intent {
	return Intent{Action: ActionHold}
}

func exit(reason ExitReason, detail string) Intent {
	return Intent{Action: ActionExit, Reason: reason, Detail: detail}
}

// Signals carries the tick-scoped inputs gathered by the control loop
// before evaluation: the emergency flag, the set of mints an advisory
// command asked to close, and the paused strategy tags.
type Signals struct {
	Emergency        bool
	AdvisoryCloses   map[string]bool
	PausedStrategies map[string]bool
}

// Config holds the evaluation knobs.
type Config struct {
	// StalePriceAfter marks a position's market data unusable when the
	// last refresh is older than this; evaluation then fails safe toward
	// exit. Zero disables the check.
	StalePriceAfter time.Duration
}

// Engine evaluates positions against the rule priority order. Stateless
// apart from configuration.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate returns the intent for a single position. Rules are checked in
// strict priority order; the first match wins:
//
//	emergency stop > data validation > timeout > stop-loss > take-profit >
//	advisory close > hold
//
// A malformed or stale record exits as DATA_ERROR rather than holding: a
// position this system cannot reason about must not stay in the market.
func (e *Engine) Evaluate(pos *position.Position, signals Signals, now time.Time) Intent {
	if signals.Emergency {
		return exit(ReasonEmergency, "emergency stop requested")
	}

	if err := pos.Validate(); err != nil {
		return exit(ReasonDataError, err.Error())
	}
	if e.cfg.StalePriceAfter > 0 && now.Sub(pos.LastAnalysisAt) > e.cfg.StalePriceAfter {
		return exit(ReasonDataError, "market data stale beyond limit")
	}

	if pos.TimedOut(now) {
		return exit(ReasonTimeout, "max hold time reached")
	}

	if pos.PnLPercent <= -pos.StopLossPercent {
		return exit(ReasonStopLoss, "stop-loss threshold breached")
	}

	if pos.PnLPercent >= pos.TakeProfitPercent {
		return exit(ReasonTakeProfit, "take-profit target reached")
	}

	if signals.AdvisoryCloses[pos.Mint] {
		if signals.PausedStrategies[pos.StrategyTag] {
			return hold()
		}
		return exit(ReasonAdvisory, "advisory close requested")
	}

	return hold()
}
