package position

import (
	"time"

	"github.com/google/uuid"
)

// CommandAction is the closed set of out-of-band instructions collaborators
// can queue against the control loop. Unknown actions are rejected at the
// boundary so the decision path can match exhaustively.
type CommandAction string

const (
	ActionClosePosition    CommandAction = "CLOSE_POSITION"
	ActionAdjustTarget     CommandAction = "ADJUST_TARGET"
	ActionPauseStrategy    CommandAction = "PAUSE_STRATEGY"
	ActionEmergencyStopAll CommandAction = "EMERGENCY_STOP_ALL"
)

// Valid reports whether the action is a recognized command.
func (a CommandAction) Valid() bool {
	switch a {
	case ActionClosePosition, ActionAdjustTarget, ActionPauseStrategy, ActionEmergencyStopAll:
		return true
	}
	return false
}

// Command is an external instruction queued by a collaborator (AI advisory
// layer, operator tooling, guardian monitor). Commands are consumed
// at-most-once by the control loop.
type Command struct {
	ID         string        `json:"id"`
	TargetMint string        `json:"target_mint,omitempty"`
	Action     CommandAction `json:"action"`
	Reason     string        `json:"reason"`
	Source     string        `json:"source"`
	IssuedAt   time.Time     `json:"issued_at"`

	// AdjustTarget payload; nil fields leave the current value unchanged.
	TakeProfitPercent *float64 `json:"take_profit_percent,omitempty"`
	StopLossPercent   *float64 `json:"stop_loss_percent,omitempty"`

	// PauseStrategy payload. Resume lifts a previous pause.
	StrategyTag string `json:"strategy_tag,omitempty"`
	Resume      bool   `json:"resume,omitempty"`
}

// NewCommand builds a command with a fresh ID and timestamp.
func NewCommand(action CommandAction, targetMint, reason, source string) Command {
	return Command{
		ID:         uuid.NewString(),
		TargetMint: targetMint,
		Action:     action,
		Reason:     reason,
		Source:     source,
		IssuedAt:   time.Now(),
	}
}
