package executor

import "math"

// LamportsPerSOL is the lamport denomination of one SOL.
const LamportsPerSOL = 1_000_000_000

// FeeConfig controls tip sizing for exit bundles.
type FeeConfig struct {
	// BaseTipLamports is the floor tip for any bundle.
	BaseTipLamports uint64
	// MaxTipLamports caps the escalated tip.
	MaxTipLamports uint64
	// TradeValueBps sizes the tip floor from the position value: the base
	// tip is max(BaseTipLamports, value * TradeValueBps / 10000).
	TradeValueBps uint64
	// CongestionBaseline is the prioritization fee treated as "calm"; the
	// congestion multiplier is the observed fee over this baseline.
	CongestionBaseline uint64
	// MaxCongestionMultiplier caps how far congestion can inflate the tip.
	MaxCongestionMultiplier float64
	// HardExitMultiplier applies to safety-rule exits (stop-loss, timeout,
	// emergency, data error); SoftExitMultiplier to advisory exits.
	HardExitMultiplier float64
	SoftExitMultiplier float64
	// EscalationFactor compounds per retry: attempt n pays
	// EscalationFactor^(n-1) times the first-attempt tip.
	EscalationFactor float64
}

// DefaultFeeConfig returns the standard tip schedule.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		BaseTipLamports:         1_000_000,
		MaxTipLamports:          50_000_000,
		TradeValueBps:           1, // 0.01% of trade value
		CongestionBaseline:      10_000,
		MaxCongestionMultiplier: 3.0,
		HardExitMultiplier:      1.5,
		SoftExitMultiplier:      1.0,
		EscalationFactor:        1.5,
	}
}

// TipForAttempt computes the lamport tip for one submission.
//
//	tip = base * congestion * urgency * escalation^(attempt-1)
//
// where base is the larger of the configured floor and the value-derived
// floor. The result is clamped to MaxTipLamports so a retry storm cannot
// bid away the position's remaining value.
func (c FeeConfig) TipForAttempt(positionSizeSOL float64, congestionFee uint64, hard bool, attempt int) uint64 {
	base := c.BaseTipLamports
	if positionSizeSOL > 0 && c.TradeValueBps > 0 {
		valueLamports := positionSizeSOL * LamportsPerSOL
		valueTip := uint64(valueLamports * float64(c.TradeValueBps) / 10_000)
		if valueTip > base {
			base = valueTip
		}
	}

	congestion := 1.0
	if c.CongestionBaseline > 0 && congestionFee > c.CongestionBaseline {
		congestion = float64(congestionFee) / float64(c.CongestionBaseline)
		if congestion > c.MaxCongestionMultiplier {
			congestion = c.MaxCongestionMultiplier
		}
	}

	urgency := c.SoftExitMultiplier
	if hard {
		urgency = c.HardExitMultiplier
	}

	if attempt < 1 {
		attempt = 1
	}
	escalation := math.Pow(c.EscalationFactor, float64(attempt-1))

	tip := float64(base) * congestion * urgency * escalation
	if tip > float64(c.MaxTipLamports) {
		return c.MaxTipLamports
	}
	return uint64(tip)
}
