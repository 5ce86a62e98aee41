package executor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"solana-trading-bot/internal/position"
	"solana-trading-bot/internal/wallet"
)

// exitMessage is the transaction payload for an exit: a tip transfer to
// the block builder plus the swap selling the position back to SOL,
// executed atomically or not at all.
type exitMessage struct {
	Blockhash         string  `json:"blockhash"`
	Payer             string  `json:"payer"`
	Mint              string  `json:"mint"`
	PositionSizeSOL   float64 `json:"position_size_sol"`
	MinSolOut         float64 `json:"min_sol_out"`
	SlippageTolerance float64 `json:"slippage_tolerance"`
	Dex               string  `json:"dex"`
	TipLamports       uint64  `json:"tip_lamports"`
}

// signedTransaction is the wire envelope for one signed transaction.
type signedTransaction struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Signer    string `json:"signer"`
}

// BuildExitBundle assembles and signs the exit for a position, returning
// the base64-encoded transactions ready for sendBundle.
func BuildExitBundle(w *wallet.Wallet, pos *position.Position, blockhash string, tipLamports uint64) ([]string, error) {
	if blockhash == "" {
		return nil, fmt.Errorf("empty blockhash for %s", pos.Mint)
	}

	// Worst acceptable proceeds given the slippage tolerance, valued at
	// the last observed price.
	expectedOut := pos.PositionSize
	if pos.EntryPrice > 0 {
		expectedOut = (pos.PositionSize / pos.EntryPrice) * pos.CurrentPrice
	}
	minOut := expectedOut * (1 - pos.SlippageTolerance/100)

	msg := exitMessage{
		Blockhash:         blockhash,
		Payer:             w.Address(),
		Mint:              pos.Mint,
		PositionSizeSOL:   pos.PositionSize,
		MinSolOut:         minOut,
		SlippageTolerance: pos.SlippageTolerance,
		Dex:               pos.DexUsed,
		TipLamports:       tipLamports,
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal exit message for %s: %w", pos.Mint, err)
	}

	signed := signedTransaction{
		Message:   base64.StdEncoding.EncodeToString(raw),
		Signature: base64.StdEncoding.EncodeToString(w.Sign(raw)),
		Signer:    w.Address(),
	}
	encoded, err := json.Marshal(signed)
	if err != nil {
		return nil, fmt.Errorf("marshal signed transaction for %s: %w", pos.Mint, err)
	}

	return []string{base64.StdEncoding.EncodeToString(encoded)}, nil
}
