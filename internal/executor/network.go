package executor

import (
	"context"
	"fmt"

	"solana-trading-bot/internal/rpc"
)

// Network is the slice of the RPC surface the executor needs. Stubbed in
// tests; backed by the endpoint manager in production.
type Network interface {
	Blockhash(ctx context.Context) (string, error)
	CongestionFee(ctx context.Context) (uint64, error)
	SubmitBundle(ctx context.Context, txs []string) (bundleID, endpoint string, err error)
	BundleConfirmed(ctx context.Context, bundleID string) (bool, error)
}

// RPCNetwork implements Network over the endpoint manager, so every call
// gets best-endpoint routing and fall-through.
type RPCNetwork struct {
	manager *rpc.Manager
	client  *rpc.Client
}

// NewRPCNetwork creates a manager-backed network.
func NewRPCNetwork(manager *rpc.Manager, client *rpc.Client) *RPCNetwork {
	return &RPCNetwork{manager: manager, client: client}
}

// Blockhash fetches a recent blockhash through the best endpoint.
func (n *RPCNetwork) Blockhash(ctx context.Context) (string, error) {
	var blockhash string
	err := n.manager.Do(ctx, func(ctx context.Context, e *rpc.Endpoint) error {
		var err error
		blockhash, err = n.client.LatestBlockhash(ctx, e)
		return err
	})
	return blockhash, err
}

// CongestionFee samples recent prioritization fees. A failure returns 0
// rather than an error: tip sizing degrades to the base schedule instead
// of blocking the exit.
func (n *RPCNetwork) CongestionFee(ctx context.Context) (uint64, error) {
	var fee uint64
	err := n.manager.Do(ctx, func(ctx context.Context, e *rpc.Endpoint) error {
		var err error
		fee, err = n.client.RecentPrioritizationFee(ctx, e)
		return err
	})
	if err != nil {
		return 0, nil
	}
	return fee, nil
}

// SubmitBundle submits the bundle and reports which endpoint carried it.
func (n *RPCNetwork) SubmitBundle(ctx context.Context, txs []string) (string, string, error) {
	var bundleID, endpoint string
	err := n.manager.Do(ctx, func(ctx context.Context, e *rpc.Endpoint) error {
		id, err := n.client.SendBundle(ctx, e, txs)
		if err != nil {
			return err
		}
		bundleID, endpoint = id, e.Name
		return nil
	})
	if err != nil {
		return "", "", fmt.Errorf("submit bundle: %w", err)
	}
	return bundleID, endpoint, nil
}

// BundleConfirmed polls the landing status of a bundle.
func (n *RPCNetwork) BundleConfirmed(ctx context.Context, bundleID string) (bool, error) {
	var confirmed bool
	err := n.manager.Do(ctx, func(ctx context.Context, e *rpc.Endpoint) error {
		statuses, err := n.client.BundleStatuses(ctx, e, []string{bundleID})
		if err != nil {
			return err
		}
		for _, s := range statuses {
			if s.BundleID != bundleID {
				continue
			}
			if s.Err != nil {
				return fmt.Errorf("bundle %s landed with error: %v", bundleID, s.Err)
			}
			if s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized" {
				confirmed = true
			}
		}
		return nil
	})
	return confirmed, err
}
