package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"
	"time"
)

// Client is a minimal Solana JSON-RPC HTTP client covering the calls this
// system needs: health probes, prioritization fee sampling, blockhash
// fetches, bundle submission, and bundle status polling.
type Client struct {
	httpClient *http.Client
	reqID      atomic.Int64
}

// NewClient creates a client with a bounded request timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Call issues a JSON-RPC request against the endpoint and decodes the
// result into out (which may be nil when the result is irrelevant).
func (c *Client) Call(ctx context.Context, endpoint *Endpoint, method string, params []interface{}, out interface{}) error {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s via %s: %w", method, endpoint.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s via %s: unexpected status %d", method, endpoint.Name, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s via %s: rpc error %d: %s", method, endpoint.Name, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

// Probe implements HealthProber with the getHealth RPC.
func (c *Client) Probe(ctx context.Context, endpoint *Endpoint) error {
	var status string
	if err := c.Call(ctx, endpoint, "getHealth", nil, &status); err != nil {
		return err
	}
	if status != "ok" {
		return fmt.Errorf("endpoint %s reports %q", endpoint.Name, status)
	}
	return nil
}

type prioritizationFee struct {
	Slot              uint64 `json:"slot"`
	PrioritizationFee uint64 `json:"prioritizationFee"`
}

// RecentPrioritizationFee returns the median of the endpoint's recent
// prioritization fees, used as the congestion signal for tip sizing.
// Returns 0 when the endpoint reports no samples.
func (c *Client) RecentPrioritizationFee(ctx context.Context, endpoint *Endpoint) (uint64, error) {
	var fees []prioritizationFee
	if err := c.Call(ctx, endpoint, "getRecentPrioritizationFees", []interface{}{}, &fees); err != nil {
		return 0, err
	}
	if len(fees) == 0 {
		return 0, nil
	}
	values := make([]uint64, len(fees))
	for i, f := range fees {
		values[i] = f.PrioritizationFee
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return values[len(values)/2], nil
}

type latestBlockhashResult struct {
	Value struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	} `json:"value"`
}

// LatestBlockhash fetches a recent blockhash for transaction assembly.
func (c *Client) LatestBlockhash(ctx context.Context, endpoint *Endpoint) (string, error) {
	var result latestBlockhashResult
	if err := c.Call(ctx, endpoint, "getLatestBlockhash", []interface{}{map[string]string{"commitment": "confirmed"}}, &result); err != nil {
		return "", err
	}
	if result.Value.Blockhash == "" {
		return "", fmt.Errorf("empty blockhash from %s", endpoint.Name)
	}
	return result.Value.Blockhash, nil
}

// SendBundle submits base64-encoded signed transactions as an atomic bundle
// and returns the bundle ID handle.
func (c *Client) SendBundle(ctx context.Context, endpoint *Endpoint, encodedTxs []string) (string, error) {
	var bundleID string
	params := []interface{}{encodedTxs, map[string]string{"encoding": "base64"}}
	if err := c.Call(ctx, endpoint, "sendBundle", params, &bundleID); err != nil {
		return "", err
	}
	if bundleID == "" {
		return "", fmt.Errorf("empty bundle id from %s", endpoint.Name)
	}
	return bundleID, nil
}

// BundleStatus is one entry of a getBundleStatuses result.
type BundleStatus struct {
	BundleID           string `json:"bundle_id"`
	ConfirmationStatus string `json:"confirmation_status"`
	Err                any    `json:"err,omitempty"`
}

type bundleStatusesResult struct {
	Value []BundleStatus `json:"value"`
}

// BundleStatuses polls the landing status of previously submitted bundles.
func (c *Client) BundleStatuses(ctx context.Context, endpoint *Endpoint, bundleIDs []string) ([]BundleStatus, error) {
	var result bundleStatusesResult
	if err := c.Call(ctx, endpoint, "getBundleStatuses", []interface{}{bundleIDs}, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}
