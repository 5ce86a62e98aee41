// Package vault wraps the HashiCorp Vault KV v2 API for retrieving the
// exit-signing wallet secret. When Vault is disabled the client serves
// secrets seeded from the environment instead, so local development does
// not need a Vault server.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"solana-trading-bot/config"
)

// WalletSecret is the signing key material stored in Vault.
type WalletSecret struct {
	// PrivateKeyBase64 is the 64-byte ed25519 private key, base64 encoded.
	PrivateKeyBase64 string `json:"private_key_base64"`
	// Address is the wallet's public address, kept alongside the key so a
	// mismatch is detectable at load time.
	Address string `json:"address"`
}

// Client wraps the HashiCorp Vault client.
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu    sync.RWMutex
	cache map[string]*WalletSecret
}

// NewClient creates a new Vault client. A disabled config yields a
// cache-only client.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config: cfg,
			cache:  make(map[string]*WalletSecret),
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{
		client: client,
		config: cfg,
		cache:  make(map[string]*WalletSecret),
	}, nil
}

// SeedSecret places a secret in the local cache. Used when Vault is
// disabled and the key comes from the environment.
func (c *Client) SeedSecret(name string, secret WalletSecret) {
	c.mu.Lock()
	c.cache[name] = &secret
	c.mu.Unlock()
}

// GetWalletSecret retrieves the named wallet secret.
func (c *Client) GetWalletSecret(ctx context.Context, name string) (*WalletSecret, error) {
	c.mu.RLock()
	if cached, ok := c.cache[name]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, fmt.Errorf("wallet secret %q not found and vault is disabled", name)
	}

	path := c.secretPath(name)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet secret from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("wallet secret %q not found", name)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format at %s", path)
	}

	ws := &WalletSecret{
		PrivateKeyBase64: getString(data, "private_key_base64"),
		Address:          getString(data, "address"),
	}
	if ws.PrivateKeyBase64 == "" {
		return nil, fmt.Errorf("wallet secret %q missing private key", name)
	}

	c.mu.Lock()
	c.cache[name] = ws
	c.mu.Unlock()

	return ws, nil
}

// StoreWalletSecret writes the named wallet secret to Vault.
func (c *Client) StoreWalletSecret(ctx context.Context, name string, ws WalletSecret) error {
	if !c.config.Enabled {
		c.SeedSecret(name, ws)
		return nil
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"private_key_base64": ws.PrivateKeyBase64,
			"address":            ws.Address,
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(name), secretData); err != nil {
		return fmt.Errorf("failed to store wallet secret in vault: %w", err)
	}

	c.SeedSecret(name, ws)
	return nil
}

// ClearCache drops every cached secret.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]*WalletSecret)
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection.
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

// secretPath returns the KV v2 data path for a wallet secret.
func (c *Client) secretPath(name string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, name)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// NewMockClient creates a cache-only client for testing.
func NewMockClient() *Client {
	return &Client{
		config: config.VaultConfig{
			Enabled: false,
		},
		cache: make(map[string]*WalletSecret),
	}
}
