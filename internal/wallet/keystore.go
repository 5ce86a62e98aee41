// Package wallet loads and holds the ed25519 keypair used to sign exit
// transactions. Key material comes from Vault, with an environment
// variable fallback for development.
package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"solana-trading-bot/internal/vault"
)

// EnvPrivateKey is the fallback environment variable holding the base64
// encoded 64-byte ed25519 private key when Vault is disabled.
const EnvPrivateKey = "WALLET_PRIVATE_KEY"

// Keystore errors
var (
	ErrNoKeyMaterial = errors.New("no wallet key material available")
	ErrBadKeyLength  = errors.New("wallet private key has wrong length")
)

// Wallet holds the signing keypair. The private key never leaves this
// package; callers get signatures and the public address.
type Wallet struct {
	priv    ed25519.PrivateKey
	address string
}

// Load retrieves the named wallet secret from Vault, falling back to the
// WALLET_PRIVATE_KEY environment variable when Vault has no entry.
func Load(ctx context.Context, vc *vault.Client, name string) (*Wallet, error) {
	secret, err := vc.GetWalletSecret(ctx, name)
	if err != nil {
		raw := os.Getenv(EnvPrivateKey)
		if raw == "" {
			return nil, fmt.Errorf("%w: vault lookup failed (%v) and %s unset", ErrNoKeyMaterial, err, EnvPrivateKey)
		}
		secret = &vault.WalletSecret{PrivateKeyBase64: raw}
	}
	return FromBase64(secret.PrivateKeyBase64)
}

// FromBase64 builds a wallet from a base64-encoded ed25519 private key.
func FromBase64(encoded string) (*Wallet, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode wallet private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrBadKeyLength, len(raw), ed25519.PrivateKeySize)
	}
	priv := ed25519.PrivateKey(raw)
	pub := priv.Public().(ed25519.PublicKey)
	return &Wallet{
		priv:    priv,
		address: encodeBase58(pub),
	}, nil
}

// Generate creates a fresh random wallet. Used in tests and tooling.
func Generate() (*Wallet, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generate wallet key: %w", err)
	}
	return &Wallet{
		priv:    priv,
		address: encodeBase58(pub),
	}, nil
}

// Address returns the base58 public address.
func (w *Wallet) Address() string {
	return w.address
}

// Sign signs the message with the wallet's private key.
func (w *Wallet) Sign(message []byte) []byte {
	return ed25519.Sign(w.priv, message)
}

// Verify checks a signature against the wallet's public key.
func (w *Wallet) Verify(message, sig []byte) bool {
	return ed25519.Verify(w.priv.Public().(ed25519.PublicKey), message, sig)
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// encodeBase58 encodes bytes in the Bitcoin/Solana base58 alphabet.
func encodeBase58(input []byte) string {
	zeros := 0
	for zeros < len(input) && input[zeros] == 0 {
		zeros++
	}

	// Base conversion over a copied buffer.
	buf := make([]byte, len(input))
	copy(buf, input)
	var out []byte
	for start := zeros; start < len(buf); {
		remainder := 0
		for i := start; i < len(buf); i++ {
			value := remainder*256 + int(buf[i])
			buf[i] = byte(value / 58)
			remainder = value % 58
		}
		out = append(out, base58Alphabet[remainder])
		for start < len(buf) && buf[start] == 0 {
			start++
		}
	}

	// Leading zero bytes map to '1'.
	result := make([]byte, 0, zeros+len(out))
	for i := 0; i < zeros; i++ {
		result = append(result, '1')
	}
	for i := len(out) - 1; i >= 0; i-- {
		result = append(result, out[i])
	}
	return string(result)
}
