package wallet

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"testing"
)

// ============================================================================
// TEST CASES: KEY LOADING
// ============================================================================

// TestFromBase64RoundTrip verifies a generated key loads back identically
func TestFromBase64RoundTrip(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	encoded := base64.StdEncoding.EncodeToString(priv)

	w, err := FromBase64(encoded)
	if err != nil {
		t.Fatalf("FromBase64 failed: %v", err)
	}
	if w.Address() == "" {
		t.Error("Address should not be empty")
	}
}

// TestFromBase64RejectsBadInput verifies malformed key material is rejected
func TestFromBase64RejectsBadInput(t *testing.T) {
	if _, err := FromBase64("not-base64!!!"); err == nil {
		t.Error("Expected error for invalid base64")
	}

	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	_, err := FromBase64(short)
	if !errors.Is(err, ErrBadKeyLength) {
		t.Errorf("Expected ErrBadKeyLength, got %v", err)
	}
}

// TestSignVerify verifies signatures validate against the keypair
func TestSignVerify(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	msg := []byte("exit bundle payload")
	sig := w.Sign(msg)

	if !w.Verify(msg, sig) {
		t.Error("Signature should verify")
	}
	if w.Verify([]byte("tampered"), sig) {
		t.Error("Signature should not verify for a different message")
	}
}

// ============================================================================
// TEST CASES: BASE58 ENCODING
// ============================================================================

// TestEncodeBase58KnownVectors verifies the encoder against fixed vectors
func TestEncodeBase58KnownVectors(t *testing.T) {
	cases := []struct {
		name  string
		input []byte
		want  string
	}{
		{"empty", []byte{}, ""},
		{"single zero", []byte{0}, "1"},
		{"leading zeros", []byte{0, 0, 1}, "112"},
		{"hello", []byte("hello"), "Cn8eVZg"},
		{"255", []byte{255}, "5Q"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := encodeBase58(tc.input); got != tc.want {
				t.Errorf("encodeBase58(%v) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

// TestAddressLength verifies Solana-style address length for 32-byte keys
func TestAddressLength(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	addr := w.Address()
	if len(addr) < 32 || len(addr) > 44 {
		t.Errorf("Unexpected address length %d: %s", len(addr), addr)
	}
}
