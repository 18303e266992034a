package near

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	keyTypeED25519  byte = 0
	ed25519Prefix        = "ed25519:"
	publicKeyLength      = 32
)

// PublicKey is an ed25519 public key in NEAR's wire form.
type PublicKey struct {
	Data [publicKeyLength]byte
}

func (k PublicKey) String() string {
	return ed25519Prefix + base58.Encode(k.Data[:])
}

// ParsePublicKey accepts "ed25519:<base58>" or bare base58.
func ParsePublicKey(s string) (PublicKey, error) {
	raw, err := decodeKey(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("parse public key: %w", err)
	}
	if len(raw) != publicKeyLength {
		return PublicKey{}, fmt.Errorf("parse public key: expected %d bytes, got %d", publicKeyLength, len(raw))
	}
	var pk PublicKey
	copy(pk.Data[:], raw)
	return pk, nil
}

// ParsePrivateKey accepts the 64-byte secret form used by near-cli credential files.
// A 32-byte seed is also accepted.
func ParsePrivateKey(s string) (ed25519.PrivateKey, error) {
	raw, err := decodeKey(s)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("parse private key: unexpected length %d", len(raw))
	}
}

func PublicKeyOf(priv ed25519.PrivateKey) PublicKey {
	var pk PublicKey
	copy(pk.Data[:], priv.Public().(ed25519.PublicKey))
	return pk
}

func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ":"); i >= 0 {
		if s[:i+1] != ed25519Prefix {
			return nil, fmt.Errorf("unsupported key type %q", s[:i])
		}
		s = s[i+1:]
	}
	if s == "" {
		return nil, fmt.Errorf("empty key")
	}
	return base58.Decode(s)
}
