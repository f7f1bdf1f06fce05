package keys

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/hkdf"
)

const (
	// HMACKeySize is the length of derived HS256 keys.
	HMACKeySize = 32

	kdfSalt = "drinkpoap-keys-v1"
)

// ErrNoSecret is returned when a derivation is attempted without input keying material.
var ErrNoSecret = errors.New("keys: empty secret")

// DeriveHMACKey derives an HS256 key from secret for label.
//
// The same (secret, label) always yields the same key; different labels
// yield unrelated keys.
func DeriveHMACKey(secret []byte, label string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	if err := CheckRole(label); err != nil {
		return nil, err
	}
	return expand(secret, "hmac:"+label, HMACKeySize)
}

// DeriveRoleSeed deterministically derives a role-specific Dilithium3 seed from a root seed.
func DeriveRoleSeed(rootSeed []byte, role string) ([]byte, error) {
	if len(rootSeed) != mode3.SeedSize {
		return nil, fmt.Errorf("root seed must be %d bytes", mode3.SeedSize)
	}
	if err := CheckRole(role); err != nil {
		return nil, err
	}
	return expand(rootSeed, "role:"+role, mode3.SeedSize)
}

func expand(ikm []byte, info string, n int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, []byte(kdfSalt), []byte(info))
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("keys: hkdf: %w", err)
	}
	return out, nil
}
