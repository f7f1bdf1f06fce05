package keys

import (
	"bytes"
	"testing"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

func TestDeriveHMACKey_DeterministicAndLabelBound(t *testing.T) {
	secret := []byte("venue-operator-secret")

	a, err := DeriveHMACKey(secret, "access-token")
	if err != nil {
		t.Fatalf("DeriveHMACKey: %v", err)
	}
	b, err := DeriveHMACKey(secret, "access-token")
	if err != nil {
		t.Fatalf("DeriveHMACKey: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("expected deterministic derivation")
	}
	if len(a) != HMACKeySize {
		t.Fatalf("key size = %d want %d", len(a), HMACKeySize)
	}

	c, err := DeriveHMACKey(secret, "other-purpose")
	if err != nil {
		t.Fatalf("DeriveHMACKey: %v", err)
	}
	if bytes.Equal(a, c) {
		t.Fatalf("expected different labels to derive different keys")
	}
	if bytes.Equal(a, secret) {
		t.Fatalf("derived key must not equal the secret")
	}
}

func TestDeriveHMACKey_Errors(t *testing.T) {
	if _, err := DeriveHMACKey(nil, "access-token"); err != ErrNoSecret {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
	if _, err := DeriveHMACKey([]byte("s"), "bad label"); err == nil {
		t.Fatalf("expected invalid label error")
	}
}

func TestDeriveRoleSeedDeterministic(t *testing.T) {
	root := make([]byte, mode3.SeedSize)
	for i := range root {
		root[i] = byte(i)
	}

	a, err := DeriveRoleSeed(root, "venue-sjc")
	if err != nil {
		t.Fatalf("DeriveRoleSeed: %v", err)
	}
	b, err := DeriveRoleSeed(root, "venue-sjc")
	if err != nil {
		t.Fatalf("DeriveRoleSeed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("expected deterministic derivation")
	}

	c, err := DeriveRoleSeed(root, "venue-sfo")
	if err != nil {
		t.Fatalf("DeriveRoleSeed: %v", err)
	}
	if bytes.Equal(a, c) {
		t.Fatalf("expected different roles to derive different seeds")
	}

	if _, err := DeriveRoleSeed(root[:4], "venue-sjc"); err == nil {
		t.Fatalf("expected short seed error")
	}
}
