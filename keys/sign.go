package keys

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

// DefaultHashAlg is the prehash applied before Dilithium3 signing.
const DefaultHashAlg = "sha3-256"

const publicKeyPrefix = "dilithium3:"

func digestFor(hashAlg string, message []byte) ([]byte, error) {
	switch hashAlg {
	case "sha256":
		s := sha256.Sum256(message)
		return s[:], nil
	case "sha512":
		s := sha512.Sum512(message)
		return s[:], nil
	case "sha3-256", "":
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %q", hashAlg)
	}
}

// SignDilithium3 returns a raw dilithium3 signature over hash(message).
// hashAlg must be one of: sha256, sha512, sha3-256 (empty means sha3-256).
func SignDilithium3(message []byte, hashAlg string, privateKey *mode3.PrivateKey) ([]byte, error) {
	if privateKey == nil {
		return nil, errors.New("missing private key")
	}
	digest, err := digestFor(hashAlg, message)
	if err != nil {
		return nil, err
	}
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(privateKey, digest, sig)
	return sig, nil
}

// VerifyDilithium3 reports whether sig is a valid signature over hash(message).
func VerifyDilithium3(message, sig []byte, hashAlg string, publicKey *mode3.PublicKey) bool {
	if publicKey == nil || len(sig) != mode3.SignatureSize {
		return false
	}
	digest, err := digestFor(hashAlg, message)
	if err != nil {
		return false
	}
	return mode3.Verify(publicKey, digest, sig)
}

// GenerateDilithium3Keypair returns a new Dilithium3 keypair.
func GenerateDilithium3Keypair(rand io.Reader) (*mode3.PublicKey, *mode3.PrivateKey, error) {
	return mode3.GenerateKey(rand)
}

// Dilithium3FromSeed expands a 32-byte seed into a keypair.
func Dilithium3FromSeed(seed []byte) (*mode3.PublicKey, *mode3.PrivateKey, error) {
	if len(seed) != mode3.SeedSize {
		return nil, nil, fmt.Errorf("expected seed length of %d bytes, got %d", mode3.SeedSize, len(seed))
	}
	var s [mode3.SeedSize]byte
	copy(s[:], seed)
	pk, sk := mode3.NewKeyFromSeed(&s)
	return pk, sk, nil
}

// EncodePublicKey renders pk as "dilithium3:" + base64.
func EncodePublicKey(pk *mode3.PublicKey) string {
	return publicKeyPrefix + base64.StdEncoding.EncodeToString(pk.Bytes())
}

// ParsePublicKey is the inverse of EncodePublicKey.
func ParsePublicKey(s string) (*mode3.PublicKey, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, publicKeyPrefix) {
		return nil, fmt.Errorf("public key must start with %q", publicKeyPrefix)
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, publicKeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(b) != mode3.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", mode3.PublicKeySize, len(b))
	}
	pk := new(mode3.PublicKey)
	if err := pk.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return pk, nil
}
