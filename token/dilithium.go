package token

import (
	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/golang-jwt/jwt/v5"

	"xdao.co/drinkpoap/keys"
)

// SigningMethodDilithium3 signs tokens with Dilithium3 over a SHA3-256 prehash.
//
// Keys are *mode3.PrivateKey for signing and *mode3.PublicKey for verification.
var SigningMethodDilithium3 = &signingMethodDilithium3{}

type signingMethodDilithium3 struct{}

func (m *signingMethodDilithium3) Alg() string { return "DILITHIUM3" }

func (m *signingMethodDilithium3) Sign(signingString string, key any) ([]byte, error) {
	sk, ok := key.(*mode3.PrivateKey)
	if !ok || sk == nil {
		return nil, jwt.ErrInvalidKeyType
	}
	return keys.SignDilithium3([]byte(signingString), keys.DefaultHashAlg, sk)
}

func (m *signingMethodDilithium3) Verify(signingString string, sig []byte, key any) error {
	pk, ok := key.(*mode3.PublicKey)
	if !ok || pk == nil {
		return jwt.ErrInvalidKeyType
	}
	if !keys.VerifyDilithium3([]byte(signingString), sig, keys.DefaultHashAlg, pk) {
		return jwt.ErrSignatureInvalid
	}
	return nil
}

func init() {
	jwt.RegisterSigningMethod(SigningMethodDilithium3.Alg(), func() jwt.SigningMethod {
		return SigningMethodDilithium3
	})
}
