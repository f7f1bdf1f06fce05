// Package auth authenticates API requests by the account that signed them.
//
// A client signs a message binding the request method, path, a unix
// timestamp and the SHA-256 of the body with its account key, using the
// Ethereum personal-message scheme (EIP-191) that wallets expose. The server
// recovers the signing address and accepts the request only when it matches
// the claimed identity and the timestamp is fresh.
package auth

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"xdao.co/drinkpoap/model"
)

const (
	HeaderIdentity  = "X-Drinkpoap-Identity"
	HeaderTimestamp = "X-Drinkpoap-Timestamp"
	HeaderSignature = "X-Drinkpoap-Signature"

	// DefaultTolerance bounds the clock skew accepted between client and server.
	DefaultTolerance = 5 * time.Minute
)

// Message is the text an account signs for one request.
func Message(method, path string, ts int64, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("drinkpoap request\n%s %s\n%d\nsha256:%s",
		strings.ToUpper(method), path, ts, hex.EncodeToString(sum[:]))
}

// Sign returns the hex signature of Message by key, in the wallet form
// (recovery id 27 or 28).
func Sign(key *ecdsa.PrivateKey, method, path string, ts int64, body []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(Message(method, path, ts, body))), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// Credentials are the header values of a signed request.
type Credentials struct {
	Identity  string
	Timestamp string
	Signature string
}

func (c Credentials) empty() bool {
	return c.Identity == "" && c.Timestamp == "" && c.Signature == ""
}

type Verifier struct {
	now       func() time.Time
	tolerance time.Duration
}

type Option func(*Verifier)

// WithClock overrides the time source used for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithTolerance sets the accepted timestamp skew.
func WithTolerance(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.tolerance = d
		}
	}
}

func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{now: time.Now, tolerance: DefaultTolerance}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify returns the identity that signed the request. Every failure is of
// kind Unauthenticated.
func (v *Verifier) Verify(c Credentials, method, path string, body []byte) (model.Identity, error) {
	if c.empty() {
		return "", model.NewError(model.KindUnauthenticated, "request is not signed")
	}
	who := strings.TrimSpace(c.Identity)
	if !common.IsHexAddress(who) {
		return "", model.Errorf(model.KindUnauthenticated, "%q is not an account address", who)
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(c.Timestamp), 10, 64)
	if err != nil {
		return "", model.NewError(model.KindUnauthenticated, "invalid request timestamp")
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance {
		return "", model.NewError(model.KindUnauthenticated, "request timestamp is outside the accepted window")
	}
	sig, err := hexutil.Decode(strings.TrimSpace(c.Signature))
	if err != nil || len(sig) != crypto.SignatureLength {
		return "", model.NewError(model.KindUnauthenticated, "malformed request signature")
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(Message(method, path, ts, body))), sig)
	if err != nil {
		return "", model.NewError(model.KindUnauthenticated, "request signature does not verify")
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(who) {
		return "", model.NewError(model.KindUnauthenticated, "request was not signed by "+who)
	}
	return model.Identity(who).Normalize(), nil
}
