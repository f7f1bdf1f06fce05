// Package token issues and validates venue access tokens.
//
// A token is a compact JWS whose claims bind a random nonce to a venue and a
// single purpose for a bounded time window. Validation is stateless: there is
// no revocation list, expiry is the only way a token stops working.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/golang-jwt/jwt/v5"

	"xdao.co/drinkpoap/keys"
	"xdao.co/drinkpoap/model"
)

const (
	// PurposeMint is the purpose tag for tokens that unlock the catalog before a claim.
	PurposeMint = "beer-nft-mint"

	// DefaultValidity is how long an issued token stays valid.
	DefaultValidity = 24 * time.Hour

	// NonceBytes is the size of the random token nonce.
	NonceBytes = 16

	// KeyLabel binds HMAC keys derived from the operator secret to this service.
	KeyLabel = "access-token"
)

// AccessToken is an issued token and the claims it carries.
type AccessToken struct {
	Raw       string
	Nonce     string
	VenueID   string
	Purpose   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Claims is the JWS claim set.
type Claims struct {
	Venue   string `json:"venue"`
	Purpose string `json:"typ"`
	jwt.RegisteredClaims
}

// Service issues and validates access tokens. It is safe for concurrent use.
type Service struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any

	validity time.Duration
	scheme   string
	now      func() time.Time
	rand     io.Reader
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithValidity overrides DefaultValidity.
func WithValidity(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.validity = d
		}
	}
}

// WithQRScheme overrides DefaultQRScheme.
func WithQRScheme(scheme string) Option {
	return func(s *Service) {
		if scheme = strings.TrimSpace(scheme); scheme != "" {
			s.scheme = scheme
		}
	}
}

// WithRand overrides the nonce source.
func WithRand(r io.Reader) Option {
	return func(s *Service) {
		if r != nil {
			s.rand = r
		}
	}
}

func newService(method jwt.SigningMethod, signKey, verifyKey any, opts []Option) *Service {
	s := &Service{
		method:    method,
		signKey:   signKey,
		verifyKey: verifyKey,
		validity:  DefaultValidity,
		scheme:    DefaultQRScheme,
		now:       time.Now,
		rand:      rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewHMAC returns an HS256 service keyed from secret via HKDF.
func NewHMAC(secret []byte, opts ...Option) (*Service, error) {
	if len(secret) == 0 {
		return nil, model.NewError(model.KindConfiguration, "token signing secret is not configured")
	}
	key, err := keys.DeriveHMACKey(secret, KeyLabel)
	if err != nil {
		return nil, model.WrapError(model.KindConfiguration, "derive token key", err)
	}
	return newService(jwt.SigningMethodHS256, key, key, opts), nil
}

// NewDilithium3 returns a service signing with sk. pk may be nil when sk is set.
func NewDilithium3(sk *mode3.PrivateKey, pk *mode3.PublicKey, opts ...Option) (*Service, error) {
	if sk == nil && pk == nil {
		return nil, model.NewError(model.KindConfiguration, "token signing key is not configured")
	}
	if pk == nil {
		pk = sk.Public().(*mode3.PublicKey)
	}
	var signKey any
	if sk != nil {
		signKey = sk
	}
	return newService(SigningMethodDilithium3, signKey, pk, opts), nil
}

// Alg reports the JWS algorithm in use.
func (s *Service) Alg() string { return s.method.Alg() }

// Validity reports the configured token lifetime.
func (s *Service) Validity() time.Duration { return s.validity }

// Issue mints a token for venueID. An empty purpose means PurposeMint.
func (s *Service) Issue(venueID, purpose string) (AccessToken, error) {
	if s == nil || s.signKey == nil {
		return AccessToken{}, model.NewError(model.KindConfiguration, "token signing key is not configured")
	}
	venueID = strings.TrimSpace(venueID)
	if venueID == "" {
		return AccessToken{}, model.NewError(model.KindInvalidInput, "venue id is required")
	}
	if purpose = strings.TrimSpace(purpose); purpose == "" {
		purpose = PurposeMint
	}

	nonce := make([]byte, NonceBytes)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return AccessToken{}, model.WrapError(model.KindInternal, "generate nonce", err)
	}

	// JWS dates have second precision.
	iat := s.now().UTC().Truncate(time.Second)
	exp := iat.Add(s.validity)
	claims := Claims{
		Venue:   venueID,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        hex.EncodeToString(nonce),
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	raw, err := jwt.NewWithClaims(s.method, claims).SignedString(s.signKey)
	if err != nil {
		return AccessToken{}, model.WrapError(model.KindInternal, "sign token", err)
	}
	return AccessToken{
		Raw:       raw,
		Nonce:     claims.ID,
		VenueID:   venueID,
		Purpose:   purpose,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}

// Validate verifies raw and returns its venue id.
//
// Errors are *model.Error of kind TokenInvalid (bad signature, malformed,
// wrong algorithm), TokenExpired, or PurposeMismatch.
func (s *Service) Validate(raw, expectedPurpose string) (string, error) {
	tok, err := s.Parse(raw)
	if err != nil {
		return "", err
	}
	if expectedPurpose == "" {
		expectedPurpose = PurposeMint
	}
	if tok.Purpose != expectedPurpose {
		return "", model.Errorf(model.KindPurposeMismatch, "token purpose %q does not match %q", tok.Purpose, expectedPurpose)
	}
	return tok.VenueID, nil
}

// Parse verifies signature and expiry and returns the token's claims
// without checking its purpose.
func (s *Service) Parse(raw string) (AccessToken, error) {
	if s == nil || s.verifyKey == nil {
		return AccessToken{}, model.NewError(model.KindConfiguration, "token verification key is not configured")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return AccessToken{}, model.NewError(model.KindTokenInvalid, "missing token")
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return s.verifyKey, nil },
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return AccessToken{}, model.WrapError(model.KindTokenExpired, "token expired", err)
		}
		return AccessToken{}, model.WrapError(model.KindTokenInvalid, "invalid token", err)
	}
	if claims.Venue == "" || claims.ID == "" {
		return AccessToken{}, model.NewError(model.KindTokenInvalid, "token is missing venue or nonce")
	}

	tok := AccessToken{
		Raw:     raw,
		Nonce:   claims.ID,
		VenueID: claims.Venue,
		Purpose: claims.Purpose,
	}
	if claims.IssuedAt != nil {
		tok.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		tok.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return tok, nil
}
