package token

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"xdao.co/drinkpoap/keys"
	"xdao.co/drinkpoap/model"
)

var t0 = time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newHMAC(t *testing.T, c *clock, opts ...Option) *Service {
	t.Helper()
	svc, err := NewHMAC([]byte("test-secret"), append([]Option{WithClock(c.Now)}, opts...)...)
	require.NoError(t, err)
	return svc
}

func flipSignatureByte(t *testing.T, raw string) string {
	t.Helper()
	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	sig[0] ^= 0x01
	parts[2] = base64.RawURLEncoding.EncodeToString(sig)
	return strings.Join(parts, ".")
}

func TestIssueValidate_RoundTrip(t *testing.T) {
	c := &clock{now: t0}
	svc := newHMAC(t, c)

	tok, err := svc.Issue("sjc", PurposeMint)
	require.NoError(t, err)
	require.Len(t, tok.Nonce, 2*NonceBytes)
	require.Equal(t, t0, tok.IssuedAt)
	require.Equal(t, t0.Add(DefaultValidity), tok.ExpiresAt)
	require.Equal(t, "HS256", svc.Alg())

	venue, err := svc.Validate(tok.Raw, PurposeMint)
	require.NoError(t, err)
	require.Equal(t, "sjc", venue)

	parsed, err := svc.Parse(tok.Raw)
	require.NoError(t, err)
	require.Equal(t, tok.Nonce, parsed.Nonce)
	require.Equal(t, tok.ExpiresAt, parsed.ExpiresAt)
}

func TestIssue_NoncesAreUnique(t *testing.T) {
	svc := newHMAC(t, &clock{now: t0})
	a, err := svc.Issue("sjc", "")
	require.NoError(t, err)
	b, err := svc.Issue("sjc", "")
	require.NoError(t, err)
	require.NotEqual(t, a.Nonce, b.Nonce)
	require.Equal(t, PurposeMint, a.Purpose)
}

func TestValidate_Failures(t *testing.T) {
	c := &clock{now: t0}
	svc := newHMAC(t, c)
	tok, err := svc.Issue("sjc", PurposeMint)
	require.NoError(t, err)

	other, err := NewHMAC([]byte("another-secret"), WithClock(c.Now))
	require.NoError(t, err)

	cases := []struct {
		name string
		run  func() error
		kind model.Kind
	}{
		{"flipped signature byte", func() error {
			_, err := svc.Validate(flipSignatureByte(t, tok.Raw), PurposeMint)
			return err
		}, model.KindTokenInvalid},
		{"foreign key", func() error {
			_, err := other.Validate(tok.Raw, PurposeMint)
			return err
		}, model.KindTokenInvalid},
		{"malformed", func() error {
			_, err := svc.Validate("not-a-token", PurposeMint)
			return err
		}, model.KindTokenInvalid},
		{"empty", func() error {
			_, err := svc.Validate("  ", PurposeMint)
			return err
		}, model.KindTokenInvalid},
		{"wrong purpose", func() error {
			_, err := svc.Validate(tok.Raw, "admin")
			return err
		}, model.KindPurposeMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			require.Error(t, err)
			require.Truef(t, model.IsKind(err, tc.kind), "want %s, got %v", tc.kind, err)
		})
	}
}

func TestValidate_ExpiresAtBoundary(t *testing.T) {
	c := &clock{now: t0}
	svc := newHMAC(t, c, WithValidity(time.Hour))
	tok, err := svc.Issue("sjc", PurposeMint)
	require.NoError(t, err)

	c.now = t0.Add(time.Hour - time.Second)
	_, err = svc.Validate(tok.Raw, PurposeMint)
	require.NoError(t, err)

	c.now = t0.Add(time.Hour)
	_, err = svc.Validate(tok.Raw, PurposeMint)
	require.True(t, model.IsKind(err, model.KindTokenExpired), "got %v", err)
}

func TestValidate_RejectsUnexpectedAlgorithm(t *testing.T) {
	c := &clock{now: t0}
	svc := newHMAC(t, c)

	claims := Claims{
		Venue:   "sjc",
		Purpose: PurposeMint,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "00",
			ExpiresAt: jwt.NewNumericDate(t0.Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Validate(raw, PurposeMint)
	require.True(t, model.IsKind(err, model.KindTokenInvalid), "got %v", err)
}

func TestNewHMAC_RequiresSecret(t *testing.T) {
	_, err := NewHMAC(nil)
	require.True(t, model.IsKind(err, model.KindConfiguration), "got %v", err)
}

func TestIssue_RequiresVenue(t *testing.T) {
	svc := newHMAC(t, &clock{now: t0})
	_, err := svc.Issue(" ", PurposeMint)
	require.True(t, model.IsKind(err, model.KindInvalidInput), "got %v", err)
}

func TestDilithium3_SignAndVerifyOnly(t *testing.T) {
	c := &clock{now: t0}
	seed := bytes.Repeat([]byte{7}, 32)
	pk, sk, err := keys.Dilithium3FromSeed(seed)
	require.NoError(t, err)

	signer, err := NewDilithium3(sk, nil, WithClock(c.Now))
	require.NoError(t, err)
	require.Equal(t, "DILITHIUM3", signer.Alg())

	tok, err := signer.Issue("sjc", PurposeMint)
	require.NoError(t, err)

	verifier, err := NewDilithium3(nil, pk, WithClock(c.Now))
	require.NoError(t, err)
	venue, err := verifier.Validate(tok.Raw, PurposeMint)
	require.NoError(t, err)
	require.Equal(t, "sjc", venue)

	_, err = verifier.Validate(flipSignatureByte(t, tok.Raw), PurposeMint)
	require.True(t, model.IsKind(err, model.KindTokenInvalid), "got %v", err)

	_, err = verifier.Issue("sjc", PurposeMint)
	require.True(t, model.IsKind(err, model.KindConfiguration), "verify-only service must not issue")

	// An HS256 token is not accepted by a DILITHIUM3 service.
	hs := newHMAC(t, c)
	hsTok, err := hs.Issue("sjc", PurposeMint)
	require.NoError(t, err)
	_, err = verifier.Validate(hsTok.Raw, PurposeMint)
	require.True(t, model.IsKind(err, model.KindTokenInvalid), "got %v", err)
}

func TestQRPayload(t *testing.T) {
	svc := newHMAC(t, &clock{now: t0})
	tok, err := svc.Issue("sjc", PurposeMint)
	require.NoError(t, err)

	payload := svc.QRPayload(tok.Raw)
	require.True(t, strings.HasPrefix(payload, "brewhouse:"))

	raw, err := svc.ParseQRPayload(payload)
	require.NoError(t, err)
	require.Equal(t, tok.Raw, raw)

	_, err = ParseQRPayload("taproom:"+tok.Raw, "")
	require.True(t, model.IsKind(err, model.KindTokenInvalid))
	_, err = ParseQRPayload(tok.Raw, "brewhouse")
	require.True(t, model.IsKind(err, model.KindTokenInvalid))

	custom := newHMAC(t, &clock{now: t0}, WithQRScheme("taproom"))
	require.Equal(t, "taproom:x", custom.QRPayload("x"))
}
