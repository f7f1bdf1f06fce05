package api

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"xdao.co/drinkpoap/auth"
	"xdao.co/drinkpoap/batch"
	"xdao.co/drinkpoap/catalog"
	"xdao.co/drinkpoap/cidutil"
	"xdao.co/drinkpoap/claim"
	"xdao.co/drinkpoap/ledger/memledger"
	"xdao.co/drinkpoap/metadata"
	"xdao.co/drinkpoap/model"
	"xdao.co/drinkpoap/storage/memcas"
	"xdao.co/drinkpoap/token"
)

func clock() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

type env struct {
	server   *httptest.Server
	tokens   *token.Service
	ledger   *memledger.Ledger
	upstream *httptest.Server
	owner    *ecdsa.PrivateKey
}

func newAccount(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	return k
}

func address(k *ecdsa.PrivateKey) string { return crypto.PubkeyToAddress(k.PublicKey).Hex() }

func newEnv(t *testing.T, fallback bool, upstreamStatus int) *env {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if upstreamStatus != http.StatusOK {
			w.WriteHeader(upstreamStatus)
			return
		}
		_, _ = w.Write([]byte(`[{"BeverageName":"Hazy IPA","ProducerName":"Brewhouse","BeverageStyle":"IPA","Abv":6.8,"Ibu":55,"Srm":6}]`))
	}))
	t.Cleanup(upstream.Close)

	tokens, err := token.NewHMAC([]byte("api-test-secret"))
	require.NoError(t, err)
	gw, err := catalog.NewGateway(catalog.Config{BaseURL: upstream.URL, FallbackEnabled: fallback}, tokens)
	require.NoError(t, err)

	composer := metadata.NewComposer(memcas.New(), metadata.DefaultBase(), metadata.WithClock(clock))
	ownerKey := newAccount(t)
	led := memledger.New(model.Identity(address(ownerKey)))

	h := NewHandler(Deps{
		Tokens:       tokens,
		Catalog:      gw,
		Documents:    composer,
		Claims:       claim.New(led, composer, nil),
		Batches:      batch.New(led, composer, nil),
		Auth:         auth.NewVerifier(auth.WithClock(clock)),
		DefaultVenue: "sjc",
		Now:          clock,
	})
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return &env{server: srv, tokens: tokens, ledger: led, upstream: upstream, owner: ownerKey}
}

// signed sends a request signed by key.
func (e *env) signed(t *testing.T, key *ecdsa.PrivateKey, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	ts := clock().Unix()
	sig, err := auth.Sign(key, method, path, ts, []byte(body))
	require.NoError(t, err)
	return e.do(t, method, path, body, map[string]string{
		auth.HeaderIdentity:  address(key),
		auth.HeaderTimestamp: strconv.FormatInt(ts, 10),
		auth.HeaderSignature: sig,
	})
}

func (e *env) do(t *testing.T, method, path, body string, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rdr)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}

func TestHealth(t *testing.T) {
	e := newEnv(t, true, http.StatusOK)
	resp, body := e.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, string(body))
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestIssueToken_DefaultsAndLegacyShape(t *testing.T) {
	e := newEnv(t, true, http.StatusOK)

	resp, body := e.do(t, http.MethodPost, "/api/qr-tokens", "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	got := decode[tokenResponse](t, body)
	require.Equal(t, "brewhouse:"+got.Token, got.QRPayload)
	venue, err := e.tokens.Validate(got.Token, token.PurposeMint)
	require.NoError(t, err)
	require.Equal(t, "sjc", venue)

	resp, body = e.do(t, http.MethodPost, "/api/generate-qr-token", `{"venue_id":"pdx"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	legacy := decode[map[string]any](t, body)
	require.Contains(t, legacy, "qrToken")
	require.Contains(t, legacy, "qrCodeData")
	require.Contains(t, legacy, "expiresAt")
}

func TestIssueToken_RejectsUnknownFields(t *testing.T) {
	e := newEnv(t, true, http.StatusOK)
	resp, body := e.do(t, http.MethodPost, "/api/qr-tokens", `{"venue":"x"}`, map[string]string{"X-Request-Id": "req-1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decode[errorEnvelope](t, body)
	require.Equal(t, "req-1", env.RequestID)
	require.Equal(t, "INVALID_INPUT", env.Error.Code)
}

func TestBeerList(t *testing.T) {
	e := newEnv(t, true, http.StatusOK)
	tok, err := e.tokens.Issue("sjc", token.PurposeMint)
	require.NoError(t, err)

	resp, body := e.do(t, http.MethodGet, "/api/beer-list", "", map[string]string{"Authorization": "Bearer " + tok.Raw})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	got := decode[beerListResponse](t, body)
	require.Equal(t, catalog.SourceUpstream, got.Source)
	require.False(t, got.Degraded)
	require.Len(t, got.Items, 1)
	require.Equal(t, "Hazy IPA", got.Items[0].Name)
}

func TestBeerList_TokenErrors(t *testing.T) {
	e := newEnv(t, true, http.StatusOK)
	wrongPurpose, err := e.tokens.Issue("sjc", "other")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		code   string
	}{
		{"missing", "", "TOKEN_INVALID"},
		{"garbage", "Bearer not.a.token", "TOKEN_INVALID"},
		{"purpose", "Bearer " + wrongPurpose.Raw, "PURPOSE_MISMATCH"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := e.do(t, http.MethodGet, "/api/beer-list", "", map[string]string{"Authorization": tc.header})
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			require.Equal(t, tc.code, decode[errorEnvelope](t, body).Error.Code)
		})
	}
}

func TestBeerList_UpstreamDownWithoutFallback(t *testing.T) {
	e := newEnv(t, false, http.StatusBadGateway)
	tok, err := e.tokens.Issue("sjc", token.PurposeMint)
	require.NoError(t, err)

	resp, body := e.do(t, http.MethodGet, "/api/beer-list", "", map[string]string{"Authorization": "Bearer " + tok.Raw})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "UPSTREAM_UNAVAILABLE", decode[errorEnvelope](t, body).Error.Code)
}

func TestBeerList_UpstreamDownWithFallback(t *testing.T) {
	e := newEnv(t, true, http.StatusBadGateway)
	tok, err := e.tokens.Issue("sjc", token.PurposeMint)
	require.NoError(t, err)

	resp, body := e.do(t, http.MethodGet, "/api/beer-list", "", map[string]string{"Authorization": "Bearer " + tok.Raw})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[beerListResponse](t, body)
	require.True(t, got.Degraded)
	require.Equal(t, catalog.SourceSample, got.Source)
	require.NotEmpty(t, got.Items)
}

func TestClaimThenFetchDocument(t *testing.T) {
	e := newEnv(t, true, http.StatusOK)
	alice := newAccount(t)
	body := `{"entries":[{"name":"Hazy IPA"},{"name":"Dry Stout","description":"roasty"}]}`

	resp, b := e.signed(t, alice, http.MethodPost, "/api/claims", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(b))
	out := decode[claim.Outcome](t, b)
	require.Equal(t, claim.StateConfirmed, out.State)
	require.True(t, out.RecordIDKnown)

	resp, doc := e.do(t, http.MethodGet, "/api/documents/"+out.Pointer.CID().String(), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	parsed, err := metadata.Decode(doc)
	require.NoError(t, err)
	require.Len(t, parsed.Drinks, 2)
	require.Equal(t, "roasty", parsed.Drinks[1].Description)

	resp, b = e.signed(t, alice, http.MethodPost, "/api/claims", body)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	again := decode[claim.Outcome](t, b)
	require.Equal(t, claim.ReasonAlreadyClaimed, again.Reason)
}

func TestClaim_RequiresSignature(t *testing.T) {
	e := newEnv(t, true, http.StatusOK)
	alice, mallory := newAccount(t), newAccount(t)

	resp, b := e.do(t, http.MethodPost, "/api/claims", `{"identity":"`+address(alice)+`"}`, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "UNAUTHENTICATED", decode[errorEnvelope](t, b).Error.Code)

	resp, b = e.signed(t, mallory, http.MethodPost, "/api/claims", `{"identity":"`+address(alice)+`"}`)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "NOT_AUTHORIZED", decode[errorEnvelope](t, b).Error.Code)
	require.Empty(t, e.ledger.Submitted())
}

func TestDocument_NotFoundAndInvalid(t *testing.T) {
	e := newEnv(t, true, http.StatusOK)
	resp, body := e.do(t, http.MethodGet, "/api/documents/"+cidutil.CIDv1RawSHA256([]byte("never stored")), "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode, string(body))

	resp, _ = e.do(t, http.MethodGet, "/api/documents/not-a-cid", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func (e *env) claimTwo(t *testing.T) {
	t.Helper()
	for i := 0; i < 2; i++ {
		resp, b := e.signed(t, newAccount(t), http.MethodPost, "/api/claims", `{"entries":[{"name":"Lager"}]}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(b))
	}
}

func TestBatchUpdate(t *testing.T) {
	e := newEnv(t, true, http.StatusOK)
	e.claimTwo(t)

	resp, b := e.signed(t, e.owner, http.MethodPost, "/api/batch-updates",
		`{"record_ids":"0, 1, 1","entries":[{"name":"Porter"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(b))
	res := decode[batch.Result](t, b)
	require.Equal(t, []model.RecordID{0, 1}, res.Succeeded)
	require.Empty(t, res.Failed)
}

func TestBatchUpdate_UnsignedWritesNothing(t *testing.T) {
	e := newEnv(t, true, http.StatusOK)
	e.claimTwo(t)
	before := len(e.ledger.Submitted())

	resp, b := e.do(t, http.MethodPost, "/api/batch-updates",
		`{"caller":"`+address(e.owner)+`","record_ids":"0","entries":[{"name":"Porter"}]}`, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "UNAUTHENTICATED", decode[errorEnvelope](t, b).Error.Code)
	require.Len(t, e.ledger.Submitted(), before)
}

func TestBatchUpdate_Forbidden(t *testing.T) {
	e := newEnv(t, true, http.StatusOK)
	resp, b := e.signed(t, newAccount(t), http.MethodPost, "/api/batch-updates", `{"record_ids":[0],"entries":[{"name":"Porter"}]}`)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "NOT_AUTHORIZED", decode[errorEnvelope](t, b).Error.Code)
	require.Empty(t, e.ledger.Submitted())
}

func TestBatchUpdate_EntryRequirements(t *testing.T) {
	e := newEnv(t, true, http.StatusOK)
	e.claimTwo(t)
	before := len(e.ledger.Submitted())

	cases := map[string]string{
		"missing entries":       `{"record_ids":[0,1]}`,
		"skip without identity": `{"record_ids":[0,1],"skip_if_unchanged":true,"entries":[{"name":"Lager"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, b := e.signed(t, e.owner, http.MethodPost, "/api/batch-updates", body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(b))
			require.Equal(t, "INVALID_INPUT", decode[errorEnvelope](t, b).Error.Code)
		})
	}
	require.Len(t, e.ledger.Submitted(), before)
}

func TestRecordIDsDecoding(t *testing.T) {
	var req batchRequest
	require.NoError(t, json.NewDecoder(bytes.NewBufferString(`{"record_ids":"4 5,6"}`)).Decode(&req))
	require.Equal(t, recordIDs{4, 5, 6}, req.RecordIDs)
	require.Error(t, json.Unmarshal([]byte(`{"record_ids":{"a":1}}`), &req))
}

func TestRecoverMiddleware(t *testing.T) {
	h := requestIDMiddleware(recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "INTERNAL", decode[errorEnvelope](t, rec.Body.Bytes()).Error.Code)
}
