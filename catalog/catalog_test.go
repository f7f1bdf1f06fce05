package catalog

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xdao.co/drinkpoap/model"
	"xdao.co/drinkpoap/token"
)

type stubValidator struct {
	venue string
	err   error
	calls atomic.Int32
}

func (s *stubValidator) Validate(raw, purpose string) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	if purpose != token.PurposeMint {
		return "", model.NewError(model.KindPurposeMismatch, "unexpected purpose")
	}
	return s.venue, nil
}

const upstreamBody = `[
 {"BeverageName":"Pliny the Elder","ProducerName":"Russian River","BeverageStyle":"Double IPA","Abv":8.0,"Ibu":100,"Srm":7},
 {"BeverageName":"Mystery Cask","ProducerName":"House","BeverageStyle":"Ale"}
]`

func TestFetch_UpstreamMapping(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(upstreamBody))
	}))
	defer srv.Close()

	g, err := NewGateway(Config{BaseURL: srv.URL, APIKey: "dp-key", FallbackEnabled: true}, &stubValidator{venue: "sjc"})
	require.NoError(t, err)

	snap, err := g.Fetch(context.Background(), "tok")
	require.NoError(t, err)
	require.Equal(t, SourceUpstream, snap.Source)
	require.False(t, snap.Degraded)
	require.Equal(t, "Bearer dp-key", gotAuth)
	require.Equal(t, "/V2/Venues/sjc/Beers", gotPath)
	require.Equal(t, []Item{
		{Name: "Pliny the Elder", Producer: "Russian River", Category: "Double IPA", Strength: 8, Bitterness: 100, ColorIndex: 7},
		{Name: "Mystery Cask", Producer: "House", Category: "Ale"},
	}, snap.Items)
}

func TestFetch_FallbackOnUpstreamFailure(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{"undecodable", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("<html>")) }},
		{"slow", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			g, err := NewGateway(Config{BaseURL: srv.URL, Timeout: 100 * time.Millisecond, FallbackEnabled: true}, &stubValidator{venue: "sjc"})
			require.NoError(t, err)

			snap, err := g.Fetch(context.Background(), "tok")
			require.NoError(t, err)
			require.Equal(t, SourceSample, snap.Source)
			require.True(t, snap.Degraded)
			require.Error(t, snap.Cause)
			require.Equal(t, SampleCatalog(), snap.Items)
		})
	}
}

func TestFetch_FallbackDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g, err := NewGateway(Config{BaseURL: srv.URL}, &stubValidator{venue: "sjc"})
	require.NoError(t, err)

	_, err = g.Fetch(context.Background(), "tok")
	require.True(t, model.IsKind(err, model.KindUpstreamUnavailable), "got %v", err)
}

func TestFetch_TokenFailureSkipsUpstream(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	tokenErr := model.NewError(model.KindTokenExpired, "token expired")
	g, err := NewGateway(Config{BaseURL: srv.URL, FallbackEnabled: true}, &stubValidator{err: tokenErr})
	require.NoError(t, err)

	_, err = g.Fetch(context.Background(), "tok")
	require.True(t, errors.Is(err, tokenErr))
	require.Zero(t, hits.Load())
}

func TestFetch_WithRealTokenService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(upstreamBody))
	}))
	defer srv.Close()

	svc, err := token.NewHMAC([]byte("secret"))
	require.NoError(t, err)
	tok, err := svc.Issue("sjc", token.PurposeMint)
	require.NoError(t, err)

	g, err := NewGateway(Config{BaseURL: srv.URL}, svc)
	require.NoError(t, err)
	snap, err := g.Fetch(context.Background(), tok.Raw)
	require.NoError(t, err)
	require.Len(t, snap.Items, 2)

	adminTok, err := svc.Issue("sjc", "admin")
	require.NoError(t, err)
	_, err = g.Fetch(context.Background(), adminTok.Raw)
	require.True(t, model.IsKind(err, model.KindPurposeMismatch))
}

func TestColorHex(t *testing.T) {
	require.Equal(t, "#F8A600", ColorHex(6))
	require.Equal(t, ColorHex(5), ColorHex(0))
	require.Equal(t, "#FFE699", ColorHex(0.6))
	require.Equal(t, "#36080A", ColorHex(80))
	require.Equal(t, "#36080A", ColorHex(math.Inf(1)))
	require.Equal(t, "#36080A", ColorHex(math.MaxFloat64))
	require.Equal(t, ColorHex(5), ColorHex(math.Inf(-1)))
	require.Equal(t, ColorHex(5), ColorHex(math.NaN()))
}
