// Package api is the HTTP surface over the token, catalog, document, claim
// and batch components.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"xdao.co/drinkpoap/auth"
	"xdao.co/drinkpoap/batch"
	"xdao.co/drinkpoap/catalog"
	"xdao.co/drinkpoap/claim"
	"xdao.co/drinkpoap/model"
	"xdao.co/drinkpoap/token"
)

// TokenIssuer is implemented by *token.Service.
type TokenIssuer interface {
	Issue(venueID, purpose string) (token.AccessToken, error)
	QRPayload(raw string) string
}

// CatalogFetcher is implemented by *catalog.Gateway.
type CatalogFetcher interface {
	Fetch(ctx context.Context, rawToken string) (catalog.Snapshot, error)
}

// DocumentReader is implemented by *metadata.Composer.
type DocumentReader interface {
	Raw(ctx context.Context, p model.Pointer) ([]byte, error)
}

type Claimer interface {
	Claim(ctx context.Context, req claim.Request) (claim.Outcome, error)
}

type BatchUpdater interface {
	Update(ctx context.Context, req batch.Request) (batch.Result, error)
}

// RequestVerifier is implemented by *auth.Verifier.
type RequestVerifier interface {
	Verify(c auth.Credentials, method, path string, body []byte) (model.Identity, error)
}

// Deps are the components served by the router. Nil components leave their
// routes answering 503.
type Deps struct {
	Tokens    TokenIssuer
	Catalog   CatalogFetcher
	Documents DocumentReader
	Claims    Claimer
	Batches   BatchUpdater
	// Auth authenticates the account behind claim and batch requests.
	// Defaults to an *auth.Verifier with the default tolerance.
	Auth RequestVerifier

	// DefaultVenue is used when a token request names no venue.
	DefaultVenue string
	// Now stamps entries submitted without addedAt.
	Now func() time.Time
}

// Handler holds the route implementations.
type Handler struct {
	deps Deps
}

func NewHandler(deps Deps) *Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Auth == nil {
		deps.Auth = auth.NewVerifier()
	}
	return &Handler{deps: deps}
}

// NewRouter registers routes and the middleware stack.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/health", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/qr-tokens", h.issueToken)
		r.Post("/generate-qr-token", h.issueTokenLegacy)
		r.Get("/beer-list", h.beerList)
		r.With(h.authenticate).Post("/claims", h.createClaim)
		r.With(h.authenticate).Post("/batch-updates", h.batchUpdate)
		r.Get("/documents/{cid}", h.document)
	})
	return r
}
