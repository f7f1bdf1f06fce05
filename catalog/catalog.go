// Package catalog exchanges a validated access token for the venue's
// current drink list.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"xdao.co/drinkpoap/model"
	"xdao.co/drinkpoap/token"
)

const (
	// DefaultBaseURL is the upstream catalog provider.
	DefaultBaseURL = "https://api.digitalpour.com"
	// DefaultTimeout bounds the single upstream request.
	DefaultTimeout = 10 * time.Second

	maxBodyBytes = 4 << 20
)

// Source tells callers where a snapshot's items came from.
type Source string

const (
	SourceUpstream Source = "upstream"
	SourceSample   Source = "sample"
)

// Item is one drink on the list.
type Item struct {
	Name       string  `json:"name"`
	Producer   string  `json:"producer"`
	Category   string  `json:"category"`
	Strength   float64 `json:"strength"`
	Bitterness float64 `json:"bitterness"`
	ColorIndex float64 `json:"color_index"`
}

// Snapshot is the result of one Fetch.
type Snapshot struct {
	Items    []Item
	Source   Source
	Degraded bool
	// Cause is the upstream failure behind a degraded snapshot.
	Cause error
}

// Validator is the part of the token service the gateway needs.
type Validator interface {
	Validate(raw, expectedPurpose string) (string, error)
}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

type Config struct {
	BaseURL string
	APIKey  string
	// Purpose is the token purpose required for catalog access; empty means token.PurposeMint.
	Purpose string
	Timeout time.Duration
	// FallbackEnabled serves SampleCatalog when the upstream fails.
	FallbackEnabled bool
}

// Gateway fetches the catalog for the venue named in an access token.
type Gateway struct {
	cfg       Config
	validator Validator
	client    Doer
	logger    *slog.Logger
}

type GatewayOption func(*Gateway)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(d Doer) GatewayOption {
	return func(g *Gateway) {
		if d != nil {
			g.client = d
		}
	}
}

func WithLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

func NewGateway(cfg Config, validator Validator, opts ...GatewayOption) (*Gateway, error) {
	if validator == nil {
		return nil, model.NewError(model.KindConfiguration, "catalog: token validator is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, model.WrapError(model.KindConfiguration, "catalog: invalid base url", err)
	}
	if cfg.Purpose == "" {
		cfg.Purpose = token.PurposeMint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	g := &Gateway{
		cfg:       cfg,
		validator: validator,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    slog.Default().With("module", "catalog"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Fetch validates rawToken and returns the venue's catalog.
//
// Token failures are returned unchanged and no upstream call is made.
// Upstream failures yield a degraded sample snapshot when fallback is
// enabled, and an UpstreamUnavailable error otherwise.
func (g *Gateway) Fetch(ctx context.Context, rawToken string) (Snapshot, error) {
	venueID, err := g.validator.Validate(rawToken, g.cfg.Purpose)
	if err != nil {
		return Snapshot{}, err
	}

	items, err := g.fetchUpstream(ctx, venueID)
	if err == nil {
		return Snapshot{Items: items, Source: SourceUpstream}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Snapshot{}, ctxErr
	}

	if !g.cfg.FallbackEnabled {
		g.logger.Warn("catalog upstream failed",
			"operation", "fetch", "outcome", "unavailable", "venue", venueID, "error", err)
		return Snapshot{}, model.WrapError(model.KindUpstreamUnavailable, "catalog upstream unavailable", err)
	}
	g.logger.Warn("catalog upstream failed, serving sample data",
		"operation", "fetch", "outcome", "degraded", "venue", venueID, "error", err)
	return Snapshot{Items: SampleCatalog(), Source: SourceSample, Degraded: true, Cause: err}, nil
}

// upstreamItem is the provider's PascalCase schema.
type upstreamItem struct {
	BeverageName  string   `json:"BeverageName"`
	ProducerName  string   `json:"ProducerName"`
	BeverageStyle string   `json:"BeverageStyle"`
	Abv           *float64 `json:"Abv"`
	Ibu           *float64 `json:"Ibu"`
	Srm           *float64 `json:"Srm"`
}

func (g *Gateway) fetchUpstream(ctx context.Context, venueID string) ([]Item, error) {
	endpoint := strings.TrimRight(g.cfg.BaseURL, "/") + "/V2/Venues/" + url.PathEscape(venueID) + "/Beers"

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	var raw []upstreamItem
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode upstream body: %w", err)
	}
	if raw == nil {
		return nil, errors.New("upstream returned no list")
	}

	items := make([]Item, 0, len(raw))
	for _, it := range raw {
		items = append(items, Item{
			Name:       it.BeverageName,
			Producer:   it.ProducerName,
			Category:   it.BeverageStyle,
			Strength:   deref(it.Abv),
			Bitterness: deref(it.Ibu),
			ColorIndex: deref(it.Srm),
		})
	}
	return items, nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
