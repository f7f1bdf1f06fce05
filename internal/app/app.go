// Package app wires configuration into running components.
package app

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"xdao.co/drinkpoap/api"
	"xdao.co/drinkpoap/auth"
	"xdao.co/drinkpoap/batch"
	"xdao.co/drinkpoap/catalog"
	"xdao.co/drinkpoap/claim"
	"xdao.co/drinkpoap/internal/config"
	"xdao.co/drinkpoap/keys"
	"xdao.co/drinkpoap/ledger"
	"xdao.co/drinkpoap/ledger/evm"
	"xdao.co/drinkpoap/ledger/memledger"
	"xdao.co/drinkpoap/metadata"
	"xdao.co/drinkpoap/model"
	"xdao.co/drinkpoap/storage"
	"xdao.co/drinkpoap/storage/casconfig"
	"xdao.co/drinkpoap/storage/casregistry"
	"xdao.co/drinkpoap/storage/memcas"
	"xdao.co/drinkpoap/token"

	_ "xdao.co/drinkpoap/storage/grpccas"
	_ "xdao.co/drinkpoap/storage/ipfs"
	_ "xdao.co/drinkpoap/storage/localfs"
	_ "xdao.co/drinkpoap/storage/rediscas"
	_ "xdao.co/drinkpoap/storage/s3cas"
)

// App holds the wired components of one process.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Tokens   *token.Service
	Store    storage.CAS
	Composer *metadata.Composer
	Catalog  *catalog.Gateway
	Ledger   ledger.Gateway
	Claims   *claim.Orchestrator
	Batches  *batch.Orchestrator

	closers []func() error
}

// NewLogger builds the process logger from cfg.
func NewLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// New validates cfg and constructs every component. Close releases what it opened.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	var err error
	if a.Tokens, err = NewTokenService(cfg); err != nil {
		return nil, err
	}

	store, closeStore, err := OpenStore(cfg.Storage, logger.With("module", "storage"))
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.addCloser(closeStore)

	base, err := documentBase(cfg.Document)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Composer = metadata.NewComposer(store, base, metadata.WithLogger(logger.With("module", "metadata")))

	a.Catalog, err = catalog.NewGateway(catalog.Config{
		BaseURL:         cfg.Catalog.BaseURL,
		APIKey:          cfg.Catalog.APIKey,
		Timeout:         cfg.Catalog.Timeout,
		FallbackEnabled: cfg.Catalog.FallbackEnabled,
	}, a.Tokens, catalog.WithLogger(logger.With("module", "catalog")))
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	gw, closeLedger, err := OpenLedger(ctx, cfg.Ledger, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Ledger = gw
	a.addCloser(closeLedger)

	a.Claims = claim.New(gw, a.Composer, logger)
	a.Batches = batch.New(gw, a.Composer, logger)
	return a, nil
}

func (a *App) addCloser(fn func() error) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Handler returns the HTTP router over the app's components.
func (a *App) Handler() http.Handler {
	return api.NewRouter(api.NewHandler(api.Deps{
		Tokens:       a.Tokens,
		Catalog:      a.Catalog,
		Documents:    a.Composer,
		Claims:       a.Claims,
		Batches:      a.Batches,
		Auth:         auth.NewVerifier(auth.WithTolerance(a.Config.HTTP.SignatureTolerance)),
		DefaultVenue: a.Config.Venue.ID,
	}))
}

// Serve runs the HTTP server until ctx is done, then shuts down gracefully.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", "operation", "serve", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.HTTP.ShutdownTimeout)
	defer cancel()
	a.Logger.Info("http server shutting down", "operation", "serve", "outcome", "shutdown")
	return srv.Shutdown(shutdownCtx)
}

// NewTokenService builds the access token service for the configured scheme.
func NewTokenService(cfg config.Config) (*token.Service, error) {
	opts := []token.Option{token.WithValidity(cfg.Token.Validity), token.WithQRScheme(cfg.Token.QRScheme)}
	switch cfg.Token.Scheme {
	case config.TokenSchemeHMAC:
		return token.NewHMAC([]byte(cfg.Token.Secret), opts...)
	case config.TokenSchemeDilithium3:
		seed, err := loadTokenSeed(cfg.Token)
		if err != nil {
			return nil, err
		}
		pk, sk, err := keys.Dilithium3FromSeed(seed)
		if err != nil {
			return nil, model.WrapError(model.KindConfiguration, "token signing key", err)
		}
		return token.NewDilithium3(sk, pk, opts...)
	default:
		return nil, model.Errorf(model.KindConfiguration, "unknown token scheme %q", cfg.Token.Scheme)
	}
}

func loadTokenSeed(cfg config.TokenConfig) ([]byte, error) {
	if cfg.SeedFile != "" {
		seed, err := keys.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return nil, model.WrapError(model.KindConfiguration, "load token seed", err)
		}
		return seed, nil
	}
	ks, err := keys.CreateKeyStore(cfg.KeyDir)
	if err != nil {
		return nil, model.WrapError(model.KindConfiguration, "open key store", err)
	}
	seed, err := ks.LoadSeed(cfg.KeyName, cfg.KeyRole)
	if err != nil {
		return nil, model.WrapError(model.KindConfiguration, "load token key", err)
	}
	return seed, nil
}

// OpenStore opens the configured content store; without a CAS config file
// it returns an in-memory store. logger may be nil.
func OpenStore(cfg config.StorageConfig, logger *slog.Logger) (storage.CAS, func() error, error) {
	if cfg.ConfigFile == "" {
		return memcas.New(), nil, nil
	}
	cc, err := casconfig.LoadFile(cfg.ConfigFile)
	if err != nil {
		return nil, nil, model.WrapError(model.KindConfiguration, "load cas config", err)
	}
	cas, closeFn, err := cc.Open(casregistry.UsageCLI, cfg.Backend, logger)
	if err != nil {
		return nil, nil, model.WrapError(model.KindConfiguration, "open cas", err)
	}
	return cas, closeFn, nil
}

// OpenLedger connects the configured ledger.
func OpenLedger(ctx context.Context, cfg config.LedgerConfig, logger *slog.Logger) (ledger.Gateway, func() error, error) {
	switch cfg.Mode {
	case config.LedgerMemory:
		return memledger.New(model.Identity(cfg.Owner)), nil, nil
	case config.LedgerEVM:
		signers := make([]*ecdsa.PrivateKey, 0, len(cfg.SignerKeys))
		for i, hex := range cfg.SignerKeys {
			k, err := evm.ParseSignerHex(hex)
			if err != nil {
				return nil, nil, fmt.Errorf("ledger signer %d: %w", i, err)
			}
			signers = append(signers, k)
		}
		gw, closeFn, err := evm.Dial(ctx, evm.DialOptions{
			RPCURL:   cfg.RPCURL,
			Contract: strings.TrimSpace(cfg.Contract),
			ChainID:  cfg.ChainID,
			Signers:  signers,
			Config:   evm.Config{PollInterval: cfg.PollInterval, FromBlock: cfg.FromBlock},
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return gw, func() error { closeFn(); return nil }, nil
	default:
		return nil, nil, model.Errorf(model.KindConfiguration, "unknown ledger mode %q", cfg.Mode)
	}
}

func documentBase(cfg config.DocumentConfig) (metadata.Base, error) {
	base := metadata.DefaultBase()
	if cfg.Title != "" {
		base.Title = cfg.Title
	}
	if cfg.Description != "" {
		base.Description = cfg.Description
	}
	if cfg.ExternalURL != "" {
		base.ExternalURL = cfg.ExternalURL
	}
	if cfg.Cover != "" {
		p, err := model.ParsePointer(cfg.Cover)
		if err != nil {
			return metadata.Base{}, model.WrapError(model.KindConfiguration, "document.cover", err)
		}
		base.Cover = p
	}
	return base, nil
}
