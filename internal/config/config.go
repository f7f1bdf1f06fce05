// Package config resolves runtime configuration: defaults, then an optional
// YAML file, then DRINKPOAP_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"xdao.co/drinkpoap/model"
)

const (
	TokenSchemeHMAC       = "hmac"
	TokenSchemeDilithium3 = "dilithium3"

	LedgerMemory = "memory"
	LedgerEVM    = "evm"

	envPrefix = "DRINKPOAP_"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Venue    VenueConfig    `yaml:"venue"`
	Token    TokenConfig    `yaml:"token"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Storage  StorageConfig  `yaml:"storage"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Document DocumentConfig `yaml:"document"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// SignatureTolerance is the clock skew accepted on signed requests.
	SignatureTolerance time.Duration `yaml:"signature_tolerance"`
}

type VenueConfig struct {
	ID string `yaml:"id"`
}

type TokenConfig struct {
	Scheme string `yaml:"scheme"`
	// Secret keys the hmac scheme.
	Secret string `yaml:"secret"`
	// SeedFile holds a hex Dilithium3 seed for the dilithium3 scheme.
	SeedFile string `yaml:"seed_file"`
	// KeyDir, KeyName and KeyRole select a seed from the key store instead.
	KeyDir   string        `yaml:"key_dir"`
	KeyName  string        `yaml:"key_name"`
	KeyRole  string        `yaml:"key_role"`
	Validity time.Duration `yaml:"validity"`
	QRScheme string        `yaml:"qr_scheme"`
}

type CatalogConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`
	FallbackEnabled bool          `yaml:"fallback_enabled"`
}

type StorageConfig struct {
	// ConfigFile is a CAS backend config (JSON or YAML). Empty selects an
	// in-memory store.
	ConfigFile string `yaml:"config_file"`
	// Backend is the preferred backend id for reads.
	Backend string `yaml:"backend"`
}

type LedgerConfig struct {
	Mode string `yaml:"mode"`
	// Owner is the privileged identity of the in-memory ledger.
	Owner        string        `yaml:"owner"`
	RPCURL       string        `yaml:"rpc_url"`
	Contract     string        `yaml:"contract"`
	ChainID      int64         `yaml:"chain_id"`
	SignerKeys   []string      `yaml:"signer_keys"`
	PollInterval time.Duration `yaml:"poll_interval"`
	FromBlock    uint64        `yaml:"from_block"`
}

type DocumentConfig struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Cover       string `yaml:"cover"`
	ExternalURL string `yaml:"external_url"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP:    HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second, SignatureTolerance: 5 * time.Minute},
		Venue:   VenueConfig{ID: "sjc"},
		Token:   TokenConfig{Scheme: TokenSchemeHMAC, KeyRole: "token", Validity: 24 * time.Hour, QRScheme: "brewhouse"},
		Catalog: CatalogConfig{BaseURL: "https://api.digitalpour.com", Timeout: 10 * time.Second, FallbackEnabled: true},
		Ledger:  LedgerConfig{Mode: LedgerMemory, PollInterval: 2 * time.Second},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Load resolves configuration in priority order: defaults, file, env.
// An empty path skips the file; a named file that does not exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Config{}, model.Errorf(model.KindConfiguration, "config file %s not found", path)
			}
			return Config{}, model.WrapError(model.KindConfiguration, "read config file", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, model.WrapError(model.KindConfiguration, "parse config file", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	cfg.HTTP.Addr = envOrDefault("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.ShutdownTimeout = envDuration("HTTP_SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout, &errs)
	cfg.HTTP.SignatureTolerance = envDuration("HTTP_SIGNATURE_TOLERANCE", cfg.HTTP.SignatureTolerance, &errs)
	cfg.Venue.ID = envOrDefault("VENUE_ID", cfg.Venue.ID)

	cfg.Token.Scheme = strings.ToLower(envOrDefault("TOKEN_SCHEME", cfg.Token.Scheme))
	cfg.Token.Secret = envOrDefault("TOKEN_SECRET", cfg.Token.Secret)
	cfg.Token.SeedFile = envOrDefault("TOKEN_SEED_FILE", cfg.Token.SeedFile)
	cfg.Token.KeyDir = envOrDefault("TOKEN_KEY_DIR", cfg.Token.KeyDir)
	cfg.Token.KeyName = envOrDefault("TOKEN_KEY_NAME", cfg.Token.KeyName)
	cfg.Token.KeyRole = envOrDefault("TOKEN_KEY_ROLE", cfg.Token.KeyRole)
	cfg.Token.Validity = envDuration("TOKEN_VALIDITY", cfg.Token.Validity, &errs)
	cfg.Token.QRScheme = envOrDefault("QR_SCHEME", cfg.Token.QRScheme)

	cfg.Catalog.BaseURL = envOrDefault("CATALOG_BASE_URL", cfg.Catalog.BaseURL)
	cfg.Catalog.APIKey = envOrDefault("CATALOG_API_KEY", cfg.Catalog.APIKey)
	cfg.Catalog.Timeout = envDuration("CATALOG_TIMEOUT", cfg.Catalog.Timeout, &errs)
	cfg.Catalog.FallbackEnabled = envBool("CATALOG_FALLBACK_ENABLED", cfg.Catalog.FallbackEnabled, &errs)

	cfg.Storage.ConfigFile = envOrDefault("CAS_CONFIG", cfg.Storage.ConfigFile)
	cfg.Storage.Backend = envOrDefault("CAS_BACKEND", cfg.Storage.Backend)

	cfg.Ledger.Mode = strings.ToLower(envOrDefault("LEDGER_MODE", cfg.Ledger.Mode))
	cfg.Ledger.Owner = envOrDefault("LEDGER_OWNER", cfg.Ledger.Owner)
	cfg.Ledger.RPCURL = envOrDefault("LEDGER_RPC_URL", cfg.Ledger.RPCURL)
	cfg.Ledger.Contract = envOrDefault("LEDGER_CONTRACT", cfg.Ledger.Contract)
	cfg.Ledger.ChainID = int64(envInt("LEDGER_CHAIN_ID", int(cfg.Ledger.ChainID), &errs))
	cfg.Ledger.SignerKeys = envCSV("LEDGER_SIGNER_KEYS", cfg.Ledger.SignerKeys)
	cfg.Ledger.PollInterval = envDuration("LEDGER_POLL_INTERVAL", cfg.Ledger.PollInterval, &errs)

	cfg.Log.Level = strings.ToLower(envOrDefault("LOG_LEVEL", cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(envOrDefault("LOG_FORMAT", cfg.Log.Format))

	if len(errs) > 0 {
		return model.WrapError(model.KindConfiguration, "environment overrides", errors.Join(errs...))
	}
	return nil
}

// Validate checks the settings a server needs before any component starts.
func (c Config) Validate() error {
	switch c.Token.Scheme {
	case TokenSchemeHMAC:
		if strings.TrimSpace(c.Token.Secret) == "" {
			return model.NewError(model.KindConfiguration, "token.secret is required for the hmac scheme")
		}
	case TokenSchemeDilithium3:
		if c.Token.SeedFile == "" && c.Token.KeyName == "" {
			return model.NewError(model.KindConfiguration, "token.seed_file or token.key_name is required for the dilithium3 scheme")
		}
	default:
		return model.Errorf(model.KindConfiguration, "unknown token scheme %q", c.Token.Scheme)
	}
	if c.Token.Validity <= 0 {
		return model.NewError(model.KindConfiguration, "token.validity must be positive")
	}
	if strings.TrimSpace(c.Venue.ID) == "" {
		return model.NewError(model.KindConfiguration, "venue.id is required")
	}
	switch c.Ledger.Mode {
	case LedgerMemory:
		if strings.TrimSpace(c.Ledger.Owner) == "" {
			return model.NewError(model.KindConfiguration, "ledger.owner is required for the memory ledger")
		}
	case LedgerEVM:
		if c.Ledger.RPCURL == "" || c.Ledger.Contract == "" {
			return model.NewError(model.KindConfiguration, "ledger.rpc_url and ledger.contract are required for the evm ledger")
		}
	default:
		return model.Errorf(model.KindConfiguration, "unknown ledger mode %q", c.Ledger.Mode)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return model.Errorf(model.KindConfiguration, "unknown log format %q", c.Log.Format)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envBool(key string, fallback bool, errs *[]error) bool {
	v := envOrDefault(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return fallback
	}
	return b
}

func envInt(key string, fallback int, errs *[]error) int {
	v := envOrDefault(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := envOrDefault(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return fallback
	}
	return d
}

func envCSV(key string, fallback []string) []string {
	v := envOrDefault(key, "")
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
