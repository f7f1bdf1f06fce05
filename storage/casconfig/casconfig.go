// Package casconfig opens one or more CAS backends from a JSON or YAML file.
package casconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"xdao.co/drinkpoap/storage"
	"xdao.co/drinkpoap/storage/casregistry"
)

// Write policies.
const (
	// WriteFirst writes to the first backend only; reads fall back in order.
	WriteFirst = "first"
	// WriteAll writes to every backend and requires identical CIDs.
	WriteAll = "all"
)

// Config describes the content store as an ordered list of registry backends.
//
// Example (YAML):
//
//	write_policy: all
//	read_repair: true
//	max_block_bytes: 10485760
//	backends:
//	  - name: localfs
//	    config: {localfs-dir: /var/lib/drinkpoap/cas}
//	  - name: s3
//	    config: {s3-bucket: drinkpoap-content, s3-prefix: blocks/}
//	  - name: redis
//	    config: {redis-addr: "${REDIS_ADDR}", redis-password: "${REDIS_PASSWORD}"}
//
// Backend config keys mirror the backend's CLI flag names. Values may
// reference environment variables as ${NAME}.
type Config struct {
	WritePolicy   string          `json:"write_policy,omitempty" yaml:"write_policy,omitempty"`
	ReadRepair    bool            `json:"read_repair,omitempty" yaml:"read_repair,omitempty"`
	MaxBlockBytes int             `json:"max_block_bytes,omitempty" yaml:"max_block_bytes,omitempty"`
	Backends      []BackendConfig `json:"backends" yaml:"backends"`
}

type BackendConfig struct {
	// Name is the casregistry backend name to open (e.g. "grpc", "localfs", "s3").
	Name string `json:"name" yaml:"name"`
	// ID is an optional alias; it defaults to Name and must be unique.
	ID     string            `json:"id,omitempty" yaml:"id,omitempty"`
	Config map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
}

func (b BackendConfig) id() string {
	if b.ID != "" {
		return b.ID
	}
	return b.Name
}

// LoadFile reads a config; ".yaml"/".yml" files are parsed as YAML, everything else as JSON.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, errors.New("casconfig: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	default:
		err = json.Unmarshal(b, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("casconfig: parse %s: %w", filepath.Base(path), err)
	}
	for i := range cfg.Backends {
		for k, v := range cfg.Backends[i].Config {
			cfg.Backends[i].Config[k] = os.ExpandEnv(v)
		}
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New("casconfig: at least one backend is required")
	}
	if c.MaxBlockBytes < 0 {
		return errors.New("casconfig: max_block_bytes must not be negative")
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return errors.New("casconfig: backend name is required")
		}
		if _, ok := seen[b.id()]; ok {
			return fmt.Errorf("casconfig: duplicate backend id %q", b.id())
		}
		seen[b.id()] = struct{}{}
	}
	switch c.WritePolicy {
	case "", WriteFirst, WriteAll:
		return nil
	default:
		return fmt.Errorf("casconfig: invalid write_policy %q", c.WritePolicy)
	}
}

// Open opens every backend and composes them per the write policy.
//
// A non-empty preferred names a backend (by name or id) that is moved to the
// front, making it the write target under WriteFirst and the first read.
// logger may be nil.
func (c Config) Open(usage casregistry.Usage, preferred string, logger *slog.Logger) (storage.CAS, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	ordered, err := c.ordered(preferred)
	if err != nil {
		return nil, nil, err
	}

	named := make([]storage.NamedCAS, 0, len(ordered))
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	for _, b := range ordered {
		cas, closeFn, err := casregistry.OpenWithConfig(b.Name, usage, b.Config)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("casconfig: backend %q: %w", b.id(), err)
		}
		named = append(named, storage.NamedCAS{Name: b.id(), CAS: cas})
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
	}
	if logger != nil {
		ids := make([]string, len(named))
		for i, n := range named {
			ids[i] = n.Name
		}
		logger.Info("content store opened", "backends", ids, "write_policy", c.WritePolicy, "read_repair", c.ReadRepair)
	}

	var cas storage.CAS
	switch {
	case len(named) == 1:
		cas = named[0].CAS
	case c.WritePolicy == WriteAll:
		cas = storage.ReplicatingCAS{Backends: named}
	default:
		adapters := make([]storage.CAS, len(named))
		for i, n := range named {
			adapters[i] = n.CAS
		}
		cas = storage.MultiCAS{Adapters: adapters, Repair: c.ReadRepair, Logger: logger}
	}
	if c.MaxBlockBytes > 0 {
		cas = storage.Limited{CAS: cas, MaxBytes: c.MaxBlockBytes}
	}
	return cas, closeAll, nil
}

func (c Config) ordered(preferred string) ([]BackendConfig, error) {
	ordered := append([]BackendConfig(nil), c.Backends...)
	if preferred == "" {
		return ordered, nil
	}
	for i, b := range ordered {
		if b.Name != preferred && b.ID != preferred {
			continue
		}
		copy(ordered[1:i+1], ordered[:i])
		ordered[0] = b
		return ordered, nil
	}
	return nil, fmt.Errorf("casconfig: preferred backend %q not found in config", preferred)
}
