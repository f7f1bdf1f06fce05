package rediscas

import (
	"context"
	"flag"
	"fmt"
	"time"

	"xdao.co/drinkpoap/storage"
	"xdao.co/drinkpoap/storage/casregistry"
)

var (
	flagURL    string
	flagPrefix string
	flagTTL    time.Duration
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "redis",
		Description: "Redis CAS (cache tier; pair with a durable backend)",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagURL, "redis-url", "", "redis://... URL or host:port (for --backend=redis)")
			fs.StringVar(&flagPrefix, "redis-prefix", DefaultKeyPrefix, "Key prefix (for --backend=redis)")
			fs.DurationVar(&flagTTL, "redis-ttl", 0, "Block TTL; 0 keeps blocks indefinitely")
		},
		Open: func() (storage.CAS, func() error, error) {
			return open(flagURL, flagPrefix, flagTTL)
		},
		OpenWithConfig: func(cfg map[string]string) (storage.CAS, func() error, error) {
			var ttl time.Duration
			if v := cfg["redis-ttl"]; v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return nil, nil, fmt.Errorf("rediscas: invalid redis-ttl %q: %w", v, err)
				}
				ttl = d
			}
			return open(cfg["redis-url"], cfg["redis-prefix"], ttl)
		},
	})
}

func open(url, prefix string, ttl time.Duration) (storage.CAS, func() error, error) {
	if url == "" {
		return nil, nil, fmt.Errorf("missing --redis-url")
	}
	client, err := Connect(context.Background(), url)
	if err != nil {
		return nil, nil, err
	}
	cas := New(client, prefix)
	cas.TTL = ttl
	return cas, client.Close, nil
}
