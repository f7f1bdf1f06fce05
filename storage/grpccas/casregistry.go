package grpccas

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"xdao.co/drinkpoap/storage"
	"xdao.co/drinkpoap/storage/casregistry"
)

var (
	flagTarget      string
	flagTimeout     time.Duration
	flagMaxMsgBytes int
	flagTLSCA       string
	flagTLSName     string
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "grpc",
		Description: "gRPC CAS client (talks to drinkpoap-casgrpcd)",
		Usage:       casregistry.UsageCLI,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagTarget, "grpc-target", "", "gRPC target host:port (for --backend=grpc)")
			fs.DurationVar(&flagTimeout, "grpc-timeout", 0, "Per-RPC timeout (for --backend=grpc)")
			fs.IntVar(&flagMaxMsgBytes, "grpc-max-msg-bytes", 0, "Max gRPC message size in bytes (send+recv); 0 uses 16 MiB")
			fs.StringVar(&flagTLSCA, "grpc-tls-ca", "", "PEM CA file; enables TLS (for --backend=grpc)")
			fs.StringVar(&flagTLSName, "grpc-tls-server-name", "", "Server name override for TLS verification")
		},
		Open: func() (storage.CAS, func() error, error) {
			return open(flagTarget, flagTimeout, DialOptions{
				MaxMsgBytes:   flagMaxMsgBytes,
				TLSCAFile:     flagTLSCA,
				TLSServerName: flagTLSName,
			})
		},
		OpenWithConfig: func(cfg map[string]string) (storage.CAS, func() error, error) {
			var timeout time.Duration
			if v := cfg["grpc-timeout"]; v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return nil, nil, fmt.Errorf("grpccas: invalid grpc-timeout %q: %w", v, err)
				}
				timeout = d
			}
			maxMsg := 0
			if v := cfg["grpc-max-msg-bytes"]; v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return nil, nil, fmt.Errorf("grpccas: invalid grpc-max-msg-bytes %q: %w", v, err)
				}
				maxMsg = n
			}
			return open(cfg["grpc-target"], timeout, DialOptions{
				MaxMsgBytes:   maxMsg,
				TLSCAFile:     cfg["grpc-tls-ca"],
				TLSServerName: cfg["grpc-tls-server-name"],
			})
		},
	})
}

func open(target string, timeout time.Duration, opts DialOptions) (storage.CAS, func() error, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, nil, fmt.Errorf("missing --grpc-target")
	}
	client, err := Dial(target, opts)
	if err != nil {
		return nil, nil, err
	}
	client.Timeout = timeout
	return client, client.Close, nil
}
