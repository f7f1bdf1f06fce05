package ipfs

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"xdao.co/drinkpoap/storage"
	"xdao.co/drinkpoap/storage/casregistry"
)

var (
	flagBin      string
	flagPath     string
	flagAPI      string
	flagUser     string
	flagPassword string
	flagPin      bool
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "ipfs",
		Description: "IPFS via the local Kubo CLI or a Kubo RPC endpoint",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagBin, "ipfs-bin", "ipfs", "Path to the ipfs binary (for --backend=ipfs)")
			fs.StringVar(&flagPath, "ipfs-path", "", "IPFS_PATH for the ipfs binary (optional)")
			fs.StringVar(&flagAPI, "ipfs-api", "", "Kubo RPC base URL; replaces the CLI when set")
			fs.StringVar(&flagUser, "ipfs-username", "", "Basic auth user for --ipfs-api")
			fs.StringVar(&flagPassword, "ipfs-password", os.Getenv("IPFS_API_PASSWORD"), "Basic auth password for --ipfs-api (default $IPFS_API_PASSWORD)")
			fs.BoolVar(&flagPin, "ipfs-pin", true, "Pin written blocks")
		},
		Open: func() (storage.CAS, func() error, error) {
			return open(Options{Bin: flagBin, API: flagAPI, Username: flagUser, Password: flagPassword, Pin: flagPin}, flagPath)
		},
		OpenWithConfig: func(cfg map[string]string) (storage.CAS, func() error, error) {
			pin := true
			if v := cfg["ipfs-pin"]; v != "" {
				b, err := strconv.ParseBool(v)
				if err != nil {
					return nil, nil, fmt.Errorf("ipfs: invalid ipfs-pin %q: %w", v, err)
				}
				pin = b
			}
			return open(Options{
				Bin:      cfg["ipfs-bin"],
				API:      cfg["ipfs-api"],
				Username: cfg["ipfs-username"],
				Password: cfg["ipfs-password"],
				Pin:      pin,
			}, cfg["ipfs-path"])
		},
	})
}

func open(opts Options, ipfsPath string) (storage.CAS, func() error, error) {
	if ipfsPath != "" && opts.API == "" {
		opts.Env = append(os.Environ(), "IPFS_PATH="+ipfsPath)
	}
	c, err := New(opts)
	if err != nil {
		return nil, nil, err
	}
	return c, nil, nil
}
