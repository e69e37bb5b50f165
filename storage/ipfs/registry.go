package ipfs

import (
	"os"

	"github.com/spf13/pflag"

	"github.com/nitishm/bindle/storage"
	"github.com/nitishm/bindle/storage/registry"
)

var (
	flagBin  string
	flagRepo string
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "ipfs",
		Description: "Local Kubo repository via the ipfs CLI (parcels only)",
		Usage:       registry.UsageCLI | registry.UsageServer,
		ParcelsOnly: true,
		RegisterFlags: func(fs *pflag.FlagSet) {
			fs.StringVar(&flagBin, "ipfs-bin", "ipfs", "Path to the ipfs binary (for --backend=ipfs)")
			fs.StringVar(&flagRepo, "ipfs-path", "", "IPFS_PATH override (for --backend=ipfs)")
		},
		Open: func() (storage.ObjectStore, func() error, error) {
			return open(flagBin, flagRepo), nil, nil
		},
		OpenConfig: func(cfg map[string]string) (storage.ObjectStore, func() error, error) {
			return open(cfg["ipfs-bin"], cfg["ipfs-path"]), nil, nil
		},
	})
}

func open(bin, repo string) *Store {
	opts := Options{Bin: bin}
	if repo != "" {
		opts.Env = append(os.Environ(), "IPFS_PATH="+repo)
	}
	return New(opts)
}
