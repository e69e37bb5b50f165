package localfs

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/nitishm/bindle/storage"
	"github.com/nitishm/bindle/storage/registry"
)

var flagDir string

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "localfs",
		Description: "Local filesystem object store (directory)",
		Usage:       registry.UsageCLI | registry.UsageServer,
		RegisterFlags: func(fs *pflag.FlagSet) {
			fs.StringVar(&flagDir, "localfs-dir", "", "Object store directory (for --backend=localfs)")
		},
		Open: func() (storage.ObjectStore, func() error, error) {
			return open(flagDir)
		},
		OpenConfig: func(cfg map[string]string) (storage.ObjectStore, func() error, error) {
			return open(cfg["localfs-dir"])
		},
	})
}

func open(dir string) (storage.ObjectStore, func() error, error) {
	if dir == "" {
		return nil, nil, fmt.Errorf("missing --localfs-dir")
	}
	s, err := New(dir)
	if err != nil {
		return nil, nil, err
	}
	return s, nil, nil
}
