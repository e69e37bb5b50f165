package memory

import (
	"github.com/spf13/pflag"

	"github.com/nitishm/bindle/storage"
	"github.com/nitishm/bindle/storage/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:          "memory",
		Description:   "In-process object store; contents are lost on exit",
		Usage:         registry.UsageServer,
		RegisterFlags: func(*pflag.FlagSet) {},
		Open: func() (storage.ObjectStore, func() error, error) {
			return New(), nil, nil
		},
		OpenConfig: func(map[string]string) (storage.ObjectStore, func() error, error) {
			return New(), nil, nil
		},
	})
}
