package gcs

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/pflag"

	objstore "github.com/nitishm/bindle/storage"
	"github.com/nitishm/bindle/storage/registry"
)

var (
	flagBucket    string
	flagPrefix    string
	flagEndpoint  string
	flagAnonymous bool
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "gcs",
		Description: "Google Cloud Storage bucket",
		Usage:       registry.UsageCLI | registry.UsageServer,
		RegisterFlags: func(fs *pflag.FlagSet) {
			fs.StringVar(&flagBucket, "gcs-bucket", "", "Bucket name (for --backend=gcs)")
			fs.StringVar(&flagPrefix, "gcs-prefix", "", "Object name prefix (for --backend=gcs)")
			fs.StringVar(&flagEndpoint, "gcs-endpoint", "", "API endpoint override (for --backend=gcs)")
			fs.BoolVar(&flagAnonymous, "gcs-anonymous", false, "Disable authentication (for --backend=gcs)")
		},
		Open: func() (objstore.ObjectStore, func() error, error) {
			return open(Options{Bucket: flagBucket, Prefix: flagPrefix, Endpoint: flagEndpoint, Anonymous: flagAnonymous})
		},
		OpenConfig: func(cfg map[string]string) (objstore.ObjectStore, func() error, error) {
			opts := Options{Bucket: cfg["gcs-bucket"], Prefix: cfg["gcs-prefix"], Endpoint: cfg["gcs-endpoint"]}
			if v := cfg["gcs-anonymous"]; v != "" {
				b, err := strconv.ParseBool(v)
				if err != nil {
					return nil, nil, fmt.Errorf("gcs-anonymous: %w", err)
				}
				opts.Anonymous = b
			}
			return open(opts)
		},
	})
}

func open(opts Options) (objstore.ObjectStore, func() error, error) {
	if opts.Bucket == "" {
		return nil, nil, fmt.Errorf("missing --gcs-bucket")
	}
	s, err := Open(context.Background(), opts)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}
