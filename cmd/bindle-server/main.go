// Command bindle-server serves the bundle service over gRPC and HTTP.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nitishm/bindle/internal/config"
	"github.com/nitishm/bindle/storage/registry"

	_ "github.com/nitishm/bindle/storage/gcs"
	_ "github.com/nitishm/bindle/storage/ipfs"
	_ "github.com/nitishm/bindle/storage/localfs"
	_ "github.com/nitishm/bindle/storage/memory"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	var backend string

	cmd := &cobra.Command{
		Use:   "bindle-server",
		Short: "Serve a content-addressed bundle store",
		Long: `Serve invoices and parcels over gRPC and HTTP.

Storage comes from the config file's storage section, or from a single
--backend with its backend flags. Without either, objects live under
<data-dir>/objects.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			srv, err := newServer(cfg, backend)
			if err != nil {
				return err
			}
			defer srv.Close()
			return srv.Run(cmd.Context())
		},
	}
	config.RegisterFlags(cmd.Flags())
	cmd.Flags().StringVar(&backend, "backend", "", "Open a single storage backend from flags instead of the configured backends")
	registry.RegisterFlags(cmd.Flags(), registry.UsageServer)

	cmd.AddCommand(&cobra.Command{
		Use:   "backends",
		Short: "List the storage backends compiled into this binary",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			for _, b := range registry.List(registry.UsageServer) {
				if b.Description == "" {
					_, _ = fmt.Fprintf(out, "%s\n", b.Name)
					continue
				}
				_, _ = fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
			}
		},
	})
	return cmd
}
