// Command bindle is the client for bindle-server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nitishm/bindle/transport/grpcapi"
)

const defaultServer = "127.0.0.1:8079"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	server   string
	timeout  time.Duration
	retryFor time.Duration
	keysDir  string
	out      io.Writer
}

func (o *rootOptions) client() (*grpcapi.Client, error) {
	return grpcapi.Dial(o.server, grpcapi.DialOptions{Timeout: o.timeout, RetryFor: o.retryFor})
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &rootOptions{out: out}
	server := os.Getenv("BINDLE_SERVER")
	if server == "" {
		server = defaultServer
	}

	cmd := &cobra.Command{
		Use:           "bindle",
		Short:         "Publish and fetch content-addressed bundles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&opts.server, "server", server, "bindle-server gRPC address (env BINDLE_SERVER)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "Per-request timeout (0 disables)")
	cmd.PersistentFlags().DurationVar(&opts.retryFor, "retry-for", 10*time.Second, "How long to retry while the server is unavailable")
	cmd.PersistentFlags().StringVar(&opts.keysDir, "keys-dir", "", "Keyring directory (default ~/.bindle/keys)")

	cmd.AddCommand(
		newInvoiceCommand(opts),
		newParcelCommand(opts),
		newMissingCommand(opts),
		newExportCommand(opts),
		newImportCommand(opts),
		newKeysCommand(opts),
	)
	return cmd
}
