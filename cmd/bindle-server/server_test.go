package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/internal/config"
	"github.com/nitishm/bindle/invoicestore/storetest"
	"github.com/nitishm/bindle/storage/storageconfig"
	"github.com/nitishm/bindle/transport/grpcapi"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.DataDir = dir
	cfg.Log.Level = "error"
	cfg.Repository = config.RepositoryConfig{Driver: driver, SQLitePath: filepath.Join(dir, "db", "invoices.db")}
	cfg.Storage = storageconfig.Config{Backends: []storageconfig.BackendConfig{{Name: "memory"}}}
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestServerServesBothTransports(t *testing.T) {
	for _, driver := range []string{config.RepoObject, config.RepoSQLite} {
		t.Run(driver, func(t *testing.T) {
			srv, err := newServer(testConfig(t, driver), "")
			require.NoError(t, err)
			t.Cleanup(srv.Close)

			grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
			require.NoError(t, err)
			httpLis, err := net.Listen("tcp", "127.0.0.1:0")
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- srv.serve(ctx, grpcLis, httpLis) }()

			client, err := grpcapi.Dial(grpcLis.Addr().String(), grpcapi.DialOptions{Timeout: 5 * time.Second, RetryFor: 5 * time.Second})
			require.NoError(t, err)
			defer client.Close()

			inv := storetest.Invoice("example.com/served/1.0.0", "payload")
			_, err = client.CreateInvoice(ctx, inv)
			require.NoError(t, err)
			require.NoError(t, client.CreateParcel(ctx, inv.ID(), digest.Sum([]byte("payload")), strings.NewReader("payload")))

			resp, err := http.Get("http://" + httpLis.Addr().String() + "/v1/_p/example.com/served/1.0.0@" + digest.Sum([]byte("payload")).String())
			require.NoError(t, err)
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Equal(t, "payload", string(body))

			cancel()
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(15 * time.Second):
				t.Fatal("server did not stop")
			}
		})
	}
}

func TestNewServerRejectsUnknownBackend(t *testing.T) {
	_, err := newServer(testConfig(t, config.RepoObject), "nope")
	require.ErrorContains(t, err, "unknown backend")
}

func TestNewServerRejectsParcelsOnlyBackendForObjectRepository(t *testing.T) {
	_, err := newServer(testConfig(t, config.RepoObject), "ipfs")
	require.ErrorContains(t, err, "stores parcels only")

	cfg := testConfig(t, config.RepoObject)
	cfg.Storage = storageconfig.Config{Backends: []storageconfig.BackendConfig{{Name: "ipfs"}}}
	require.ErrorContains(t, cfg.Validate(), "stores parcels only")

	// Invoices in SQLite leave the digest-only store to parcels.
	srv, err := newServer(testConfig(t, config.RepoSQLite), "ipfs")
	require.NoError(t, err)
	srv.Close()
}

func TestBackendsCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs([]string{"backends"})
	require.NoError(t, cmd.Execute())
	for _, name := range []string{"gcs", "localfs", "memory"} {
		require.Contains(t, out.String(), name+"\t")
	}
}
