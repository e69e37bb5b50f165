package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/invoice"
	"github.com/nitishm/bindle/invoicestore"
	"github.com/nitishm/bindle/invoicestore/objectrepo"
	"github.com/nitishm/bindle/invoicestore/storetest"
	"github.com/nitishm/bindle/parcel"
	"github.com/nitishm/bindle/service"
	"github.com/nitishm/bindle/storage/memory"
	"github.com/nitishm/bindle/transport/grpcapi"
)

// startServer runs an in-memory bindle gRPC server and returns its address.
func startServer(t *testing.T) string {
	t.Helper()
	objects := memory.New()
	ps, err := parcel.New(objects, parcel.Options{})
	require.NoError(t, err)
	t.Cleanup(ps.Close)
	svc := service.New(invoicestore.New(objectrepo.New(objects), nil), ps, service.Options{})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	grpcapi.RegisterBindleServer(srv, &grpcapi.Server{Bundles: svc})
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func run(t *testing.T, server, keysDir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--server", server, "--keys-dir", keysDir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_PublishFetchAndYank(t *testing.T) {
	server := startServer(t)
	dir := t.TempDir()
	keysDir := filepath.Join(dir, "keys")

	content := "parcel body from disk"
	inv := storetest.Invoice("example.com/cli/1.0.0", content)
	invPath := filepath.Join(dir, "invoice.toml")
	doc, err := invoice.Marshal(inv)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(invPath, doc, 0o644))
	parcelPath := filepath.Join(dir, "body.txt")
	require.NoError(t, os.WriteFile(parcelPath, []byte(content), 0o644))
	sha := digest.Sum([]byte(content)).String()

	_, err = run(t, server, keysDir, "keys", "init", "--name", "alice", "--seed-hex", strings.Repeat("07", 32))
	require.NoError(t, err)
	_, err = run(t, server, keysDir, "keys", "derive", "--from", "alice", "--role", "creator")
	require.NoError(t, err)
	out, err := run(t, server, keysDir, "invoice", "sign", invPath, "--key", "alice")
	require.NoError(t, err)
	require.Contains(t, out, "signed example.com/cli/1.0.0 as creator")

	out, err = run(t, server, keysDir, "invoice", "create", invPath)
	require.NoError(t, err)
	require.Contains(t, out, "created example.com/cli/1.0.0")
	require.Contains(t, out, "missing "+sha)

	out, err = run(t, server, keysDir, "parcel", "push", "example.com/cli/1.0.0", parcelPath)
	require.NoError(t, err)
	require.Contains(t, out, "pushed "+sha)

	out, err = run(t, server, keysDir, "missing", "example.com/cli/1.0.0")
	require.NoError(t, err)
	require.Empty(t, out)

	out, err = run(t, server, keysDir, "parcel", "get", "example.com/cli/1.0.0", sha)
	require.NoError(t, err)
	require.Equal(t, content, out)

	out, err = run(t, server, keysDir, "invoice", "get", "example.com/cli/1.0.0")
	require.NoError(t, err)
	got, err := invoice.Unmarshal([]byte(out))
	require.NoError(t, err)
	require.Len(t, got.Signatures, 1)
	require.NoError(t, invoice.VerifySignatures(got))

	_, err = run(t, server, keysDir, "invoice", "yank", "example.com/cli/1.0.0")
	require.NoError(t, err)
	_, err = run(t, server, keysDir, "invoice", "get", "example.com/cli/1.0.0")
	require.Error(t, err)
}

func TestCLI_ExportImport(t *testing.T) {
	src := startServer(t)
	dst := startServer(t)
	dir := t.TempDir()

	inv := storetest.Invoice("example.com/move/2.0.0", "one", "two")
	invPath := filepath.Join(dir, "invoice.toml")
	doc, err := invoice.Marshal(inv)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(invPath, doc, 0o644))
	var files []string
	for _, c := range []string{"one", "two"} {
		p := filepath.Join(dir, c)
		require.NoError(t, os.WriteFile(p, []byte(c), 0o644))
		files = append(files, p)
	}

	_, err = run(t, src, dir, "invoice", "create", invPath)
	require.NoError(t, err)
	_, err = run(t, src, dir, append([]string{"parcel", "push", "example.com/move/2.0.0"}, files...)...)
	require.NoError(t, err)

	archive := filepath.Join(dir, "bundle.tar.zst")
	_, err = run(t, src, dir, "export", "example.com/move/2.0.0", "-o", archive, "--zstd")
	require.NoError(t, err)

	out, err := run(t, dst, dir, "import", archive)
	require.NoError(t, err)
	require.Contains(t, out, "imported example.com/move/2.0.0 (2 parcels)")

	out, err = run(t, dst, dir, "parcel", "get", "example.com/move/2.0.0", digest.Sum([]byte("two")).String())
	require.NoError(t, err)
	require.Equal(t, "two", out)
}

func TestCLI_Keys(t *testing.T) {
	keysDir := t.TempDir()
	_, err := run(t, "unused:0", keysDir, "keys", "init", "--name", "bob", "--seed-hex", strings.Repeat("ab", 32))
	require.NoError(t, err)
	_, err = run(t, "unused:0", keysDir, "keys", "derive", "--from", "bob", "--role", "host")
	require.NoError(t, err)
	_, err = run(t, "unused:0", keysDir, "keys", "dilithium", "--name", "bob")
	require.NoError(t, err)

	out, err := run(t, "unused:0", keysDir, "keys", "list")
	require.NoError(t, err)
	require.Equal(t, "bob\thost\tdilithium3\n", out)

	out, err = run(t, "unused:0", keysDir, "keys", "export", "--name", "bob", "--role", "host")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "ed25519:"), out)

	_, err = run(t, "unused:0", keysDir, "keys", "derive", "--from", "bob", "--role", "janitor")
	require.Error(t, err)
}
