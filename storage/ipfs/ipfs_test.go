package ipfs

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/storage"
)

func TestCIDForKey(t *testing.T) {
	d := digest.Sum([]byte("parcel"))

	id, err := CIDForKey("parcels/" + d.String())
	require.NoError(t, err)
	require.True(t, id.Equals(d.CID()))

	_, err = CIDForKey("invoices/abc/invoice.toml")
	require.ErrorIs(t, err, storage.ErrInvalidKey)

	_, err = CIDForKey("")
	require.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestStore_RoundTripWithKubo(t *testing.T) {
	if _, err := exec.LookPath("ipfs"); err != nil {
		t.Skip("ipfs binary not on PATH")
	}
	repo := t.TempDir()
	initCmd := exec.Command("ipfs", "init", "--profile=test")
	initCmd.Env = append(initCmd.Environ(), "IPFS_PATH="+repo)
	if out, err := initCmd.CombinedOutput(); err != nil {
		t.Skipf("ipfs init failed: %v: %s", err, out)
	}

	s := open("ipfs", repo)
	ctx := context.Background()
	content := "stored as a raw block"
	key := "parcels/" + digest.Sum([]byte(content)).String()

	require.NoError(t, s.Put(ctx, key, strings.NewReader(content)))
	err := s.Put(ctx, key, strings.NewReader(content))
	require.True(t, storage.IsExists(err), "got %v", err)

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	wrong := "parcels/" + digest.Sum([]byte("other")).String()
	require.Error(t, s.Put(ctx, wrong, strings.NewReader(content)))
	ok, err = s.Exists(ctx, wrong)
	require.NoError(t, err)
	require.False(t, ok)
}

// fakeKubo stands in for the ipfs CLI. It keeps blocks as files named by CID,
// answers block put with $FAKE_IPFS_CID, and logs every put to puts.
const fakeKubo = `#!/bin/sh
for last; do :; done
case "$1 $2" in
"block stat")
	[ -f "$FAKE_IPFS_DIR/$last" ] && exit 0
	echo "Error: block not found locally" >&2
	exit 1 ;;
"block put")
	echo "$last" >> "$FAKE_IPFS_DIR/puts"
	cp "$last" "$FAKE_IPFS_DIR/$FAKE_IPFS_CID"
	echo "$FAKE_IPFS_CID" ;;
"block get")
	cat "$FAKE_IPFS_DIR/$last" 2>/dev/null && exit 0
	echo "Error: block not found locally" >&2
	exit 1 ;;
esac
exit 2
`

type fakeRepo struct {
	dir     string
	staging string
	store   *Store
}

func newFakeRepo(t *testing.T, want digest.Digest) fakeRepo {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ipfs binary is a shell script")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "ipfs")
	require.NoError(t, os.WriteFile(bin, []byte(fakeKubo), 0o755))
	blocks := filepath.Join(dir, "blocks")
	require.NoError(t, os.Mkdir(blocks, 0o755))
	staging := filepath.Join(dir, "staging")
	require.NoError(t, os.Mkdir(staging, 0o755))

	s := New(Options{
		Bin:     bin,
		Env:     append(os.Environ(), "FAKE_IPFS_DIR="+blocks, "FAKE_IPFS_CID="+want.CID().String()),
		TempDir: staging,
	})
	return fakeRepo{dir: blocks, staging: staging, store: s}
}

func (f fakeRepo) requireNoPut(t *testing.T) {
	t.Helper()
	_, err := os.Stat(filepath.Join(f.dir, "puts"))
	require.True(t, os.IsNotExist(err), "block put ran: %v", err)
	f.requireStagingEmpty(t)
}

func (f fakeRepo) requireStagingEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.staging)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestStore_PutsVerifiedContent(t *testing.T) {
	content := "verified block"
	want := digest.Sum([]byte(content))
	f := newFakeRepo(t, want)
	ctx := context.Background()
	key := "parcels/" + want.String()

	require.NoError(t, f.store.Put(ctx, key, strings.NewReader(content)))
	f.requireStagingEmpty(t)

	ok, err := f.store.Exists(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	rc, err := f.store.Get(ctx, key)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, content, string(got))

	err = f.store.Put(ctx, key, strings.NewReader(content))
	require.True(t, storage.IsExists(err), "got %v", err)
}

func TestStore_MismatchedContentNeverReachesRepo(t *testing.T) {
	want := digest.Sum([]byte("declared"))
	key := "parcels/" + want.String()
	ctx := context.Background()

	t.Run("PlainReader", func(t *testing.T) {
		f := newFakeRepo(t, want)
		require.Error(t, f.store.Put(ctx, key, strings.NewReader("something else")))
		f.requireNoPut(t)
	})

	t.Run("VerifyingReader", func(t *testing.T) {
		f := newFakeRepo(t, want)
		src := digest.NewReader(ctx, strings.NewReader("something else"), want)
		require.Error(t, f.store.Put(ctx, key, src))
		f.requireNoPut(t)
	})

	t.Run("SourceError", func(t *testing.T) {
		f := newFakeRepo(t, want)
		boom := errors.New("connection reset")
		src := io.MultiReader(strings.NewReader("decl"), errReader{boom})
		require.ErrorIs(t, f.store.Put(ctx, key, src), boom)
		f.requireNoPut(t)
	})

	t.Run("Cancelled", func(t *testing.T) {
		f := newFakeRepo(t, want)
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		src := &cancelOnRead{r: strings.NewReader("declared"), cancel: cancel}
		require.Error(t, f.store.Put(cctx, key, src))
		f.requireNoPut(t)
	})
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

// cancelOnRead cancels its context on the first read, after the existence
// check has already run.
type cancelOnRead struct {
	r      io.Reader
	cancel context.CancelFunc
}

func (c *cancelOnRead) Read(p []byte) (int, error) {
	c.cancel()
	return c.r.Read(p)
}
