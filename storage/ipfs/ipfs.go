// Package ipfs stores parcels as raw blocks in a local IPFS repository.
package ipfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/storage"
)

// Store is an ObjectStore backed by the local Kubo "ipfs" CLI.
//
// Only content-addressed keys are accepted: the last key segment must be a
// SHA-256 digest in hex, which maps to a CIDv1 raw block. Invoice keys are
// rejected, so this driver is configured for parcels only.
//
// Properties:
// - Offline: operates on the local IPFS repo; does not require an IPFS daemon.
// - Self-verifying: content is staged in a temp file and hashed first; the
//   block is put only when it matches the key's digest, so an aborted or
//   mismatched upload never reaches the IPFS repo under any CID.
//
// Note: this package shells out to the local Kubo CLI; it does not embed a
// network client.
type Store struct {
	bin    string
	env    []string
	tmpDir string
}

var _ storage.ObjectStore = (*Store)(nil)

type Options struct {
	// Bin is the path to the ipfs binary. If empty, "ipfs" is used.
	Bin string
	// Env optionally overrides the command environment (e.g. to set IPFS_PATH).
	// If nil, the process environment is used.
	Env []string
	// TempDir holds staged uploads. If empty, os.TempDir is used.
	TempDir string
}

func New(opts Options) *Store {
	bin := opts.Bin
	if bin == "" {
		bin = "ipfs"
	}
	return &Store{bin: bin, env: opts.Env, tmpDir: opts.TempDir}
}

// CIDForKey maps a digest-terminated key to the CIDv1 raw block holding it.
func CIDForKey(key string) (cid.Cid, error) {
	if err := storage.CheckKey(key); err != nil {
		return cid.Undef, err
	}
	d, err := digest.Parse(path.Base(key))
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: ipfs keys must end in a sha256 digest: %q", storage.ErrInvalidKey, key)
	}
	return d.CID(), nil
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	want, err := CIDForKey(key)
	if err != nil {
		return err
	}
	ok, err := s.has(ctx, want)
	if err != nil {
		return err
	}
	if ok {
		return storage.ErrExists
	}

	staged, err := s.stage(ctx, r, want)
	if err != nil {
		return err
	}
	defer os.Remove(staged)

	// Store as a raw block with explicit parameters so the CID matches
	// digest.CID.
	out, err := s.run(ctx, nil,
		"block", "put",
		"--quiet",
		"--format=raw",
		"--mhtype=sha2-256",
		"--mhlen=32",
		"--cid-version=1",
		staged,
	)
	if err != nil {
		return err
	}

	got, err := cid.Decode(strings.TrimSpace(string(out)))
	if err != nil {
		return fmt.Errorf("ipfs: unexpected block put output: %w", err)
	}
	if !got.Equals(want) {
		return fmt.Errorf("ipfs: block put produced %s, want %s", got, want)
	}
	return nil
}

// stage copies r into a temp file and checks it hashes to want. The file is
// removed again on any error.
func (s *Store) stage(ctx context.Context, r io.Reader, want cid.Cid) (name string, err error) {
	f, err := os.CreateTemp(s.tmpDir, "bindle-ipfs-*")
	if err != nil {
		return "", err
	}
	name = f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(name)
		}
	}()

	h := digest.NewHash()
	if _, err = io.Copy(io.MultiWriter(f, h), r); err != nil {
		return "", err
	}
	if err = ctx.Err(); err != nil {
		return "", err
	}
	if err = f.Close(); err != nil {
		return "", err
	}
	wantDigest, err := digest.FromCID(want)
	if err != nil {
		return "", err
	}
	if got := digest.FromHash(h); got != wantDigest {
		return "", fmt.Errorf("ipfs: content hashes to %s, key wants %s", got, wantDigest)
	}
	return name, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	id, err := CIDForKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.run(ctx, nil, "block", "get", id.String())
	if err != nil {
		if isLikelyNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	want, _ := digest.FromCID(id)
	if digest.Sum(out) != want {
		return nil, fmt.Errorf("ipfs: block %s does not match its digest", id)
	}
	return io.NopCloser(bytes.NewReader(out)), nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	id, err := CIDForKey(key)
	if err != nil {
		return false, err
	}
	return s.has(ctx, id)
}

func (s *Store) has(ctx context.Context, id cid.Cid) (bool, error) {
	_, err := s.run(ctx, nil, "block", "stat", "--offline", id.String())
	if err == nil {
		return true, nil
	}
	if isLikelyNotFound(err) {
		return false, nil
	}
	return false, err
}

func (s *Store) run(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.bin, args...)
	if s.env != nil {
		cmd.Env = s.env
	}
	if stdin != nil {
		cmd.Stdin = stdin
	}

	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		msg := strings.TrimSpace(string(ee.Stderr))
		if msg == "" {
			return nil, fmt.Errorf("ipfs: %v", err)
		}
		return nil, fmt.Errorf("ipfs: %s", msg)
	}
	return nil, err
}

func isLikelyNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "no such block")
}
