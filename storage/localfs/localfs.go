package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/nitishm/bindle/storage"
)

const (
	objectsDir = "objects"
	stagingDir = "staging"
)

// Store is a local filesystem-backed ObjectStore.
//
// Objects are written to a private file under <root>/staging, synced, and then
// hard-linked into <root>/objects/<key>. The link fails if the key already
// exists, so a committed object is never replaced, and the object appears
// atomically or not at all.
type Store struct {
	root string
}

var _ storage.ObjectStore = (*Store)(nil)

// New constructs a filesystem store rooted at root. Directories are created
// if needed and stale staging files from an earlier crash are removed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	for _, dir := range []string{root, filepath.Join(root, objectsDir), filepath.Join(root, stagingDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("localfs: creating %s: %w", dir, err)
		}
	}
	s := &Store{root: root}
	if err := s.clearStaging(); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the directory the store was opened on.
func (s *Store) Root() string { return s.root }

func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	if err := storage.CheckKey(key); err != nil {
		return err
	}
	path := s.pathFor(key)
	if _, err := os.Lstat(path); err == nil {
		return storage.ErrExists
	}

	staged, err := s.stage(ctx, r)
	if err != nil {
		return err
	}
	defer os.Remove(staged)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.Link(staged, path); err != nil {
		if os.IsExist(err) {
			return storage.ErrExists
		}
		return err
	}
	return nil
}

// stage copies r into a new staging file and returns its path. The file is
// removed again on any error.
func (s *Store) stage(ctx context.Context, r io.Reader) (path string, err error) {
	path = filepath.Join(s.root, stagingDir, uuid.NewString())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(path)
		}
	}()

	if _, err = io.Copy(f, r); err != nil {
		return "", err
	}
	if err = ctx.Err(); err != nil {
		return "", err
	}
	if err = f.Sync(); err != nil {
		return "", err
	}
	if err = f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := storage.CheckKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := storage.CheckKey(key); err != nil {
		return false, err
	}
	_, err := os.Stat(s.pathFor(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *Store) pathFor(key string) string {
	return filepath.Join(s.root, objectsDir, filepath.FromSlash(key))
}

func (s *Store) clearStaging() error {
	dir := filepath.Join(s.root, stagingDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("localfs: clearing staging: %w", err)
		}
	}
	return nil
}
