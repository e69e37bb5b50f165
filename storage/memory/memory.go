// Package memory is an in-process ObjectStore, used by tests and by servers
// started without persistent storage.
package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/nitishm/bindle/storage"
)

// Store keeps objects in a map. Staged bytes are buffered privately per Put
// and only published once the source is exhausted cleanly.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ storage.ObjectStore = (*Store)(nil)

func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	if err := storage.CheckKey(key); err != nil {
		return err
	}
	if ok, _ := s.Exists(ctx, key); ok {
		return storage.ErrExists
	}

	var staged bytes.Buffer
	if _, err := io.Copy(&staged, r); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; ok {
		return storage.ErrExists
	}
	s.objects[key] = staged.Bytes()
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := storage.CheckKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	b, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := storage.CheckKey(key); err != nil {
		return false, err
	}
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	return ok, nil
}

// Len returns the number of committed objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
