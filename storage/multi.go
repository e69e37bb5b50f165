package storage

import (
	"context"
	"errors"
	"io"
)

// MultiStore provides deterministic, ordered fallback across several stores.
//
// Read order is the slice order in Stores; callers MUST supply a fixed order.
// Put writes only to the first store.
type MultiStore struct {
	Stores []ObjectStore
}

var _ ObjectStore = MultiStore{}

func (m MultiStore) Put(ctx context.Context, key string, r io.Reader) error {
	if len(m.Stores) == 0 {
		return errors.New("storage: MultiStore has no stores")
	}
	return m.Stores[0].Put(ctx, key, r)
}

func (m MultiStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	for _, s := range m.Stores {
		rc, err := s.Get(ctx, key)
		if err == nil {
			return rc, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrNotFound
}

func (m MultiStore) Exists(ctx context.Context, key string) (bool, error) {
	for _, s := range m.Stores {
		ok, err := s.Exists(ctx, key)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
