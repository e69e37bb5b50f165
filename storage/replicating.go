package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// NamedStore associates an ObjectStore with a stable backend name.
type NamedStore struct {
	Name  string
	Store ObjectStore
}

// ReplicatingStore writes every object to all backends.
//
// Put streams the source once, fanning it out to every backend through a
// pipe. If the source fails (for example because a verifying reader rejected
// the content) every backend sees the same error and discards its staged
// copy. A backend that already holds the key is treated as replicated.
// Reads fall back in order.
type ReplicatingStore struct {
	Backends []NamedStore
}

var _ ObjectStore = ReplicatingStore{}

func (r ReplicatingStore) Put(ctx context.Context, key string, src io.Reader) error {
	if len(r.Backends) == 0 {
		return errors.New("storage: ReplicatingStore has no backends")
	}
	for _, b := range r.Backends {
		if b.Store == nil {
			return fmt.Errorf("storage: nil store for backend %q", b.Name)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	writers := make([]*io.PipeWriter, len(r.Backends))
	existed := make([]bool, len(r.Backends))
	for i, b := range r.Backends {
		pr, pw := io.Pipe()
		writers[i] = pw
		g.Go(func() error {
			err := b.Store.Put(gctx, key, pr)
			// Unblock the fan-out if the backend stopped reading early.
			_ = pr.CloseWithError(errBackendDone)
			if IsExists(err) {
				existed[i] = true
				return nil
			}
			if err != nil {
				return fmt.Errorf("storage: backend %q: %w", b.Name, err)
			}
			return nil
		})
	}

	copyErr := fanOut(src, writers)
	for _, pw := range writers {
		if copyErr != nil {
			_ = pw.CloseWithError(copyErr)
		} else {
			_ = pw.Close()
		}
	}
	if err := g.Wait(); err != nil {
		if copyErr != nil {
			return copyErr
		}
		return err
	}
	if copyErr != nil {
		return copyErr
	}
	for _, ok := range existed {
		if !ok {
			return nil
		}
	}
	return ErrExists
}

var errBackendDone = errors.New("storage: backend finished")

// fanOut copies src to every writer whose backend is still reading.
func fanOut(src io.Reader, writers []*io.PipeWriter) error {
	buf := make([]byte, 32*1024)
	live := make([]bool, len(writers))
	for i := range live {
		live[i] = true
	}
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			for i, w := range writers {
				if !live[i] {
					continue
				}
				if _, werr := w.Write(buf[:n]); werr != nil {
					if errors.Is(werr, errBackendDone) {
						live[i] = false
						continue
					}
					return werr
				}
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func (r ReplicatingStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	for _, b := range r.Backends {
		if b.Store == nil {
			continue
		}
		rc, err := b.Store.Get(ctx, key)
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

func (r ReplicatingStore) Exists(ctx context.Context, key string) (bool, error) {
	for _, b := range r.Backends {
		if b.Store == nil {
			continue
		}
		ok, err := b.Store.Exists(ctx, key)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
