// Package parcel is the content-addressed blob store. Every parcel is stored
// once under its SHA-256 digest and only after its bytes have been verified
// against that digest.
package parcel

import (
	"context"
	"errors"
	"io"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/errs"
	"github.com/nitishm/bindle/internal/keylock"
	"github.com/nitishm/bindle/internal/logger"
	"github.com/nitishm/bindle/storage"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultChunkSize    = 64 * 1024
	DefaultCacheEntries = 100_000
)

// Key returns the object-store key of a parcel.
func Key(d digest.Digest) string { return "parcels/" + d.String() }

// Options tunes a Store. The zero value is usable.
type Options struct {
	// ChunkSize bounds the size of each chunk a Stream yields.
	ChunkSize int
	// CacheEntries sizes the positive existence cache. Negative disables it.
	CacheEntries int64
	Logger       *logger.Logger
}

// Store writes and reads parcels through an ObjectStore.
//
// Puts are serialized per digest. Positive existence answers are cached;
// parcels are never deleted here, so a cached answer never goes stale.
type Store struct {
	objects   storage.ObjectStore
	locks     keylock.Map
	cache     *ristretto.Cache[string, struct{}]
	probes    singleflight.Group
	chunkSize int
	log       *logger.Logger
}

// New returns a Store over objects. Call Close to release the cache.
func New(objects storage.ObjectStore, opts Options) (*Store, error) {
	if objects == nil {
		return nil, errors.New("parcel: object store is required")
	}
	s := &Store{objects: objects, chunkSize: opts.ChunkSize, log: opts.Logger}
	if s.chunkSize <= 0 {
		s.chunkSize = DefaultChunkSize
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.log = s.log.With("component", "parcel")

	entries := opts.CacheEntries
	if entries == 0 {
		entries = DefaultCacheEntries
	}
	if entries > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
			NumCounters: entries * 10,
			MaxCost:     entries,
			BufferItems: 64,
			// Cost counts entries, not bytes.
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, err
		}
		s.cache = cache
	}
	return s, nil
}

// Close releases the existence cache.
func (s *Store) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

// Put stores the bytes of r under d.
//
// The bytes are verified while they are staged; a mismatch is reported as a
// DigestMismatch error and nothing becomes visible under any key. If d is
// already stored Put succeeds without reading r.
func (s *Store) Put(ctx context.Context, d digest.Digest, r io.Reader) error {
	const op = "parcel.put"
	unlock := s.locks.Lock(d.String())
	defer unlock()

	ok, err := s.Exists(ctx, d)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	vr := digest.NewReader(ctx, r, d)
	err = s.objects.Put(ctx, Key(d), vr)
	switch {
	case err == nil:
		s.remember(d)
		s.log.Info("parcel committed", "digest", d.String(), "size", vr.Size())
		return nil
	case storage.IsExists(err):
		// Committed concurrently by another process sharing the store.
		s.remember(d)
		return nil
	case errs.IsKind(err, errs.KindDigestMismatch):
		s.log.Warn("digest mismatch", "digest", d.String(), "size", vr.Size())
		var mismatch *errs.Error
		errors.As(err, &mismatch)
		return mismatch
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return errs.Wrap(errs.KindStorage, op, "writing parcel "+d.String(), err)
	}
}

// Get opens the parcel for chunked reading. Nothing is read until the first
// call to Stream.Next.
func (s *Store) Get(ctx context.Context, d digest.Digest) (*Stream, error) {
	const op = "parcel.get"
	rc, err := s.objects.Get(ctx, Key(d))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, errs.Newf(errs.KindNotFound, op, "parcel %s not found", d)
		}
		return nil, errs.Wrap(errs.KindStorage, op, "reading parcel "+d.String(), err)
	}
	s.remember(d)
	return newStream(rc, s.chunkSize), nil
}

// Exists reports whether d is stored. It never reads parcel content.
// Concurrent probes for the same digest share one backend call.
func (s *Store) Exists(ctx context.Context, d digest.Digest) (bool, error) {
	const op = "parcel.exists"
	key := Key(d)
	if s.cache != nil {
		if _, ok := s.cache.Get(key); ok {
			return true, nil
		}
	}

	ch := s.probes.DoChan(key, func() (any, error) {
		return s.objects.Exists(context.WithoutCancel(ctx), key)
	})
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return false, errs.Wrap(errs.KindStorage, op, "probing parcel "+d.String(), res.Err)
		}
		ok := res.Val.(bool)
		if ok {
			s.remember(d)
		}
		return ok, nil
	}
}

func (s *Store) remember(d digest.Digest) {
	if s.cache != nil {
		s.cache.Set(Key(d), struct{}{}, 1)
	}
}
