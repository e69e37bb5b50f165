// Package testkit holds a conformance suite every storage.ObjectStore driver
// should pass.
package testkit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nitishm/bindle/storage"
)

// NewStore constructs a fresh, empty store for a test. The returned store
// MUST be isolated from other tests.
type NewStore func(t *testing.T) storage.ObjectStore

func RunConformance(t *testing.T, newStore NewStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		s := newStore(t)
		want := []byte("hello, bindle storage")

		require.NoError(t, s.Put(ctx, "parcels/roundtrip", bytes.NewReader(want)))
		require.Equal(t, want, readAll(t, s, "parcels/roundtrip"))
	})

	t.Run("PutNeverReplaces", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "k", strings.NewReader("first")))

		err := s.Put(ctx, "k", strings.NewReader("second"))
		require.True(t, storage.IsExists(err), "got %v", err)
		require.Equal(t, []byte("first"), readAll(t, s, "k"))
	})

	t.Run("ExistsAndNotFound", func(t *testing.T) {
		s := newStore(t)
		ok, err := s.Exists(ctx, "missing")
		require.NoError(t, err)
		require.False(t, ok)

		_, err = s.Get(ctx, "missing")
		require.True(t, storage.IsNotFound(err), "got %v", err)

		require.NoError(t, s.Put(ctx, "missing", strings.NewReader("now here")))
		ok, err = s.Exists(ctx, "missing")
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("FailedSourceLeavesNothing", func(t *testing.T) {
		s := newStore(t)
		boom := errors.New("source failed")
		src := io.MultiReader(strings.NewReader("partial"), failingReader{boom})

		err := s.Put(ctx, "aborted", src)
		require.ErrorIs(t, err, boom)

		ok, err := s.Exists(ctx, "aborted")
		require.NoError(t, err)
		require.False(t, ok)

		// The key is still free for a clean write.
		require.NoError(t, s.Put(ctx, "aborted", strings.NewReader("clean")))
		require.Equal(t, []byte("clean"), readAll(t, s, "aborted"))
	})

	t.Run("CancelledPutLeavesNothing", func(t *testing.T) {
		s := newStore(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := s.Put(cctx, "cancelled", cancelAwareReader{ctx: cctx})
		require.Error(t, err)

		ok, err := s.Exists(ctx, "cancelled")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("RejectInvalidKeys", func(t *testing.T) {
		s := newStore(t)
		for _, key := range []string{"", "/abs", "a/../b", "UPPER", "a//b"} {
			err := s.Put(ctx, key, strings.NewReader("x"))
			require.ErrorIs(t, err, storage.ErrInvalidKey, key)
		}
	})

	t.Run("ConcurrentPutsSameKey", func(t *testing.T) {
		s := newStore(t)
		const writers = 8
		var wg sync.WaitGroup
		results := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = s.Put(ctx, "shared", strings.NewReader("same content"))
			}()
		}
		wg.Wait()

		winners := 0
		for _, err := range results {
			if err == nil {
				winners++
				continue
			}
			require.True(t, storage.IsExists(err), "got %v", err)
		}
		// Replicating stores may let racing writers each fill a different
		// backend; the object is never replaced either way.
		require.NotZero(t, winners)
		require.Equal(t, []byte("same content"), readAll(t, s, "shared"))
	})
}

func readAll(t *testing.T, s storage.ObjectStore, key string) []byte {
	t.Helper()
	rc, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return b
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

type cancelAwareReader struct{ ctx context.Context }

func (c cancelAwareReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return copy(p, "data"), nil
}
