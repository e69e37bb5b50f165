// Package storetest runs the invoice store's behavioural suite against any
// Repository implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/errs"
	"github.com/nitishm/bindle/invoice"
	"github.com/nitishm/bindle/invoicestore"
)

// NewRepo returns a fresh, empty repository.
type NewRepo func(t *testing.T) invoicestore.Repository

// Invoice builds a valid invoice for id with one parcel per content string.
func Invoice(id string, contents ...string) *invoice.Invoice {
	bid, err := invoice.ParseID(id)
	if err != nil {
		panic(err)
	}
	inv := invoice.New(bid)
	for _, c := range contents {
		inv.Parcels = append(inv.Parcels, invoice.Parcel{Label: invoice.Label{
			SHA256:    digest.Sum([]byte(c)).String(),
			MediaType: "text/plain",
			Name:      c + ".txt",
			Size:      uint64(len(c)),
		}})
	}
	return inv
}

func Run(t *testing.T, newRepo NewRepo) {
	t.Helper()
	ctx := context.Background()

	t.Run("RepositoryInsertOnce", func(t *testing.T) {
		repo := newRepo(t)
		inv := Invoice("example.com/repo/1.0.0", "a")
		fp, err := invoice.Fingerprint(inv)
		require.NoError(t, err)

		require.NoError(t, repo.Insert(ctx, invoicestore.Record{Invoice: inv, Fingerprint: fp}))
		err = repo.Insert(ctx, invoicestore.Record{Invoice: inv, Fingerprint: fp})
		require.True(t, errors.Is(err, invoicestore.ErrRecordExists), "got %v", err)

		rec, err := repo.Load(ctx, inv.ID())
		require.NoError(t, err)
		require.Equal(t, fp, rec.Fingerprint)
		require.False(t, rec.Yanked)

		require.NoError(t, repo.MarkYanked(ctx, inv.ID()))
		require.NoError(t, repo.MarkYanked(ctx, inv.ID()))
		rec, err = repo.Load(ctx, inv.ID())
		require.NoError(t, err)
		require.True(t, rec.Yanked)

		missing := invoice.BundleID{Name: "nope", Version: "1.0.0"}
		_, err = repo.Load(ctx, missing)
		require.True(t, errors.Is(err, invoicestore.ErrRecordNotFound), "got %v", err)
		err = repo.MarkYanked(ctx, missing)
		require.True(t, errors.Is(err, invoicestore.ErrRecordNotFound), "got %v", err)
	})

	t.Run("CreateThenGet", func(t *testing.T) {
		s := invoicestore.New(newRepo(t), nil)
		inv := Invoice("example.com/weather/0.1.0", "wasm", "css")

		stored, created, err := s.Create(ctx, inv)
		require.NoError(t, err)
		require.True(t, created)
		require.Equal(t, inv.Labels(), stored.Labels())

		got, err := s.Get(ctx, inv.ID())
		require.NoError(t, err)
		require.Equal(t, inv.Labels(), got.Labels())
		require.False(t, got.Yanked)
	})

	t.Run("IdenticalCreateIsIdempotent", func(t *testing.T) {
		s := invoicestore.New(newRepo(t), nil)
		_, created, err := s.Create(ctx, Invoice("dup/1.0.0", "a", "b"))
		require.NoError(t, err)
		require.True(t, created)

		stored, created, err := s.Create(ctx, Invoice("dup/1.0.0", "a", "b"))
		require.NoError(t, err)
		require.False(t, created)
		require.Len(t, stored.Parcels, 2)
	})

	t.Run("DifferentContentConflicts", func(t *testing.T) {
		s := invoicestore.New(newRepo(t), nil)
		_, _, err := s.Create(ctx, Invoice("dup/1.0.0", "a"))
		require.NoError(t, err)

		_, _, err = s.Create(ctx, Invoice("dup/1.0.0", "b"))
		require.True(t, errs.IsKind(err, errs.KindConflict), "got %v", err)

		got, err := s.Get(ctx, invoice.BundleID{Name: "dup", Version: "1.0.0"})
		require.NoError(t, err)
		require.Equal(t, digest.Sum([]byte("a")).String(), got.Parcels[0].Label.SHA256)
	})

	t.Run("InputYankedFlagIsCleared", func(t *testing.T) {
		s := invoicestore.New(newRepo(t), nil)
		inv := Invoice("pre/yanked/1.0.0", "a")
		inv.Yanked = true

		stored, _, err := s.Create(ctx, inv)
		require.NoError(t, err)
		require.False(t, stored.Yanked)
		_, err = s.Get(ctx, inv.ID())
		require.NoError(t, err)
	})

	t.Run("YankHidesInvoice", func(t *testing.T) {
		s := invoicestore.New(newRepo(t), nil)
		y := invoicestore.NewYankController(s, nil)
		inv := Invoice("yank/me/1.0.0", "a")
		_, _, err := s.Create(ctx, inv)
		require.NoError(t, err)

		require.NoError(t, y.Yank(ctx, inv.ID()))
		_, err = s.Get(ctx, inv.ID())
		require.True(t, errs.IsKind(err, errs.KindInvoiceNotFound), "got %v", err)
		require.ErrorIs(t, err, errs.ErrInvoiceNotFound)

		require.NoError(t, y.Yank(ctx, inv.ID()), "yank must be idempotent")

		_, _, err = s.Create(ctx, Invoice("yank/me/1.0.0", "a"))
		require.True(t, errs.IsKind(err, errs.KindConflict), "got %v", err)
	})

	t.Run("YankIsAtomicForConcurrentReaders", func(t *testing.T) {
		s := invoicestore.New(newRepo(t), nil)
		y := invoicestore.NewYankController(s, nil)
		inv := Invoice("yank/raced/1.0.0", "a", "b")
		_, _, err := s.Create(ctx, inv)
		require.NoError(t, err)

		const readers, reads = 8, 200
		var (
			returned atomic.Bool
			mu       sync.Mutex
			failures []string
			start    = make(chan struct{})
			wg       sync.WaitGroup
		)
		fail := func(format string, args ...any) {
			mu.Lock()
			failures = append(failures, fmt.Sprintf(format, args...))
			mu.Unlock()
		}
		for r := 0; r < readers; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				hidden := false
				for i := 0; i < reads; i++ {
					after := returned.Load()
					got, err := s.Get(ctx, inv.ID())
					switch {
					case err == nil:
						if after {
							fail("read %d saw the invoice after Yank returned", i)
						}
						if hidden {
							fail("read %d saw the invoice reappear", i)
						}
						if got.ID() != inv.ID() || len(got.Parcels) != len(inv.Parcels) {
							fail("read %d saw a partial invoice %+v", i, got)
						}
					case errs.IsKind(err, errs.KindInvoiceNotFound):
						hidden = true
					default:
						fail("read %d: %v", i, err)
					}
				}
			}()
		}

		close(start)
		require.NoError(t, y.Yank(ctx, inv.ID()))
		returned.Store(true)
		wg.Wait()

		require.Empty(t, failures)
		_, err = s.Get(ctx, inv.ID())
		require.True(t, errs.IsKind(err, errs.KindInvoiceNotFound), "got %v", err)
	})

	t.Run("UnknownIDs", func(t *testing.T) {
		s := invoicestore.New(newRepo(t), nil)
		id := invoice.BundleID{Name: "never", Version: "1.0.0"}
		_, err := s.Get(ctx, id)
		require.True(t, errs.IsKind(err, errs.KindInvoiceNotFound), "got %v", err)
		err = s.SetYanked(ctx, id)
		require.True(t, errs.IsKind(err, errs.KindInvoiceNotFound), "got %v", err)
	})

	t.Run("InvalidInvoiceRejected", func(t *testing.T) {
		s := invoicestore.New(newRepo(t), nil)
		inv := Invoice("bad/1.0.0", "a")
		inv.Parcels[0].Label.SHA256 = "not-a-digest"
		_, _, err := s.Create(ctx, inv)
		require.True(t, errs.IsKind(err, errs.KindValidation), "got %v", err)
		_, err = s.Get(ctx, inv.ID())
		require.True(t, errs.IsKind(err, errs.KindInvoiceNotFound), "got %v", err)
	})

	t.Run("ConcurrentCreatesOneWinner", func(t *testing.T) {
		s := invoicestore.New(newRepo(t), nil)
		const n = 8
		var wg sync.WaitGroup
		type result struct {
			created bool
			err     error
		}
		results := make([]result, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				content := "same"
				if i%2 == 1 {
					content = "other"
				}
				_, created, err := s.Create(ctx, Invoice("race/1.0.0", content))
				results[i] = result{created, err}
			}()
		}
		wg.Wait()

		winners := 0
		for _, r := range results {
			if r.created {
				winners++
			}
			if r.err != nil {
				require.True(t, errs.IsKind(r.err, errs.KindConflict), "got %v", r.err)
			}
		}
		require.Equal(t, 1, winners)
	})
}
