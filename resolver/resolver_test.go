package resolver

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/errs"
	"github.com/nitishm/bindle/invoice"
	"github.com/nitishm/bindle/invoicestore"
	"github.com/nitishm/bindle/invoicestore/objectrepo"
	"github.com/nitishm/bindle/invoicestore/storetest"
	"github.com/nitishm/bindle/parcel"
	"github.com/nitishm/bindle/storage/memory"
)

type fixture struct {
	invoices *invoicestore.Store
	parcels  *parcel.Store
	resolver *Resolver
}

func newFixture(t *testing.T, concurrency int) fixture {
	t.Helper()
	objects := memory.New()
	ps, err := parcel.New(objects, parcel.Options{})
	require.NoError(t, err)
	t.Cleanup(ps.Close)
	is := invoicestore.New(objectrepo.New(objects), nil)
	return fixture{invoices: is, parcels: ps, resolver: New(is, ps, concurrency)}
}

func (f fixture) upload(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, f.parcels.Put(context.Background(), digest.Sum([]byte(content)), bytes.NewReader([]byte(content))))
}

func names(labels []invoice.Label) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = l.Name
	}
	return out
}

func TestResolveReportsMissingInDeclaredOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	contents := []string{"p0", "p1", "p2", "p3", "p4", "p5"}
	inv := storetest.Invoice("example.com/order/1.0.0", contents...)
	_, _, err := f.invoices.Create(ctx, inv)
	require.NoError(t, err)

	missing, err := f.resolver.Resolve(ctx, inv.ID())
	require.NoError(t, err)
	require.Equal(t, []string{"p0.txt", "p1.txt", "p2.txt", "p3.txt", "p4.txt", "p5.txt"}, names(missing))

	f.upload(t, "p1")
	f.upload(t, "p4")
	missing, err = f.resolver.Resolve(ctx, inv.ID())
	require.NoError(t, err)
	require.Equal(t, []string{"p0.txt", "p2.txt", "p3.txt", "p5.txt"}, names(missing))

	for _, c := range contents {
		f.upload(t, c)
	}
	missing, err = f.resolver.Resolve(ctx, inv.ID())
	require.NoError(t, err)
	require.NotNil(t, missing)
	require.Empty(t, missing)
}

func TestResolveEmptyInvoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	inv := storetest.Invoice("empty/1.0.0")
	_, _, err := f.invoices.Create(ctx, inv)
	require.NoError(t, err)

	missing, err := f.resolver.Resolve(ctx, inv.ID())
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestResolveUnknownOrYanked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	_, err := f.resolver.Resolve(ctx, invoice.BundleID{Name: "never", Version: "1.0.0"})
	require.True(t, errs.IsKind(err, errs.KindInvoiceNotFound), "got %v", err)

	inv := storetest.Invoice("yanked/1.0.0", "a")
	_, _, err = f.invoices.Create(ctx, inv)
	require.NoError(t, err)
	require.NoError(t, f.invoices.SetYanked(ctx, inv.ID()))
	_, err = f.resolver.Resolve(ctx, inv.ID())
	require.True(t, errs.IsKind(err, errs.KindInvoiceNotFound), "got %v", err)
}

func TestResolveOrderIndependentOfCompletion(t *testing.T) {
	ctx := context.Background()
	inv := storetest.Invoice("jitter/1.0.0", "a", "b", "c", "d", "e", "f", "g", "h")
	src := staticSource{inv: inv}
	prober := &jitterProber{present: map[digest.Digest]bool{digest.Sum([]byte("c")): true}}

	missing, err := New(src, prober, 8).Resolve(ctx, inv.ID())
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "b.txt", "d.txt", "e.txt", "f.txt", "g.txt", "h.txt"}, names(missing))
}

func TestResolvePropagatesProbeFailure(t *testing.T) {
	ctx := context.Background()
	inv := storetest.Invoice("broken/1.0.0", "a", "b")
	boom := errs.Wrap(errs.KindStorage, "parcel.exists", "probe failed", errors.New("io"))

	_, err := New(staticSource{inv: inv}, failingProber{err: boom}, 1).Resolve(ctx, inv.ID())
	require.True(t, errs.IsKind(err, errs.KindStorage), "got %v", err)
}

type staticSource struct{ inv *invoice.Invoice }

func (s staticSource) Get(_ context.Context, id invoice.BundleID) (*invoice.Invoice, error) {
	if id != s.inv.ID() {
		return nil, errs.ErrInvoiceNotFound
	}
	return s.inv, nil
}

type jitterProber struct {
	mu      sync.Mutex
	present map[digest.Digest]bool
}

func (j *jitterProber) Exists(ctx context.Context, d digest.Digest) (bool, error) {
	time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.present[d], nil
}

type failingProber struct{ err error }

func (f failingProber) Exists(context.Context, digest.Digest) (bool, error) { return false, f.err }
