// Package resolver computes which parcels of an invoice are not yet stored.
package resolver

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/errs"
	"github.com/nitishm/bindle/invoice"
)

// DefaultConcurrency bounds the number of parcel probes in flight per call.
const DefaultConcurrency = 16

// InvoiceSource returns visible invoices. invoicestore.Store satisfies it.
type InvoiceSource interface {
	Get(ctx context.Context, id invoice.BundleID) (*invoice.Invoice, error)
}

// ParcelProber answers existence probes. parcel.Store satisfies it.
type ParcelProber interface {
	Exists(ctx context.Context, d digest.Digest) (bool, error)
}

type Resolver struct {
	invoices    InvoiceSource
	parcels     ParcelProber
	concurrency int
}

func New(invoices InvoiceSource, parcels ParcelProber, concurrency int) *Resolver {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Resolver{invoices: invoices, parcels: parcels, concurrency: concurrency}
}

// Resolve returns the labels of id whose parcels are absent, in the order the
// invoice declares them. An absent or yanked invoice is InvoiceNotFound.
//
// The answer is a snapshot: uploads racing with the call may or may not be
// reflected.
func (r *Resolver) Resolve(ctx context.Context, id invoice.BundleID) ([]invoice.Label, error) {
	const op = "resolver.resolve"
	inv, err := r.invoices.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	labels := inv.Labels()
	missing := make([]bool, len(labels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, l := range labels {
		g.Go(func() error {
			d, err := l.Digest()
			if err != nil {
				return errs.Wrap(errs.KindValidation, op, "stored label "+l.Name+" has an invalid digest", err)
			}
			ok, err := r.parcels.Exists(gctx, d)
			if err != nil {
				return err
			}
			missing[i] = !ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]invoice.Label, 0, len(labels))
	for i, l := range labels {
		if missing[i] {
			out = append(out, l)
		}
	}
	return out, nil
}
