// Package service is the bundle service façade: the operations the
// transports expose, composed from the invoice store, the parcel store, the
// missing-parcel resolver, and the yank controller.
package service

import (
	"context"
	"errors"
	"io"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/errs"
	"github.com/nitishm/bindle/internal/logger"
	"github.com/nitishm/bindle/invoice"
	"github.com/nitishm/bindle/invoicestore"
	"github.com/nitishm/bindle/parcel"
	"github.com/nitishm/bindle/resolver"
)

// Options configures a Service. Zero values fall back to package defaults
// and a no-op logger.
type Options struct {
	// ProbeConcurrency bounds concurrent existence probes per missing-parcel
	// resolution.
	ProbeConcurrency int
	Logger           *logger.Logger
	// Retention is consulted after each yank. Nil keeps every parcel.
	Retention invoicestore.RetentionPolicy
}

// Service composes the stores behind the operations both transports expose.
// It is safe for concurrent use.
type Service struct {
	invoices *invoicestore.Store
	yank     *invoicestore.YankController
	parcels  *parcel.Store
	resolver *resolver.Resolver
	log      *logger.Logger
}

// New wires a Service from its stores. The yank controller and resolver are
// built here so every read path shares the invoice store's visibility rule.
func New(invoices *invoicestore.Store, parcels *parcel.Store, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	yank := invoicestore.NewYankController(invoices, log)
	yank.Retention = opts.Retention
	return &Service{
		invoices: invoices,
		yank:     yank,
		parcels:  parcels,
		resolver: resolver.New(invoices, parcels, opts.ProbeConcurrency),
		log:      log.With("component", "service"),
	}
}

// CreateResult is returned by CreateInvoice.
type CreateResult struct {
	Invoice *invoice.Invoice
	// Missing lists the labels whose parcels were not stored at the time of
	// creation, in declared order.
	Missing []invoice.Label
	// Created is false when an identical invoice already existed.
	Created bool
}

// CreateInvoice stores inv and reports which of its parcels still need
// uploading. Re-creating identical content is not an error.
func (s *Service) CreateInvoice(ctx context.Context, inv *invoice.Invoice) (*CreateResult, error) {
	stored, created, err := s.invoices.Create(ctx, inv)
	if err != nil {
		return nil, err
	}
	missing, err := s.resolver.Resolve(ctx, stored.ID())
	if err != nil {
		return nil, err
	}
	return &CreateResult{Invoice: stored, Missing: missing, Created: created}, nil
}

// GetInvoice returns a visible invoice; yanked and unknown ids are both
// InvoiceNotFound.
func (s *Service) GetInvoice(ctx context.Context, id invoice.BundleID) (*invoice.Invoice, error) {
	return s.invoices.Get(ctx, id)
}

// YankInvoice hides id from every read path. Yanking twice succeeds.
func (s *Service) YankInvoice(ctx context.Context, id invoice.BundleID) error {
	return s.yank.Yank(ctx, id)
}

// CreateParcel uploads the content of a parcel referenced by invoice id.
// A digest the invoice does not reference is a Validation error.
func (s *Service) CreateParcel(ctx context.Context, id invoice.BundleID, d digest.Digest, r io.Reader) error {
	const op = "service.create_parcel"
	inv, err := s.invoices.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, ok := inv.Label(d); !ok {
		s.log.Debug("parcel not referenced", "id", id.String(), "digest", d.String())
		return errs.Newf(errs.KindValidation, op, "parcel %s is not part of invoice %s", d, id)
	}
	return s.parcels.Put(ctx, d, r)
}

// GetParcel returns the whole parcel in memory. Prefer GetParcelStream for
// large parcels.
func (s *Service) GetParcel(ctx context.Context, id invoice.BundleID, d digest.Digest) ([]byte, error) {
	stream, _, err := s.GetParcelStream(ctx, id, d)
	if err != nil {
		return nil, err
	}
	b, err := parcel.ReadAll(ctx, stream)
	if err != nil {
		return nil, s.readError(d, err)
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

// GetParcelStream opens a parcel of a visible invoice for chunked reading
// and returns its label. The caller must close the stream.
func (s *Service) GetParcelStream(ctx context.Context, id invoice.BundleID, d digest.Digest) (*parcel.Stream, invoice.Label, error) {
	const op = "service.get_parcel"
	inv, err := s.invoices.Get(ctx, id)
	if err != nil {
		return nil, invoice.Label{}, err
	}
	label, ok := inv.Label(d)
	if !ok {
		return nil, invoice.Label{}, errs.Newf(errs.KindNotFound, op, "parcel %s is not part of invoice %s", d, id)
	}
	stream, err := s.parcels.Get(ctx, d)
	if err != nil {
		return nil, invoice.Label{}, err
	}
	return stream, label, nil
}

// GetMissingParcels lists the labels of id whose parcels are not stored.
func (s *Service) GetMissingParcels(ctx context.Context, id invoice.BundleID) ([]invoice.Label, error) {
	return s.resolver.Resolve(ctx, id)
}

func (s *Service) readError(d digest.Digest, err error) error {
	if errs.KindOf(err) != "" || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.log.Error("parcel read failed", "digest", d.String(), "error", err)
	return errs.Wrap(errs.KindStorage, "service.get_parcel", "reading parcel "+d.String(), err)
}
