// Package invoicestore persists invoices, enforces their immutability, and
// owns the yanked flag and the visibility rule every read path goes through.
package invoicestore

import (
	"context"
	"errors"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/errs"
	"github.com/nitishm/bindle/internal/keylock"
	"github.com/nitishm/bindle/internal/logger"
	"github.com/nitishm/bindle/invoice"
)

// Store is the invoice store. Create and SetYanked for one id are serialized;
// different ids never contend.
type Store struct {
	repo  Repository
	locks keylock.Map
	log   *logger.Logger
}

func New(repo Repository, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{repo: repo, log: log.With("component", "invoicestore")}
}

// visible is the single predicate deciding whether a record may be served.
func visible(rec Record) bool { return !rec.Yanked }

// Create validates inv and persists it with the yanked flag cleared.
//
// If the id is already taken by identical content the call succeeds and
// created is false. Different content under the same id, or an id that has
// been yanked, is a Conflict.
func (s *Store) Create(ctx context.Context, inv *invoice.Invoice) (stored *invoice.Invoice, created bool, err error) {
	const op = "invoicestore.create"
	if err := inv.Validate(); err != nil {
		return nil, false, err
	}
	if err := invoice.VerifySignatures(inv); err != nil {
		return nil, false, err
	}
	c := inv.Clone()
	c.Yanked = false
	fp, err := invoice.Fingerprint(c)
	if err != nil {
		return nil, false, errs.Wrap(errs.KindValidation, op, "fingerprinting invoice", err)
	}
	id := c.ID()

	unlock := s.locks.Lock(id.String())
	defer unlock()

	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.repo.Load(ctx, id)
		switch {
		case err == nil:
			return s.compare(op, id, existing, fp)
		case !errors.Is(err, ErrRecordNotFound):
			return nil, false, errs.Wrap(errs.KindStorage, op, "loading "+id.String(), err)
		}

		err = s.repo.Insert(ctx, Record{Invoice: c, Fingerprint: fp})
		switch {
		case err == nil:
			s.log.Info("invoice created", "id", id.String(), "parcels", len(c.Parcels))
			return c.Clone(), true, nil
		case errors.Is(err, ErrRecordExists):
			// Another process inserted first; compare against its record.
			continue
		default:
			return nil, false, errs.Wrap(errs.KindStorage, op, "inserting "+id.String(), err)
		}
	}
	return nil, false, errs.Newf(errs.KindStorage, op, "record for %s neither loadable nor insertable", id)
}

func (s *Store) compare(op string, id invoice.BundleID, existing Record, fp digest.Digest) (*invoice.Invoice, bool, error) {
	if !visible(existing) {
		return nil, false, errs.Newf(errs.KindConflict, op, "invoice %s was yanked and cannot be recreated", id)
	}
	if existing.Fingerprint != fp {
		return nil, false, errs.Newf(errs.KindConflict, op, "invoice %s already exists with different content", id)
	}
	return existing.Invoice.Clone(), false, nil
}

// Get returns the invoice for id. Absent and yanked invoices are both
// reported as InvoiceNotFound.
func (s *Store) Get(ctx context.Context, id invoice.BundleID) (*invoice.Invoice, error) {
	const op = "invoicestore.get"
	rec, err := s.repo.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, notFound(op, id)
		}
		return nil, errs.Wrap(errs.KindStorage, op, "loading "+id.String(), err)
	}
	if !visible(rec) {
		return nil, notFound(op, id)
	}
	out := rec.Invoice.Clone()
	out.Yanked = false
	return out, nil
}

// SetYanked marks id yanked. Yanking twice succeeds; yanking an unknown id
// is InvoiceNotFound.
func (s *Store) SetYanked(ctx context.Context, id invoice.BundleID) error {
	const op = "invoicestore.set_yanked"
	unlock := s.locks.Lock(id.String())
	defer unlock()

	if err := s.repo.MarkYanked(ctx, id); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return notFound(op, id)
		}
		return errs.Wrap(errs.KindStorage, op, "yanking "+id.String(), err)
	}
	return nil
}

func notFound(op string, id invoice.BundleID) error {
	return errs.Newf(errs.KindInvoiceNotFound, op, "invoice %s not found", id)
}
