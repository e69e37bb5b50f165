// Package objectrepo keeps invoice records in an object store: the invoice
// as a TOML document, and the yanked flag as a separate put-once marker.
package objectrepo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/invoice"
	"github.com/nitishm/bindle/invoicestore"
	"github.com/nitishm/bindle/storage"
)

// Repo is an invoicestore.Repository over any storage.ObjectStore.
//
// Layout, where <h> is the SHA-256 of "name/version":
//
//	invoices/<h>/invoice.toml
//	invoices/<h>/yanked
//
// Neither object is ever replaced, so both writes are atomic under the
// object-store contract.
type Repo struct {
	objects storage.ObjectStore
	now     func() time.Time
}

var _ invoicestore.Repository = (*Repo)(nil)

func New(objects storage.ObjectStore) *Repo {
	return &Repo{objects: objects, now: time.Now}
}

func dir(id invoice.BundleID) string {
	return "invoices/" + digest.Sum([]byte(id.String())).String()
}

func invoiceKey(id invoice.BundleID) string { return dir(id) + "/invoice.toml" }

func yankKey(id invoice.BundleID) string { return dir(id) + "/yanked" }

func (r *Repo) Insert(ctx context.Context, rec invoicestore.Record) error {
	doc := rec.Invoice.Clone()
	doc.Yanked = false
	b, err := invoice.Marshal(doc)
	if err != nil {
		return fmt.Errorf("objectrepo: encoding %s: %w", doc.ID(), err)
	}
	err = r.objects.Put(ctx, invoiceKey(doc.ID()), bytes.NewReader(b))
	if storage.IsExists(err) {
		return invoicestore.ErrRecordExists
	}
	return err
}

func (r *Repo) Load(ctx context.Context, id invoice.BundleID) (invoicestore.Record, error) {
	rc, err := r.objects.Get(ctx, invoiceKey(id))
	if err != nil {
		if storage.IsNotFound(err) {
			return invoicestore.Record{}, invoicestore.ErrRecordNotFound
		}
		return invoicestore.Record{}, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return invoicestore.Record{}, err
	}
	inv, err := invoice.Unmarshal(b)
	if err != nil {
		return invoicestore.Record{}, fmt.Errorf("objectrepo: stored invoice %s is corrupt: %w", id, err)
	}
	if inv.ID() != id {
		return invoicestore.Record{}, fmt.Errorf("objectrepo: stored invoice under %s names %s", id, inv.ID())
	}
	fp, err := invoice.Fingerprint(inv)
	if err != nil {
		return invoicestore.Record{}, err
	}
	yanked, err := r.objects.Exists(ctx, yankKey(id))
	if err != nil {
		return invoicestore.Record{}, err
	}
	inv.Yanked = yanked
	return invoicestore.Record{Invoice: inv, Fingerprint: fp, Yanked: yanked}, nil
}

func (r *Repo) MarkYanked(ctx context.Context, id invoice.BundleID) error {
	ok, err := r.objects.Exists(ctx, invoiceKey(id))
	if err != nil {
		return err
	}
	if !ok {
		return invoicestore.ErrRecordNotFound
	}
	stamp := r.now().UTC().Format(time.RFC3339Nano)
	err = r.objects.Put(ctx, yankKey(id), strings.NewReader(stamp))
	if storage.IsExists(err) {
		return nil
	}
	return err
}
