// Package transport holds the documents and helpers shared by the gRPC and
// HTTP front ends.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/errs"
	"github.com/nitishm/bindle/invoice"
	"github.com/nitishm/bindle/parcel"
	"github.com/nitishm/bindle/service"
)

// Bundles is the service surface the transports expose. *service.Service
// implements it.
type Bundles interface {
	CreateInvoice(ctx context.Context, inv *invoice.Invoice) (*service.CreateResult, error)
	GetInvoice(ctx context.Context, id invoice.BundleID) (*invoice.Invoice, error)
	YankInvoice(ctx context.Context, id invoice.BundleID) error
	GetMissingParcels(ctx context.Context, id invoice.BundleID) ([]invoice.Label, error)
	CreateParcel(ctx context.Context, id invoice.BundleID, d digest.Digest, r io.Reader) error
	GetParcelStream(ctx context.Context, id invoice.BundleID, d digest.Digest) (*parcel.Stream, invoice.Label, error)
}

var _ Bundles = (*service.Service)(nil)

// CreateResponse is returned by invoice creation.
type CreateResponse struct {
	Created bool             `toml:"created"`
	Invoice *invoice.Invoice `toml:"invoice"`
	Missing []invoice.Label  `toml:"missing,omitempty"`
}

// MissingResponse lists the labels whose parcels are not stored yet.
type MissingResponse struct {
	Missing []invoice.Label `toml:"missing"`
}

func EncodeTOML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeTOML decodes a response document. Malformed input is a Validation
// error.
func DecodeTOML(r io.Reader, v any) error {
	if err := toml.NewDecoder(r).Decode(v); err != nil {
		return errs.Wrap(errs.KindValidation, "transport.decode", "malformed document", err)
	}
	return nil
}

// ParcelRef names one parcel of one bundle: "<name>/<version>@<sha256>".
type ParcelRef struct {
	ID     invoice.BundleID
	Digest digest.Digest
}

func (r ParcelRef) String() string { return r.ID.String() + "@" + r.Digest.String() }

func ParseParcelRef(s string) (ParcelRef, error) {
	i := strings.LastIndexByte(s, '@')
	if i < 0 {
		return ParcelRef{}, errs.Newf(errs.KindValidation, "transport.parcelref", "missing '@' in %q", s)
	}
	id, err := invoice.ParseID(s[:i])
	if err != nil {
		return ParcelRef{}, err
	}
	d, err := digest.Parse(s[i+1:])
	if err != nil {
		return ParcelRef{}, errs.Wrap(errs.KindValidation, "transport.parcelref", fmt.Sprintf("invalid digest in %q", s), err)
	}
	return ParcelRef{ID: id, Digest: d}, nil
}
