package invoicestore

import (
	"context"
	"errors"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/invoice"
)

// Repository errors. Implementations return these exact values (optionally
// wrapped) so the Store can tell a lost race from a storage failure.
var (
	ErrRecordExists   = errors.New("invoicestore: record exists")
	ErrRecordNotFound = errors.New("invoicestore: record not found")
)

// Record is one persisted invoice.
type Record struct {
	Invoice     *invoice.Invoice
	Fingerprint digest.Digest
	Yanked      bool
}

// Repository persists invoice records. Each method must be atomic with
// respect to concurrent callers in other processes.
type Repository interface {
	// Insert persists rec unless a record with the same id exists, in which
	// case it returns ErrRecordExists and changes nothing.
	Insert(ctx context.Context, rec Record) error
	// Load returns the record for id, or ErrRecordNotFound.
	Load(ctx context.Context, id invoice.BundleID) (Record, error)
	// MarkYanked sets the yanked flag in a single write. It is idempotent and
	// returns ErrRecordNotFound for an unknown id.
	MarkYanked(ctx context.Context, id invoice.BundleID) error
}
