// Package storage defines the object-store contract the parcel and invoice
// stores are built on, plus combinators over several stores.
//
// Drivers live in subpackages (localfs, memory, gcs, ipfs) and register
// themselves with storage/registry.
package storage

import (
	"context"
	"io"
)

// ObjectStore is a minimal put/get/exists key-value store for immutable
// objects.
//
// Contract:
//   - Put MUST stage the bytes and make the object visible under key only after
//     r has been read to io.EOF without error. On any read or write error,
//     including context cancellation, nothing may remain visible under key.
//   - Put MUST NOT replace an existing object. It returns ErrExists and leaves
//     the stored object untouched.
//   - Get MUST return ErrNotFound when key is absent. The caller closes the
//     returned reader.
//   - Exists MUST NOT read the object's content.
//   - Keys are slash-separated relative paths of [a-z0-9._-] segments.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
}
