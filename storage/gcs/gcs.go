// Package gcs is an ObjectStore over a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	objstore "github.com/nitishm/bindle/storage"
)

// Store writes each object once using a DoesNotExist precondition. An upload
// is aborted by cancelling its context, so GCS never finalizes a partial
// object.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
	owned  bool
}

var _ objstore.ObjectStore = (*Store)(nil)

type Options struct {
	Bucket string
	// Prefix is prepended to every key, e.g. "bindle/".
	Prefix string
	// Endpoint overrides the API endpoint (emulators). STORAGE_EMULATOR_HOST is
	// honoured by the client library as well.
	Endpoint string
	// Anonymous disables authentication, for emulators and public buckets.
	Anonymous bool
}

// Open creates a storage client and returns a Store that owns it.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}
	clientOpts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	if opts.Anonymous {
		clientOpts = append(clientOpts, option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: failed to create storage client: %w", err)
	}
	s := New(client, opts.Bucket, opts.Prefix)
	s.owned = true
	return s, nil
}

// New wraps an existing client. The caller keeps ownership of client.
func New(client *storage.Client, bucket, prefix string) *Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// Close releases the client if the Store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	if err := objstore.CheckKey(key); err != nil {
		return err
	}
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o := s.object(key).If(storage.Conditions{DoesNotExist: true})
	w := o.NewWriter(wctx)
	w.ContentType = "application/octet-stream"
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return err
	}
	if err := ctx.Err(); err != nil {
		cancel()
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return objstore.ErrExists
		}
		return fmt.Errorf("gcs: failed to write %q: %w", s.objectName(key), err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := objstore.CheckKey(key); err != nil {
		return nil, err
	}
	rc, err := s.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, objstore.ErrNotFound
		}
		return nil, fmt.Errorf("gcs: failed to read %q: %w", s.objectName(key), err)
	}
	return rc, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := objstore.CheckKey(key); err != nil {
		return false, err
	}
	_, err := s.object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("gcs: failed to stat %q: %w", s.objectName(key), err)
}

func (s *Store) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.objectName(key))
}

func (s *Store) objectName(key string) string {
	return path.Join(s.prefix, key)
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusPreconditionFailed
	}
	return false
}
