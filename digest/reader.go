package digest

import (
	"context"
	"hash"
	"io"

	"github.com/nitishm/bindle/errs"
)

// Reader passes bytes through from an underlying reader while hashing them.
//
// When the underlying reader reaches EOF, Reader compares the digest of
// everything it has seen with the expected digest. On a match it reports
// io.EOF; on a mismatch it reports a DigestMismatch error instead. A consumer
// that only commits after a clean EOF therefore never commits bad content.
//
// Reader also checks its context before every read, so cancelling the context
// aborts the transfer with the context's error. Errors are sticky.
type Reader struct {
	ctx  context.Context
	r    io.Reader
	h    hash.Hash
	want Digest
	n    int64
	err  error
}

// NewReader returns a verifying Reader over r expecting want.
func NewReader(ctx context.Context, r io.Reader, want Digest) *Reader {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Reader{ctx: ctx, r: r, h: NewHash(), want: want}
}

func (v *Reader) Read(p []byte) (int, error) {
	if v.err != nil {
		return 0, v.err
	}
	if err := v.ctx.Err(); err != nil {
		v.err = err
		return 0, err
	}

	n, err := v.r.Read(p)
	if n > 0 {
		_, _ = v.h.Write(p[:n])
		v.n += int64(n)
	}
	switch {
	case err == io.EOF:
		if got := FromHash(v.h); got != v.want {
			v.err = errs.Newf(errs.KindDigestMismatch, "digest.verify",
				"content hashes to %s, declared %s", got, v.want)
			return n, v.err
		}
		v.err = io.EOF
	case err != nil:
		v.err = err
	}
	return n, err
}

// Size returns the number of bytes read so far.
func (v *Reader) Size() int64 { return v.n }

// Verified reports whether the stream has been fully read and matched.
func (v *Reader) Verified() bool { return v.err == io.EOF }
