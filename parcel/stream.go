package parcel

import (
	"context"
	"errors"
	"io"
	"sync"
)

var ErrStreamClosed = errors.New("parcel: stream closed")

// Stream yields a parcel's bytes as a sequence of chunks. It is pulled by the
// consumer, consumed once, and must be closed.
type Stream struct {
	mu     sync.Mutex
	rc     io.ReadCloser
	size   int
	done   bool
	closed bool
}

func newStream(rc io.ReadCloser, chunkSize int) *Stream {
	return &Stream{rc: rc, size: chunkSize}
}

// Next returns the next chunk, or io.EOF once the parcel is exhausted. The
// returned slice is owned by the caller.
func (s *Stream) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf := make([]byte, s.size)
	n, err := io.ReadFull(s.rc, buf)
	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
		return buf[:n], nil
	case errors.Is(err, io.EOF):
		s.done = true
		return nil, io.EOF
	default:
		return nil, err
	}
}

// Close releases the underlying reader. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.rc.Close()
}

// ReadAll drains the stream into memory and closes it.
func ReadAll(ctx context.Context, s *Stream) ([]byte, error) {
	defer s.Close()
	var out []byte
	for {
		chunk, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
}

// Copy writes the remaining chunks to w and closes the stream.
func (s *Stream) Copy(ctx context.Context, w io.Writer) (int64, error) {
	defer s.Close()
	var n int64
	for {
		chunk, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		m, err := w.Write(chunk)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
}
