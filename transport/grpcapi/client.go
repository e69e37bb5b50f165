package grpcapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/errs"
	"github.com/nitishm/bindle/invoice"
	"github.com/nitishm/bindle/service"
	"github.com/nitishm/bindle/transport"
)

// DefaultChunkSize is the size of CreateParcel messages.
const DefaultChunkSize = 64 << 10

// Client talks to a Bindle gRPC server. It satisfies the Source and Sink
// interfaces of the standalone package.
type Client struct {
	cc     *grpc.ClientConn
	client BindleClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
	// RetryFor bounds how long idempotent calls are retried while the server
	// is Unavailable. Zero disables retries.
	RetryFor  time.Duration
	ChunkSize int
}

type DialOptions struct {
	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int
	Timeout     time.Duration
	RetryFor    time.Duration
	ChunkSize   int
}

// Dial creates a client for target. The connection is established lazily.
// Extra options are appended after the defaults, so they may replace the
// insecure transport credentials.
func Dial(target string, opts DialOptions, extra ...grpc.DialOption) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}
	dialOpts = append(dialOpts, extra...)

	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	return &Client{
		cc:        cc,
		client:    NewBindleClient(cc),
		Timeout:   opts.Timeout,
		RetryFor:  opts.RetryFor,
		ChunkSize: chunk,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}

// retry runs op until it succeeds, fails with anything other than
// Unavailable, or RetryFor elapses.
func (c *Client) retry(ctx context.Context, op func(ctx context.Context) error) error {
	call := func() error {
		cctx, cancel := c.ctx(ctx)
		defer cancel()
		return op(cctx)
	}
	if c.RetryFor <= 0 {
		return call()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = c.RetryFor
	return backoff.Retry(func() error {
		err := call()
		if err == nil || status.Code(err) == codes.Unavailable {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}

// CreateInvoice uploads inv. Invoice creation is idempotent, so it is
// retried like a read.
func (c *Client) CreateInvoice(ctx context.Context, inv *invoice.Invoice) (*service.CreateResult, error) {
	const op = "grpcapi.create_invoice"
	b, err := invoice.Marshal(inv)
	if err != nil {
		return nil, err
	}
	var reply *wrapperspb.BytesValue
	err = c.retry(ctx, func(ctx context.Context) error {
		reply, err = c.client.CreateInvoice(ctx, wrapperspb.Bytes(b))
		return err
	})
	if err != nil {
		return nil, mapRPC(op, err)
	}
	var resp transport.CreateResponse
	if err := transport.DecodeTOML(bytes.NewReader(reply.GetValue()), &resp); err != nil {
		return nil, err
	}
	return &service.CreateResult{Invoice: resp.Invoice, Missing: resp.Missing, Created: resp.Created}, nil
}

func (c *Client) GetInvoice(ctx context.Context, id invoice.BundleID) (*invoice.Invoice, error) {
	const op = "grpcapi.get_invoice"
	var reply *wrapperspb.BytesValue
	err := c.retry(ctx, func(ctx context.Context) (err error) {
		reply, err = c.client.GetInvoice(ctx, wrapperspb.String(id.String()))
		return err
	})
	if err != nil {
		return nil, mapRPC(op, err)
	}
	return invoice.Unmarshal(reply.GetValue())
}

func (c *Client) YankInvoice(ctx context.Context, id invoice.BundleID) error {
	err := c.retry(ctx, func(ctx context.Context) error {
		_, err := c.client.YankInvoice(ctx, wrapperspb.String(id.String()))
		return err
	})
	return mapRPC("grpcapi.yank_invoice", err)
}

func (c *Client) GetMissingParcels(ctx context.Context, id invoice.BundleID) ([]invoice.Label, error) {
	const op = "grpcapi.get_missing_parcels"
	var reply *wrapperspb.BytesValue
	err := c.retry(ctx, func(ctx context.Context) (err error) {
		reply, err = c.client.GetMissingParcels(ctx, wrapperspb.String(id.String()))
		return err
	})
	if err != nil {
		return nil, mapRPC(op, err)
	}
	var resp transport.MissingResponse
	if err := transport.DecodeTOML(bytes.NewReader(reply.GetValue()), &resp); err != nil {
		return nil, err
	}
	if resp.Missing == nil {
		resp.Missing = []invoice.Label{}
	}
	return resp.Missing, nil
}

// CreateParcel streams r to the server. A read error on r aborts the upload
// and nothing is stored.
func (c *Client) CreateParcel(ctx context.Context, id invoice.BundleID, d digest.Digest, r io.Reader) error {
	const op = "grpcapi.create_parcel"
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, MDBundleID, id.String(), MDDigest, d.String())

	stream, err := c.client.CreateParcel(ctx)
	if err != nil {
		return mapRPC(op, err)
	}
	buf := make([]byte, c.chunkSize())
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if err := stream.Send(wrapperspb.Bytes(buf[:n])); err != nil {
				if errors.Is(err, io.EOF) {
					// The server finished early; its status is in CloseAndRecv.
					break
				}
				return mapRPC(op, err)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	_, err = stream.CloseAndRecv()
	return mapRPC(op, err)
}

func (c *Client) chunkSize() int {
	if c.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return c.ChunkSize
}

// GetParcel returns the whole parcel. The content is verified against d.
func (c *Client) GetParcel(ctx context.Context, id invoice.BundleID, d digest.Digest) ([]byte, error) {
	var out []byte
	err := c.retry(ctx, func(ctx context.Context) error {
		var buf bytes.Buffer
		if _, err := c.getParcel(ctx, id, d, &buf); err != nil {
			return err
		}
		out = buf.Bytes()
		return nil
	})
	if err != nil {
		return nil, mapRPC("grpcapi.get_parcel", err)
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// GetParcelTo streams the parcel into w and returns the number of bytes
// written. It is not retried since w may have been partially written.
func (c *Client) GetParcelTo(ctx context.Context, id invoice.BundleID, d digest.Digest, w io.Writer) (int64, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	n, err := c.getParcel(ctx, id, d, w)
	return n, mapRPC("grpcapi.get_parcel", err)
}

func (c *Client) getParcel(ctx context.Context, id invoice.BundleID, d digest.Digest, w io.Writer) (int64, error) {
	ref := transport.ParcelRef{ID: id, Digest: d}
	stream, err := c.client.GetParcel(ctx, wrapperspb.String(ref.String()))
	if err != nil {
		return 0, err
	}
	h := digest.NewHash()
	mw := io.MultiWriter(w, h)
	var n int64
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, err
		}
		m, err := mw.Write(msg.GetValue())
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	if got := digest.FromHash(h); got != d {
		return n, errs.Newf(errs.KindDigestMismatch, "grpcapi.get_parcel", "received %s, want %s", got, d)
	}
	return n, nil
}

// CreateInvoiceFromFile uploads the TOML invoice at path.
func (c *Client) CreateInvoiceFromFile(ctx context.Context, path string) (*service.CreateResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	inv, err := invoice.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c.CreateInvoice(ctx, inv)
}

// CreateParcelFromFile hashes the file at path and uploads it as a parcel of
// id. It returns the digest it uploaded under.
func (c *Client) CreateParcelFromFile(ctx context.Context, id invoice.BundleID, path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return digest.Digest{}, err
	}
	defer f.Close()
	d, err := digest.Compute(f)
	if err != nil {
		return digest.Digest{}, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return digest.Digest{}, err
	}
	return d, c.CreateParcel(ctx, id, d, f)
}

// GetParcelToFile writes the parcel to path. The file only appears once the
// content has been verified.
func (c *Client) GetParcelToFile(ctx context.Context, id invoice.BundleID, d digest.Digest, path string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = c.GetParcelTo(ctx, id, d, tmp); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
