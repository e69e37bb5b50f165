// Package grpcapi exposes the bundle service over gRPC and provides a client
// for it.
package grpcapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/nitishm/bindle/internal/logger"
	"github.com/nitishm/bindle/invoice"
	"github.com/nitishm/bindle/transport"
)

// Metadata keys.
const (
	MDBundleID  = "bindle-id"
	MDDigest    = "bindle-digest"
	MDSize      = "bindle-size"
	MDMediaType = "bindle-media-type"
)

// Server exposes Bundles over the Bindle gRPC service.
type Server struct {
	UnimplementedBindleServer
	Bundles transport.Bundles
	Logger  *logger.Logger
}

func (s *Server) log() *logger.Logger {
	if s.Logger == nil {
		return logger.Nop()
	}
	return s.Logger
}

// fail maps err to a status and logs errors that are the server's fault.
func (s *Server) fail(method string, err error) error {
	st := mapErr(err)
	if status.Code(st) == codes.Internal {
		s.log().Error("grpc request failed", "method", method, "error", err)
	}
	return st
}

func (s *Server) CreateInvoice(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Bundles == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing service")
	}
	inv, err := invoice.Unmarshal(in.GetValue())
	if err != nil {
		return nil, s.fail("CreateInvoice", err)
	}
	res, err := s.Bundles.CreateInvoice(ctx, inv)
	if err != nil {
		return nil, s.fail("CreateInvoice", err)
	}
	b, err := transport.EncodeTOML(transport.CreateResponse{Created: res.Created, Invoice: res.Invoice, Missing: res.Missing})
	if err != nil {
		return nil, s.fail("CreateInvoice", err)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) GetInvoice(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Bundles == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing service")
	}
	id, err := invoice.ParseID(in.GetValue())
	if err != nil {
		return nil, s.fail("GetInvoice", err)
	}
	inv, err := s.Bundles.GetInvoice(ctx, id)
	if err != nil {
		return nil, s.fail("GetInvoice", err)
	}
	b, err := invoice.Marshal(inv)
	if err != nil {
		return nil, s.fail("GetInvoice", err)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) YankInvoice(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if s == nil || s.Bundles == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing service")
	}
	id, err := invoice.ParseID(in.GetValue())
	if err != nil {
		return nil, s.fail("YankInvoice", err)
	}
	if err := s.Bundles.YankInvoice(ctx, id); err != nil {
		return nil, s.fail("YankInvoice", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) GetMissingParcels(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Bundles == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing service")
	}
	id, err := invoice.ParseID(in.GetValue())
	if err != nil {
		return nil, s.fail("GetMissingParcels", err)
	}
	missing, err := s.Bundles.GetMissingParcels(ctx, id)
	if err != nil {
		return nil, s.fail("GetMissingParcels", err)
	}
	b, err := transport.EncodeTOML(transport.MissingResponse{Missing: missing})
	if err != nil {
		return nil, s.fail("GetMissingParcels", err)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) CreateParcel(stream grpc.ClientStreamingServer[wrapperspb.BytesValue, emptypb.Empty]) error {
	if s == nil || s.Bundles == nil {
		return status.Error(codes.FailedPrecondition, "missing service")
	}
	ctx := stream.Context()
	md, _ := metadata.FromIncomingContext(ctx)
	ref, err := refFromMetadata(md)
	if err != nil {
		return s.fail("CreateParcel", err)
	}
	if err := s.Bundles.CreateParcel(ctx, ref.ID, ref.Digest, &chunkReader{recv: stream.Recv}); err != nil {
		return s.fail("CreateParcel", err)
	}
	return stream.SendAndClose(&emptypb.Empty{})
}

func refFromMetadata(md metadata.MD) (transport.ParcelRef, error) {
	first := func(key string) string {
		if v := md.Get(key); len(v) > 0 {
			return v[0]
		}
		return ""
	}
	return transport.ParseParcelRef(first(MDBundleID) + "@" + first(MDDigest))
}

func (s *Server) GetParcel(in *wrapperspb.StringValue, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	if s == nil || s.Bundles == nil {
		return status.Error(codes.FailedPrecondition, "missing service")
	}
	ctx := stream.Context()
	ref, err := transport.ParseParcelRef(in.GetValue())
	if err != nil {
		return s.fail("GetParcel", err)
	}
	ps, label, err := s.Bundles.GetParcelStream(ctx, ref.ID, ref.Digest)
	if err != nil {
		return s.fail("GetParcel", err)
	}
	defer ps.Close()

	if err := stream.SendHeader(metadata.Pairs(
		MDSize, strconv.FormatUint(label.Size, 10),
		MDMediaType, label.MediaType,
	)); err != nil {
		return err
	}
	for {
		chunk, err := ps.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return s.fail("GetParcel", err)
		}
		if err := stream.Send(wrapperspb.Bytes(chunk)); err != nil {
			return err
		}
	}
}

// chunkReader adapts a stream of BytesValue messages to an io.Reader.
type chunkReader struct {
	recv func() (*wrapperspb.BytesValue, error)
	buf  bytes.Reader
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for r.buf.Len() == 0 {
		msg, err := r.recv()
		if err != nil {
			return 0, err
		}
		r.buf.Reset(msg.GetValue())
	}
	return r.buf.Read(p)
}
