package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// BindleServer is the server API for the Bindle gRPC service.
//
// Messages are protobuf well-known types so this package does not require a
// protoc/codegen toolchain. Invoices and response documents travel as TOML
// inside BytesValue; ids and parcel references travel as StringValue.
//
// Proto definition: bindle.proto.
type BindleServer interface {
	CreateInvoice(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	GetInvoice(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	YankInvoice(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	GetMissingParcels(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	// CreateParcel receives content chunks. The target is named by the
	// bindle-id and bindle-digest request metadata.
	CreateParcel(grpc.ClientStreamingServer[wrapperspb.BytesValue, emptypb.Empty]) error
	// GetParcel streams the chunks of "<name>/<version>@<sha256>".
	GetParcel(*wrapperspb.StringValue, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
}

// UnimplementedBindleServer can be embedded to have forward compatible implementations.
type UnimplementedBindleServer struct{}

func (UnimplementedBindleServer) CreateInvoice(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateInvoice not implemented")
}
func (UnimplementedBindleServer) GetInvoice(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method GetInvoice not implemented")
}
func (UnimplementedBindleServer) YankInvoice(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method YankInvoice not implemented")
}
func (UnimplementedBindleServer) GetMissingParcels(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method GetMissingParcels not implemented")
}
func (UnimplementedBindleServer) CreateParcel(grpc.ClientStreamingServer[wrapperspb.BytesValue, emptypb.Empty]) error {
	return status.Error(codes.Unimplemented, "method CreateParcel not implemented")
}
func (UnimplementedBindleServer) GetParcel(*wrapperspb.StringValue, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	return status.Error(codes.Unimplemented, "method GetParcel not implemented")
}

// RegisterBindleServer registers the Bindle service on a gRPC server.
func RegisterBindleServer(s grpc.ServiceRegistrar, srv BindleServer) {
	s.RegisterService(&Bindle_ServiceDesc, srv)
}

// BindleClient is the client API for the Bindle gRPC service.
type BindleClient interface {
	CreateInvoice(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	GetInvoice(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	YankInvoice(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	GetMissingParcels(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	CreateParcel(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[wrapperspb.BytesValue, emptypb.Empty], error)
	GetParcel(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (grpc.ServerStreamingClient[wrapperspb.BytesValue], error)
}

const (
	serviceName = "bindle.v1.Bindle"

	methodCreateInvoice     = "/" + serviceName + "/CreateInvoice"
	methodGetInvoice        = "/" + serviceName + "/GetInvoice"
	methodYankInvoice       = "/" + serviceName + "/YankInvoice"
	methodGetMissingParcels = "/" + serviceName + "/GetMissingParcels"
	methodCreateParcel      = "/" + serviceName + "/CreateParcel"
	methodGetParcel         = "/" + serviceName + "/GetParcel"
)

type bindleClient struct{ cc grpc.ClientConnInterface }

func NewBindleClient(cc grpc.ClientConnInterface) BindleClient { return &bindleClient{cc: cc} }

func (c *bindleClient) CreateInvoice(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, methodCreateInvoice, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bindleClient) GetInvoice(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, methodGetInvoice, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bindleClient) YankInvoice(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, methodYankInvoice, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bindleClient) GetMissingParcels(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, methodGetMissingParcels, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bindleClient) CreateParcel(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[wrapperspb.BytesValue, emptypb.Empty], error) {
	stream, err := c.cc.NewStream(ctx, &Bindle_ServiceDesc.Streams[0], methodCreateParcel, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[wrapperspb.BytesValue, emptypb.Empty]{ClientStream: stream}, nil
}

func (c *bindleClient) GetParcel(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (grpc.ServerStreamingClient[wrapperspb.BytesValue], error) {
	stream, err := c.cc.NewStream(ctx, &Bindle_ServiceDesc.Streams[1], methodGetParcel, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[wrapperspb.StringValue, wrapperspb.BytesValue]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func _Bindle_CreateInvoice_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BindleServer).CreateInvoice(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCreateInvoice}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BindleServer).CreateInvoice(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Bindle_GetInvoice_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BindleServer).GetInvoice(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetInvoice}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BindleServer).GetInvoice(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Bindle_YankInvoice_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BindleServer).YankInvoice(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodYankInvoice}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BindleServer).YankInvoice(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Bindle_GetMissingParcels_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BindleServer).GetMissingParcels(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetMissingParcels}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BindleServer).GetMissingParcels(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Bindle_CreateParcel_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(BindleServer).CreateParcel(&grpc.GenericServerStream[wrapperspb.BytesValue, emptypb.Empty]{ServerStream: stream})
}

func _Bindle_GetParcel_Handler(srv interface{}, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BindleServer).GetParcel(in, &grpc.GenericServerStream[wrapperspb.StringValue, wrapperspb.BytesValue]{ServerStream: stream})
}

// Bindle_ServiceDesc is the grpc.ServiceDesc for Bindle service.
var Bindle_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BindleServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateInvoice", Handler: _Bindle_CreateInvoice_Handler},
		{MethodName: "GetInvoice", Handler: _Bindle_GetInvoice_Handler},
		{MethodName: "YankInvoice", Handler: _Bindle_YankInvoice_Handler},
		{MethodName: "GetMissingParcels", Handler: _Bindle_GetMissingParcels_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "CreateParcel", Handler: _Bindle_CreateParcel_Handler, ClientStreams: true},
		{StreamName: "GetParcel", Handler: _Bindle_GetParcel_Handler, ServerStreams: true},
	},
	Metadata: "bindle.proto",
}
