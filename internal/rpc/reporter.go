// Package rpc describes the Reporter gRPC service. Payloads use the protobuf well-known
// Struct and Empty types, so no generated code is involved.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ReporterService = "beacon.v1.Reporter"
	ReportMethod    = "/beacon.v1.Reporter/Report"
)

// ReporterServer accepts one report per call. The Struct carries the same keys as the
// HTTP report body.
type ReporterServer interface {
	Report(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error)
}

var ReporterServiceDesc = grpc.ServiceDesc{
	ServiceName: ReporterService,
	HandlerType: (*ReporterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Report", Handler: reportHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "beacon/v1/reporter.proto",
}

func RegisterReporterServer(s grpc.ServiceRegistrar, srv ReporterServer) {
	s.RegisterService(&ReporterServiceDesc, srv)
}

func reportHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReporterServer).Report(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ReportMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReporterServer).Report(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type ReporterClient struct {
	cc grpc.ClientConnInterface
}

func NewReporterClient(cc grpc.ClientConnInterface) *ReporterClient {
	return &ReporterClient{cc: cc}
}

func (c *ReporterClient) Report(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, ReportMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
