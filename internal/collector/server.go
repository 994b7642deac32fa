package collector

import (
	"context"
	"errors"

	"github.com/metorial/beacon/internal/rpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server is the gRPC face of the Ingestor.
type Server struct {
	ingest *Ingestor
}

var _ rpc.ReporterServer = (*Server)(nil)

func NewServer(ingest *Ingestor) *Server {
	return &Server{ingest: ingest}
}

func (s *Server) Report(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var source string
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		source = p.Addr.String()
	}

	req, err := decodeReportMap(in.AsMap(), source)
	if err == nil {
		err = s.ingest.Ingest(ctx, req)
	}

	var verr *ValidationError
	switch {
	case err == nil:
		return &emptypb.Empty{}, nil
	case errors.As(err, &verr):
		return nil, status.Error(codes.InvalidArgument, verr.Error())
	case errors.Is(err, ErrUnauthorized):
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	default:
		return nil, status.Error(codes.Internal, "internal server error")
	}
}
