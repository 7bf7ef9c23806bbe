package transport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/nodecore/blockorganizer/internal/transport/jsoncodec"
)

func init() {
	encoding.RegisterCodec(jsoncodec.Codec{})
}

// ServiceName is the name gRPC clients dial against. There is no .proto
// package to derive it from, so it follows the teacher's
// <domain>.v1.<Service> convention by hand.
const ServiceName = "blockorganizer.v1.Organizer"

// ServiceDesc is the hand-written equivalent of a generated
// _Organizer_serviceDesc: the blockinsight7000-proto module this core
// would otherwise generate stubs from is unavailable here (SPEC_FULL.md
// §6), and grpc's ServiceDesc/Codec types are public exactly so a service
// can be registered without them.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrganizerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Organize", Handler: organizeHandler},
		{MethodName: "OrganizeTransaction", Handler: organizeTransactionHandler},
		{MethodName: "FetchBlock", Handler: fetchBlockHandler},
		{MethodName: "FetchLastHeight", Handler: fetchLastHeightHandler},
		{MethodName: "FetchBlockLocator", Handler: fetchBlockLocatorHandler},
		{MethodName: "FetchHistory", Handler: fetchHistoryHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "blockorganizer/v1/organizer.proto",
}

// RegisterOrganizerServer registers srv against the server's ServiceDesc,
// the hand-written analogue of a generated RegisterXServer function.
func RegisterOrganizerServer(s grpc.ServiceRegistrar, srv OrganizerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func organizeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(OrganizeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrganizerServer).Organize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/Organize", ServiceName)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OrganizerServer).Organize(ctx, req.(*OrganizeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func organizeTransactionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(OrganizeTransactionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrganizerServer).OrganizeTransaction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/OrganizeTransaction", ServiceName)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OrganizerServer).OrganizeTransaction(ctx, req.(*OrganizeTransactionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func fetchBlockHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(FetchBlockRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrganizerServer).FetchBlock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/FetchBlock", ServiceName)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OrganizerServer).FetchBlock(ctx, req.(*FetchBlockRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func fetchLastHeightHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(struct{})
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrganizerServer).FetchLastHeight(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/FetchLastHeight", ServiceName)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OrganizerServer).FetchLastHeight(ctx, req.(*struct{}))
	}
	return interceptor(ctx, in, info, handler)
}

func fetchBlockLocatorHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(FetchBlockLocatorRequest)
	if err := dec(in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if interceptor == nil {
		return srv.(OrganizerServer).FetchBlockLocator(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/FetchBlockLocator", ServiceName)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OrganizerServer).FetchBlockLocator(ctx, req.(*FetchBlockLocatorRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func fetchHistoryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(FetchHistoryRequest)
	if err := dec(in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if interceptor == nil {
		return srv.(OrganizerServer).FetchHistory(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/FetchHistory", ServiceName)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OrganizerServer).FetchHistory(ctx, req.(*FetchHistoryRequest))
	}
	return interceptor(ctx, in, info, handler)
}
