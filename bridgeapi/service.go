package bridgeapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "oambridge.BridgeService"

const (
	MethodPing                           = "Ping"
	MethodCaptureMetric                  = "CaptureMetric"
	MethodCaptureMetrics                 = "CaptureMetrics"
	MethodMergeTopologyGraph             = "MergeTopologyGraph"
	MethodMergeRemoteTopologyGraph       = "MergeRemoteTopologyGraph"
	MethodProcessNotification            = "ProcessNotification"
	MethodProcessTaskReport              = "ProcessTaskReport"
	MethodShareSubscriptionSummaryReport = "ShareSubscriptionSummaryReport"
)

// FullMethod returns the gRPC path of a method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// BridgeServer is implemented by the receiving side.
type BridgeServer interface {
	Ping(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CaptureMetric(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CaptureMetrics(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MergeTopologyGraph(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MergeRemoteTopologyGraph(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProcessNotification(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProcessTaskReport(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ShareSubscriptionSummaryReport(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(BridgeServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BridgeServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(BridgeServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes BridgeService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		handler(MethodPing, BridgeServer.Ping),
		handler(MethodCaptureMetric, BridgeServer.CaptureMetric),
		handler(MethodCaptureMetrics, BridgeServer.CaptureMetrics),
		handler(MethodMergeTopologyGraph, BridgeServer.MergeTopologyGraph),
		handler(MethodMergeRemoteTopologyGraph, BridgeServer.MergeRemoteTopologyGraph),
		handler(MethodProcessNotification, BridgeServer.ProcessNotification),
		handler(MethodProcessTaskReport, BridgeServer.ProcessTaskReport),
		handler(MethodShareSubscriptionSummaryReport, BridgeServer.ShareSubscriptionSummaryReport),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "oambridge/bridge.proto",
}

// RegisterBridgeServer registers srv with s.
func RegisterBridgeServer(s grpc.ServiceRegistrar, srv BridgeServer) {
	s.RegisterService(&ServiceDesc, srv)
}
