package daemon

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName = "xnail.daemon.v1.Daemon"

	pingMethod      = "/" + serviceName + "/Ping"
	statusMethod    = "/" + serviceName + "/Status"
	shutdownMethod  = "/" + serviceName + "/Shutdown"
	transformMethod = "/" + serviceName + "/Transform"
)

// daemonService is implemented by Server.
type daemonService interface {
	ping(ctx context.Context, req *pingRequest) (*pingResponse, error)
	status(ctx context.Context, req *statusRequest) (*statusResponse, error)
	shutdown(ctx context.Context, req *shutdownRequest) (*shutdownResponse, error)
	transform(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*daemonService)(nil),
	Methods: []grpc.MethodDesc{
		unary("Ping", daemonService.ping),
		unary("Status", daemonService.status),
		unary("Shutdown", daemonService.shutdown),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Transform",
			ServerStreams: true,
			ClientStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(daemonService).transform(stream)
			},
		},
	},
	Metadata: "xnail/daemon/v1/daemon.proto",
}

// unary adapts a typed method to a gRPC unary handler.
func unary[Req, Resp any, PReq interface {
	*Req
	wireMessage
}](
	name string,
	call func(daemonService, context.Context, PReq) (*Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(daemonService)
			if interceptor == nil {
				return call(svc, ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + serviceName + "/" + name,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(svc, ctx, req.(PReq))
			})
		},
	}
}
