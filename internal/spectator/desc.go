package spectator

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully-qualified gRPC service name.
	ServiceName = "arena.v1.Spectator"
	// LeaderboardMethod is the full method path of the unary leaderboard call.
	LeaderboardMethod = "/" + ServiceName + "/Leaderboard"
	// StreamStateMethod is the full method path of the state stream.
	StreamStateMethod = "/" + ServiceName + "/StreamState"
)

// SpectatorServer is the server API for the spectator service. Messages are protobuf
// well-known types so no generated code is required.
type SpectatorServer interface {
	Leaderboard(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StreamState(*emptypb.Empty, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
}

// ServiceDesc describes the spectator service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SpectatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Leaderboard", Handler: leaderboardHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamState", Handler: streamStateHandler, ServerStreams: true},
	},
	Metadata: "arena/v1/spectator.proto",
}

// RegisterSpectatorServer attaches srv to the registrar.
func RegisterSpectatorServer(registrar grpc.ServiceRegistrar, srv SpectatorServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

func leaderboardHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SpectatorServer).Leaderboard(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: LeaderboardMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SpectatorServer).Leaderboard(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func streamStateHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SpectatorServer).StreamState(in, &grpc.GenericServerStream[emptypb.Empty, wrapperspb.BytesValue]{ServerStream: stream})
}

// Client calls the spectator service over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Leaderboard fetches the ranked active players.
func (c *Client) Leaderboard(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, LeaderboardMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamState opens the compressed state stream.
func (c *Client) StreamState(ctx context.Context, opts ...grpc.CallOption) (grpc.ServerStreamingClient[wrapperspb.BytesValue], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], StreamStateMethod, opts...)
	if err != nil {
		return nil, err
	}
	client := &grpc.GenericClientStream[emptypb.Empty, wrapperspb.BytesValue]{ClientStream: stream}
	if err := client.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := client.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return client, nil
}
