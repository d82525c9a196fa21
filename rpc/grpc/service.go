package grpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "nodegate.NodeStatus"

// Full method names, as seen by interceptors.
const (
	FullMethodCall  = "/" + ServiceName + "/Call"
	FullMethodWatch = "/" + ServiceName + "/Watch"
)

// CallRequest runs one table method. Params holds the JSON encoding of the
// method's parameters, as an object or a positional array.
type CallRequest struct {
	Method string `cramberry:"1"`
	Params []byte `cramberry:"2"`
}

// CallResponse carries the JSON encoding of the method result.
type CallResponse struct {
	Result []byte `cramberry:"1"`
}

// WatchRequest opens a stream that re-runs Method whenever the chain tip or
// node flags change.
type WatchRequest struct {
	Method string `cramberry:"1"`
	Params []byte `cramberry:"2"`
}

// WatchResponse is one streamed result. A method failure is delivered in
// ErrorCode and ErrorMessage and does not end the stream.
type WatchResponse struct {
	Result       []byte `cramberry:"1"`
	ErrorCode    int64  `cramberry:"2"`
	ErrorMessage string `cramberry:"3"`
}

func (r *WatchResponse) equal(other *WatchResponse) bool {
	return other != nil &&
		string(r.Result) == string(other.Result) &&
		r.ErrorCode == other.ErrorCode &&
		r.ErrorMessage == other.ErrorMessage
}

// NodeStatusServer is the service implemented by Server.
type NodeStatusServer interface {
	Call(context.Context, *CallRequest) (*CallResponse, error)
	Watch(*WatchRequest, WatchStream) error
}

// WatchStream is the server side of a Watch call.
type WatchStream interface {
	Send(*WatchResponse) error
	Context() context.Context
}

// RegisterNodeStatusServer registers srv on s. The descriptor is written by
// hand because messages are cramberry structs, not generated protobufs.
func RegisterNodeStatusServer(s grpc.ServiceRegistrar, srv NodeStatusServer) {
	s.RegisterService(&nodeStatusServiceDesc, srv)
}

var nodeStatusServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NodeStatusServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Call",
			Handler:    callHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "nodegate.cram",
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CallRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeStatusServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: FullMethodCall,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(NodeStatusServer).Call(ctx, req.(*CallRequest))
	}
	return interceptor(ctx, in, info, handler)
}

type watchStream struct {
	grpc.ServerStream
}

func (s *watchStream) Send(resp *WatchResponse) error {
	return s.ServerStream.SendMsg(resp)
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(NodeStatusServer).Watch(in, &watchStream{stream})
}
