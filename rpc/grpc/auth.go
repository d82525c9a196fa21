package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/blockberries/nodegate/auth"
	"github.com/blockberries/nodegate/metrics"
	"github.com/blockberries/nodegate/rpc"
)

// Authenticator runs the gate's token check on every incoming call and
// stores the resulting principal in the call context. Role checks happen
// later, per method, in the dispatcher.
type Authenticator struct {
	dispatcher *rpc.Dispatcher
}

// NewAuthenticator creates an authenticator backed by d's gate.
func NewAuthenticator(d *rpc.Dispatcher) *Authenticator {
	return &Authenticator{dispatcher: d}
}

// UnaryInterceptor returns a unary server interceptor for authentication.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := a.authenticate(ctx)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a stream server interceptor for authentication.
func (a *Authenticator) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := a.authenticate(ss.Context())
		if err != nil {
			return err
		}
		return handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
	}
}

func (a *Authenticator) authenticate(ctx context.Context) (context.Context, error) {
	p, err := a.dispatcher.Authenticate(metrics.TransportGRPC, auth.FromGRPCContext(ctx))
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, rpc.ToError(err).Message)
	}
	return auth.NewContext(ctx, p), nil
}

// contextStream overrides the context of a server stream.
type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context {
	return s.ctx
}
