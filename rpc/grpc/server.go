// Package grpc exposes the gateway's method table over gRPC with a
// cramberry codec. Requests carry the same credentials as HTTP, as
// metadata, and are checked by the same gate.
package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	bapitypes "github.com/blockberries/bapi/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/blockberries/nodegate/auth"
	"github.com/blockberries/nodegate/events"
	"github.com/blockberries/nodegate/logging"
	"github.com/blockberries/nodegate/metrics"
	"github.com/blockberries/nodegate/rpc"
)

// Config contains configuration for the gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "0.0.0.0:9090").
	ListenAddr string

	// MaxRecvMsgSize is the maximum message size in bytes the server can receive.
	MaxRecvMsgSize int

	// MaxSendMsgSize is the maximum message size in bytes the server can send.
	MaxSendMsgSize int

	// MaxConcurrentStreams is the maximum number of concurrent streams per connection.
	MaxConcurrentStreams uint32

	// TLS enables TLS when set.
	TLS *TLSConfig

	// RateLimit contains rate limiting configuration.
	RateLimit RateLimitConfig
}

// TLSConfig contains TLS configuration.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// DefaultConfig returns defaults for the gRPC server.
func DefaultConfig() Config {
	return Config{
		ListenAddr:           "127.0.0.1:9090",
		MaxRecvMsgSize:       1 << 20,
		MaxSendMsgSize:       4 << 20,
		MaxConcurrentStreams: 100,
		RateLimit:            DefaultRateLimitConfig(),
	}
}

// Server serves NodeStatus over gRPC.
type Server struct {
	dispatcher *rpc.Dispatcher
	config     Config
	bus        *events.Bus
	logger     *logging.Logger
	metrics    metrics.Metrics

	grpcServer  *grpc.Server
	listener    net.Listener
	rateLimiter *RateLimiter
	running     atomic.Bool
	nextID      atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithEventBus sets the bus that drives Watch streams. Without one, a
// Watch stream delivers its first result only.
func WithEventBus(b *events.Bus) Option {
	return func(s *Server) {
		s.bus = b
	}
}

// NewServer creates a gRPC server over d.
func NewServer(d *rpc.Dispatcher, config Config, opts ...Option) *Server {
	s := &Server{
		dispatcher: d,
		config:     config,
		logger:     logging.NewNopLogger(),
		metrics:    metrics.NewNopMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("grpc")
	return s
}

// Start listens on ListenAddr and serves in the background.
func (s *Server) Start() error {
	if s.running.Swap(true) {
		return nil
	}

	rl := NewRateLimiter(s.config.RateLimit, s.metrics)

	opts := []grpc.ServerOption{
		grpc.MaxConcurrentStreams(s.config.MaxConcurrentStreams),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              2 * time.Minute,
			Timeout:           20 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             time.Minute,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			rl.UnaryInterceptor(),
			NewAuthenticator(s.dispatcher).UnaryInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			rl.StreamInterceptor(),
			NewAuthenticator(s.dispatcher).StreamInterceptor(),
		),
	}
	if s.config.MaxRecvMsgSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(s.config.MaxRecvMsgSize))
	}
	if s.config.MaxSendMsgSize > 0 {
		opts = append(opts, grpc.MaxSendMsgSize(s.config.MaxSendMsgSize))
	}
	if s.config.TLS != nil {
		creds, err := credentials.NewServerTLSFromFile(s.config.TLS.CertFile, s.config.TLS.KeyFile)
		if err != nil {
			rl.Close()
			s.running.Store(false)
			return fmt.Errorf("loading TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		rl.Close()
		s.running.Store(false)
		return fmt.Errorf("listening on %s: %w", s.config.ListenAddr, err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.listener = listener
	s.rateLimiter = rl
	s.grpcServer = grpc.NewServer(opts...)
	RegisterNodeStatusServer(s.grpcServer, s)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("grpc server stopped", logging.Error(err))
		}
	}()

	s.logger.Info("grpc server started", logging.Address(listener.Addr().String()))
	return nil
}

// Stop ends open Watch streams and stops the server gracefully.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	s.grpcServer.GracefulStop()
	s.wg.Wait()
	s.rateLimiter.Close()
	s.logger.Info("grpc server stopped")
	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Call runs one table method for the authenticated principal.
func (s *Server) Call(ctx context.Context, req *CallRequest) (*CallResponse, error) {
	result, rpcErr := s.dispatcher.Call(ctx, metrics.TransportGRPC, auth.FromContext(ctx), req.Method, req.Params)
	if rpcErr != nil {
		return nil, StatusError(rpcErr)
	}
	b, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("encoding result", logging.Method(req.Method), logging.Error(err))
		return nil, StatusError(rpc.ErrInternalError)
	}
	return &CallResponse{Result: b}, nil
}

// Watch streams the result of a table method, first immediately and then
// after every chain change that alters it.
func (s *Server) Watch(req *WatchRequest, stream WatchStream) error {
	ctx := stream.Context()
	p := auth.FromContext(ctx)

	m, ok := s.dispatcher.Table().Lookup(req.Method)
	if !ok {
		return StatusError(rpc.ErrMethodNotFound)
	}
	if err := s.dispatcher.Gate().Authorize(p, m.Name); err != nil {
		return StatusError(rpc.ToError(err))
	}
	if _, err := rpc.DecodeArgs(m, req.Params); err != nil {
		return StatusError(rpc.ToError(err))
	}

	var changes <-chan bapitypes.Event
	if s.bus != nil {
		subscriber := fmt.Sprintf("grpc-%d", s.nextID.Add(1))
		ch, err := s.bus.Subscribe(ctx, subscriber, events.QueryAll{})
		if err != nil {
			return status.Error(codes.Unavailable, err.Error())
		}
		defer s.bus.UnsubscribeAll(subscriber)
		changes = ch
	}

	s.metrics.IncActiveStreams(metrics.TransportGRPC)
	defer s.metrics.DecActiveStreams(metrics.TransportGRPC)

	var last *WatchResponse
	push := func() error {
		resp := s.watchResult(ctx, p, m.Name, req.Params)
		if resp.equal(last) {
			return nil
		}
		last = resp
		return stream.Send(resp)
	}

	if err := push(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case <-s.ctx.Done():
			return status.Error(codes.Unavailable, "server stopping")
		case _, ok := <-changes:
			if !ok {
				return status.Error(codes.Unavailable, "event bus stopped")
			}
			for len(changes) > 0 {
				<-changes
			}
			if err := push(); err != nil {
				return err
			}
		}
	}
}

func (s *Server) watchResult(ctx context.Context, p *auth.Principal, method string, params []byte) *WatchResponse {
	result, rpcErr := s.dispatcher.Call(ctx, metrics.TransportGRPC, p, method, params)
	if rpcErr != nil {
		return &WatchResponse{ErrorCode: int64(rpcErr.Code), ErrorMessage: rpcErr.Error()}
	}
	b, err := json.Marshal(result)
	if err != nil {
		return &WatchResponse{ErrorCode: int64(rpc.CodeInternalError), ErrorMessage: rpc.ErrInternalError.Message}
	}
	return &WatchResponse{Result: b}
}

// StatusError converts a wire error into a gRPC status error.
func StatusError(e *rpc.Error) error {
	if e == nil {
		return nil
	}
	return status.Error(StatusCode(e.Code), e.Error())
}

// StatusCode maps a gateway error code onto a gRPC code.
func StatusCode(code int) codes.Code {
	switch code {
	case rpc.CodeUnauthenticated:
		return codes.Unauthenticated
	case rpc.CodeUnauthorized:
		return codes.PermissionDenied
	case rpc.CodeInvalidParams, rpc.CodeInvalidRequest, rpc.CodeParseError:
		return codes.InvalidArgument
	case rpc.CodeChainUnavailable:
		return codes.Unavailable
	case rpc.CodeChainIntegrity:
		return codes.DataLoss
	case rpc.CodeMethodNotFound:
		return codes.Unimplemented
	default:
		return codes.Internal
	}
}
