package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/blockberries/nodegate/metrics"
	"github.com/blockberries/nodegate/security"
)

// globalKey is the limiter key shared by all clients.
const globalKey = "global"

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool

	// GlobalRate is the overall requests per interval for all clients.
	// Zero disables the global limit.
	GlobalRate int

	// PerClientRate is the requests per interval per client IP.
	PerClientRate int

	// Interval is the time window for rate calculations.
	Interval time.Duration

	// Burst is the maximum burst size allowed per client.
	Burst int

	// CleanupInterval is how often stale client entries are dropped.
	CleanupInterval time.Duration

	// ExemptMethods bypass rate limiting. Format: "/service.Name/Method".
	ExemptMethods []string
}

// DefaultRateLimitConfig returns rate limiting defaults, disabled.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		GlobalRate:      1000,
		PerClientRate:   100,
		Interval:        time.Second,
		Burst:           50,
		CleanupInterval: 5 * time.Minute,
	}
}

// RateLimiter throttles calls per client address and globally.
type RateLimiter struct {
	config        RateLimitConfig
	global        security.RateLimiter
	client        security.RateLimiter
	exemptMethods map[string]struct{}
	metrics       metrics.Metrics
}

// NewRateLimiter creates a rate limiter. A disabled config yields a limiter
// whose interceptors pass every call through.
func NewRateLimiter(config RateLimitConfig, m metrics.Metrics) *RateLimiter {
	if m == nil {
		m = metrics.NewNopMetrics()
	}
	rl := &RateLimiter{
		config:        config,
		exemptMethods: make(map[string]struct{}, len(config.ExemptMethods)),
		metrics:       m,
	}
	if !config.Enabled {
		return rl
	}

	for _, method := range config.ExemptMethods {
		rl.exemptMethods[method] = struct{}{}
	}

	rl.client = security.NewBucketLimiter(security.RateLimiterConfig{
		Rate:            config.PerClientRate,
		Interval:        config.Interval,
		Burst:           config.Burst,
		CleanupInterval: config.CleanupInterval,
	})
	if config.GlobalRate > 0 {
		rl.global = security.NewBucketLimiter(security.RateLimiterConfig{
			Rate:     config.GlobalRate,
			Interval: config.Interval,
			Burst:    config.GlobalRate,
		})
	}
	return rl
}

// UnaryInterceptor returns a unary server interceptor for rate limiting.
func (rl *RateLimiter) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := rl.checkLimit(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a stream server interceptor that limits stream setup.
func (rl *RateLimiter) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := rl.checkLimit(ss.Context(), info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func (rl *RateLimiter) checkLimit(ctx context.Context, method string) error {
	if !rl.config.Enabled {
		return nil
	}
	if _, ok := rl.exemptMethods[method]; ok {
		return nil
	}

	if rl.global != nil && !rl.global.Allow(globalKey) {
		rl.metrics.IncRateLimited(metrics.TransportGRPC)
		return status.Error(codes.ResourceExhausted, "global rate limit exceeded")
	}
	if !rl.client.Allow(clientKey(ctx)) {
		rl.metrics.IncRateLimited(metrics.TransportGRPC)
		return status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}
	return nil
}

func clientKey(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return security.ClientKey(p.Addr.String())
	}
	return "unknown"
}

// Close releases the limiters' background goroutines.
func (rl *RateLimiter) Close() {
	if rl.global != nil {
		rl.global.Close()
	}
	if rl.client != nil {
		rl.client.Close()
	}
}
