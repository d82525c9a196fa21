package gateway

import (
	"time"

	"github.com/blockberries/nodegate/events"
	grpcserver "github.com/blockberries/nodegate/rpc/grpc"
	"github.com/blockberries/nodegate/rpc/jsonrpc"
	"github.com/blockberries/nodegate/rpc/websocket"
)

// Config contains the gateway's listener, route and limit settings.
type Config struct {
	// ListenAddr is the HTTP listen address (e.g., "127.0.0.1:8080").
	ListenAddr string

	// QueryPath serves one-shot JSON-RPC over POST and streams over websocket.
	QueryPath string

	// HealthPath answers liveness probes without touching the chain store.
	HealthPath string

	// ExplorerPath serves the HTML method browser when ExplorerEnabled.
	ExplorerPath    string
	ExplorerEnabled bool

	// MaxBodyBytes bounds a JSON-RPC request body.
	MaxBodyBytes int64

	// MaxBatch bounds the number of calls in a JSON-RPC batch. 0 means unlimited.
	MaxBatch int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// PollInterval is how often the chain is checked for tip and flag changes.
	PollInterval time.Duration

	// RateLimit throttles HTTP requests per client address.
	RateLimit RateLimitConfig

	WebSocket websocket.Config

	// GRPC is served on its own listener when GRPCEnabled.
	GRPC        grpcserver.Config
	GRPCEnabled bool

	// MetricsAddr serves Prometheus metrics at /metrics. Empty disables it.
	MetricsAddr string
}

// RateLimitConfig configures per-client HTTP rate limiting.
type RateLimitConfig struct {
	Enabled  bool
	Rate     int
	Interval time.Duration
	Burst    int
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8080",
		QueryPath:       "/query",
		HealthPath:      "/health-check",
		ExplorerPath:    "/ui/playground",
		ExplorerEnabled: true,
		MaxBodyBytes:    jsonrpc.DefaultMaxBodyBytes,
		MaxBatch:        100,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		PollInterval:    events.DefaultPollInterval,
		RateLimit: RateLimitConfig{
			Rate:     50,
			Interval: time.Second,
			Burst:    100,
		},
		WebSocket: websocket.DefaultConfig(),
		GRPC:      grpcserver.DefaultConfig(),
	}
}
