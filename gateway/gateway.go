// Package gateway composes the query transports, change notification and
// observability endpoints into one serving process.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/blockberries/nodegate/auth"
	"github.com/blockberries/nodegate/events"
	"github.com/blockberries/nodegate/logging"
	"github.com/blockberries/nodegate/metrics"
	"github.com/blockberries/nodegate/rpc"
	grpcserver "github.com/blockberries/nodegate/rpc/grpc"
	"github.com/blockberries/nodegate/rpc/jsonrpc"
	"github.com/blockberries/nodegate/rpc/websocket"
	"github.com/blockberries/nodegate/security"
	tracing "github.com/blockberries/nodegate/tracing/otel"
)

// Lifecycle errors.
var (
	ErrAlreadyStarted = errors.New("gateway already started")
	ErrNotStarted     = errors.New("gateway not started")
	ErrStopped        = errors.New("gateway stopped")
)

const limiterCleanupInterval = 5 * time.Minute

// Gateway serves the method table over HTTP, websocket and optionally gRPC.
type Gateway struct {
	cfg     Config
	logger  *logging.Logger
	metrics metrics.Metrics
	tracer  *tracing.Tracer

	dispatcher *rpc.Dispatcher
	bus        *events.Bus
	watcher    *events.TipWatcher
	queries    *jsonrpc.Handler
	streams    *websocket.Server
	grpc       *grpcserver.Server
	limiter    security.RateLimiter
	handler    http.Handler

	httpServer      *http.Server
	listener        net.Listener
	metricsServer   *http.Server
	metricsListener net.Listener

	started bool
	stopped bool
	wg      sync.WaitGroup
	mu      sync.RWMutex
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger shared by every component.
func WithLogger(l *logging.Logger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// WithMetrics sets the metrics collector shared by every component.
func WithMetrics(m metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithTracer sets the tracer used for method spans.
func WithTracer(t *tracing.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = t
	}
}

// New creates a gateway answering from resolver, guarded by gate.
func New(cfg Config, resolver rpc.Resolver, gate *auth.Gate, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		cfg:     cfg,
		logger:  logging.NewNopLogger(),
		metrics: metrics.NewNopMetrics(),
		tracer:  tracing.NewTracer("nodegate/rpc"),
	}
	for _, opt := range opts {
		opt(g)
	}

	if cfg.RateLimit.Enabled {
		g.limiter = security.NewBucketLimiter(security.RateLimiterConfig{
			Rate:            cfg.RateLimit.Rate,
			Interval:        cfg.RateLimit.Interval,
			Burst:           cfg.RateLimit.Burst,
			CleanupInterval: limiterCleanupInterval,
		})
	}

	g.dispatcher = rpc.NewDispatcher(resolver, gate,
		rpc.WithLogger(g.logger),
		rpc.WithMetrics(g.metrics),
		rpc.WithTracer(g.tracer),
	)
	g.bus = events.NewBus()
	g.watcher = events.NewTipWatcher(resolver, g.bus, cfg.PollInterval,
		events.WithLogger(g.logger),
		events.WithMetrics(g.metrics),
	)
	g.queries = jsonrpc.NewHandler(g.dispatcher,
		jsonrpc.WithMaxBodyBytes(cfg.MaxBodyBytes),
		jsonrpc.WithMaxBatch(cfg.MaxBatch),
		jsonrpc.WithLogger(g.logger),
	)
	g.streams = websocket.NewServer(g.dispatcher, cfg.WebSocket,
		websocket.WithLogger(g.logger),
		websocket.WithMetrics(g.metrics),
		websocket.WithEventBus(g.bus),
	)
	if cfg.GRPCEnabled {
		g.grpc = grpcserver.NewServer(g.dispatcher, cfg.GRPC,
			grpcserver.WithLogger(g.logger),
			grpcserver.WithMetrics(g.metrics),
			grpcserver.WithEventBus(g.bus),
		)
	}

	g.logger = g.logger.WithComponent("gateway")
	g.handler = g.withMiddleware(g.router())
	return g, nil
}

func (g *Gateway) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc(g.cfg.HealthPath, g.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.Handle(g.cfg.QueryPath, g.streams).
		Methods(http.MethodGet).
		HeadersRegexp("Upgrade", "(?i)websocket")
	r.Handle(g.cfg.QueryPath, g.queries)
	r.HandleFunc(g.schemaPath(), g.handleSchema).Methods(http.MethodGet)
	if g.cfg.ExplorerEnabled {
		r.HandleFunc(g.cfg.ExplorerPath, g.handleExplorer).Methods(http.MethodGet)
	}

	return r
}

type healthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(g.logger, w, http.StatusOK, healthResponse{Status: "Healthy"})
}

// Handler returns the gateway's HTTP handler with all middleware applied.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Dispatcher returns the dispatcher shared by the transports.
func (g *Gateway) Dispatcher() *rpc.Dispatcher {
	return g.dispatcher
}

// Start starts the event bus, the transports and the chain watcher.
// A stopped gateway cannot be started again.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return ErrAlreadyStarted
	}
	if g.stopped {
		return ErrStopped
	}

	if err := g.bus.Start(); err != nil {
		return fmt.Errorf("starting event bus: %w", err)
	}

	if err := g.streams.Start(); err != nil {
		_ = g.bus.Stop()
		return fmt.Errorf("starting websocket server: %w", err)
	}

	if g.grpc != nil {
		if err := g.grpc.Start(); err != nil {
			_ = g.streams.Stop()
			_ = g.bus.Stop()
			return fmt.Errorf("starting grpc server: %w", err)
		}
	}

	listener, err := net.Listen("tcp", g.cfg.ListenAddr)
	if err != nil {
		g.stopTransports()
		return fmt.Errorf("listening on %s: %w", g.cfg.ListenAddr, err)
	}
	g.listener = listener
	g.httpServer = &http.Server{
		Handler:      g.handler,
		ReadTimeout:  g.cfg.ReadTimeout,
		WriteTimeout: g.cfg.WriteTimeout,
	}
	g.serve("http", g.httpServer, listener)

	if g.cfg.MetricsAddr != "" {
		ml, err := net.Listen("tcp", g.cfg.MetricsAddr)
		if err != nil {
			_ = g.httpServer.Close()
			g.wg.Wait()
			g.stopTransports()
			return fmt.Errorf("listening on %s: %w", g.cfg.MetricsAddr, err)
		}
		r := mux.NewRouter()
		r.Handle("/metrics", g.metrics.Handler()).Methods(http.MethodGet)
		g.metricsListener = ml
		g.metricsServer = &http.Server{
			Handler:     r,
			ReadTimeout: g.cfg.ReadTimeout,
		}
		g.serve("metrics", g.metricsServer, ml)
	}

	g.watcher.Start()

	g.started = true
	g.logger.Info("gateway started", logging.Address(listener.Addr().String()))
	return nil
}

func (g *Gateway) serve(name string, srv *http.Server, ln net.Listener) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("server stopped", logging.Transport(name), logging.Error(err))
		}
	}()
}

func (g *Gateway) stopTransports() {
	if g.grpc != nil {
		_ = g.grpc.Stop()
	}
	_ = g.streams.Stop()
	_ = g.bus.Stop()
}

// Stop stops accepting requests, disconnects streams and waits for
// in-flight requests up to ShutdownTimeout.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.started {
		return ErrNotStarted
	}

	g.watcher.Stop()

	ctx := context.Background()
	if g.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down http server: %w", err))
		_ = g.httpServer.Close()
	}
	if g.metricsServer != nil {
		if err := g.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down metrics server: %w", err))
			_ = g.metricsServer.Close()
		}
	}
	g.wg.Wait()

	g.stopTransports()
	if g.limiter != nil {
		g.limiter.Close()
	}

	g.started = false
	g.stopped = true
	g.logger.Info("gateway stopped")
	return errors.Join(errs...)
}

// IsRunning returns whether the gateway is serving.
func (g *Gateway) IsRunning() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.started
}

// Addr returns the HTTP listening address, or nil before Start.
func (g *Gateway) Addr() net.Addr {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// GRPCAddr returns the gRPC listening address, or nil when gRPC is disabled.
func (g *Gateway) GRPCAddr() net.Addr {
	if g.grpc == nil {
		return nil
	}
	return g.grpc.Addr()
}

// MetricsAddr returns the metrics listening address, or nil when disabled.
func (g *Gateway) MetricsAddr() net.Addr {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.metricsListener == nil {
		return nil
	}
	return g.metricsListener.Addr()
}
