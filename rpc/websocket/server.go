// Package websocket serves the method table over persistent WebSocket
// connections, adding subscriptions that push a method's result whenever
// the chain tip or lifecycle flags change it.
package websocket

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"

	"github.com/blockberries/nodegate/auth"
	"github.com/blockberries/nodegate/events"
	"github.com/blockberries/nodegate/logging"
	"github.com/blockberries/nodegate/metrics"
	"github.com/blockberries/nodegate/rpc"
	"github.com/blockberries/nodegate/rpc/jsonrpc"
)

// Common errors.
var (
	ErrMaxSubscriptions = errors.New("maximum subscriptions per client reached")
	ErrSlowConsumer     = errors.New("client send buffer full")
	ErrMessageTooLarge  = errors.New("message too large")
)

// Config contains WebSocket server configuration.
type Config struct {
	// MaxClients is the maximum number of connected clients. 0 means unlimited.
	MaxClients int

	// MaxSubscriptionsPerClient caps subscriptions per client. 0 means unlimited.
	MaxSubscriptionsPerClient int

	// MaxInFlight caps concurrently running calls per client.
	MaxInFlight int

	// MaxMessageBytes bounds a single client message.
	MaxMessageBytes int64

	// SendBuffer is the number of outgoing messages queued per client.
	SendBuffer int

	// PingInterval is the interval between ping frames.
	PingInterval time.Duration

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration

	// ReadTimeout is how long a client may stay silent, pongs included.
	ReadTimeout time.Duration

	// AllowedOrigins restricts allowed origins. Empty means all allowed.
	AllowedOrigins []string
}

// DefaultConfig returns the default WebSocket configuration.
func DefaultConfig() Config {
	return Config{
		MaxClients:                100,
		MaxSubscriptionsPerClient: 10,
		MaxInFlight:               8,
		MaxMessageBytes:           64 << 10,
		SendBuffer:                64,
		PingInterval:              30 * time.Second,
		WriteTimeout:              10 * time.Second,
		ReadTimeout:               60 * time.Second,
	}
}

// Server accepts WebSocket connections on the query path.
type Server struct {
	dispatcher *rpc.Dispatcher
	calls      *jsonrpc.Handler
	bus        *events.Bus
	cfg        Config
	upgrader   ws.HTTPUpgrader
	logger     *logging.Logger
	metrics    metrics.Metrics

	mu      sync.RWMutex
	clients map[string]*Client
	running atomic.Bool
	nextID  atomic.Uint64

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

// WithEventBus sets the bus that triggers subscription refreshes. Without
// one, subscriptions only receive their initial result.
func WithEventBus(b *events.Bus) Option {
	return func(s *Server) {
		s.bus = b
	}
}

// NewServer creates a WebSocket server dispatching to d.
func NewServer(d *rpc.Dispatcher, cfg Config, opts ...Option) *Server {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 1
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = jsonrpc.DefaultMaxBodyBytes
	}

	s := &Server{
		dispatcher: d,
		cfg:        cfg,
		logger:     logging.NewNopLogger(),
		metrics:    metrics.NewNopMetrics(),
		clients:    make(map[string]*Client),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("websocket")
	s.calls = jsonrpc.NewHandler(d, jsonrpc.WithLogger(s.logger))
	s.upgrader = ws.HTTPUpgrader{Timeout: 10 * time.Second}
	return s
}

// Start starts accepting connections.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running.Store(true)
	return nil
}

// Stop disconnects all clients and waits for their goroutines.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running.Swap(false) {
		s.mu.Unlock()
		return nil
	}
	s.cancel()

	// No client can register once running is false under mu, so the
	// WaitGroup below sees every Add.
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	s.wg.Wait()
	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ServeHTTP upgrades the request. Credentials are checked before the
// upgrade; a rejected client receives a plain 401 JSON-RPC error.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.running.Load() {
		http.Error(w, "server not running", http.StatusServiceUnavailable)
		return
	}
	if !s.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	if s.cfg.MaxClients > 0 && s.ClientCount() >= s.cfg.MaxClients {
		http.Error(w, "max clients reached", http.StatusServiceUnavailable)
		return
	}

	creds := auth.FromHTTPRequest(r)
	principal, err := s.dispatcher.Authenticate(metrics.TransportWebSocket, creds)
	if err != nil {
		writeUnauthorized(w, err)
		return
	}

	conn, _, _, err := s.upgrader.Upgrade(r, w)
	if err != nil {
		s.logger.Debug("upgrade failed", logging.RemoteAddr(r.RemoteAddr), logging.Error(err))
		return
	}

	id := strconv.FormatUint(s.nextID.Add(1), 10)

	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	c := newClient(s, id, conn, principal, r.RemoteAddr)
	s.clients[id] = c
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.IncActiveStreams(metrics.TransportWebSocket)
	c.logger.Debug("client connected")

	go func() {
		defer s.wg.Done()
		c.run()
		s.removeClient(id)
		s.metrics.DecActiveStreams(metrics.TransportWebSocket)
		c.logger.Debug("client disconnected")
	}()
}

func (s *Server) removeClient(id string) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// IsUpgrade reports whether r asks for a WebSocket upgrade.
func IsUpgrade(r *http.Request) bool {
	return r.Method == http.MethodGet && headerContainsToken(r.Header, "Upgrade", "websocket")
}
