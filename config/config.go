package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/blockberries/nodegate/auth"
	"github.com/blockberries/nodegate/blockstore"
	"github.com/blockberries/nodegate/gateway"
	grpcserver "github.com/blockberries/nodegate/rpc/grpc"
	"github.com/blockberries/nodegate/status"
	tracing "github.com/blockberries/nodegate/tracing/otel"
)

// Config is the main configuration for a nodegate process.
type Config struct {
	Gateway    GatewayConfig    `toml:"gateway"`
	Auth       AuthConfig       `toml:"auth"`
	Limits     LimitsConfig     `toml:"limits"`
	RateLimit  RateLimitConfig  `toml:"rate_limit"`
	WebSocket  WebSocketConfig  `toml:"websocket"`
	GRPC       GRPCConfig       `toml:"grpc"`
	BlockStore BlockStoreConfig `toml:"blockstore"`
	Events     EventsConfig     `toml:"events"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Tracing    TracingConfig    `toml:"tracing"`
	Logging    LoggingConfig    `toml:"logging"`
}

// GatewayConfig contains the HTTP listener and route settings.
type GatewayConfig struct {
	// ListenHost and ListenPort form the HTTP listen address.
	ListenHost string `toml:"listen_host"`
	ListenPort int    `toml:"listen_port"`

	// QueryPath serves JSON-RPC over POST and streams over websocket.
	QueryPath string `toml:"query_path"`

	// HealthPath answers liveness probes.
	HealthPath string `toml:"health_path"`

	// ExplorerPath serves the HTML method browser when ExplorerEnabled is set.
	ExplorerPath    string `toml:"explorer_path"`
	ExplorerEnabled bool   `toml:"explorer_enabled"`

	// MaxBodyBytes bounds a JSON-RPC request body.
	MaxBodyBytes int64 `toml:"max_body_bytes"`

	// MaxBatch bounds the calls in one JSON-RPC batch. 0 means unlimited.
	MaxBatch int `toml:"max_batch"`

	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// ListenAddr returns the host:port the gateway listens on.
func (c GatewayConfig) ListenAddr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.ListenPort))
}

// AuthConfig contains the shared secret and the privileged-method policy.
type AuthConfig struct {
	// Secret is the shared-secret token. Empty leaves the gateway open.
	Secret string `toml:"secret"`

	// SecretRole is the role claim carried by callers presenting Secret.
	SecretRole string `toml:"secret_role"`

	PolicyName string `toml:"policy_name"`
	ClaimType  string `toml:"claim_type"`
	ClaimValue string `toml:"claim_value"`

	// PrivilegedMethods are guarded by the policy.
	PrivilegedMethods []string `toml:"privileged_methods"`

	// TrustLoopback authenticates loopback callers without a token.
	TrustLoopback bool `toml:"trust_loopback"`

	APIKeys []APIKeyConfig `toml:"api_keys"`
}

// APIKeyConfig is an additional credential bound to one role.
type APIKeyConfig struct {
	Key  string `toml:"key"`
	Role string `toml:"role"`
}

// LimitsConfig bounds chain traversals.
type LimitsConfig struct {
	// MaxTopmostLimit caps the topmostBlocks limit. 0 disables the cap.
	MaxTopmostLimit int `toml:"max_topmost_limit"`

	// WalkTimeout bounds one traversal. 0 disables the bound.
	WalkTimeout Duration `toml:"walk_timeout"`
}

// RateLimitConfig throttles callers per client address on HTTP and gRPC.
type RateLimitConfig struct {
	Enabled bool `toml:"enabled"`

	// Rate is the requests allowed per Interval per client.
	Rate     int      `toml:"rate"`
	Interval Duration `toml:"interval"`
	Burst    int      `toml:"burst"`

	// GlobalRate caps all gRPC calls together. 0 disables it.
	GlobalRate int `toml:"global_rate"`
}

// WebSocketConfig contains stream limits.
type WebSocketConfig struct {
	MaxClients                int      `toml:"max_clients"`
	MaxSubscriptionsPerClient int      `toml:"max_subscriptions_per_client"`
	MaxInFlight               int      `toml:"max_in_flight"`
	MaxMessageBytes           int64    `toml:"max_message_bytes"`
	SendBuffer                int      `toml:"send_buffer"`
	PingInterval              Duration `toml:"ping_interval"`
	WriteTimeout              Duration `toml:"write_timeout"`
	ReadTimeout               Duration `toml:"read_timeout"`

	// AllowedOrigins restricts the Origin header. Empty allows all.
	AllowedOrigins []string `toml:"allowed_origins"`
}

// GRPCConfig contains the optional gRPC listener settings.
type GRPCConfig struct {
	Enabled              bool   `toml:"enabled"`
	ListenAddr           string `toml:"listen_addr"`
	MaxRecvMsgSize       int    `toml:"max_recv_msg_size"`
	MaxSendMsgSize       int    `toml:"max_send_msg_size"`
	MaxConcurrentStreams uint32 `toml:"max_concurrent_streams"`

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string `toml:"tls_cert_file"`
	TLSKeyFile  string `toml:"tls_key_file"`
}

// BlockStoreConfig selects the chain store.
type BlockStoreConfig struct {
	// Backend is "memory", "leveldb" or "badgerdb".
	Backend string `toml:"backend"`

	// Path is the database directory for disk backends.
	Path string `toml:"path"`

	// CacheSize is the number of headers cached in front of the store.
	// Zero disables the cache.
	CacheSize int `toml:"cache_size"`
}

// EventsConfig contains change notification settings.
type EventsConfig struct {
	// PollInterval is how often the chain is checked for changes.
	PollInterval Duration `toml:"poll_interval"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`

	// Namespace is the Prometheus metrics namespace prefix.
	Namespace string `toml:"namespace"`

	// ListenAddr is the address to serve /metrics on.
	ListenAddr string `toml:"listen_addr"`
}

// TracingConfig contains OpenTelemetry exporter settings.
type TracingConfig struct {
	// Exporter is "none", "stdout", "otlp-grpc", "otlp-http" or "zipkin".
	Exporter    string  `toml:"exporter"`
	Endpoint    string  `toml:"endpoint"`
	SampleRate  float64 `toml:"sample_rate"`
	Insecure    bool    `toml:"insecure"`
	ServiceName string  `toml:"service_name"`
	Environment string  `toml:"environment"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	Level string `toml:"level"`

	// Format is the log output format ("text" or "json").
	Format string `toml:"format"`

	// Output is "stdout", "stderr" or a file path.
	Output string `toml:"output"`
}

// Duration is a time.Duration that marshals to TOML as a string like "10s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	gw := gateway.DefaultConfig()
	ws := gw.WebSocket
	rpcDefaults := grpcserver.DefaultConfig()
	authDefaults := auth.DefaultConfig()
	limits := status.DefaultConfig()
	trace := tracing.DefaultProviderConfig()

	return &Config{
		Gateway: GatewayConfig{
			ListenHost:      "127.0.0.1",
			ListenPort:      8080,
			QueryPath:       gw.QueryPath,
			HealthPath:      gw.HealthPath,
			ExplorerPath:    gw.ExplorerPath,
			ExplorerEnabled: gw.ExplorerEnabled,
			MaxBodyBytes:    gw.MaxBodyBytes,
			MaxBatch:        gw.MaxBatch,
			ReadTimeout:     Duration(gw.ReadTimeout),
			WriteTimeout:    Duration(gw.WriteTimeout),
			ShutdownTimeout: Duration(gw.ShutdownTimeout),
		},
		Auth: AuthConfig{
			SecretRole:        authDefaults.SecretRole,
			PolicyName:        authDefaults.PolicyName,
			ClaimType:         authDefaults.ClaimType,
			ClaimValue:        authDefaults.ClaimValue,
			PrivilegedMethods: authDefaults.PrivilegedMethods,
		},
		Limits: LimitsConfig{
			MaxTopmostLimit: limits.MaxLimit,
			WalkTimeout:     Duration(limits.WalkTimeout),
		},
		RateLimit: RateLimitConfig{
			Enabled:    false,
			Rate:       gw.RateLimit.Rate,
			Interval:   Duration(gw.RateLimit.Interval),
			Burst:      gw.RateLimit.Burst,
			GlobalRate: rpcDefaults.RateLimit.GlobalRate,
		},
		WebSocket: WebSocketConfig{
			MaxClients:                ws.MaxClients,
			MaxSubscriptionsPerClient: ws.MaxSubscriptionsPerClient,
			MaxInFlight:               ws.MaxInFlight,
			MaxMessageBytes:           ws.MaxMessageBytes,
			SendBuffer:                ws.SendBuffer,
			PingInterval:              Duration(ws.PingInterval),
			WriteTimeout:              Duration(ws.WriteTimeout),
			ReadTimeout:               Duration(ws.ReadTimeout),
		},
		GRPC: GRPCConfig{
			Enabled:              false,
			ListenAddr:           rpcDefaults.ListenAddr,
			MaxRecvMsgSize:       rpcDefaults.MaxRecvMsgSize,
			MaxSendMsgSize:       rpcDefaults.MaxSendMsgSize,
			MaxConcurrentStreams: rpcDefaults.MaxConcurrentStreams,
		},
		BlockStore: BlockStoreConfig{
			Backend:   blockstore.BackendLevelDB,
			Path:      "data/blockstore",
			CacheSize: blockstore.DefaultHeaderCacheSize,
		},
		Events: EventsConfig{
			PollInterval: Duration(gw.PollInterval),
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			Namespace:  "nodegate",
			ListenAddr: "127.0.0.1:9100",
		},
		Tracing: TracingConfig{
			Exporter:    trace.Exporter,
			Endpoint:    trace.Endpoint,
			SampleRate:  trace.SampleRate,
			Insecure:    trace.Insecure,
			ServiceName: trace.ServiceName,
			Environment: trace.Environment,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// LoadConfig loads configuration from a TOML file. Keys absent from the file
// keep their defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validation errors.
var (
	ErrEmptyListenHost          = errors.New("listen_host cannot be empty")
	ErrInvalidListenPort        = errors.New("listen_port must be between 1 and 65535")
	ErrInvalidPath              = errors.New("paths must start with '/'")
	ErrDuplicatePath            = errors.New("query_path, health_path and explorer_path must differ")
	ErrInvalidMaxBodyBytes      = errors.New("max_body_bytes must be positive")
	ErrInvalidMaxBatch          = errors.New("max_batch must be non-negative")
	ErrInvalidTimeout           = errors.New("timeouts must be non-negative")
	ErrEmptyClaim               = errors.New("claim_type and claim_value cannot be empty")
	ErrEmptySecretRole          = errors.New("secret_role cannot be empty")
	ErrEmptyAPIKey              = errors.New("api key cannot be empty")
	ErrDuplicateAPIKey          = errors.New("api keys must be unique")
	ErrInvalidTopmostLimit      = errors.New("max_topmost_limit must be non-negative")
	ErrInvalidWalkTimeout       = errors.New("walk_timeout must be non-negative")
	ErrInvalidRate              = errors.New("rate_limit rate must be positive when enabled")
	ErrInvalidRateInterval      = errors.New("rate_limit interval must be positive when enabled")
	ErrInvalidBurst             = errors.New("rate_limit burst must be non-negative")
	ErrInvalidGlobalRate        = errors.New("rate_limit global_rate must be non-negative")
	ErrInvalidWebSocketLimit    = errors.New("websocket limits must be non-negative")
	ErrInvalidSendBuffer        = errors.New("websocket send_buffer must be positive")
	ErrInvalidMessageBytes      = errors.New("websocket max_message_bytes must be positive")
	ErrInvalidPingInterval      = errors.New("websocket ping_interval must be positive")
	ErrEmptyGRPCListenAddr      = errors.New("grpc listen_addr cannot be empty when enabled")
	ErrInvalidGRPCMsgSize       = errors.New("grpc message sizes must be positive")
	ErrIncompleteTLS            = errors.New("grpc tls_cert_file and tls_key_file must be set together")
	ErrInvalidBlockStoreBackend = errors.New("blockstore backend must be 'memory', 'leveldb' or 'badgerdb'")
	ErrEmptyBlockStorePath      = errors.New("blockstore path cannot be empty")
	ErrInvalidCacheSize         = errors.New("blockstore cache_size cannot be negative")
	ErrInvalidPollInterval      = errors.New("events poll_interval must be positive")
	ErrEmptyMetricsNamespace    = errors.New("metrics namespace cannot be empty when enabled")
	ErrEmptyMetricsListenAddr   = errors.New("metrics listen_addr cannot be empty when enabled")
	ErrMetricsAddrConflict      = errors.New("metrics listen_addr must differ from the gateway address")
	ErrInvalidTracingExporter   = errors.New("tracing exporter must be one of: none, stdout, otlp-grpc, otlp-http, zipkin")
	ErrEmptyTracingEndpoint     = errors.New("tracing endpoint cannot be empty for remote exporters")
	ErrInvalidSampleRate        = errors.New("tracing sample_rate must be between 0 and 1")
	ErrInvalidLogLevel          = errors.New("log level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat         = errors.New("log format must be 'text' or 'json'")
	ErrEmptyLogOutput           = errors.New("log output cannot be empty")
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("limits config: %w", err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit config: %w", err)
	}
	if err := c.WebSocket.Validate(); err != nil {
		return fmt.Errorf("websocket config: %w", err)
	}
	if err := c.GRPC.Validate(); err != nil {
		return fmt.Errorf("grpc config: %w", err)
	}
	if err := c.BlockStore.Validate(); err != nil {
		return fmt.Errorf("blockstore config: %w", err)
	}
	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == c.Gateway.ListenAddr() {
		return fmt.Errorf("metrics config: %w", ErrMetricsAddrConflict)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate checks the gateway configuration.
func (c *GatewayConfig) Validate() error {
	if c.ListenHost == "" {
		return ErrEmptyListenHost
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return ErrInvalidListenPort
	}
	for _, p := range []string{c.QueryPath, c.HealthPath, c.ExplorerPath} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	if c.QueryPath == c.HealthPath ||
		(c.ExplorerEnabled && (c.ExplorerPath == c.QueryPath || c.ExplorerPath == c.HealthPath)) {
		return ErrDuplicatePath
	}
	if c.MaxBodyBytes <= 0 {
		return ErrInvalidMaxBodyBytes
	}
	if c.MaxBatch < 0 {
		return ErrInvalidMaxBatch
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// Validate checks the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.ClaimType == "" || c.ClaimValue == "" {
		return ErrEmptyClaim
	}
	if c.Secret != "" && c.SecretRole == "" {
		return ErrEmptySecretRole
	}
	seen := make(map[string]struct{}, len(c.APIKeys))
	for _, k := range c.APIKeys {
		if k.Key == "" {
			return ErrEmptyAPIKey
		}
		if _, dup := seen[k.Key]; dup || k.Key == c.Secret {
			return ErrDuplicateAPIKey
		}
		seen[k.Key] = struct{}{}
	}
	return nil
}

// Validate checks the traversal limits.
func (c *LimitsConfig) Validate() error {
	if c.MaxTopmostLimit < 0 {
		return ErrInvalidTopmostLimit
	}
	if c.WalkTimeout < 0 {
		return ErrInvalidWalkTimeout
	}
	return nil
}

// Validate checks the rate limit configuration.
func (c *RateLimitConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Rate <= 0 {
		return ErrInvalidRate
	}
	if c.Interval <= 0 {
		return ErrInvalidRateInterval
	}
	if c.Burst < 0 {
		return ErrInvalidBurst
	}
	if c.GlobalRate < 0 {
		return ErrInvalidGlobalRate
	}
	return nil
}

// Validate checks the websocket configuration.
func (c *WebSocketConfig) Validate() error {
	if c.MaxClients < 0 || c.MaxSubscriptionsPerClient < 0 || c.MaxInFlight < 0 {
		return ErrInvalidWebSocketLimit
	}
	if c.SendBuffer <= 0 {
		return ErrInvalidSendBuffer
	}
	if c.MaxMessageBytes <= 0 {
		return ErrInvalidMessageBytes
	}
	if c.PingInterval <= 0 {
		return ErrInvalidPingInterval
	}
	if c.WriteTimeout < 0 || c.ReadTimeout < 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// Validate checks the gRPC configuration.
func (c *GRPCConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ListenAddr == "" {
		return ErrEmptyGRPCListenAddr
	}
	if c.MaxRecvMsgSize <= 0 || c.MaxSendMsgSize <= 0 {
		return ErrInvalidGRPCMsgSize
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return ErrIncompleteTLS
	}
	return nil
}

// Validate checks the block store configuration.
func (c *BlockStoreConfig) Validate() error {
	if c.CacheSize < 0 {
		return ErrInvalidCacheSize
	}
	switch c.Backend {
	case blockstore.BackendMemory:
		return nil
	case blockstore.BackendLevelDB, blockstore.BackendBadgerDB:
	default:
		return ErrInvalidBlockStoreBackend
	}
	if c.Path == "" {
		return ErrEmptyBlockStorePath
	}
	return nil
}

// Validate checks the events configuration.
func (c *EventsConfig) Validate() error {
	if c.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	return nil
}

// Validate checks the metrics configuration.
func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Namespace == "" {
		return ErrEmptyMetricsNamespace
	}
	if c.ListenAddr == "" {
		return ErrEmptyMetricsListenAddr
	}
	return nil
}

// Validate checks the tracing configuration.
func (c *TracingConfig) Validate() error {
	switch c.Exporter {
	case "none", "", "stdout":
	case "otlp", "otlp-grpc", "otlp-http", "zipkin":
		if c.Endpoint == "" {
			return ErrEmptyTracingEndpoint
		}
	default:
		return ErrInvalidTracingExporter
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return ErrInvalidSampleRate
	}
	return nil
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}

	switch c.Format {
	case "text", "json":
	default:
		return ErrInvalidLogFormat
	}

	if c.Output == "" {
		return ErrEmptyLogOutput
	}

	return nil
}

// GatewayConfig assembles the gateway settings from every section they span.
func (c *Config) GatewayConfig() gateway.Config {
	gw := gateway.DefaultConfig()
	gw.ListenAddr = c.Gateway.ListenAddr()
	gw.QueryPath = c.Gateway.QueryPath
	gw.HealthPath = c.Gateway.HealthPath
	gw.ExplorerPath = c.Gateway.ExplorerPath
	gw.ExplorerEnabled = c.Gateway.ExplorerEnabled
	gw.MaxBodyBytes = c.Gateway.MaxBodyBytes
	gw.MaxBatch = c.Gateway.MaxBatch
	gw.ReadTimeout = c.Gateway.ReadTimeout.Duration()
	gw.WriteTimeout = c.Gateway.WriteTimeout.Duration()
	gw.ShutdownTimeout = c.Gateway.ShutdownTimeout.Duration()
	gw.PollInterval = c.Events.PollInterval.Duration()

	gw.RateLimit = gateway.RateLimitConfig{
		Enabled:  c.RateLimit.Enabled,
		Rate:     c.RateLimit.Rate,
		Interval: c.RateLimit.Interval.Duration(),
		Burst:    c.RateLimit.Burst,
	}

	gw.WebSocket.MaxClients = c.WebSocket.MaxClients
	gw.WebSocket.MaxSubscriptionsPerClient = c.WebSocket.MaxSubscriptionsPerClient
	gw.WebSocket.MaxInFlight = c.WebSocket.MaxInFlight
	gw.WebSocket.MaxMessageBytes = c.WebSocket.MaxMessageBytes
	gw.WebSocket.SendBuffer = c.WebSocket.SendBuffer
	gw.WebSocket.PingInterval = c.WebSocket.PingInterval.Duration()
	gw.WebSocket.WriteTimeout = c.WebSocket.WriteTimeout.Duration()
	gw.WebSocket.ReadTimeout = c.WebSocket.ReadTimeout.Duration()
	gw.WebSocket.AllowedOrigins = c.WebSocket.AllowedOrigins

	gw.GRPCEnabled = c.GRPC.Enabled
	gw.GRPC.ListenAddr = c.GRPC.ListenAddr
	gw.GRPC.MaxRecvMsgSize = c.GRPC.MaxRecvMsgSize
	gw.GRPC.MaxSendMsgSize = c.GRPC.MaxSendMsgSize
	gw.GRPC.MaxConcurrentStreams = c.GRPC.MaxConcurrentStreams
	if c.GRPC.TLSCertFile != "" {
		gw.GRPC.TLS = &grpcserver.TLSConfig{
			CertFile: c.GRPC.TLSCertFile,
			KeyFile:  c.GRPC.TLSKeyFile,
		}
	}
	gw.GRPC.RateLimit.Enabled = c.RateLimit.Enabled
	gw.GRPC.RateLimit.PerClientRate = c.RateLimit.Rate
	gw.GRPC.RateLimit.GlobalRate = c.RateLimit.GlobalRate
	gw.GRPC.RateLimit.Interval = c.RateLimit.Interval.Duration()
	gw.GRPC.RateLimit.Burst = c.RateLimit.Burst

	if c.Metrics.Enabled {
		gw.MetricsAddr = c.Metrics.ListenAddr
	}
	return gw
}

// GateConfig converts the auth section for auth.NewGate.
func (c *AuthConfig) GateConfig() auth.Config {
	keys := make([]auth.APIKey, 0, len(c.APIKeys))
	for _, k := range c.APIKeys {
		keys = append(keys, auth.APIKey{Key: k.Key, Role: k.Role})
	}
	return auth.Config{
		Secret:            c.Secret,
		SecretRole:        c.SecretRole,
		PolicyName:        c.PolicyName,
		ClaimType:         c.ClaimType,
		ClaimValue:        c.ClaimValue,
		PrivilegedMethods: c.PrivilegedMethods,
		APIKeys:           keys,
		TrustLoopback:     c.TrustLoopback,
	}
}

// ResolverConfig converts the limits section for status.NewResolver.
func (c *LimitsConfig) ResolverConfig() status.Config {
	return status.Config{
		MaxLimit:    c.MaxTopmostLimit,
		WalkTimeout: c.WalkTimeout.Duration(),
	}
}

// ProviderConfig converts the tracing section, stamping version onto the resource.
func (c *TracingConfig) ProviderConfig(version string) tracing.ProviderConfig {
	return tracing.ProviderConfig{
		ServiceName:    c.ServiceName,
		ServiceVersion: version,
		Environment:    c.Environment,
		Exporter:       c.Exporter,
		Endpoint:       c.Endpoint,
		SampleRate:     c.SampleRate,
		Insecure:       c.Insecure,
	}
}

// WriteConfigFile writes the configuration to a TOML file.
func WriteConfigFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return nil
}

// EnsureDataDirs creates the directories the configuration writes to.
func (c *Config) EnsureDataDirs() error {
	var dirs []string
	if c.BlockStore.Backend != blockstore.BackendMemory {
		dirs = append(dirs, c.BlockStore.Path)
	}
	if out := c.Logging.Output; out != "stdout" && out != "stderr" {
		dirs = append(dirs, filepath.Dir(out))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	return nil
}
