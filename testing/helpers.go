// Package testing provides a disk-backed gateway harness for integration tests.
package testing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/blockberries/nodegate/auth"
	"github.com/blockberries/nodegate/blockstore"
	"github.com/blockberries/nodegate/config"
	"github.com/blockberries/nodegate/gateway"
	"github.com/blockberries/nodegate/logging"
	"github.com/blockberries/nodegate/metrics"
	"github.com/blockberries/nodegate/rpc"
	grpcserver "github.com/blockberries/nodegate/rpc/grpc"
	"github.com/blockberries/nodegate/rpc/jsonrpc"
	"github.com/blockberries/nodegate/status"
	"github.com/blockberries/nodegate/types"
)

// Harness errors.
var (
	ErrAlreadyStarted = errors.New("test gateway already started")
	ErrNotStarted     = errors.New("test gateway not started")
)

// TestGateway wraps a gateway over an on-disk store with test utilities.
type TestGateway struct {
	Config  *config.Config
	Store   blockstore.Writer
	Gate    *auth.Gate
	Gateway *gateway.Gateway
	Metrics *metrics.PrometheusMetrics

	secret  string
	dataDir string
	client  *http.Client

	started bool
	mu      sync.RWMutex
}

// TestGatewayConfig holds options for creating a test gateway.
type TestGatewayConfig struct {
	// Backend is the block store backend (default: "leveldb").
	Backend string

	// Secret is the shared secret. Empty leaves the gateway open.
	Secret string

	// GRPC enables the gRPC listener.
	GRPC bool

	// PollInterval is the change polling interval (default: 20ms).
	PollInterval time.Duration

	// Logger receives gateway logs (default: nop).
	Logger *logging.Logger

	// Modify adjusts the file configuration before the gateway is built.
	Modify func(*config.Config)
}

// DefaultTestGatewayConfig returns a TestGatewayConfig with default values.
func DefaultTestGatewayConfig() *TestGatewayConfig {
	return &TestGatewayConfig{
		Backend:      blockstore.BackendLevelDB,
		Secret:       "integration-secret",
		PollInterval: 20 * time.Millisecond,
	}
}

// NewTestGateway creates a gateway over a store in a fresh temporary directory.
func NewTestGateway(tc *TestGatewayConfig) (*TestGateway, error) {
	if tc == nil {
		tc = DefaultTestGatewayConfig()
	}

	dataDir, err := os.MkdirTemp("", "nodegate-test-*")
	if err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	cfg := config.DefaultConfig()
	cfg.BlockStore.Backend = tc.Backend
	cfg.BlockStore.Path = dataDir + "/blockstore"
	cfg.Auth.Secret = tc.Secret
	cfg.GRPC.Enabled = tc.GRPC
	cfg.Metrics.Enabled = true
	cfg.Events.PollInterval = config.Duration(tc.PollInterval)
	cfg.Gateway.ShutdownTimeout = config.Duration(2 * time.Second)
	if tc.Modify != nil {
		tc.Modify(cfg)
	}
	if err := cfg.Validate(); err != nil {
		_ = os.RemoveAll(dataDir)
		return nil, fmt.Errorf("invalid test config: %w", err)
	}

	store, err := blockstore.Open(cfg.BlockStore.Backend, cfg.BlockStore.Path)
	if err != nil {
		_ = os.RemoveAll(dataDir)
		return nil, fmt.Errorf("opening block store: %w", err)
	}

	logger := tc.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	m := metrics.NewPrometheusMetrics(cfg.Metrics.Namespace)

	resolver := status.NewResolver(store, status.StoreFlags{Store: store}, cfg.Limits.ResolverConfig(),
		status.WithLogger(logger),
		status.WithMetrics(m),
	)
	gate := auth.NewGate(cfg.Auth.GateConfig())

	// Listeners bind ephemeral ports; the file format requires a fixed one.
	gwCfg := cfg.GatewayConfig()
	gwCfg.ListenAddr = "127.0.0.1:0"
	gwCfg.GRPC.ListenAddr = "127.0.0.1:0"
	gwCfg.MetricsAddr = "127.0.0.1:0"
	gwCfg.WebSocket.PingInterval = time.Hour

	gw, err := gateway.New(gwCfg, resolver, gate,
		gateway.WithLogger(logger),
		gateway.WithMetrics(m),
	)
	if err != nil {
		_ = store.Close()
		_ = os.RemoveAll(dataDir)
		return nil, fmt.Errorf("creating gateway: %w", err)
	}

	return &TestGateway{
		Config:  cfg,
		Store:   store,
		Gate:    gate,
		Gateway: gw,
		Metrics: m,
		secret:  tc.Secret,
		dataDir: dataDir,
		client:  &http.Client{Timeout: 5 * time.Second},
	}, nil
}

// Start starts the gateway.
func (tg *TestGateway) Start() error {
	tg.mu.Lock()
	defer tg.mu.Unlock()

	if tg.started {
		return ErrAlreadyStarted
	}
	if err := tg.Gateway.Start(); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}
	tg.started = true
	return nil
}

// Stop stops the gateway. The store stays open until Cleanup.
func (tg *TestGateway) Stop() error {
	tg.mu.Lock()
	defer tg.mu.Unlock()

	if !tg.started {
		return ErrNotStarted
	}
	tg.started = false
	return tg.Gateway.Stop()
}

// Cleanup stops the gateway if needed, closes the store and removes
// temporary files.
func (tg *TestGateway) Cleanup() error {
	if tg.IsRunning() {
		if err := tg.Stop(); err != nil {
			return err
		}
	}
	if err := tg.Store.Close(); err != nil {
		return fmt.Errorf("closing block store: %w", err)
	}
	return os.RemoveAll(tg.dataDir)
}

// IsRunning returns whether the gateway is running.
func (tg *TestGateway) IsRunning() bool {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	return tg.started
}

// BaseURL returns the gateway's HTTP root.
func (tg *TestGateway) BaseURL() string {
	return "http://" + tg.Gateway.Addr().String()
}

// QueryURL returns the JSON-RPC endpoint.
func (tg *TestGateway) QueryURL() string {
	return tg.BaseURL() + tg.Config.Gateway.QueryPath
}

// Call posts one JSON-RPC request with the configured secret and decodes
// the result. A JSON-RPC error is returned as *rpc.Error.
func (tg *TestGateway) Call(ctx context.Context, method string, params, result any) error {
	return tg.CallAs(ctx, tg.secret, method, params, result)
}

// CallAs is Call presenting token instead of the configured secret.
func (tg *TestGateway) CallAs(ctx context.Context, token, method string, params, result any) error {
	req := jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: method, ID: json.RawMessage("1")}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return err
		}
		req.Params = raw
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tg.QueryURL(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set(auth.HeaderSecret, token)
	}

	resp, err := tg.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var rpcResp jsonrpc.Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, result)
}

// GRPCClient dials the gRPC listener with the configured secret.
func (tg *TestGateway) GRPCClient() (*grpcserver.Client, error) {
	addr := tg.Gateway.GRPCAddr()
	if addr == nil {
		return nil, errors.New("grpc is not enabled")
	}
	return grpcserver.NewClient(addr.String(), tg.secret)
}

// AppendBlocks extends the stored chain by one block per miner, starting a
// new chain when the store is empty, and returns the appended headers.
func (tg *TestGateway) AppendBlocks(ctx context.Context, miners ...*types.Address) ([]*types.BlockHeader, error) {
	tip, err := tg.Store.Tip(ctx)
	if errors.Is(err, types.ErrChainUnavailable) {
		tip = nil
	} else if err != nil {
		return nil, err
	}

	out := make([]*types.BlockHeader, 0, len(miners))
	for _, miner := range miners {
		h := NewHeader(tip, miner)
		if err := tg.Store.PutBlock(h); err != nil {
			return out, fmt.Errorf("storing block %d: %w", h.Index, err)
		}
		out = append(out, h)
		tip = h
	}
	return out, nil
}

// WaitForTip polls until the gateway reports a tip at index or higher.
func (tg *TestGateway) WaitForTip(ctx context.Context, index int64, timeout time.Duration) (*rpc.BlockHeaderJSON, error) {
	deadline := time.Now().Add(timeout)
	for {
		var tip *rpc.BlockHeaderJSON
		err := tg.Call(ctx, rpc.MethodTip, nil, &tip)
		if err == nil && tip != nil && tip.Index >= index {
			return tip, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout waiting for tip %d", index)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// genesisTime anchors every harness chain.
var genesisTime = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// NewHeader builds a header linked to prev. A nil prev builds a genesis header.
func NewHeader(prev *types.BlockHeader, miner *types.Address) *types.BlockHeader {
	h := &types.BlockHeader{Timestamp: genesisTime}
	if prev != nil {
		p := prev.Hash
		h.Index = prev.Index + 1
		h.PreviousHash = &p
		h.Timestamp = prev.Timestamp.Add(time.Second)
	}
	if miner != nil {
		m := *miner
		h.Miner = &m
	}
	h.Hash = types.HashHeaderFields(h.Index, h.PreviousHash, h.Miner, h.Timestamp.UnixNano())
	return h
}

// StreamClient is a websocket connection to the query path.
type StreamClient struct {
	conn   net.Conn
	nextID int
}

// DialStream opens a websocket on the query path with the configured secret.
func (tg *TestGateway) DialStream(ctx context.Context) (*StreamClient, error) {
	url := strings.Replace(tg.QueryURL(), "http://", "ws://", 1)
	header := http.Header{}
	if tg.secret != "" {
		header.Set(auth.HeaderAuthorization, "Bearer "+tg.secret)
	}
	conn, _, _, err := ws.Dialer{Header: ws.HandshakeHeaderHTTP(header)}.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return &StreamClient{conn: conn}, nil
}

// StreamMessage is a server message: a response or a subscription notification.
type StreamMessage struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpc.Error      `json:"error,omitempty"`
	Params *struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result,omitempty"`
		Error        *rpc.Error      `json:"error,omitempty"`
	} `json:"params,omitempty"`
}

// Send writes a request and returns its id.
func (sc *StreamClient) Send(method string, params any) (int, error) {
	sc.nextID++
	req := map[string]any{"jsonrpc": jsonrpc.Version, "id": sc.nextID, "method": method}
	if params != nil {
		req["params"] = params
	}
	data, err := json.Marshal(req)
	if err != nil {
		return 0, err
	}
	return sc.nextID, wsutil.WriteClientMessage(sc.conn, ws.OpText, data)
}

// Next reads the next server message.
func (sc *StreamClient) Next(timeout time.Duration) (*StreamMessage, error) {
	if err := sc.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	data, _, err := wsutil.ReadServerData(sc.conn)
	if err != nil {
		return nil, err
	}
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decoding %q: %w", data, err)
	}
	return &msg, nil
}

// Close closes the connection.
func (sc *StreamClient) Close() error {
	return sc.conn.Close()
}
