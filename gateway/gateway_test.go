package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blockberries/nodegate/auth"
	"github.com/blockberries/nodegate/internal/chaintest"
	"github.com/blockberries/nodegate/metrics"
	"github.com/blockberries/nodegate/rpc"
	grpcserver "github.com/blockberries/nodegate/rpc/grpc"
	"github.com/blockberries/nodegate/status"
)

const testSecret = "hunter2"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.PollInterval = 20 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.WebSocket.PingInterval = time.Hour
	return cfg
}

func newGateway(t *testing.T, cfg Config, secret string, chain status.Chain, opts ...Option) *Gateway {
	t.Helper()
	resolver := status.NewResolver(chain, &status.AtomicFlags{}, status.DefaultConfig())
	authCfg := auth.DefaultConfig()
	authCfg.Secret = secret
	opts = append([]Option{WithLogger(chaintest.NewLogger(t))}, opts...)
	g, err := New(cfg, resolver, auth.NewGate(authCfg), opts...)
	require.NoError(t, err)
	return g
}

func startGateway(t *testing.T, g *Gateway) string {
	t.Helper()
	require.NoError(t, g.Start())
	t.Cleanup(func() {
		if g.IsRunning() {
			require.NoError(t, g.Stop())
		}
	})
	return "http://" + g.Addr().String()
}

func serve(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpc.Error      `json:"error"`
}

func TestGateway_HealthCheckBypassesAuthAndStore(t *testing.T) {
	chain := chaintest.NewCountingChain(chaintest.NewScenario().Store)
	g := newGateway(t, testConfig(), testSecret, chain)

	rec := serve(g.Handler(), http.MethodGet, "/health-check", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"Healthy"}`, rec.Body.String())

	rec = serve(g.Handler(), http.MethodPost, "/health-check", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Zero(t, chain.Reads())

	// A rejected query leaves the store untouched as well.
	rec = serve(g.Handler(), http.MethodPost, "/query", `{"jsonrpc":"2.0","id":1,"method":"tip"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, chain.Reads())
}

func TestGateway_Query(t *testing.T) {
	s := chaintest.NewScenario()
	g := newGateway(t, testConfig(), testSecret, s.Store)
	body := `{"jsonrpc":"2.0","id":1,"method":"topmostBlocks","params":{"limit":2}}`

	rec := serve(g.Handler(), http.MethodPost, "/query", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(g.Handler(), http.MethodPost, "/query", body, "Secret", testSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)

	var blocks []rpc.BlockHeaderJSON
	require.NoError(t, json.Unmarshal(resp.Result, &blocks))
	require.Len(t, blocks, 2)
	require.Equal(t, s.B3.Hash.String(), blocks[0].Hash)
	require.Equal(t, s.B2.Hash.String(), blocks[1].Hash)

	rec = serve(g.Handler(), http.MethodGet, "/query", "", "Secret", testSecret)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGateway_CORSAllowsAnyOrigin(t *testing.T) {
	g := newGateway(t, testConfig(), "", chaintest.NewScenario().Store)

	rec := serve(g.Handler(), http.MethodPost, "/query",
		`{"jsonrpc":"2.0","id":1,"method":"isMining"}`,
		"Origin", "https://explorer.example")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = serve(g.Handler(), http.MethodOptions, "/query", "",
		"Origin", "https://explorer.example",
		"Access-Control-Request-Method", http.MethodPost,
		"Access-Control-Request-Headers", "Authorization")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "Authorization", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestGateway_SchemaAndExplorer(t *testing.T) {
	g := newGateway(t, testConfig(), "", chaintest.NewScenario().Store)

	rec := serve(g.Handler(), http.MethodGet, "/query/schema", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var schema rpc.Schema
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &schema))
	require.Equal(t, "LocalPolicy", schema.Policy.Name)
	require.Len(t, schema.Methods, len(rpc.Methods()))

	rec = serve(g.Handler(), http.MethodGet, "/ui/playground", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	for _, m := range rpc.Methods() {
		require.Contains(t, rec.Body.String(), m.Name)
	}

	cfg := testConfig()
	cfg.ExplorerEnabled = false
	g = newGateway(t, cfg, "", chaintest.NewScenario().Store)
	rec = serve(g.Handler(), http.MethodGet, "/ui/playground", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateway_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.Rate = 1
	cfg.RateLimit.Burst = 1
	cfg.RateLimit.Interval = time.Hour
	m := metrics.NewPrometheusMetrics("nodegate")
	g := newGateway(t, cfg, "", chaintest.NewScenario().Store, WithMetrics(m))
	t.Cleanup(g.limiter.Close)

	body := `{"jsonrpc":"2.0","id":1,"method":"tip"}`
	require.Equal(t, http.StatusOK, serve(g.Handler(), http.MethodPost, "/query", body).Code)

	rec := serve(g.Handler(), http.MethodPost, "/query", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "3600", rec.Header().Get("Retry-After"))

	// Liveness probes are never throttled.
	require.Equal(t, http.StatusOK, serve(g.Handler(), http.MethodGet, "/health-check", "").Code)

	rec = serve(m.Handler(), http.MethodGet, "/metrics", "")
	require.Contains(t, rec.Body.String(), `nodegate_rate_limited_total{transport="http"} 1`)
}

func TestGateway_RecoversFromPanics(t *testing.T) {
	g := newGateway(t, testConfig(), "", chaintest.NewScenario().Store)
	h := g.withMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := serve(h, http.MethodGet, "/anything", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGateway_WebSocketOnQueryPath(t *testing.T) {
	s := chaintest.NewScenario()
	g := newGateway(t, testConfig(), testSecret, s.Store)
	url := strings.Replace(startGateway(t, g), "http://", "ws://", 1) + "/query"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, _, _, err := ws.Dialer{}.Dial(ctx, url)
	require.Error(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+testSecret)
	conn, _, _, err := ws.Dialer{Header: ws.HandshakeHeaderHTTP(header)}.Dial(ctx, url)
	require.NoError(t, err)
	defer conn.Close()

	readMessage := func() map[string]json.RawMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		data, _, err := wsutil.ReadServerData(conn)
		require.NoError(t, err)
		var msg map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &msg), string(data))
		return msg
	}

	require.NoError(t, wsutil.WriteClientMessage(conn, ws.OpText,
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"subscribe","params":{"method":"tip"}}`)))
	require.Contains(t, readMessage(), "result")

	var tip rpc.BlockHeaderJSON
	notification := readMessage()
	require.JSONEq(t, `"subscription"`, string(notification["method"]))
	var params struct {
		Result json.RawMessage `json:"result"`
	}
	require.NoError(t, json.Unmarshal(notification["params"], &params))
	require.NoError(t, json.Unmarshal(params.Result, &tip))
	require.Equal(t, s.B3.Hash.String(), tip.Hash)

	// The watcher polls the store and the subscription follows the new tip.
	b4 := chaintest.Header(s.B3, &chaintest.MinerC)
	chaintest.MustPut(s.Store, b4)

	notification = readMessage()
	require.NoError(t, json.Unmarshal(notification["params"], &params))
	require.NoError(t, json.Unmarshal(params.Result, &tip))
	require.Equal(t, b4.Hash.String(), tip.Hash)
}

func TestGateway_GRPCAndMetricsListeners(t *testing.T) {
	cfg := testConfig()
	cfg.GRPCEnabled = true
	cfg.GRPC.ListenAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	s := chaintest.NewScenario()
	g := newGateway(t, cfg, testSecret, s.Store, WithMetrics(metrics.NewPrometheusMetrics("nodegate")))
	startGateway(t, g)

	client, err := grpcserver.NewClient(g.GRPCAddr().String(), testSecret)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var genesis rpc.BlockHeaderJSON
	require.NoError(t, client.Call(ctx, rpc.MethodGenesis, nil, &genesis))
	require.Equal(t, s.Genesis.Hash.String(), genesis.Hash)
	require.Nil(t, genesis.PreviousHash)

	resp, err := http.Get("http://" + g.MetricsAddr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `nodegate_requests_total{method="genesis",outcome="ok",transport="grpc"} 1`)
}

func TestGateway_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := testConfig()
	cfg.RateLimit.Enabled = true
	g := newGateway(t, cfg, "", chaintest.NewScenario().Store)
	require.False(t, g.IsRunning())
	require.Nil(t, g.Addr())
	require.Nil(t, g.GRPCAddr())
	require.ErrorIs(t, g.Stop(), ErrNotStarted)

	require.NoError(t, g.Start())
	require.True(t, g.IsRunning())
	require.NotNil(t, g.Addr())
	require.ErrorIs(t, g.Start(), ErrAlreadyStarted)

	require.NoError(t, g.Stop())
	require.False(t, g.IsRunning())
	require.ErrorIs(t, g.Stop(), ErrNotStarted)
	require.ErrorIs(t, g.Start(), ErrStopped)
}
