package grpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/blockberries/nodegate/auth"
	"github.com/blockberries/nodegate/events"
	"github.com/blockberries/nodegate/internal/chaintest"
	"github.com/blockberries/nodegate/rpc"
	"github.com/blockberries/nodegate/status"
)

const (
	testSecret = "s3cret"
	readerKey  = "reader-key"
)

type harness struct {
	scenario *chaintest.Scenario
	watcher  *events.TipWatcher
	server   *Server
}

func newHarness(t *testing.T, secret string, cfg Config) *harness {
	t.Helper()
	s := chaintest.NewScenario()
	require.NoError(t, s.Store.SetStagedTransactionIDs(chaintest.TxIDs(2)))

	resolver := status.NewResolver(s.Store, &status.AtomicFlags{}, status.Config{})
	authCfg := auth.DefaultConfig()
	authCfg.Secret = secret
	authCfg.APIKeys = []auth.APIKey{{Key: readerKey, Role: "Reader"}}
	d := rpc.NewDispatcher(resolver, auth.NewGate(authCfg))

	bus := events.NewBus()
	require.NoError(t, bus.Start())

	cfg.ListenAddr = "127.0.0.1:0"
	server := NewServer(d, cfg, WithEventBus(bus), WithLogger(chaintest.NewLogger(t)))
	require.NoError(t, server.Start())

	t.Cleanup(func() {
		_ = server.Stop()
		_ = bus.Stop()
	})

	return &harness{
		scenario: s,
		watcher:  events.NewTipWatcher(resolver, bus, time.Hour),
		server:   server,
	}
}

func (h *harness) client(t *testing.T, token string) *Client {
	t.Helper()
	c, err := NewClient(h.server.Addr().String(), token)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func requireCode(t *testing.T, want codes.Code, err error) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, want, grpcstatus.Code(err), "error: %v", err)
}

func TestCodec(t *testing.T) {
	codec := NewCodec()
	require.Equal(t, CodecName, codec.Name())

	in := &CallRequest{Method: rpc.MethodTopmostBlocks, Params: []byte(`{"limit":2}`)}
	data, err := codec.Marshal(in)
	require.NoError(t, err)

	var out CallRequest
	require.NoError(t, codec.Unmarshal(data, &out))
	require.Equal(t, in.Method, out.Method)
	require.Equal(t, in.Params, out.Params)

	data, err = codec.Marshal(nil)
	require.NoError(t, err)
	require.Nil(t, data)

	require.NoError(t, codec.Unmarshal(nil, &out))
	require.Error(t, codec.Unmarshal([]byte{1}, out))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want codes.Code
	}{
		{rpc.CodeUnauthenticated, codes.Unauthenticated},
		{rpc.CodeUnauthorized, codes.PermissionDenied},
		{rpc.CodeInvalidParams, codes.InvalidArgument},
		{rpc.CodeInvalidRequest, codes.InvalidArgument},
		{rpc.CodeChainUnavailable, codes.Unavailable},
		{rpc.CodeChainIntegrity, codes.DataLoss},
		{rpc.CodeMethodNotFound, codes.Unimplemented},
		{rpc.CodeInternalError, codes.Internal},
		{-1, codes.Internal},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, StatusCode(tt.code), "code %d", tt.code)
	}
	require.NoError(t, StatusError(nil))
}

func TestServer_Call(t *testing.T) {
	h := newHarness(t, "", DefaultConfig())
	c := h.client(t, "")
	ctx := testContext(t)

	var blocks []rpc.BlockHeaderJSON
	err := c.Call(ctx, rpc.MethodTopmostBlocks, map[string]any{
		"limit": 2,
		"miner": chaintest.MinerA.String(),
	}, &blocks)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, h.scenario.B3.Hash.String(), blocks[0].Hash)
	require.Equal(t, h.scenario.B1.Hash.String(), blocks[1].Hash)

	var positional []rpc.BlockHeaderJSON
	require.NoError(t, c.Call(ctx, rpc.MethodTopmostBlocks, []any{4}, &positional))
	require.Len(t, positional, 4)

	var mining bool
	require.NoError(t, c.Call(ctx, rpc.MethodIsMining, nil, &mining))
	require.False(t, mining)

	requireCode(t, codes.InvalidArgument, c.Call(ctx, rpc.MethodTopmostBlocks, map[string]any{"limit": -1}, nil))
	requireCode(t, codes.InvalidArgument, c.Call(ctx, rpc.MethodTopmostBlocks, nil, nil))
	requireCode(t, codes.Unimplemented, c.Call(ctx, "noSuchMethod", nil, nil))
}

func TestServer_Authentication(t *testing.T) {
	h := newHarness(t, testSecret, DefaultConfig())
	ctx := testContext(t)

	requireCode(t, codes.Unauthenticated, h.client(t, "").Call(ctx, rpc.MethodTip, nil, nil))
	requireCode(t, codes.Unauthenticated, h.client(t, "wrong").Call(ctx, rpc.MethodTip, nil, nil))

	var tip rpc.BlockHeaderJSON
	require.NoError(t, h.client(t, testSecret).Call(ctx, rpc.MethodTip, nil, &tip))
	require.Equal(t, h.scenario.B3.Hash.String(), tip.Hash)

	var ids []string
	require.NoError(t, h.client(t, testSecret).Call(ctx, rpc.MethodStagedTransactionIDs, nil, &ids))
	require.Len(t, ids, 2)
}

func TestServer_PrivilegedMethodNeedsClaim(t *testing.T) {
	h := newHarness(t, testSecret, DefaultConfig())
	ctx := testContext(t)

	requireCode(t, codes.PermissionDenied, h.client(t, readerKey).Call(ctx, rpc.MethodStagedTransactionIDs, nil, nil))

	w, err := h.client(t, readerKey).Watch(ctx, rpc.MethodStagedTransactionIDs, nil)
	require.NoError(t, err)
	_, err = w.Recv()
	requireCode(t, codes.PermissionDenied, err)
}

func TestServer_OpenModeGrantsPrivilegedMethods(t *testing.T) {
	h := newHarness(t, "", DefaultConfig())
	ctx := testContext(t)

	var ids []string
	require.NoError(t, h.client(t, "").Call(ctx, rpc.MethodStagedTransactionIDs, nil, &ids))
	require.Len(t, ids, 2)
}

func TestServer_WatchPushesChanges(t *testing.T) {
	h := newHarness(t, "", DefaultConfig())
	ctx := testContext(t)

	w, err := h.client(t, "").Watch(ctx, rpc.MethodTip, nil)
	require.NoError(t, err)

	resp, err := w.Recv()
	require.NoError(t, err)
	require.Zero(t, resp.ErrorCode)
	var tip rpc.BlockHeaderJSON
	require.NoError(t, json.Unmarshal(resp.Result, &tip))
	require.Equal(t, h.scenario.B3.Hash.String(), tip.Hash)

	// The first poll publishes events, but the tip result is unchanged.
	require.NoError(t, h.watcher.Poll(ctx))

	b4 := chaintest.Header(h.scenario.B3, &chaintest.MinerB)
	chaintest.MustPut(h.scenario.Store, b4)
	require.NoError(t, h.watcher.Poll(ctx))

	resp, err = w.Recv()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(resp.Result, &tip))
	require.Equal(t, b4.Hash.String(), tip.Hash)
	require.Equal(t, int64(4), tip.Index)
}

func TestServer_WatchRejectsBadRequests(t *testing.T) {
	h := newHarness(t, "", DefaultConfig())
	ctx := testContext(t)
	c := h.client(t, "")

	w, err := c.Watch(ctx, "noSuchMethod", nil)
	require.NoError(t, err)
	_, err = w.Recv()
	requireCode(t, codes.Unimplemented, err)

	w, err = c.Watch(ctx, rpc.MethodTopmostBlocks, map[string]any{"limit": 1, "bogus": true})
	require.NoError(t, err)
	_, err = w.Recv()
	requireCode(t, codes.InvalidArgument, err)
}

func TestServer_RateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.PerClientRate = 1
	cfg.RateLimit.Burst = 1
	cfg.RateLimit.Interval = time.Hour
	h := newHarness(t, "", cfg)
	c := h.client(t, "")
	ctx := testContext(t)

	require.NoError(t, c.Call(ctx, rpc.MethodTip, nil, nil))
	requireCode(t, codes.ResourceExhausted, c.Call(ctx, rpc.MethodTip, nil, nil))
}

func TestServer_StopEndsWatchStreams(t *testing.T) {
	h := newHarness(t, "", DefaultConfig())
	ctx := testContext(t)
	c, err := NewClient(h.server.Addr().String(), "")
	require.NoError(t, err)
	defer c.Close()

	w, err := c.Watch(ctx, rpc.MethodGenesis, nil)
	require.NoError(t, err)
	_, err = w.Recv()
	require.NoError(t, err)

	require.NoError(t, h.server.Stop())
	require.False(t, h.server.IsRunning())
	require.NoError(t, h.server.Stop())

	_, err = w.Recv()
	require.Error(t, err)
}
