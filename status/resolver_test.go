package status

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/blockberries/nodegate/blockstore"
	"github.com/blockberries/nodegate/internal/chaintest"
	"github.com/blockberries/nodegate/logging"
	"github.com/blockberries/nodegate/metrics"
	tracing "github.com/blockberries/nodegate/tracing/otel"
	"github.com/blockberries/nodegate/types"
)

func newResolver(t *testing.T, chain Chain, opts ...Option) *Resolver {
	t.Helper()
	opts = append([]Option{WithLogger(chaintest.NewLogger(t))}, opts...)
	return NewResolver(chain, &AtomicFlags{}, DefaultConfig(), opts...)
}

func TestResolver_Flags(t *testing.T) {
	ctx := context.Background()
	flags := NewAtomicFlags(blockstore.FlagSet{PreloadEnded: true})
	r := NewResolver(chaintest.NewScenario().Store, flags, DefaultConfig())

	require.False(t, r.BootstrapEnded(ctx))
	require.True(t, r.PreloadEnded(ctx))
	require.False(t, r.IsMining(ctx))

	flags.SetBootstrapEnded(true)
	flags.SetMining(true)
	require.True(t, r.BootstrapEnded(ctx))
	require.True(t, r.IsMining(ctx))
	require.Equal(t, blockstore.FlagSet{BootstrapEnded: true, PreloadEnded: true, IsMining: true}, flags.Load())
}

func TestResolver_StoreFlags(t *testing.T) {
	store := blockstore.NewMemoryBlockStore()
	r := NewResolver(store, StoreFlags{Store: store}, DefaultConfig())

	require.False(t, r.IsMining(context.Background()))
	require.NoError(t, store.SetFlags(blockstore.FlagSet{IsMining: true}))
	require.True(t, r.IsMining(context.Background()))
}

func TestResolver_TipAndGenesis(t *testing.T) {
	ctx := context.Background()
	s := chaintest.NewScenario()
	r := newResolver(t, s.Store)

	tip, err := r.Tip(ctx)
	require.NoError(t, err)
	require.Equal(t, s.B3, tip)

	g, err := r.Genesis(ctx)
	require.NoError(t, err)
	require.Equal(t, s.Genesis, g)
	require.Nil(t, g.PreviousHash)
}

func TestResolver_EmptyChain(t *testing.T) {
	ctx := context.Background()
	r := newResolver(t, blockstore.NewMemoryBlockStore())

	_, err := r.Tip(ctx)
	require.ErrorIs(t, err, types.ErrChainUnavailable)
	_, err = r.Genesis(ctx)
	require.ErrorIs(t, err, types.ErrChainUnavailable)
	_, err = r.TopmostBlocks(ctx, 3, nil)
	require.ErrorIs(t, err, types.ErrChainUnavailable)
	_, err = r.NodeStatus(ctx)
	require.ErrorIs(t, err, types.ErrChainUnavailable)
}

// nilChain reports no tip by returning a nil header without error.
type nilChain struct{ *blockstore.MemoryBlockStore }

func (nilChain) Tip(context.Context) (*types.BlockHeader, error) { return nil, nil }

func TestResolver_NilTipIsUnavailable(t *testing.T) {
	r := newResolver(t, nilChain{blockstore.NewMemoryBlockStore()})
	_, err := r.Tip(context.Background())
	require.ErrorIs(t, err, types.ErrChainUnavailable)
}

func TestResolver_StagedTransactionIDs(t *testing.T) {
	ctx := context.Background()
	s := chaintest.NewScenario()
	r := newResolver(t, s.Store)

	ids, err := r.StagedTransactionIDs(ctx)
	require.NoError(t, err)
	require.NotNil(t, ids)
	require.Empty(t, ids)

	want := chaintest.TxIDs(3)
	require.NoError(t, s.Store.SetStagedTransactionIDs(want))
	ids, err = r.StagedTransactionIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, want, ids)
}

func TestResolver_TopmostBlocks(t *testing.T) {
	ctx := context.Background()
	s := chaintest.NewScenario()
	r := newResolver(t, s.Store)

	got, err := r.TopmostBlocks(ctx, 2, nil)
	require.NoError(t, err)
	require.Equal(t, []*types.BlockHeader{s.B3, s.B2}, got)

	got, err = r.TopmostBlocks(ctx, 2, &chaintest.MinerA)
	require.NoError(t, err)
	require.Equal(t, []*types.BlockHeader{s.B3, s.B1}, got)

	got, err = r.TopmostBlocks(ctx, 10, nil)
	require.NoError(t, err)
	require.Equal(t, s.Chain(), got)

	got, err = r.TopmostBlocks(ctx, 1, &chaintest.MinerB)
	require.NoError(t, err)
	require.Equal(t, []*types.BlockHeader{s.B2}, got)

	got, err = r.TopmostBlocks(ctx, 0, nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestResolver_TopmostBlocksZeroLimitSkipsStore(t *testing.T) {
	ctx := context.Background()
	chain := chaintest.NewCountingChain(blockstore.NewMemoryBlockStore())
	r := newResolver(t, chain)

	got, err := r.TopmostBlocks(ctx, 0, &chaintest.MinerA)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
	require.Zero(t, chain.Reads())

	_, err = r.TopmostBlocks(ctx, 1, nil)
	require.ErrorIs(t, err, types.ErrChainUnavailable)
}

func TestResolver_TopmostBlocksLimits(t *testing.T) {
	ctx := context.Background()
	s := chaintest.NewScenario()
	r := NewResolver(s.Store, &AtomicFlags{}, Config{MaxLimit: 3})

	_, err := r.TopmostBlocks(ctx, -1, nil)
	require.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = r.TopmostBlocks(ctx, 4, nil)
	require.ErrorIs(t, err, types.ErrInvalidArgument)

	got, err := r.TopmostBlocks(ctx, 3, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)

	unbounded := NewResolver(s.Store, &AtomicFlags{}, Config{})
	got, err = unbounded.TopmostBlocks(ctx, 1_000_000, nil)
	require.NoError(t, err)
	require.Len(t, got, 4)
}

func TestResolver_IntegrityLogged(t *testing.T) {
	ctx := context.Background()
	s := chaintest.NewScenario()

	// A tip whose predecessor was never stored.
	dangling := chaintest.Header(chaintest.Header(s.B3, nil), &chaintest.MinerB)
	require.NoError(t, s.Store.PutBlock(dangling))

	buf := &bytes.Buffer{}
	r := NewResolver(s.Store, &AtomicFlags{}, DefaultConfig(),
		WithLogger(logging.NewTextLogger(buf, slog.LevelInfo)))

	got, err := r.TopmostBlocks(ctx, 5, nil)
	require.Nil(t, got)
	_, ok := types.IsChainIntegrity(err)
	require.True(t, ok)
	require.Contains(t, buf.String(), "level=ERROR")
	require.Contains(t, buf.String(), "chain integrity violation")
	require.Contains(t, buf.String(), "component=status")

	// The dangling block is still reachable on its own.
	got, err = r.TopmostBlocks(ctx, 1, nil)
	require.NoError(t, err)
	require.Equal(t, []*types.BlockHeader{dangling}, got)
}

// slowChain delays every predecessor lookup.
type slowChain struct {
	*blockstore.MemoryBlockStore
	delay time.Duration
}

func (c slowChain) BlockByHash(ctx context.Context, h types.Hash) (*types.BlockHeader, error) {
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.MemoryBlockStore.BlockByHash(ctx, h)
}

func TestResolver_WalkTimeout(t *testing.T) {
	s := chaintest.NewScenario()
	r := NewResolver(slowChain{s.Store, 50 * time.Millisecond}, &AtomicFlags{},
		Config{WalkTimeout: 10 * time.Millisecond})

	_, err := r.TopmostBlocks(context.Background(), 4, nil)
	require.ErrorIs(t, err, types.ErrChainUnavailable)
}

func TestResolver_CallerCancel(t *testing.T) {
	s := chaintest.NewScenario()
	r := NewResolver(slowChain{s.Store, time.Second}, &AtomicFlags{}, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.TopmostBlocks(ctx, 4, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, errors.Is(err, types.ErrChainUnavailable))
}

func TestResolver_NodeStatus(t *testing.T) {
	s := chaintest.NewScenario()
	flags := NewAtomicFlags(blockstore.FlagSet{BootstrapEnded: true, IsMining: true})
	r := NewResolver(s.Store, flags, DefaultConfig())

	ns, err := r.NodeStatus(context.Background())
	require.NoError(t, err)
	require.True(t, ns.BootstrapEnded)
	require.False(t, ns.PreloadEnded)
	require.True(t, ns.IsMining)
	require.Equal(t, s.B3, ns.Tip)
	require.Equal(t, s.Genesis, ns.Genesis)
}

func TestResolver_Observability(t *testing.T) {
	s := chaintest.NewScenario()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	m := metrics.NewPrometheusMetrics("test")

	r := NewResolver(s.Store, &AtomicFlags{}, DefaultConfig(),
		WithTracer(tracing.NewTracerWithProvider("test", provider)),
		WithMetrics(m),
	)

	_, err := r.TopmostBlocks(context.Background(), 2, &chaintest.MinerA)
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "status.TopmostBlocks", spans[0].Name)
	require.Contains(t, spans[0].Attributes, attribute.Int("limit", 2))
	require.Contains(t, spans[0].Attributes, attribute.Int("scanned", 3))
	require.Contains(t, spans[0].Attributes, attribute.Int("returned", 2))
}

func TestResolver_DoesNotMutate(t *testing.T) {
	ctx := context.Background()
	s := chaintest.NewScenario()
	r := newResolver(t, s.Store)

	before := s.Store.BlockCount()
	_, _ = r.TopmostBlocks(ctx, 10, nil)
	_, _ = r.NodeStatus(ctx)
	_, _ = r.StagedTransactionIDs(ctx)
	require.Equal(t, before, s.Store.BlockCount())
}
