package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/nodegate/blockstore"
	"github.com/blockberries/nodegate/internal/chaintest"
	"github.com/blockberries/nodegate/metrics"
	"github.com/blockberries/nodegate/status"
	"github.com/blockberries/nodegate/types"
)

type countingMetrics struct {
	metrics.NopMetrics
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingMetrics) IncNotifications(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[kind]++
}

func (m *countingMetrics) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[kind]
}

func newWatched(t *testing.T) (*chaintest.Scenario, *status.AtomicFlags, *Bus, *TipWatcher, *countingMetrics) {
	t.Helper()
	s := chaintest.NewScenario()
	flags := status.NewAtomicFlags(blockstore.FlagSet{})
	resolver := status.NewResolver(s.Store, flags, status.DefaultConfig())

	bus := NewBus()
	require.NoError(t, bus.Start())
	t.Cleanup(func() { _ = bus.Stop() })

	m := &countingMetrics{counts: map[string]int{}}
	w := NewTipWatcher(resolver, bus, time.Hour, WithLogger(chaintest.NewLogger(t)), WithMetrics(m))
	return s, flags, bus, w, m
}

func TestTipWatcher_PublishesOnChange(t *testing.T) {
	s, flags, bus, w, m := newWatched(t)
	ctx := context.Background()

	ch, err := bus.Subscribe(ctx, "test", QueryAll{})
	require.NoError(t, err)

	require.NoError(t, w.Poll(ctx))
	tip := receive(t, ch)
	require.Equal(t, KindNewTip, tip.Kind)
	height, ok := Attribute(tip, AttrHeight)
	require.True(t, ok)
	require.Equal(t, "3", height)
	hash, _ := Attribute(tip, AttrHash)
	require.Equal(t, s.B3.Hash.String(), hash)
	miner, _ := Attribute(tip, AttrMiner)
	require.Equal(t, chaintest.MinerA.String(), miner)
	require.Equal(t, KindFlagsChanged, receive(t, ch).Kind)

	// Nothing changed.
	require.NoError(t, w.Poll(ctx))
	requireNothing(t, ch)

	b4 := chaintest.Header(s.B3, &chaintest.MinerC)
	chaintest.MustPut(s.Store, b4)
	require.NoError(t, w.Poll(ctx))
	e := receive(t, ch)
	require.Equal(t, KindNewTip, e.Kind)
	height, _ = Attribute(e, AttrHeight)
	require.Equal(t, "4", height)
	requireNothing(t, ch)

	flags.SetMining(true)
	require.NoError(t, w.Poll(ctx))
	e = receive(t, ch)
	require.Equal(t, KindFlagsChanged, e.Kind)
	mining, _ := Attribute(e, AttrIsMining)
	require.Equal(t, "true", mining)

	require.Equal(t, 2, m.count(KindNewTip))
	require.Equal(t, 2, m.count(KindFlagsChanged))
}

func TestTipWatcher_EmptyChain(t *testing.T) {
	flags := status.NewAtomicFlags(blockstore.FlagSet{})
	resolver := status.NewResolver(blockstore.NewMemoryBlockStore(), flags, status.DefaultConfig())

	bus := NewBus()
	require.NoError(t, bus.Start())
	defer bus.Stop()

	ch, err := bus.Subscribe(context.Background(), "test", QueryAll{})
	require.NoError(t, err)

	w := NewTipWatcher(resolver, bus, 0)
	require.NoError(t, w.Poll(context.Background()))
	require.Equal(t, KindFlagsChanged, receive(t, ch).Kind)
	requireNothing(t, ch)
}

type failingSource struct{}

func (failingSource) Tip(context.Context) (*types.BlockHeader, error) {
	return nil, errors.New("disk on fire")
}
func (failingSource) BootstrapEnded(context.Context) bool { return false }
func (failingSource) PreloadEnded(context.Context) bool   { return false }
func (failingSource) IsMining(context.Context) bool       { return false }

func TestTipWatcher_SourceError(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Start())
	defer bus.Stop()

	w := NewTipWatcher(failingSource{}, bus, 0)
	require.ErrorContains(t, w.Poll(context.Background()), "disk on fire")
}

func TestTipWatcher_StartStop(t *testing.T) {
	s, _, bus, _, _ := newWatched(t)
	flags := status.NewAtomicFlags(blockstore.FlagSet{})
	resolver := status.NewResolver(s.Store, flags, status.DefaultConfig())
	w := NewTipWatcher(resolver, bus, 10*time.Millisecond)

	ch, err := bus.Subscribe(context.Background(), "loop", QueryKind{Kind: KindNewTip})
	require.NoError(t, err)

	w.Start()
	w.Start()
	require.Equal(t, KindNewTip, receive(t, ch).Kind)

	chaintest.MustPut(s.Store, chaintest.Header(s.B3, nil))
	require.Equal(t, KindNewTip, receive(t, ch).Kind)

	w.Stop()
	w.Stop()
}

func TestNewTipEvent_Genesis(t *testing.T) {
	g := chaintest.Header(nil, nil)
	e := NewTipEvent(g)
	_, ok := Attribute(e, AttrMiner)
	require.False(t, ok)
	ts, ok := Attribute(e, AttrTimestamp)
	require.True(t, ok)
	require.Equal(t, "2024-01-01T00:00:00Z", ts)
}
