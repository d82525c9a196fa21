package chainwalk

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/nodegate/blockstore"
	"github.com/blockberries/nodegate/internal/chaintest"
	"github.com/blockberries/nodegate/types"
)

// countingSource counts lookups made against the wrapped store.
type countingSource struct {
	src     Source
	lookups atomic.Int32
}

func (c *countingSource) BlockByHash(ctx context.Context, hash types.Hash) (*types.BlockHeader, error) {
	c.lookups.Add(1)
	return c.src.BlockByHash(ctx, hash)
}

func indexes(headers []*types.BlockHeader) []int64 {
	out := make([]int64, len(headers))
	for i, h := range headers {
		out[i] = h.Index
	}
	return out
}

func TestWalk_Scenario(t *testing.T) {
	ctx := context.Background()
	s := chaintest.NewScenario()

	tests := []struct {
		name  string
		limit int
		miner *types.Address
		want  []*types.BlockHeader
	}{
		{"limit 2 no filter", 2, nil, []*types.BlockHeader{s.B3, s.B2}},
		{"limit 2 miner A", 2, &chaintest.MinerA, []*types.BlockHeader{s.B3, s.B1}},
		{"limit 10 no filter", 10, nil, []*types.BlockHeader{s.B3, s.B2, s.B1, s.Genesis}},
		{"limit 1 miner B", 1, &chaintest.MinerB, []*types.BlockHeader{s.B2}},
		{"limit 10 miner B", 10, &chaintest.MinerB, []*types.BlockHeader{s.B2}},
		{"limit 0", 0, nil, []*types.BlockHeader{}},
		{"unknown miner", 5, &chaintest.MinerC, []*types.BlockHeader{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Walk(ctx, s.Store, s.B3, tt.limit, tt.miner)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestWalk_ZeroLimitDoesNoLookups(t *testing.T) {
	s := chaintest.NewScenario()
	src := &countingSource{src: s.Store}

	got, err := Walk(context.Background(), src, s.B3, 0, nil)
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, int32(0), src.lookups.Load())

	got, err = Walk(context.Background(), src, s.B3, -3, nil)
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, int32(0), src.lookups.Load())
}

func TestWalk_Lazy(t *testing.T) {
	s := chaintest.NewScenario()

	t.Run("stops once the limit is met", func(t *testing.T) {
		src := &countingSource{src: s.Store}
		got, err := Walk(context.Background(), src, s.B3, 1, nil)
		require.NoError(t, err)
		require.Equal(t, []int64{3}, indexes(got))
		require.Equal(t, int32(0), src.lookups.Load())
	})

	t.Run("one lookup per step", func(t *testing.T) {
		src := &countingSource{src: s.Store}
		it := New(context.Background(), src, s.B3, 2, &chaintest.MinerA)
		require.True(t, it.Next())
		require.Equal(t, s.B3, it.Header())
		require.True(t, it.Next())
		require.Equal(t, s.B1, it.Header())
		require.False(t, it.Next())
		require.NoError(t, it.Err())
		require.Equal(t, 3, it.Scanned())
		require.Equal(t, int32(2), src.lookups.Load())
	})
}

func TestWalk_OrderAndBound(t *testing.T) {
	chain := chaintest.Linear(25, chaintest.MinerA, chaintest.MinerB, chaintest.MinerC)
	store := blockstore.NewMemoryBlockStore()
	chaintest.MustPut(store, chain...)
	tip := chain[len(chain)-1]

	for _, limit := range []int{1, 5, 26, 100} {
		got, err := Walk(context.Background(), store, tip, limit, nil)
		require.NoError(t, err)
		require.Len(t, got, min(limit, len(chain)))
		for i := 1; i < len(got); i++ {
			require.Equal(t, got[i-1].Index-1, got[i].Index)
		}
	}

	got, err := Walk(context.Background(), store, tip, 100, &chaintest.MinerB)
	require.NoError(t, err)
	for _, h := range got {
		require.True(t, h.MinedBy(chaintest.MinerB))
	}
	require.Len(t, got, 8)
}

func TestWalk_MissingPredecessor(t *testing.T) {
	s := chaintest.NewScenario()
	orphan := chaintest.Header(chaintest.Header(s.B3, nil), &chaintest.MinerA)

	got, err := Walk(context.Background(), s.Store, orphan, 5, nil)
	require.Nil(t, got)

	ce, ok := types.IsChainIntegrity(err)
	require.True(t, ok)
	require.Equal(t, orphan.Hash, ce.Block)
	require.Equal(t, *orphan.PreviousHash, ce.Missing)
	require.ErrorIs(t, err, types.ErrBlockNotFound)
}

func TestWalk_HeightGap(t *testing.T) {
	s := chaintest.NewScenario()

	// Links to B1 while claiming height 5.
	bad := chaintest.Header(s.B1, nil)
	bad.Index = 5
	bad.Hash = types.HashBytes([]byte("gap"))

	_, err := Walk(context.Background(), s.Store, bad, 3, nil)
	ce, ok := types.IsChainIntegrity(err)
	require.True(t, ok)
	require.Equal(t, int64(5), ce.Height)
}

func TestWalk_Cancelled(t *testing.T) {
	s := chaintest.NewScenario()
	ctx, cancel := context.WithCancel(context.Background())

	src := SourceFunc(func(ctx context.Context, hash types.Hash) (*types.BlockHeader, error) {
		cancel()
		return s.Store.BlockByHash(context.Background(), hash)
	})

	_, err := Walk(ctx, src, s.B3, 10, nil)
	require.ErrorIs(t, err, context.Canceled)
	_, ok := types.IsChainIntegrity(err)
	require.False(t, ok)
}

func TestWalk_StoreError(t *testing.T) {
	s := chaintest.NewScenario()
	boom := errors.New("disk on fire")

	src := SourceFunc(func(context.Context, types.Hash) (*types.BlockHeader, error) {
		return nil, boom
	})

	_, err := Walk(context.Background(), src, s.B3, 10, nil)
	require.ErrorIs(t, err, boom)
}

func TestWalk_NilTip(t *testing.T) {
	got, err := Walk(context.Background(), blockstore.NewMemoryBlockStore(), nil, 10, nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestIterator_Independent(t *testing.T) {
	s := chaintest.NewScenario()
	ctx := context.Background()

	a := New(ctx, s.Store, s.B3, 4, nil)
	b := New(ctx, s.Store, s.B3, 4, nil)

	require.True(t, a.Next())
	require.True(t, a.Next())
	require.True(t, b.Next())
	require.Equal(t, s.B2, a.Header())
	require.Equal(t, s.B3, b.Header())
}
