package blockstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/nodegate/types"
)

func TestCachedBlockStore(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryBlockStore()
	store, err := NewCachedBlockStore(inner, 4)
	require.NoError(t, err)
	defer store.Close()

	g := header(0, "g", nil, nil)
	b1 := header(1, "b1", g, nil)
	require.NoError(t, store.PutBlock(g))
	require.NoError(t, store.PutBlock(b1))

	got, err := store.BlockByHash(ctx, g.Hash)
	require.NoError(t, err)
	require.Equal(t, g.Hash, got.Hash)

	// Mutating a returned header does not reach the cached copy.
	got.Index = 99
	got, err = store.BlockByHash(ctx, g.Hash)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.Index)

	hits, misses := store.CacheStats()
	require.Equal(t, uint64(1), hits)
	require.Equal(t, uint64(1), misses)

	// The tip is cached as a side effect of reading it.
	tip, err := store.Tip(ctx)
	require.NoError(t, err)
	require.Equal(t, b1.Hash, tip.Hash)
	_, err = store.BlockByHash(ctx, b1.Hash)
	require.NoError(t, err)
	hits, _ = store.CacheStats()
	require.Equal(t, uint64(2), hits)
}

func TestCachedBlockStore_MissesAreNotCached(t *testing.T) {
	ctx := context.Background()
	store, err := NewCachedBlockStore(NewMemoryBlockStore(), 0)
	require.NoError(t, err)
	defer store.Close()

	g := header(0, "g", nil, nil)
	_, err = store.BlockByHash(ctx, g.Hash)
	require.ErrorIs(t, err, types.ErrBlockNotFound)

	require.NoError(t, store.PutBlock(g))
	got, err := store.BlockByHash(ctx, g.Hash)
	require.NoError(t, err)
	require.Equal(t, g.Hash, got.Hash)

	_, misses := store.CacheStats()
	require.Equal(t, uint64(2), misses)
}

func TestCachedBlockStore_Eviction(t *testing.T) {
	ctx := context.Background()
	store, err := NewCachedBlockStore(NewMemoryBlockStore(), 2)
	require.NoError(t, err)
	defer store.Close()

	var prev *types.BlockHeader
	var chain []*types.BlockHeader
	for i, name := range []string{"g", "b1", "b2"} {
		h := header(int64(i), name, prev, nil)
		require.NoError(t, store.PutBlock(h))
		chain = append(chain, h)
		prev = h
	}
	for _, h := range chain {
		_, err := store.BlockByHash(ctx, h.Hash)
		require.NoError(t, err)
	}
	// Genesis was evicted by b2; b2 is still cached.
	_, err = store.BlockByHash(ctx, chain[2].Hash)
	require.NoError(t, err)
	_, err = store.BlockByHash(ctx, chain[0].Hash)
	require.NoError(t, err)

	hits, misses := store.CacheStats()
	require.Equal(t, uint64(1), hits)
	require.Equal(t, uint64(4), misses)
}
