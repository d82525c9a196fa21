package blockstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/nodegate/types"
)

type backend struct {
	name string
	open func(t *testing.T, dir string) Writer
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T, _ string) Writer { return NewMemoryBlockStore() }},
		{"leveldb", func(t *testing.T, dir string) Writer {
			s, err := NewLevelDBBlockStore(dir)
			require.NoError(t, err)
			return s
		}},
		{"badgerdb", func(t *testing.T, dir string) Writer {
			s, err := NewBadgerDBBlockStoreWithOptions(dir, &BadgerDBOptions{SyncWrites: false})
			require.NoError(t, err)
			return s
		}},
	}
}

func header(index int64, name string, prev *types.BlockHeader, miner *types.Address) *types.BlockHeader {
	h := &types.BlockHeader{
		Index:     index,
		Hash:      types.HashBytes([]byte(name)),
		Miner:     miner,
		Timestamp: time.Unix(1_700_000_000+index, 123).UTC(),
	}
	if prev != nil {
		p := prev.Hash
		h.PreviousHash = &p
	}
	return h
}

func TestBlockStore_Backends(t *testing.T) {
	ctx := context.Background()
	minerA := types.Address{0xA}

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t, t.TempDir())
			defer s.Close()

			t.Run("empty store", func(t *testing.T) {
				_, err := s.Tip(ctx)
				require.ErrorIs(t, err, types.ErrChainUnavailable)
				_, err = s.Genesis(ctx)
				require.ErrorIs(t, err, types.ErrChainUnavailable)
				ids, err := s.StagedTransactionIDs(ctx)
				require.NoError(t, err)
				require.NotNil(t, ids)
				require.Empty(t, ids)
				require.Equal(t, FlagSet{}, s.Flags())
			})

			g := header(0, "g", nil, nil)
			b1 := header(1, "b1", g, &minerA)
			b2 := header(2, "b2", b1, nil)

			require.NoError(t, s.PutBlock(g))
			require.NoError(t, s.PutBlock(b2))
			require.NoError(t, s.PutBlock(b1))

			t.Run("tip is highest index", func(t *testing.T) {
				tip, err := s.Tip(ctx)
				require.NoError(t, err)
				require.Equal(t, b2, tip)
			})

			t.Run("genesis", func(t *testing.T) {
				gen, err := s.Genesis(ctx)
				require.NoError(t, err)
				require.Equal(t, g, gen)
				require.Nil(t, gen.PreviousHash)
				require.Nil(t, gen.Miner)
			})

			t.Run("by hash", func(t *testing.T) {
				got, err := s.BlockByHash(ctx, b1.Hash)
				require.NoError(t, err)
				require.Equal(t, b1, got)
				require.True(t, got.MinedBy(minerA))

				_, err = s.BlockByHash(ctx, types.HashBytes([]byte("missing")))
				require.ErrorIs(t, err, types.ErrBlockNotFound)
			})

			t.Run("duplicates rejected", func(t *testing.T) {
				require.ErrorIs(t, s.PutBlock(b1), types.ErrBlockAlreadyExists)
				require.ErrorIs(t, s.PutBlock(header(0, "g2", nil, nil)), types.ErrGenesisExists)
				require.ErrorIs(t, s.PutBlock(&types.BlockHeader{Index: 5}), types.ErrInvalidHeader)
			})

			t.Run("staged ids keep order", func(t *testing.T) {
				ids := []types.TxID{
					types.TxID(types.HashBytes([]byte("t2"))),
					types.TxID(types.HashBytes([]byte("t1"))),
				}
				require.NoError(t, s.SetStagedTransactionIDs(ids))
				got, err := s.StagedTransactionIDs(ctx)
				require.NoError(t, err)
				require.Equal(t, ids, got)
			})

			t.Run("flags", func(t *testing.T) {
				f := FlagSet{BootstrapEnded: true, IsMining: true}
				require.NoError(t, s.SetFlags(f))
				require.Equal(t, f, s.Flags())
			})

			t.Run("cancelled context", func(t *testing.T) {
				cctx, cancel := context.WithCancel(ctx)
				cancel()
				_, err := s.BlockByHash(cctx, b1.Hash)
				require.ErrorIs(t, err, context.Canceled)
			})
		})
	}
}

func TestBlockStore_Reopen(t *testing.T) {
	ctx := context.Background()

	for _, b := range backends()[1:] {
		t.Run(b.name, func(t *testing.T) {
			dir := t.TempDir()
			g := header(0, "g", nil, nil)
			b1 := header(1, "b1", g, &types.Address{1})

			s := b.open(t, dir)
			require.NoError(t, s.PutBlock(g))
			require.NoError(t, s.PutBlock(b1))
			require.NoError(t, s.SetFlags(FlagSet{PreloadEnded: true}))
			require.NoError(t, s.Close())

			s = b.open(t, dir)
			defer s.Close()

			tip, err := s.Tip(ctx)
			require.NoError(t, err)
			require.Equal(t, b1, tip)

			gen, err := s.Genesis(ctx)
			require.NoError(t, err)
			require.Equal(t, g, gen)

			require.True(t, s.Flags().PreloadEnded)
		})
	}
}

func TestMemoryBlockStore_DefensiveCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBlockStore()

	g := header(0, "g", nil, nil)
	require.NoError(t, s.PutBlock(g))
	g.Index = 99

	got, err := s.BlockByHash(ctx, g.Hash)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.Index)

	got.Index = 42
	again, err := s.Genesis(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), again.Index)
}

func TestMemoryBlockStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBlockStore()
	require.NoError(t, s.Close())

	_, err := s.Tip(ctx)
	require.ErrorIs(t, err, types.ErrStoreClosed)
	require.ErrorIs(t, s.PutBlock(header(0, "g", nil, nil)), types.ErrStoreClosed)
}

func TestMemoryBlockStore_ConcurrentReads(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBlockStore()
	prev := header(0, "g", nil, nil)
	require.NoError(t, s.PutBlock(prev))
	for i := int64(1); i <= 50; i++ {
		h := header(i, fmt.Sprintf("b%d", i), prev, nil)
		require.NoError(t, s.PutBlock(h))
		prev = h
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tip, err := s.Tip(ctx)
			if assert.NoError(t, err) {
				assert.Equal(t, int64(50), tip.Index)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 51, s.BlockCount())
}

func TestOpen(t *testing.T) {
	s, err := Open(BackendMemory, "")
	require.NoError(t, err)
	require.IsType(t, &MemoryBlockStore{}, s)

	_, err = Open(BackendLevelDB, "")
	require.Error(t, err)

	_, err = Open("rocksdb", t.TempDir())
	require.Error(t, err)

	s, err = Open(BackendLevelDB, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
