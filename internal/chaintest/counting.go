package chaintest

import (
	"context"
	"sync/atomic"

	"github.com/blockberries/nodegate/blockstore"
	"github.com/blockberries/nodegate/types"
)

// CountingChain counts every read that reaches the wrapped store.
type CountingChain struct {
	blockstore.BlockStore

	reads atomic.Int64
}

// NewCountingChain wraps store.
func NewCountingChain(store blockstore.BlockStore) *CountingChain {
	return &CountingChain{BlockStore: store}
}

// Reads returns the number of store reads so far.
func (c *CountingChain) Reads() int64 {
	return c.reads.Load()
}

func (c *CountingChain) BlockByHash(ctx context.Context, hash types.Hash) (*types.BlockHeader, error) {
	c.reads.Add(1)
	return c.BlockStore.BlockByHash(ctx, hash)
}

func (c *CountingChain) Tip(ctx context.Context) (*types.BlockHeader, error) {
	c.reads.Add(1)
	return c.BlockStore.Tip(ctx)
}

func (c *CountingChain) Genesis(ctx context.Context) (*types.BlockHeader, error) {
	c.reads.Add(1)
	return c.BlockStore.Genesis(ctx)
}

func (c *CountingChain) StagedTransactionIDs(ctx context.Context) ([]types.TxID, error) {
	c.reads.Add(1)
	return c.BlockStore.StagedTransactionIDs(ctx)
}

func (c *CountingChain) Flags() blockstore.FlagSet {
	c.reads.Add(1)
	return c.BlockStore.Flags()
}
