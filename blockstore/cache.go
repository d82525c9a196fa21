package blockstore

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/blockberries/nodegate/types"
)

// DefaultHeaderCacheSize is the number of headers kept by NewCachedBlockStore
// when no size is configured.
const DefaultHeaderCacheSize = 1024

// CachedBlockStore keeps recently walked headers in memory in front of a Writer.
// Stored headers never change, so hits are served without touching the store.
// Misses, including not-found lookups, always reach the store.
type CachedBlockStore struct {
	Writer

	headers *lru.Cache[types.Hash, *types.BlockHeader]
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// NewCachedBlockStore wraps store with a header cache holding size entries.
func NewCachedBlockStore(store Writer, size int) (*CachedBlockStore, error) {
	if size <= 0 {
		size = DefaultHeaderCacheSize
	}
	headers, err := lru.New[types.Hash, *types.BlockHeader](size)
	if err != nil {
		return nil, fmt.Errorf("creating header cache: %w", err)
	}
	return &CachedBlockStore{Writer: store, headers: headers}, nil
}

// BlockByHash returns a copy of the cached header or loads it from the store.
func (c *CachedBlockStore) BlockByHash(ctx context.Context, hash types.Hash) (*types.BlockHeader, error) {
	if h, ok := c.headers.Get(hash); ok {
		c.hits.Add(1)
		return h.Clone(), nil
	}
	c.misses.Add(1)

	h, err := c.Writer.BlockByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	c.headers.Add(hash, h.Clone())
	return h, nil
}

// Tip reads through to the store and caches the returned header.
func (c *CachedBlockStore) Tip(ctx context.Context) (*types.BlockHeader, error) {
	h, err := c.Writer.Tip(ctx)
	if err != nil || h == nil {
		return h, err
	}
	c.headers.Add(h.Hash, h.Clone())
	return h, nil
}

// Close purges the cache and closes the underlying store.
func (c *CachedBlockStore) Close() error {
	c.headers.Purge()
	return c.Writer.Close()
}

// CacheStats reports cache hits and misses since construction.
func (c *CachedBlockStore) CacheStats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
