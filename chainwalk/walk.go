// Package chainwalk walks the chain backwards from a starting header,
// yielding headers newest to oldest with an optional producer filter.
package chainwalk

import (
	"context"
	"errors"

	"github.com/blockberries/nodegate/types"
)

// Source resolves headers by hash.
type Source interface {
	BlockByHash(ctx context.Context, hash types.Hash) (*types.BlockHeader, error)
}

// SourceFunc adapts a function to a Source.
type SourceFunc func(ctx context.Context, hash types.Hash) (*types.BlockHeader, error)

// BlockByHash calls f.
func (f SourceFunc) BlockByHash(ctx context.Context, hash types.Hash) (*types.BlockHeader, error) {
	return f(ctx, hash)
}

// Iterator is a lazy reverse walk over the chain.
//
// The filter is applied before the limit: only headers mined by the filter
// address count toward it. The walk stops once limit matches have been
// yielded or the genesis header has been visited. Each Iterator owns its
// cursor and must not be shared between goroutines.
type Iterator struct {
	ctx   context.Context
	src   Source
	miner *types.Address

	next      *types.BlockHeader // next candidate, nil when exhausted
	cur       *types.BlockHeader
	remaining int
	scanned   int
	err       error
}

// New creates an iterator positioned before tip. A nil tip or a limit of
// zero or less yields nothing and performs no lookups.
func New(ctx context.Context, src Source, tip *types.BlockHeader, limit int, miner *types.Address) *Iterator {
	it := &Iterator{
		ctx:       ctx,
		src:       src,
		next:      tip,
		remaining: limit,
	}
	if miner != nil {
		m := *miner
		it.miner = &m
	}
	if limit <= 0 {
		it.next = nil
		it.remaining = 0
	}
	return it
}

// Next advances to the next matching header. It returns false when the walk
// is complete or failed; check Err to tell them apart.
func (it *Iterator) Next() bool {
	it.cur = nil
	for it.err == nil && it.remaining > 0 && it.next != nil {
		h := it.next
		it.scanned++

		if err := it.advance(h); err != nil {
			it.err = err
			it.next = nil
		}

		if it.miner == nil || h.MinedBy(*it.miner) {
			it.cur = h
			it.remaining--
			return true
		}
	}
	return false
}

// advance resolves the predecessor of h into it.next.
func (it *Iterator) advance(h *types.BlockHeader) error {
	if h.PreviousHash == nil {
		it.next = nil
		return nil
	}
	if it.remaining == 1 && (it.miner == nil || h.MinedBy(*it.miner)) {
		// h satisfies the last slot; the predecessor is never needed.
		it.next = nil
		return nil
	}
	if err := it.ctx.Err(); err != nil {
		return err
	}

	prev, err := it.src.BlockByHash(it.ctx, *h.PreviousHash)
	switch {
	case errors.Is(err, types.ErrBlockNotFound):
		return &types.ChainIntegrityError{Block: h.Hash, Height: h.Index, Missing: *h.PreviousHash, Cause: err}
	case err != nil:
		return err
	case prev == nil:
		return &types.ChainIntegrityError{Block: h.Hash, Height: h.Index, Missing: *h.PreviousHash, Cause: types.ErrBlockNotFound}
	case prev.Index != h.Index-1:
		return &types.ChainIntegrityError{Block: h.Hash, Height: h.Index, Missing: *h.PreviousHash}
	}
	it.next = prev
	return nil
}

// Header returns the header the last successful Next positioned on.
func (it *Iterator) Header() *types.BlockHeader {
	return it.cur
}

// Err returns the error that stopped the walk, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Scanned returns how many headers have been visited, matching or not.
func (it *Iterator) Scanned() int {
	return it.scanned
}

// Walk collects up to limit headers newest to oldest starting at tip.
// Either the full result or an error is returned, never a truncated list.
func Walk(ctx context.Context, src Source, tip *types.BlockHeader, limit int, miner *types.Address) ([]*types.BlockHeader, error) {
	it := New(ctx, src, tip, limit, miner)
	out := make([]*types.BlockHeader, 0, min(max(limit, 0), 64))
	for it.Next() {
		out = append(out, it.Header())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
