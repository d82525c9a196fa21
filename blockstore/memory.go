package blockstore

import (
	"context"
	"sync"

	"github.com/blockberries/nodegate/types"
)

// MemoryBlockStore implements Writer with in-memory storage.
// Used for testing and for the gateway's standalone development mode.
type MemoryBlockStore struct {
	blocks  map[types.Hash]*types.BlockHeader
	tip     *types.BlockHeader
	genesis *types.BlockHeader
	staged  []types.TxID
	flags   FlagSet
	closed  bool
	mu      sync.RWMutex
}

// NewMemoryBlockStore creates a new in-memory block store.
func NewMemoryBlockStore() *MemoryBlockStore {
	return &MemoryBlockStore{
		blocks: make(map[types.Hash]*types.BlockHeader),
	}
}

// PutBlock stores a header.
// Stores a defensive copy to prevent external mutation.
func (m *MemoryBlockStore) PutBlock(h *types.BlockHeader) error {
	if err := types.ValidateHeader(h); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return types.ErrStoreClosed
	}
	if _, exists := m.blocks[h.Hash]; exists {
		return types.ErrBlockAlreadyExists
	}
	if h.IsGenesis() && m.genesis != nil {
		return types.ErrGenesisExists
	}

	stored := h.Clone()
	m.blocks[h.Hash] = stored
	if stored.IsGenesis() {
		m.genesis = stored
	}
	if m.tip == nil || stored.Index > m.tip.Index {
		m.tip = stored
	}
	return nil
}

// BlockByHash retrieves a header by hash.
// Returns a defensive copy to prevent external mutation of stored data.
func (m *MemoryBlockStore) BlockByHash(ctx context.Context, hash types.Hash) (*types.BlockHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, types.ErrStoreClosed
	}
	h, ok := m.blocks[hash]
	if !ok {
		return nil, types.ErrBlockNotFound
	}
	return h.Clone(), nil
}

// Tip returns the highest stored header.
func (m *MemoryBlockStore) Tip(ctx context.Context) (*types.BlockHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, types.ErrStoreClosed
	}
	if m.tip == nil {
		return nil, types.ErrChainUnavailable
	}
	return m.tip.Clone(), nil
}

// Genesis returns the header at index zero.
func (m *MemoryBlockStore) Genesis(ctx context.Context) (*types.BlockHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, types.ErrStoreClosed
	}
	if m.genesis == nil {
		return nil, types.ErrChainUnavailable
	}
	return m.genesis.Clone(), nil
}

// StagedTransactionIDs returns a copy of the pending transaction ids.
func (m *MemoryBlockStore) StagedTransactionIDs(ctx context.Context) ([]types.TxID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, types.ErrStoreClosed
	}
	return append(make([]types.TxID, 0, len(m.staged)), m.staged...), nil
}

// SetStagedTransactionIDs replaces the pending transaction ids.
func (m *MemoryBlockStore) SetStagedTransactionIDs(ids []types.TxID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return types.ErrStoreClosed
	}
	m.staged = append([]types.TxID(nil), ids...)
	return nil
}

// Flags returns the stored lifecycle flags.
func (m *MemoryBlockStore) Flags() FlagSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags
}

// SetFlags stores the lifecycle flags.
func (m *MemoryBlockStore) SetFlags(f FlagSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return types.ErrStoreClosed
	}
	m.flags = f
	return nil
}

// BlockCount returns the number of blocks stored.
func (m *MemoryBlockStore) BlockCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}

// Close marks the store closed. Subsequent calls return types.ErrStoreClosed.
func (m *MemoryBlockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Writer = (*MemoryBlockStore)(nil)
