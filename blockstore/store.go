// Package blockstore provides read access to accepted block headers and the
// node's pending pool, plus the writers the embedding node uses to feed it.
package blockstore

import (
	"context"

	"github.com/blockberries/nodegate/types"
)

// BlockStore defines read access to accepted block headers.
// Implementations must be safe for concurrent use.
type BlockStore interface {
	// BlockByHash retrieves a header by its hash.
	// Returns types.ErrBlockNotFound if the block does not exist.
	BlockByHash(ctx context.Context, hash types.Hash) (*types.BlockHeader, error)

	// Tip returns the header with the greatest index.
	// Returns types.ErrChainUnavailable if no block has been stored.
	Tip(ctx context.Context) (*types.BlockHeader, error)

	// Genesis returns the header at index zero.
	// Returns types.ErrChainUnavailable if it has not been stored.
	Genesis(ctx context.Context) (*types.BlockHeader, error)

	// StagedTransactionIDs returns the pending transaction ids in pool order.
	StagedTransactionIDs(ctx context.Context) ([]types.TxID, error)

	// Flags returns the last persisted lifecycle flags.
	Flags() FlagSet

	// Close closes the store and releases resources.
	Close() error
}

// Writer is implemented by stores the embedding node (or the seed command)
// pushes chain state into. The gateway itself never writes.
type Writer interface {
	BlockStore

	// PutBlock stores a header. The predecessor does not need to be present.
	// Returns types.ErrBlockAlreadyExists if the hash is already stored.
	PutBlock(h *types.BlockHeader) error

	// SetStagedTransactionIDs replaces the pending transaction ids.
	SetStagedTransactionIDs(ids []types.TxID) error

	// SetFlags persists the lifecycle flags.
	SetFlags(f FlagSet) error
}

// FlagSet is a snapshot of the node lifecycle flags.
type FlagSet struct {
	BootstrapEnded bool `cramberry:"1"`
	PreloadEnded   bool `cramberry:"2"`
	IsMining       bool `cramberry:"3"`
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendLevelDB  = "leveldb"
	BackendBadgerDB = "badgerdb"
)
