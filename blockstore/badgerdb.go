package blockstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/blockberries/nodegate/types"
)

// BadgerDBBlockStore implements Writer using BadgerDB.
// BadgerDB is optimized for SSDs and offers better write performance
// than LevelDB for certain workloads.
type BadgerDBBlockStore struct {
	db      *badger.DB
	path    string
	tip     *types.BlockHeader
	genesis *types.BlockHeader
	flags   FlagSet
	mu      sync.RWMutex
}

// BadgerDBOptions contains configuration options for BadgerDB.
type BadgerDBOptions struct {
	// SyncWrites ensures durability by syncing writes to disk.
	// Default: true
	SyncWrites bool

	// Compression enables Snappy compression for values.
	// Default: true
	Compression bool

	// InMemory keeps all data in memory. Path is ignored.
	InMemory bool

	// MemTableSize is the size of the memtable.
	// Default: 16MB
	MemTableSize int64

	// Logger is an optional logger for BadgerDB.
	// If nil, logging is disabled.
	Logger badger.Logger
}

// DefaultBadgerDBOptions returns sensible default options.
// Headers are small, so the tables are sized well below badger's defaults.
func DefaultBadgerDBOptions() *BadgerDBOptions {
	return &BadgerDBOptions{
		SyncWrites:   true,
		Compression:  true,
		MemTableSize: 16 << 20,
	}
}

// NewBadgerDBBlockStore creates a new BadgerDB-backed block store.
func NewBadgerDBBlockStore(path string) (*BadgerDBBlockStore, error) {
	return NewBadgerDBBlockStoreWithOptions(path, DefaultBadgerDBOptions())
}

// NewBadgerDBBlockStoreWithOptions creates a new BadgerDB-backed block store
// with custom options.
func NewBadgerDBBlockStoreWithOptions(path string, opts *BadgerDBOptions) (*BadgerDBBlockStore, error) {
	if opts == nil {
		opts = DefaultBadgerDBOptions()
	}

	badgerOpts := badger.DefaultOptions(path)
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	badgerOpts = badgerOpts.WithSyncWrites(opts.SyncWrites && !opts.InMemory)
	if opts.MemTableSize > 0 {
		badgerOpts = badgerOpts.WithMemTableSize(opts.MemTableSize)
	}

	if opts.Compression {
		badgerOpts = badgerOpts.WithCompression(options.Snappy)
	} else {
		badgerOpts = badgerOpts.WithCompression(options.None)
	}

	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("opening badgerdb: %w", err)
	}

	store := &BadgerDBBlockStore{
		db:   db,
		path: path,
	}

	if err := store.loadMetadata(); err != nil {
		db.Close()
		return nil, fmt.Errorf("loading metadata: %w", err)
	}

	return store, nil
}

// loadMetadata caches the tip, genesis and flags.
func (s *BadgerDBBlockStore) loadMetadata() error {
	return s.db.View(func(txn *badger.Txn) error {
		var err error
		if s.tip, err = loadBadgerMetaHeader(txn, keyMetaTip); err != nil {
			return fmt.Errorf("tip: %w", err)
		}
		if s.genesis, err = loadBadgerMetaHeader(txn, keyMetaGenesis); err != nil {
			return fmt.Errorf("genesis: %w", err)
		}

		item, err := txn.Get(keyMetaFlags)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			s.flags, err = decodeFlags(val)
			return err
		})
	})
}

func loadBadgerMetaHeader(txn *badger.Txn, key []byte) (*types.BlockHeader, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	hash, err := hashFromValue(value)
	if err != nil {
		return nil, err
	}
	return getBadgerHeader(txn, hash)
}

func getBadgerHeader(txn *badger.Txn, hash types.Hash) (*types.BlockHeader, error) {
	item, err := txn.Get(makeBlockKey(hash))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, types.ErrBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting block %s: %w", hash, err)
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return decodeHeader(data)
}

// PutBlock persists a header.
func (s *BadgerDBBlockStore) PutBlock(h *types.BlockHeader) error {
	if err := types.ValidateHeader(h); err != nil {
		return err
	}

	data, err := encodeHeader(h)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if h.IsGenesis() && s.genesis != nil {
		return types.ErrGenesisExists
	}

	newTip := s.tip == nil || h.Index > s.tip.Index
	err = s.db.Update(func(txn *badger.Txn) error {
		blockKey := makeBlockKey(h.Hash)
		if _, err := txn.Get(blockKey); err == nil {
			return types.ErrBlockAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(blockKey, data); err != nil {
			return err
		}

		if newTip {
			if err := txn.Set(keyMetaTip, h.Hash.Bytes()); err != nil {
				return err
			}
		}
		if h.IsGenesis() {
			if err := txn.Set(keyMetaGenesis, h.Hash.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, types.ErrBlockAlreadyExists) {
		return err
	}
	if err != nil {
		return fmt.Errorf("writing block: %w", err)
	}

	if newTip {
		s.tip = h.Clone()
	}
	if h.IsGenesis() {
		s.genesis = h.Clone()
	}
	return nil
}

// BlockByHash retrieves a header by hash.
func (s *BadgerDBBlockStore) BlockByHash(ctx context.Context, hash types.Hash) (*types.BlockHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var h *types.BlockHeader
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		h, err = getBadgerHeader(txn, hash)
		return err
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return nil, types.ErrStoreClosed
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Tip returns the highest stored header.
func (s *BadgerDBBlockStore) Tip(ctx context.Context) (*types.BlockHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tip == nil {
		return nil, types.ErrChainUnavailable
	}
	return s.tip.Clone(), nil
}

// Genesis returns the header at index zero.
func (s *BadgerDBBlockStore) Genesis(ctx context.Context) (*types.BlockHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.genesis == nil {
		return nil, types.ErrChainUnavailable
	}
	return s.genesis.Clone(), nil
}

// StagedTransactionIDs returns the pending transaction ids.
func (s *BadgerDBBlockStore) StagedTransactionIDs(ctx context.Context) ([]types.TxID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := []types.TxID{}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyMetaStaged)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			ids, err = decodeStaged(val)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("getting staged ids: %w", err)
	}
	return ids, nil
}

// SetStagedTransactionIDs replaces the pending transaction ids.
func (s *BadgerDBBlockStore) SetStagedTransactionIDs(ids []types.TxID) error {
	data, err := encodeStaged(ids)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyMetaStaged, data)
	})
	if err != nil {
		return fmt.Errorf("writing staged ids: %w", err)
	}
	return nil
}

// Flags returns the persisted lifecycle flags.
func (s *BadgerDBBlockStore) Flags() FlagSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags
}

// SetFlags persists the lifecycle flags.
func (s *BadgerDBBlockStore) SetFlags(f FlagSet) error {
	data, err := encodeFlags(f)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyMetaFlags, data)
	})
	if err != nil {
		return fmt.Errorf("writing flags: %w", err)
	}
	s.flags = f
	return nil
}

// BlockCount returns the number of blocks stored.
func (s *BadgerDBBlockStore) BlockCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefixBlock
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count
}

// Close closes the database.
func (s *BadgerDBBlockStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

var _ Writer = (*BadgerDBBlockStore)(nil)
