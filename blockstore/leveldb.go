package blockstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/blockberries/nodegate/types"
)

// LevelDBBlockStore implements Writer using LevelDB.
type LevelDBBlockStore struct {
	db      *leveldb.DB
	path    string
	tip     *types.BlockHeader
	genesis *types.BlockHeader
	flags   FlagSet
	mu      sync.RWMutex
}

// NewLevelDBBlockStore creates a new LevelDB-backed block store.
func NewLevelDBBlockStore(path string) (*LevelDBBlockStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		NoSync: false,
	})
	if err != nil {
		return nil, fmt.Errorf("opening leveldb: %w", err)
	}

	store := &LevelDBBlockStore{
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
func (s *LevelDBBlockStore) loadMetadata() error {
	var err error
	if s.tip, err = s.loadMetaHeader(keyMetaTip); err != nil {
		return fmt.Errorf("tip: %w", err)
	}
	if s.genesis, err = s.loadMetaHeader(keyMetaGenesis); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}

	data, err := s.db.Get(keyMetaFlags, nil)
	if err == nil {
		s.flags, err = decodeFlags(data)
		return err
	} else if !errors.Is(err, leveldb.ErrNotFound) {
		return err
	}
	return nil
}

func (s *LevelDBBlockStore) loadMetaHeader(key []byte) (*types.BlockHeader, error) {
	value, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	hash, err := hashFromValue(value)
	if err != nil {
		return nil, err
	}
	return s.getHeader(hash)
}

func (s *LevelDBBlockStore) getHeader(hash types.Hash) (*types.BlockHeader, error) {
	data, err := s.db.Get(makeBlockKey(hash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, types.ErrBlockNotFound
	}
	if errors.Is(err, leveldb.ErrClosed) {
		return nil, types.ErrStoreClosed
	}
	if err != nil {
		return nil, fmt.Errorf("getting block %s: %w", hash, err)
	}
	return decodeHeader(data)
}

// PutBlock persists a header.
func (s *LevelDBBlockStore) PutBlock(h *types.BlockHeader) error {
	if err := types.ValidateHeader(h); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blockKey := makeBlockKey(h.Hash)
	exists, err := s.db.Has(blockKey, nil)
	if err != nil {
		return fmt.Errorf("checking block existence: %w", err)
	}
	if exists {
		return types.ErrBlockAlreadyExists
	}
	if h.IsGenesis() && s.genesis != nil {
		return types.ErrGenesisExists
	}

	data, err := encodeHeader(h)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put(blockKey, data)

	newTip := s.tip == nil || h.Index > s.tip.Index
	if newTip {
		batch.Put(keyMetaTip, h.Hash.Bytes())
	}
	if h.IsGenesis() {
		batch.Put(keyMetaGenesis, h.Hash.Bytes())
	}

	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
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
func (s *LevelDBBlockStore) BlockByHash(ctx context.Context, hash types.Hash) (*types.BlockHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getHeader(hash)
}

// Tip returns the highest stored header.
func (s *LevelDBBlockStore) Tip(ctx context.Context) (*types.BlockHeader, error) {
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
func (s *LevelDBBlockStore) Genesis(ctx context.Context) (*types.BlockHeader, error) {
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
func (s *LevelDBBlockStore) StagedTransactionIDs(ctx context.Context) ([]types.TxID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.db.Get(keyMetaStaged, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return []types.TxID{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting staged ids: %w", err)
	}
	return decodeStaged(data)
}

// SetStagedTransactionIDs replaces the pending transaction ids.
func (s *LevelDBBlockStore) SetStagedTransactionIDs(ids []types.TxID) error {
	data, err := encodeStaged(ids)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Put(keyMetaStaged, data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("writing staged ids: %w", err)
	}
	return nil
}

// Flags returns the persisted lifecycle flags.
func (s *LevelDBBlockStore) Flags() FlagSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags
}

// SetFlags persists the lifecycle flags.
func (s *LevelDBBlockStore) SetFlags(f FlagSet) error {
	data, err := encodeFlags(f)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Put(keyMetaFlags, data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("writing flags: %w", err)
	}
	s.flags = f
	return nil
}

// BlockCount returns the number of blocks stored.
func (s *LevelDBBlockStore) BlockCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	iter := s.db.NewIterator(util.BytesPrefix(prefixBlock), nil)
	defer iter.Release()

	for iter.Next() {
		count++
	}
	return count
}

// Close closes the database.
func (s *LevelDBBlockStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

var _ Writer = (*LevelDBBlockStore)(nil)
