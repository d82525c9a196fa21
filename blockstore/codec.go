package blockstore

import (
	"fmt"

	bapitypes "github.com/blockberries/bapi/types"
	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/nodegate/types"
)

// Key prefixes shared by the disk backends.
var (
	prefixBlock    = []byte("B:") // Hash -> header record
	keyMetaTip     = []byte("M:tip")
	keyMetaGenesis = []byte("M:genesis")
	keyMetaStaged  = []byte("M:staged")
	keyMetaFlags   = []byte("M:flags")
)

// headerRecord is the persisted form of a block header.
type headerRecord struct {
	Index        int64               `cramberry:"1"`
	Hash         []byte              `cramberry:"2"`
	PreviousHash []byte              `cramberry:"3"`
	Miner        []byte              `cramberry:"4"`
	Timestamp    bapitypes.Timestamp `cramberry:"5"`
}

// stagedRecord holds the concatenated pending transaction ids.
type stagedRecord struct {
	IDs []byte `cramberry:"1"`
}

func encodeHeader(h *types.BlockHeader) ([]byte, error) {
	rec := headerRecord{
		Index:     h.Index,
		Hash:      h.Hash.Bytes(),
		Timestamp: bapitypes.TimeToTimestamp(h.Timestamp),
	}
	if h.PreviousHash != nil {
		rec.PreviousHash = h.PreviousHash.Bytes()
	}
	if h.Miner != nil {
		rec.Miner = append([]byte(nil), h.Miner[:]...)
	}
	data, err := cramberry.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}
	return data, nil
}

func decodeHeader(data []byte) (*types.BlockHeader, error) {
	var rec headerRecord
	if err := cramberry.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal header: %w", err)
	}
	if len(rec.Hash) != types.HashSize {
		return nil, fmt.Errorf("corrupt header record: hash has %d bytes", len(rec.Hash))
	}

	h := &types.BlockHeader{
		Index:     rec.Index,
		Timestamp: rec.Timestamp.ToTime(),
	}
	copy(h.Hash[:], rec.Hash)
	if len(rec.PreviousHash) > 0 {
		if len(rec.PreviousHash) != types.HashSize {
			return nil, fmt.Errorf("corrupt header record: previous hash has %d bytes", len(rec.PreviousHash))
		}
		var prev types.Hash
		copy(prev[:], rec.PreviousHash)
		h.PreviousHash = &prev
	}
	if len(rec.Miner) > 0 {
		if len(rec.Miner) != types.AddressSize {
			return nil, fmt.Errorf("corrupt header record: miner has %d bytes", len(rec.Miner))
		}
		var miner types.Address
		copy(miner[:], rec.Miner)
		h.Miner = &miner
	}
	return h, nil
}

func encodeStaged(ids []types.TxID) ([]byte, error) {
	rec := stagedRecord{IDs: make([]byte, 0, len(ids)*types.TxIDSize)}
	for _, id := range ids {
		rec.IDs = append(rec.IDs, id[:]...)
	}
	data, err := cramberry.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal staged ids: %w", err)
	}
	return data, nil
}

func decodeStaged(data []byte) ([]types.TxID, error) {
	var rec stagedRecord
	if err := cramberry.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal staged ids: %w", err)
	}
	if len(rec.IDs)%types.TxIDSize != 0 {
		return nil, fmt.Errorf("corrupt staged record: %d bytes", len(rec.IDs))
	}
	ids := make([]types.TxID, len(rec.IDs)/types.TxIDSize)
	for i := range ids {
		copy(ids[i][:], rec.IDs[i*types.TxIDSize:])
	}
	return ids, nil
}

func encodeFlags(f FlagSet) ([]byte, error) {
	data, err := cramberry.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal flags: %w", err)
	}
	return data, nil
}

func decodeFlags(data []byte) (FlagSet, error) {
	var f FlagSet
	if err := cramberry.Unmarshal(data, &f); err != nil {
		return FlagSet{}, fmt.Errorf("failed to unmarshal flags: %w", err)
	}
	return f, nil
}

// Key encoding helpers

func makeBlockKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixBlock)+types.HashSize)
	copy(key, prefixBlock)
	copy(key[len(prefixBlock):], hash[:])
	return key
}

func hashFromValue(value []byte) (types.Hash, error) {
	var h types.Hash
	if len(value) != types.HashSize {
		return h, fmt.Errorf("corrupt hash value: %d bytes", len(value))
	}
	copy(h[:], value)
	return h, nil
}
