// Package types provides the data model shared by the nodegate packages.
package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	// HashSize is the size of a block hash in bytes.
	HashSize = 32

	// AddressSize is the size of a producer address in bytes.
	AddressSize = 20

	// TxIDSize is the size of a transaction identifier in bytes.
	TxIDSize = 32
)

// Hash is a block digest.
type Hash [HashSize]byte

// Address identifies a block producer or account.
type Address [AddressSize]byte

// TxID identifies a pending transaction.
type TxID [TxIDSize]byte

// String returns the hash as a lowercase hexadecimal string.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the raw hash bytes.
func (h Hash) Bytes() []byte {
	return append([]byte(nil), h[:]...)
}

// IsZero returns true if every byte of the hash is zero.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the address as a 0x-prefixed hexadecimal string.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Equal returns true if both addresses hold the same bytes.
func (a Address) Equal(other Address) bool {
	return bytes.Equal(a[:], other[:])
}

// String returns the transaction id as a lowercase hexadecimal string.
func (id TxID) String() string {
	return hex.EncodeToString(id[:])
}

// HashFromHex parses a hexadecimal string into a Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	if err := decodeFixedHex(s, h[:]); err != nil {
		return Hash{}, fmt.Errorf("invalid hash: %w", err)
	}
	return h, nil
}

// AddressFromHex parses a hexadecimal string, with or without 0x prefix, into an Address.
func AddressFromHex(s string) (Address, error) {
	var a Address
	if err := decodeFixedHex(s, a[:]); err != nil {
		return Address{}, fmt.Errorf("invalid address: %w", err)
	}
	return a, nil
}

// TxIDFromHex parses a hexadecimal string into a TxID.
func TxIDFromHex(s string) (TxID, error) {
	var id TxID
	if err := decodeFixedHex(s, id[:]); err != nil {
		return TxID{}, fmt.Errorf("invalid tx id: %w", err)
	}
	return id, nil
}

func decodeFixedHex(s string, dst []byte) error {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != len(dst)*2 {
		return fmt.Errorf("expected %d hex characters, got %d", len(dst)*2, len(s))
	}
	_, err := hex.Decode(dst, []byte(s))
	return err
}

// BlockHeader is an immutable snapshot of a block accepted into the chain.
// The chain store owns headers; the gateway only reads them.
type BlockHeader struct {
	// Index is the block height. Genesis is 0.
	Index int64

	// Hash is the block digest.
	Hash Hash

	// PreviousHash references the predecessor. Nil only for the genesis block.
	PreviousHash *Hash

	// Miner is the producer of the block, nil when the block has none.
	Miner *Address

	// Timestamp is when the block was produced.
	Timestamp time.Time
}

// IsGenesis returns true if the block has no predecessor.
func (h *BlockHeader) IsGenesis() bool {
	return h.PreviousHash == nil
}

// MinedBy returns true if the block's producer equals addr.
func (h *BlockHeader) MinedBy(addr Address) bool {
	return h.Miner != nil && h.Miner.Equal(addr)
}

// Clone returns a deep copy of the header.
func (h *BlockHeader) Clone() *BlockHeader {
	if h == nil {
		return nil
	}
	c := *h
	if h.PreviousHash != nil {
		prev := *h.PreviousHash
		c.PreviousHash = &prev
	}
	if h.Miner != nil {
		miner := *h.Miner
		c.Miner = &miner
	}
	return &c
}
