package types

import (
	"crypto/sha256"
	"encoding/binary"
)

// HashBytes computes the SHA-256 hash of arbitrary bytes.
func HashBytes(data []byte) Hash {
	return sha256.Sum256(data)
}

// HashConcat computes the SHA-256 hash of the concatenation of two hashes.
func HashConcat(left, right Hash) Hash {
	h := sha256.New()
	h.Write(left[:])
	h.Write(right[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// HashHeaderFields derives a deterministic block hash from a header's
// index, predecessor and producer. Stores that are fed by the embedding node
// use the node's own digest; this is for locally built chains.
func HashHeaderFields(index int64, prev *Hash, miner *Address, unixNano int64) Hash {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(index))
	h.Write(buf[:])
	if prev != nil {
		h.Write(prev[:])
	}
	if miner != nil {
		h.Write(miner[:])
	}
	binary.BigEndian.PutUint64(buf[:], uint64(unixNano))
	h.Write(buf[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
