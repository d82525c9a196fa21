package types

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHashSize(t *testing.T) {
	require.Equal(t, sha256.Size, HashSize)
}

func TestHashFromHex(t *testing.T) {
	want := HashBytes([]byte("block"))

	t.Run("round trip", func(t *testing.T) {
		got, err := HashFromHex(want.String())
		require.NoError(t, err)
		require.Equal(t, want, got)
	})

	t.Run("0x prefix", func(t *testing.T) {
		got, err := HashFromHex("0x" + want.String())
		require.NoError(t, err)
		require.Equal(t, want, got)
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := HashFromHex("abcd")
		require.Error(t, err)
	})

	t.Run("not hex", func(t *testing.T) {
		_, err := HashFromHex(strings.Repeat("zz", HashSize))
		require.Error(t, err)
	})
}

func TestAddressFromHex(t *testing.T) {
	var a Address
	a[0], a[19] = 0xAB, 0x01

	got, err := AddressFromHex(a.String())
	require.NoError(t, err)
	require.True(t, got.Equal(a))
	require.True(t, strings.HasPrefix(a.String(), "0x"))

	got, err = AddressFromHex(strings.ToUpper(a.String()[2:]))
	require.NoError(t, err)
	require.Equal(t, a, got)

	_, err = AddressFromHex("0x1234")
	require.Error(t, err)
}

func TestTxIDFromHex(t *testing.T) {
	id := TxID(HashBytes([]byte("tx")))
	got, err := TxIDFromHex(id.String())
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestBlockHeader(t *testing.T) {
	prev := HashBytes([]byte("prev"))
	miner := Address{1}
	h := &BlockHeader{
		Index:        1,
		Hash:         HashBytes([]byte("b1")),
		PreviousHash: &prev,
		Miner:        &miner,
		Timestamp:    time.Unix(100, 0),
	}

	require.False(t, h.IsGenesis())
	require.True(t, h.MinedBy(Address{1}))
	require.False(t, h.MinedBy(Address{2}))

	c := h.Clone()
	require.Equal(t, h, c)
	c.PreviousHash[0] ^= 0xFF
	c.Miner[0] = 9
	require.Equal(t, prev, *h.PreviousHash)
	require.Equal(t, miner, *h.Miner)

	g := &BlockHeader{Index: 0, Hash: HashBytes([]byte("g"))}
	require.True(t, g.IsGenesis())
	require.False(t, g.MinedBy(Address{}))

	var nilHeader *BlockHeader
	require.Nil(t, nilHeader.Clone())
}

func TestValidateHeader(t *testing.T) {
	prev := HashBytes([]byte("g"))

	require.NoError(t, ValidateHeader(&BlockHeader{Index: 0, Hash: prev}))
	require.NoError(t, ValidateHeader(&BlockHeader{Index: 1, Hash: HashBytes([]byte("b1")), PreviousHash: &prev}))

	require.ErrorIs(t, ValidateHeader(nil), ErrInvalidHeader)
	require.ErrorIs(t, ValidateHeader(&BlockHeader{Index: 0}), ErrInvalidHeader)
	require.ErrorIs(t, ValidateHeader(&BlockHeader{Index: -1, Hash: prev}), ErrInvalidHeight)
	require.ErrorIs(t, ValidateHeader(&BlockHeader{Index: 0, Hash: HashBytes([]byte("x")), PreviousHash: &prev}), ErrInvalidHeader)
	require.ErrorIs(t, ValidateHeader(&BlockHeader{Index: 3, Hash: prev}), ErrInvalidHeader)
	require.ErrorIs(t, ValidateHeader(&BlockHeader{Index: 1, Hash: prev, PreviousHash: &prev}), ErrInvalidHeader)
}

func TestValidateLimit(t *testing.T) {
	require.NoError(t, ValidateLimit(0, 0))
	require.NoError(t, ValidateLimit(1000, 0))
	require.NoError(t, ValidateLimit(10, 10))
	require.ErrorIs(t, ValidateLimit(-1, 0), ErrInvalidArgument)
	require.ErrorIs(t, ValidateLimit(11, 10), ErrInvalidArgument)
}

func TestChainIntegrityError(t *testing.T) {
	cause := fmt.Errorf("lookup: %w", ErrBlockNotFound)
	err := fmt.Errorf("walk: %w", &ChainIntegrityError{
		Block:   HashBytes([]byte("b")),
		Height:  4,
		Missing: HashBytes([]byte("a")),
		Cause:   cause,
	})

	ce, ok := IsChainIntegrity(err)
	require.True(t, ok)
	require.Equal(t, int64(4), ce.Height)
	require.ErrorIs(t, err, ErrBlockNotFound)
	require.Contains(t, err.Error(), "height 4")

	noCause := &ChainIntegrityError{Height: 2}
	require.Contains(t, noCause.Error(), "not at height 1")
	require.Nil(t, errors.Unwrap(noCause))

	_, ok = IsChainIntegrity(ErrBlockNotFound)
	require.False(t, ok)
}

func TestHashHeaderFields(t *testing.T) {
	g := HashHeaderFields(0, nil, nil, 0)
	require.Equal(t, g, HashHeaderFields(0, nil, nil, 0))

	miner := Address{7}
	b1 := HashHeaderFields(1, &g, &miner, 0)
	require.NotEqual(t, g, b1)
	require.NotEqual(t, b1, HashHeaderFields(1, &g, nil, 0))
}
