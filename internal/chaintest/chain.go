// Package chaintest builds in-memory chains for tests.
package chaintest

import (
	"fmt"
	"time"

	"github.com/blockberries/nodegate/blockstore"
	"github.com/blockberries/nodegate/types"
)

// BaseTime is the timestamp of every fixture genesis block.
var BaseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Producer addresses used by the fixtures.
var (
	MinerA = types.Address{0xAA, 0x01}
	MinerB = types.Address{0xBB, 0x02}
	MinerC = types.Address{0xCC, 0x03}
)

// Header builds a header linked to prev. A nil prev builds a genesis header.
func Header(prev *types.BlockHeader, miner *types.Address) *types.BlockHeader {
	h := &types.BlockHeader{Timestamp: BaseTime}
	if prev != nil {
		p := prev.Hash
		h.Index = prev.Index + 1
		h.PreviousHash = &p
		h.Timestamp = prev.Timestamp.Add(10 * time.Second)
	}
	if miner != nil {
		m := *miner
		h.Miner = &m
	}
	h.Hash = types.HashHeaderFields(h.Index, h.PreviousHash, h.Miner, h.Timestamp.UnixNano())
	return h
}

// Scenario is the four block chain G <- B1(A) <- B2(B) <- B3(A).
type Scenario struct {
	Store *blockstore.MemoryBlockStore

	Genesis *types.BlockHeader
	B1      *types.BlockHeader
	B2      *types.BlockHeader
	B3      *types.BlockHeader
}

// NewScenario stores the four block chain in a fresh memory store.
func NewScenario() *Scenario {
	s := &Scenario{Store: blockstore.NewMemoryBlockStore()}
	s.Genesis = Header(nil, nil)
	s.B1 = Header(s.Genesis, &MinerA)
	s.B2 = Header(s.B1, &MinerB)
	s.B3 = Header(s.B2, &MinerA)
	MustPut(s.Store, s.Genesis, s.B1, s.B2, s.B3)
	return s
}

// Chain returns the scenario headers newest to oldest.
func (s *Scenario) Chain() []*types.BlockHeader {
	return []*types.BlockHeader{s.B3, s.B2, s.B1, s.Genesis}
}

// Linear builds genesis plus n blocks, assigning producers round robin from
// miners. The returned slice is ordered oldest to newest.
func Linear(n int, miners ...types.Address) []*types.BlockHeader {
	out := make([]*types.BlockHeader, 0, n+1)
	prev := Header(nil, nil)
	out = append(out, prev)
	for i := 0; i < n; i++ {
		var miner *types.Address
		if len(miners) > 0 {
			miner = &miners[i%len(miners)]
		}
		prev = Header(prev, miner)
		out = append(out, prev)
	}
	return out
}

// MustPut stores headers and panics on failure.
func MustPut(w blockstore.Writer, headers ...*types.BlockHeader) {
	for _, h := range headers {
		if err := w.PutBlock(h); err != nil {
			panic(fmt.Sprintf("chaintest: put block %d: %v", h.Index, err))
		}
	}
}

// TxIDs returns n deterministic transaction ids.
func TxIDs(n int) []types.TxID {
	ids := make([]types.TxID, n)
	for i := range ids {
		ids[i] = types.TxID(types.HashBytes([]byte(fmt.Sprintf("tx-%d", i))))
	}
	return ids
}
