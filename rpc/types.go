// Package rpc declares the gateway's query methods once for every
// transport: the static method table, argument decoding, the result wire
// forms and the mapping of errors onto wire codes.
package rpc

import (
	"context"
	"time"

	"github.com/blockberries/nodegate/status"
	"github.com/blockberries/nodegate/types"
)

// Resolver is the status surface the methods read from. status.Resolver
// implements it.
type Resolver interface {
	BootstrapEnded(ctx context.Context) bool
	PreloadEnded(ctx context.Context) bool
	IsMining(ctx context.Context) bool
	Tip(ctx context.Context) (*types.BlockHeader, error)
	Genesis(ctx context.Context) (*types.BlockHeader, error)
	StagedTransactionIDs(ctx context.Context) ([]types.TxID, error)
	TopmostBlocks(ctx context.Context, limit int, miner *types.Address) ([]*types.BlockHeader, error)
	NodeStatus(ctx context.Context) (*status.NodeStatus, error)
}

var _ Resolver = (*status.Resolver)(nil)

// BlockHeaderJSON is the wire form of a block header.
type BlockHeaderJSON struct {
	Index        int64   `json:"index"`
	Hash         string  `json:"hash"`
	PreviousHash *string `json:"previousHash"`
	Miner        *string `json:"miner"`
	Timestamp    string  `json:"timestamp"`
}

// NodeStatusJSON is the wire form of the nodeStatus aggregate.
type NodeStatusJSON struct {
	BootstrapEnded bool             `json:"bootstrapEnded"`
	PreloadEnded   bool             `json:"preloadEnded"`
	IsMining       bool             `json:"isMining"`
	Tip            *BlockHeaderJSON `json:"tip"`
	Genesis        *BlockHeaderJSON `json:"genesis"`
}

// HeaderToJSON converts a header to its wire form.
func HeaderToJSON(h *types.BlockHeader) *BlockHeaderJSON {
	if h == nil {
		return nil
	}
	out := &BlockHeaderJSON{
		Index:     h.Index,
		Hash:      h.Hash.String(),
		Timestamp: h.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if h.PreviousHash != nil {
		prev := h.PreviousHash.String()
		out.PreviousHash = &prev
	}
	if h.Miner != nil {
		miner := h.Miner.String()
		out.Miner = &miner
	}
	return out
}

// HeadersToJSON converts headers to their wire form, preserving order.
// The result is never nil.
func HeadersToJSON(hs []*types.BlockHeader) []*BlockHeaderJSON {
	out := make([]*BlockHeaderJSON, 0, len(hs))
	for _, h := range hs {
		out = append(out, HeaderToJSON(h))
	}
	return out
}

// TxIDsToJSON converts transaction ids to hex strings. The result is never nil.
func TxIDsToJSON(ids []types.TxID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

// NodeStatusToJSON converts the aggregate to its wire form.
func NodeStatusToJSON(s *status.NodeStatus) *NodeStatusJSON {
	return &NodeStatusJSON{
		BootstrapEnded: s.BootstrapEnded,
		PreloadEnded:   s.PreloadEnded,
		IsMining:       s.IsMining,
		Tip:            HeaderToJSON(s.Tip),
		Genesis:        HeaderToJSON(s.Genesis),
	}
}
