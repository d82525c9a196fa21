package events

import (
	"strconv"
	"time"

	bapitypes "github.com/blockberries/bapi/types"

	"github.com/blockberries/nodegate/blockstore"
	"github.com/blockberries/nodegate/types"
)

// Event kinds.
const (
	// KindNewTip is published when the chain tip changes.
	KindNewTip = "NewTip"

	// KindFlagsChanged is published when a lifecycle flag changes.
	KindFlagsChanged = "FlagsChanged"
)

// Attribute keys.
const (
	AttrHeight         = "height"
	AttrHash           = "hash"
	AttrMiner          = "miner"
	AttrTimestamp      = "timestamp"
	AttrBootstrapEnded = "bootstrapEnded"
	AttrPreloadEnded   = "preloadEnded"
	AttrIsMining       = "isMining"
)

// NewTipEvent describes a new chain tip.
func NewTipEvent(h *types.BlockHeader) bapitypes.Event {
	attrs := []bapitypes.EventAttribute{
		{Key: AttrHeight, Value: strconv.FormatInt(h.Index, 10), Index: true},
		{Key: AttrHash, Value: h.Hash.String(), Index: true},
	}
	if h.Miner != nil {
		attrs = append(attrs, bapitypes.EventAttribute{Key: AttrMiner, Value: h.Miner.String(), Index: true})
	}
	attrs = append(attrs, bapitypes.EventAttribute{
		Key:   AttrTimestamp,
		Value: h.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	return bapitypes.Event{Kind: KindNewTip, Attributes: attrs}
}

// FlagsChangedEvent describes the current lifecycle flags.
func FlagsChangedEvent(f blockstore.FlagSet) bapitypes.Event {
	return bapitypes.Event{
		Kind: KindFlagsChanged,
		Attributes: []bapitypes.EventAttribute{
			{Key: AttrBootstrapEnded, Value: strconv.FormatBool(f.BootstrapEnded)},
			{Key: AttrPreloadEnded, Value: strconv.FormatBool(f.PreloadEnded)},
			{Key: AttrIsMining, Value: strconv.FormatBool(f.IsMining)},
		},
	}
}

// Attribute returns the value of the first attribute named key.
func Attribute(e bapitypes.Event, key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}
