package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/blockberries/nodegate/types"
)

// Method names.
const (
	MethodBootstrapEnded       = "bootstrapEnded"
	MethodPreloadEnded         = "preloadEnded"
	MethodIsMining             = "isMining"
	MethodTip                  = "tip"
	MethodGenesis              = "genesis"
	MethodStagedTransactionIDs = "stagedTransactionIds"
	MethodTopmostBlocks        = "topmostBlocks"
	MethodNodeStatus           = "nodeStatus"
)

// Param describes one method parameter.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// Method is one entry of the method table.
type Method struct {
	// Name is the canonical method name. Authorization uses it.
	Name string

	// Aliases are additional names dispatching to the same method.
	Aliases []string

	Description string
	Params      []Param
	Result      string

	// Call computes the result from the resolver.
	Call func(ctx context.Context, r Resolver, args Args) (any, error)
}

// Methods returns the method table. The table is fixed at build time.
func Methods() []Method {
	return []Method{
		{
			Name:        MethodBootstrapEnded,
			Description: "Whether the node finished its initial bootstrap.",
			Result:      "Boolean",
			Call: func(ctx context.Context, r Resolver, _ Args) (any, error) {
				return r.BootstrapEnded(ctx), nil
			},
		},
		{
			Name:        MethodPreloadEnded,
			Description: "Whether the node finished preloading blocks.",
			Result:      "Boolean",
			Call: func(ctx context.Context, r Resolver, _ Args) (any, error) {
				return r.PreloadEnded(ctx), nil
			},
		},
		{
			Name:        MethodIsMining,
			Description: "Whether the node is producing blocks.",
			Result:      "Boolean",
			Call: func(ctx context.Context, r Resolver, _ Args) (any, error) {
				return r.IsMining(ctx), nil
			},
		},
		{
			Name:        MethodTip,
			Description: "The newest block of the chain.",
			Result:      "BlockHeader",
			Call: func(ctx context.Context, r Resolver, _ Args) (any, error) {
				h, err := r.Tip(ctx)
				if err != nil {
					return nil, err
				}
				return HeaderToJSON(h), nil
			},
		},
		{
			Name:        MethodGenesis,
			Description: "The first block of the chain.",
			Result:      "BlockHeader",
			Call: func(ctx context.Context, r Resolver, _ Args) (any, error) {
				h, err := r.Genesis(ctx)
				if err != nil {
					return nil, err
				}
				return HeaderToJSON(h), nil
			},
		},
		{
			Name:        MethodStagedTransactionIDs,
			Aliases:     []string{"stagedTxIds"},
			Description: "Ids of transactions waiting in the node's pending pool.",
			Result:      "[TxId]",
			Call: func(ctx context.Context, r Resolver, _ Args) (any, error) {
				ids, err := r.StagedTransactionIDs(ctx)
				if err != nil {
					return nil, err
				}
				return TxIDsToJSON(ids), nil
			},
		},
		{
			Name:        MethodTopmostBlocks,
			Description: "Recent blocks, newest first. When miner is set only blocks it produced count toward limit.",
			Params: []Param{
				{Name: "limit", Type: "Int", Required: true, Description: "Maximum number of blocks to return."},
				{Name: "miner", Type: "Address", Description: "Only return blocks produced by this address."},
			},
			Result: "[BlockHeader]",
			Call: func(ctx context.Context, r Resolver, args Args) (any, error) {
				limit, err := args.Int("limit")
				if err != nil {
					return nil, err
				}
				miner, err := args.Address("miner")
				if err != nil {
					return nil, err
				}
				hs, err := r.TopmostBlocks(ctx, limit, miner)
				if err != nil {
					return nil, err
				}
				return HeadersToJSON(hs), nil
			},
		},
		{
			Name:        MethodNodeStatus,
			Description: "Lifecycle flags, tip and genesis in one object.",
			Result:      "NodeStatus",
			Call: func(ctx context.Context, r Resolver, _ Args) (any, error) {
				s, err := r.NodeStatus(ctx)
				if err != nil {
					return nil, err
				}
				return NodeStatusToJSON(s), nil
			},
		},
	}
}

// Args holds decoded method arguments by parameter name.
type Args map[string]json.RawMessage

// Int returns the named integer argument.
func (a Args) Int(name string) (int, error) {
	raw, ok := a[name]
	if !ok {
		return 0, types.InvalidArgument("missing %s", name)
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, types.InvalidArgument("%s must be an integer", name)
	}
	return n, nil
}

// Address returns the named address argument, or nil when it is absent.
func (a Args) Address(name string) (*types.Address, error) {
	raw, ok := a[name]
	if !ok {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, types.InvalidArgument("%s must be a hex string", name)
	}
	addr, err := types.AddressFromHex(s)
	if err != nil {
		return nil, types.InvalidArgument("%s: %v", name, err)
	}
	return &addr, nil
}

var jsonNull = []byte("null")

// DecodeArgs decodes params for m. Params may be omitted, an object keyed by
// parameter name, or an array in parameter order. Null values count as
// absent.
func DecodeArgs(m *Method, params json.RawMessage) (Args, error) {
	params = bytes.TrimSpace(params)
	args := Args{}

	switch {
	case len(params) == 0 || bytes.Equal(params, jsonNull):
	case params[0] == '{':
		var named map[string]json.RawMessage
		if err := json.Unmarshal(params, &named); err != nil {
			return nil, types.InvalidArgument("malformed params: %v", err)
		}
		for k, v := range named {
			if !m.hasParam(k) {
				return nil, types.InvalidArgument("unknown param %q", k)
			}
			if !bytes.Equal(bytes.TrimSpace(v), jsonNull) {
				args[k] = v
			}
		}
	case params[0] == '[':
		var positional []json.RawMessage
		if err := json.Unmarshal(params, &positional); err != nil {
			return nil, types.InvalidArgument("malformed params: %v", err)
		}
		if len(positional) > len(m.Params) {
			return nil, types.InvalidArgument("%s takes %d params, got %d", m.Name, len(m.Params), len(positional))
		}
		for i, v := range positional {
			if !bytes.Equal(bytes.TrimSpace(v), jsonNull) {
				args[m.Params[i].Name] = v
			}
		}
	default:
		return nil, types.InvalidArgument("params must be an object or an array")
	}

	for _, p := range m.Params {
		if _, ok := args[p.Name]; p.Required && !ok {
			return nil, types.InvalidArgument("missing required param %q", p.Name)
		}
	}
	return args, nil
}

func (m *Method) hasParam(name string) bool {
	for _, p := range m.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Table indexes methods by name and alias.
type Table struct {
	methods []Method
	byName  map[string]*Method
}

// NewTable indexes methods. Duplicate names panic since the table is
// static.
func NewTable(methods []Method) *Table {
	t := &Table{methods: methods, byName: make(map[string]*Method)}
	for i := range t.methods {
		m := &t.methods[i]
		for _, name := range append([]string{m.Name}, m.Aliases...) {
			if _, dup := t.byName[name]; dup {
				panic(fmt.Sprintf("rpc: duplicate method %q", name))
			}
			t.byName[name] = m
		}
	}
	return t
}

// Lookup returns the method registered under name or one of its aliases.
func (t *Table) Lookup(name string) (*Method, bool) {
	m, ok := t.byName[name]
	return m, ok
}

// Methods returns the table entries in declaration order.
func (t *Table) Methods() []Method {
	return t.methods
}
