// Package status answers questions about the node's current state: lifecycle
// flags, chain tip and genesis, staged transactions and recent blocks.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/blockberries/nodegate/chainwalk"
	"github.com/blockberries/nodegate/logging"
	"github.com/blockberries/nodegate/metrics"
	tracing "github.com/blockberries/nodegate/tracing/otel"
	"github.com/blockberries/nodegate/types"
)

// Chain is the read surface of the node's chain store.
type Chain interface {
	chainwalk.Source

	// Tip returns the newest accepted header. A nil header or
	// types.ErrChainUnavailable means the chain has no tip yet.
	Tip(ctx context.Context) (*types.BlockHeader, error)

	// Genesis returns the header at index zero.
	Genesis(ctx context.Context) (*types.BlockHeader, error)

	// StagedTransactionIDs returns the pending pool in pool order.
	StagedTransactionIDs(ctx context.Context) ([]types.TxID, error)
}

// Config bounds the work a single query may do.
type Config struct {
	// MaxLimit caps the topmost blocks limit. Zero disables the cap.
	MaxLimit int

	// WalkTimeout bounds a topmost blocks traversal. Zero disables the bound.
	WalkTimeout time.Duration
}

// DefaultConfig returns the default resolver bounds.
func DefaultConfig() Config {
	return Config{
		MaxLimit:    1000,
		WalkTimeout: 10 * time.Second,
	}
}

// NodeStatus is every field of the status surface that does not need an argument.
type NodeStatus struct {
	BootstrapEnded bool
	PreloadEnded   bool
	IsMining       bool
	Tip            *types.BlockHeader
	Genesis        *types.BlockHeader
}

// Resolver computes status fields from the chain store and lifecycle flags.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	chain   Chain
	flags   Flags
	cfg     Config
	logger  *logging.Logger
	metrics metrics.Metrics
	tracer  *tracing.Tracer
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(r *Resolver) {
		r.tracer = t
	}
}

// NewResolver creates a resolver over chain and flags.
func NewResolver(chain Chain, flags Flags, cfg Config, opts ...Option) *Resolver {
	r := &Resolver{
		chain:   chain,
		flags:   flags,
		cfg:     cfg,
		logger:  logging.NewNopLogger(),
		metrics: metrics.NewNopMetrics(),
		tracer:  tracing.NewTracer("nodegate/status"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("status")
	return r
}

// Config returns the resolver bounds.
func (r *Resolver) Config() Config {
	return r.cfg
}

// BootstrapEnded reports whether the node finished its initial bootstrap.
func (r *Resolver) BootstrapEnded(context.Context) bool {
	return r.flags.BootstrapEnded()
}

// PreloadEnded reports whether the node finished preloading blocks.
func (r *Resolver) PreloadEnded(context.Context) bool {
	return r.flags.PreloadEnded()
}

// IsMining reports whether the node is producing blocks.
func (r *Resolver) IsMining(context.Context) bool {
	return r.flags.IsMining()
}

// Tip returns the newest accepted header.
func (r *Resolver) Tip(ctx context.Context) (*types.BlockHeader, error) {
	tip, err := r.chain.Tip(ctx)
	if err = chainHeaderErr(tip, err, "tip"); err != nil {
		return nil, err
	}
	r.metrics.SetTipHeight(tip.Index)
	return tip, nil
}

// Genesis returns the header at index zero.
func (r *Resolver) Genesis(ctx context.Context) (*types.BlockHeader, error) {
	g, err := r.chain.Genesis(ctx)
	if err = chainHeaderErr(g, err, "genesis"); err != nil {
		return nil, err
	}
	return g, nil
}

func chainHeaderErr(h *types.BlockHeader, err error, what string) error {
	switch {
	case errors.Is(err, types.ErrChainUnavailable):
		return err
	case err != nil:
		return fmt.Errorf("loading %s: %w", what, err)
	case h == nil:
		return fmt.Errorf("%w: no %s", types.ErrChainUnavailable, what)
	}
	return nil
}

// StagedTransactionIDs returns the pending transaction ids in pool order.
// The result is never nil on success.
func (r *Resolver) StagedTransactionIDs(ctx context.Context) ([]types.TxID, error) {
	ids, err := r.chain.StagedTransactionIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading staged transactions: %w", err)
	}
	if ids == nil {
		ids = []types.TxID{}
	}
	r.metrics.SetStagedTransactions(len(ids))
	return ids, nil
}

// TopmostBlocks returns up to limit headers newest to oldest starting at the
// current tip. When miner is set, only blocks it produced are returned and
// count toward the limit.
func (r *Resolver) TopmostBlocks(ctx context.Context, limit int, miner *types.Address) (_ []*types.BlockHeader, err error) {
	if err := types.ValidateLimit(limit, r.cfg.MaxLimit); err != nil {
		return nil, err
	}
	if limit == 0 {
		return []*types.BlockHeader{}, nil
	}

	ctx, span := r.tracer.StartSpan(ctx, "status.TopmostBlocks",
		attribute.Int("limit", limit),
		attribute.String("miner", minerString(miner)),
	)
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	// The tip is captured once; blocks appended during the walk are not seen.
	tip, err := r.Tip(ctx)
	if err != nil {
		return nil, err
	}

	walkCtx := ctx
	if r.cfg.WalkTimeout > 0 {
		var cancel context.CancelFunc
		walkCtx, cancel = context.WithTimeout(ctx, r.cfg.WalkTimeout)
		defer cancel()
	}

	it := chainwalk.New(walkCtx, r.chain, tip, limit, miner)
	headers := make([]*types.BlockHeader, 0, min(limit, 64))
	for it.Next() {
		headers = append(headers, it.Header())
	}

	span.SetAttribute("scanned", it.Scanned())
	span.SetAttribute("returned", len(headers))
	r.metrics.ObserveWalk(it.Scanned(), len(headers))

	if err := it.Err(); err != nil {
		return nil, r.walkErr(ctx, err)
	}
	return headers, nil
}

func (r *Resolver) walkErr(ctx context.Context, err error) error {
	if ce, ok := types.IsChainIntegrity(err); ok {
		r.logger.Error("chain integrity violation",
			logging.BlockHash(ce.Block),
			logging.Height(ce.Height),
			logging.Error(err),
		)
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: walk exceeded %s", types.ErrChainUnavailable, r.cfg.WalkTimeout)
	}
	return fmt.Errorf("walking chain: %w", err)
}

// NodeStatus resolves every argument-free field. It fails if any field fails.
func (r *Resolver) NodeStatus(ctx context.Context) (*NodeStatus, error) {
	tip, err := r.Tip(ctx)
	if err != nil {
		return nil, err
	}
	genesis, err := r.Genesis(ctx)
	if err != nil {
		return nil, err
	}
	f := Snapshot(r.flags)
	return &NodeStatus{
		BootstrapEnded: f.BootstrapEnded,
		PreloadEnded:   f.PreloadEnded,
		IsMining:       f.IsMining,
		Tip:            tip,
		Genesis:        genesis,
	}, nil
}

func minerString(m *types.Address) string {
	if m == nil {
		return ""
	}
	return m.String()
}
