package events

import (
	"context"
	"errors"
	"sync"
	"time"

	bapitypes "github.com/blockberries/bapi/types"

	"github.com/blockberries/nodegate/blockstore"
	"github.com/blockberries/nodegate/logging"
	"github.com/blockberries/nodegate/metrics"
	"github.com/blockberries/nodegate/types"
)

// DefaultPollInterval is how often the watcher samples the node by default.
const DefaultPollInterval = time.Second

// Source is what the watcher samples. status.Resolver implements it.
type Source interface {
	Tip(ctx context.Context) (*types.BlockHeader, error)
	BootstrapEnded(ctx context.Context) bool
	PreloadEnded(ctx context.Context) bool
	IsMining(ctx context.Context) bool
}

// TipWatcher samples a Source periodically and publishes KindNewTip and
// KindFlagsChanged events when what it sees differs from the last sample.
type TipWatcher struct {
	src      Source
	bus      *Bus
	interval time.Duration
	logger   *logging.Logger
	metrics  metrics.Metrics

	mu        sync.Mutex
	lastTip   *types.Hash
	lastFlags *blockstore.FlagSet

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherOption configures a TipWatcher.
type WatcherOption func(*TipWatcher)

// WithLogger sets the watcher logger.
func WithLogger(l *logging.Logger) WatcherOption {
	return func(w *TipWatcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMetrics sets the watcher metrics.
func WithMetrics(m metrics.Metrics) WatcherOption {
	return func(w *TipWatcher) {
		if m != nil {
			w.metrics = m
		}
	}
}

// NewTipWatcher creates a watcher publishing to bus. A non-positive
// interval selects DefaultPollInterval.
func NewTipWatcher(src Source, bus *Bus, interval time.Duration, opts ...WatcherOption) *TipWatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	w := &TipWatcher{
		src:      src,
		bus:      bus,
		interval: interval,
		logger:   logging.NewNopLogger(),
		metrics:  metrics.NewNopMetrics(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.WithComponent("events")
	return w
}

// Start begins polling in the background until Stop is called.
func (w *TipWatcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop stops polling and waits for the loop to exit.
func (w *TipWatcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		w.wg.Wait()
	}
}

func (w *TipWatcher) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("status poll failed", logging.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll takes one sample and publishes what changed. The first sample
// publishes the current tip and flags. An empty chain is not an error.
func (w *TipWatcher) Poll(ctx context.Context) error {
	flags := blockstore.FlagSet{
		BootstrapEnded: w.src.BootstrapEnded(ctx),
		PreloadEnded:   w.src.PreloadEnded(ctx),
		IsMining:       w.src.IsMining(ctx),
	}

	tip, err := w.src.Tip(ctx)
	if err != nil && !errors.Is(err, types.ErrChainUnavailable) {
		return err
	}

	w.mu.Lock()
	flagsChanged := w.lastFlags == nil || *w.lastFlags != flags
	if flagsChanged {
		w.lastFlags = &flags
	}
	tipChanged := tip != nil && (w.lastTip == nil || *w.lastTip != tip.Hash)
	if tipChanged {
		hash := tip.Hash
		w.lastTip = &hash
	}
	w.mu.Unlock()

	if tipChanged {
		w.publish(NewTipEvent(tip))
		w.logger.Debug("new tip", logging.Height(tip.Index), logging.BlockHash(tip.Hash))
	}
	if flagsChanged {
		w.publish(FlagsChangedEvent(flags))
	}
	return nil
}

func (w *TipWatcher) publish(e bapitypes.Event) {
	n, err := w.bus.Publish(e)
	if err != nil {
		w.logger.Debug("event dropped", logging.Reason(err.Error()))
		return
	}
	w.metrics.IncNotifications(e.Kind)
	if n > 0 {
		w.logger.Debug("event published", logging.Count(n))
	}
}
