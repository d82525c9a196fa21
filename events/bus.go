// Package events distributes chain change notifications inside the gateway.
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	bapitypes "github.com/blockberries/bapi/types"
)

// Common errors returned by the Bus.
var (
	ErrBusNotRunning      = errors.New("event bus is not running")
	ErrSubscriberExists   = errors.New("subscriber already exists for this query")
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrTooManySubscribers = errors.New("maximum number of subscribers reached")
)

// Query filters events for subscription matching.
type Query interface {
	// Matches returns true if the event should be delivered to this subscriber.
	Matches(event bapitypes.Event) bool

	// String returns a string representation of the query.
	String() string
}

// QueryAll matches all events.
type QueryAll struct{}

func (QueryAll) Matches(bapitypes.Event) bool { return true }
func (QueryAll) String() string               { return "all" }

// QueryKind matches events of a single kind.
type QueryKind struct {
	Kind string
}

func (q QueryKind) Matches(e bapitypes.Event) bool { return e.Kind == q.Kind }
func (q QueryKind) String() string                 { return "kind=" + q.Kind }

// BusConfig configures the Bus.
type BusConfig struct {
	// BufferSize is the channel capacity of each subscription.
	BufferSize int

	// MaxSubscribers caps the number of subscriptions. 0 means unlimited.
	MaxSubscribers int
}

// DefaultBusConfig returns the default bus configuration.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		BufferSize:     16,
		MaxSubscribers: 0,
	}
}

// Bus is an in-memory pub/sub bus for chain events.
type Bus struct {
	config BusConfig

	subscriptions map[string]*subscription
	mu            sync.RWMutex

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type subscription struct {
	subscriber string
	query      Query
	ch         chan bapitypes.Event
	done       chan struct{}
	cancelled  atomic.Bool
}

func (s *subscription) cancel() {
	if !s.cancelled.Swap(true) {
		close(s.done)
		close(s.ch)
	}
}

// NewBus creates a bus with the default configuration.
func NewBus() *Bus {
	return NewBusWithConfig(DefaultBusConfig())
}

// NewBusWithConfig creates a bus with the given configuration.
func NewBusWithConfig(config BusConfig) *Bus {
	if config.BufferSize <= 0 {
		config.BufferSize = 16
	}
	return &Bus{
		config:        config,
		subscriptions: make(map[string]*subscription),
		stopCh:        make(chan struct{}),
	}
}

func subscriptionKey(subscriber string, query Query) string {
	return subscriber + ":" + query.String()
}

// Start starts the bus.
func (b *Bus) Start() error {
	if b.running.Swap(true) {
		return nil
	}
	b.stopCh = make(chan struct{})
	return nil
}

// Stop stops the bus and closes all subscription channels.
func (b *Bus) Stop() error {
	if !b.running.Swap(false) {
		return nil
	}
	close(b.stopCh)

	b.mu.Lock()
	for _, sub := range b.subscriptions {
		sub.cancel()
	}
	b.subscriptions = make(map[string]*subscription)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// IsRunning returns true if the bus is running.
func (b *Bus) IsRunning() bool {
	return b.running.Load()
}

// Subscribe creates a subscription for events matching query. The returned
// channel is closed when the subscription is cancelled, ctx is done, or the
// bus stops.
func (b *Bus) Subscribe(ctx context.Context, subscriber string, query Query) (<-chan bapitypes.Event, error) {
	if !b.running.Load() {
		return nil, ErrBusNotRunning
	}

	key := subscriptionKey(subscriber, query)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscriptions[key]; exists {
		return nil, ErrSubscriberExists
	}
	if b.config.MaxSubscribers > 0 && len(b.subscriptions) >= b.config.MaxSubscribers {
		return nil, ErrTooManySubscribers
	}

	sub := &subscription{
		subscriber: subscriber,
		query:      query,
		ch:         make(chan bapitypes.Event, b.config.BufferSize),
		done:       make(chan struct{}),
	}
	b.subscriptions[key] = sub

	if ctx != nil && ctx.Done() != nil {
		stopCh := b.stopCh
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			select {
			case <-ctx.Done():
				b.remove(key, sub)
			case <-sub.done:
			case <-stopCh:
			}
		}()
	}

	return sub.ch, nil
}

// remove drops sub if it is still registered under key.
func (b *Bus) remove(key string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.subscriptions[key]; ok && cur == sub {
		delete(b.subscriptions, key)
	}
	sub.cancel()
}

// Unsubscribe removes a specific subscription.
func (b *Bus) Unsubscribe(subscriber string, query Query) error {
	key := subscriptionKey(subscriber, query)

	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.subscriptions[key]
	if !exists {
		return ErrSubscriberNotFound
	}
	sub.cancel()
	delete(b.subscriptions, key)
	return nil
}

// UnsubscribeAll removes all subscriptions of subscriber.
func (b *Bus) UnsubscribeAll(subscriber string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, sub := range b.subscriptions {
		if sub.subscriber == subscriber {
			sub.cancel()
			delete(b.subscriptions, key)
		}
	}
}

// Publish sends event to all matching subscribers. It never blocks: when a
// subscriber's buffer is full the event is dropped for that subscriber.
// Returns the number of subscribers the event was delivered to.
func (b *Bus) Publish(event bapitypes.Event) (int, error) {
	if !b.running.Load() {
		return 0, ErrBusNotRunning
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, sub := range b.subscriptions {
		if sub.cancelled.Load() || !sub.query.Matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
			delivered++
		default:
		}
	}
	return delivered, nil
}

// NumSubscribers returns the number of active subscriptions.
func (b *Bus) NumSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}
