package events

import (
	"context"
	"testing"
	"time"

	bapitypes "github.com/blockberries/bapi/types"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan bapitypes.Event) bapitypes.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return bapitypes.Event{}
}

func requireNothing(t *testing.T, ch <-chan bapitypes.Event) {
	t.Helper()
	select {
	case e, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event %q", e.Kind)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func requireClosed(t *testing.T, ch <-chan bapitypes.Event) {
	t.Helper()
	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestBus_StartStop(t *testing.T) {
	bus := NewBus()
	require.False(t, bus.IsRunning())

	require.NoError(t, bus.Start())
	require.NoError(t, bus.Start())
	require.True(t, bus.IsRunning())

	require.NoError(t, bus.Stop())
	require.NoError(t, bus.Stop())
	require.False(t, bus.IsRunning())
}

func TestBus_NotRunning(t *testing.T) {
	bus := NewBus()

	_, err := bus.Subscribe(context.Background(), "s", QueryAll{})
	require.ErrorIs(t, err, ErrBusNotRunning)

	_, err = bus.Publish(bapitypes.Event{Kind: KindNewTip})
	require.ErrorIs(t, err, ErrBusNotRunning)
}

func TestBus_QueryKind(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Start())
	defer bus.Stop()

	tips, err := bus.Subscribe(context.Background(), "s", QueryKind{Kind: KindNewTip})
	require.NoError(t, err)
	all, err := bus.Subscribe(context.Background(), "s", QueryAll{})
	require.NoError(t, err)

	n, err := bus.Publish(bapitypes.Event{Kind: KindFlagsChanged})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = bus.Publish(bapitypes.Event{Kind: KindNewTip})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.Equal(t, KindFlagsChanged, receive(t, all).Kind)
	require.Equal(t, KindNewTip, receive(t, all).Kind)
	require.Equal(t, KindNewTip, receive(t, tips).Kind)
	requireNothing(t, tips)
}

func TestBus_DuplicateAndLimit(t *testing.T) {
	bus := NewBusWithConfig(BusConfig{BufferSize: 1, MaxSubscribers: 2})
	require.NoError(t, bus.Start())
	defer bus.Stop()

	_, err := bus.Subscribe(context.Background(), "a", QueryAll{})
	require.NoError(t, err)
	_, err = bus.Subscribe(context.Background(), "a", QueryAll{})
	require.ErrorIs(t, err, ErrSubscriberExists)

	_, err = bus.Subscribe(context.Background(), "b", QueryAll{})
	require.NoError(t, err)
	_, err = bus.Subscribe(context.Background(), "c", QueryAll{})
	require.ErrorIs(t, err, ErrTooManySubscribers)
}

func TestBus_FullBufferDrops(t *testing.T) {
	bus := NewBusWithConfig(BusConfig{BufferSize: 1})
	require.NoError(t, bus.Start())
	defer bus.Stop()

	ch, err := bus.Subscribe(context.Background(), "slow", QueryAll{})
	require.NoError(t, err)

	n, err := bus.Publish(bapitypes.Event{Kind: "first"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = bus.Publish(bapitypes.Event{Kind: "second"})
	require.NoError(t, err)
	require.Zero(t, n)

	require.Equal(t, "first", receive(t, ch).Kind)
	requireNothing(t, ch)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Start())
	defer bus.Stop()

	ch, err := bus.Subscribe(context.Background(), "a", QueryAll{})
	require.NoError(t, err)
	other, err := bus.Subscribe(context.Background(), "a", QueryKind{Kind: KindNewTip})
	require.NoError(t, err)

	require.NoError(t, bus.Unsubscribe("a", QueryAll{}))
	requireClosed(t, ch)
	require.ErrorIs(t, bus.Unsubscribe("a", QueryAll{}), ErrSubscriberNotFound)
	require.Equal(t, 1, bus.NumSubscribers())

	bus.UnsubscribeAll("a")
	requireClosed(t, other)
	require.Zero(t, bus.NumSubscribers())
}

func TestBus_ContextCancel(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Start())
	defer bus.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx, "a", QueryAll{})
	require.NoError(t, err)

	cancel()
	requireClosed(t, ch)
	require.Eventually(t, func() bool { return bus.NumSubscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBus_StopClosesSubscriptions(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Start())

	ch, err := bus.Subscribe(context.Background(), "a", QueryAll{})
	require.NoError(t, err)

	require.NoError(t, bus.Stop())
	requireClosed(t, ch)
	require.Zero(t, bus.NumSubscribers())
}
