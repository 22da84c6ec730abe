package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitReachesEveryHandler(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var calls atomic.Int32
	for _, name := range []string{"a", "b"} {
		bus.Subscribe(EventWorldSaved, name, func(context.Context, Event) error {
			calls.Add(1)
			return nil
		})
	}
	assert.Equal(t, 2, bus.HandlerCount(EventWorldSaved))

	bus.Emit(context.Background(), Event{Type: EventWorldSaved, Source: "test"})
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestEmitSyncReturnsHandlerError(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	boom := errors.New("boom")
	bus.Subscribe(EventPlayerJoined, "ok", func(context.Context, Event) error { return nil })
	bus.Subscribe(EventPlayerJoined, "fail", func(context.Context, Event) error { return boom })

	err := bus.EmitSync(context.Background(), Event{Type: EventPlayerJoined})
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventPlayerQuit}))
}

func TestHandlerPanicIsContained(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	bus.Subscribe(EventShutdown, "panics", func(context.Context, Event) error { panic("bad handler") })
	assert.NotPanics(t, func() {
		assert.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventShutdown}))
	})
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var calls atomic.Int32
	bus.Subscribe(EventLinkState, "keep", func(context.Context, Event) error { calls.Add(1); return nil })
	bus.Subscribe(EventLinkState, "drop", func(context.Context, Event) error { calls.Add(10); return nil })
	bus.Unsubscribe(EventLinkState, "drop")
	bus.Unsubscribe(EventPlayerMessage, "never-subscribed")

	require.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventLinkState}))
	assert.Equal(t, int32(1), calls.Load())
}

func TestStopWaitsAndDropsLaterEvents(t *testing.T) {
	bus := NewEventBus()

	release := make(chan struct{})
	var done atomic.Bool
	var calls atomic.Int32
	bus.Subscribe(EventLinkStatus, "slow", func(context.Context, Event) error {
		calls.Add(1)
		<-release
		done.Store(true)
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventLinkStatus})
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	bus.Stop()
	assert.True(t, done.Load())

	select {
	case <-bus.StopCh():
	default:
		t.Fatal("stop channel not closed")
	}

	bus.Emit(context.Background(), Event{Type: EventLinkStatus})
	assert.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventLinkStatus}))
	assert.Equal(t, int32(1), calls.Load())

	bus.Stop()
}
