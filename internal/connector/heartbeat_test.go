package connector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdatalink/datalink/internal/protocol"
)

func TestHeartbeatStaleness(t *testing.T) {
	hb := NewHeartbeat(time.Second, 20*time.Second)

	assert.False(t, hb.IsStale(time.Now()), "no traffic yet")
	assert.True(t, hb.LastInbound().IsZero())

	hb.OnInboundActivity()
	now := time.Now()
	assert.False(t, hb.IsStale(now))
	assert.False(t, hb.IsStale(now.Add(19*time.Second)))
	assert.True(t, hb.IsStale(now.Add(21*time.Second)))
	assert.WithinDuration(t, now, hb.LastInbound(), time.Second)
}

func TestHeartbeatRunSendsBeats(t *testing.T) {
	hb := NewHeartbeat(10*time.Millisecond, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var beats atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- hb.Run(ctx, func(payload string) error {
			assert.Equal(t, protocol.BeatMessage, payload)
			beats.Add(1)
			return nil
		})
	}()

	require.Eventually(t, func() bool { return beats.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestHeartbeatRunStopsOnSendError(t *testing.T) {
	hb := NewHeartbeat(5*time.Millisecond, time.Second)
	boom := errors.New("broken pipe")

	err := hb.Run(context.Background(), func(string) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestHeartbeatWatchDetectsSilence(t *testing.T) {
	hb := NewHeartbeat(time.Hour, 50*time.Millisecond)
	hb.Reset()

	stale := make(chan struct{})
	start := time.Now()
	go hb.Watch(context.Background(), func() { close(stale) })

	select {
	case <-stale:
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("silence not detected")
	}
}

func TestHeartbeatWatchKeptAliveByTraffic(t *testing.T) {
	hb := NewHeartbeat(time.Hour, 80*time.Millisecond)
	hb.Reset()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hb.OnInboundActivity()
			}
		}
	}()

	var fired atomic.Bool
	hb.Watch(ctx, func() { fired.Store(true) })
	assert.False(t, fired.Load())
}
