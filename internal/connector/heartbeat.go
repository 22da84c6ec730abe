package connector

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mcdatalink/datalink/internal/protocol"
)

// Heartbeat emits keepalives on a fixed interval and tracks when the peer
// was last heard from. The liveness clock is shared by every goroutine of a
// session and survives across sessions for status reporting.
type Heartbeat struct {
	interval time.Duration
	timeout  time.Duration

	lastInbound atomic.Int64 // unix nanos, 0 = never
}

// NewHeartbeat creates a monitor that sends every interval and considers
// the peer dead after timeout of inbound silence.
func NewHeartbeat(interval, timeout time.Duration) *Heartbeat {
	return &Heartbeat{interval: interval, timeout: timeout}
}

// OnInboundActivity records that a frame arrived.
func (h *Heartbeat) OnInboundActivity() {
	h.lastInbound.Store(time.Now().UnixNano())
}

// Reset starts the liveness clock for a fresh session.
func (h *Heartbeat) Reset() {
	h.OnInboundActivity()
}

// LastInbound returns when the last frame arrived, or the zero time.
func (h *Heartbeat) LastInbound() time.Time {
	n := h.lastInbound.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// IsStale reports whether more than the timeout passed since the last
// inbound frame. A monitor that never saw traffic is not stale.
func (h *Heartbeat) IsStale(now time.Time) bool {
	n := h.lastInbound.Load()
	if n == 0 {
		return false
	}
	return now.Sub(time.Unix(0, n)) > h.timeout
}

// Run sends a keepalive every interval, independent of inbound traffic. It
// returns nil when ctx is cancelled and the send error otherwise.
func (h *Heartbeat) Run(ctx context.Context, send func(payload string) error) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := send(protocol.BeatMessage); err != nil {
				return err
			}
		}
	}
}

// Watch polls the liveness clock and calls onStale once when the peer has
// gone silent. It returns when ctx is cancelled or after onStale.
func (h *Heartbeat) Watch(ctx context.Context, onStale func()) {
	ticker := time.NewTicker(h.checkInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if h.IsStale(now) {
				onStale()
				return
			}
		}
	}
}

func (h *Heartbeat) checkInterval() time.Duration {
	d := h.timeout / 4
	if d > time.Second {
		d = time.Second
	}
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}
