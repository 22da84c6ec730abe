package scheduler

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdatalink/datalink/internal/config"
	"github.com/mcdatalink/datalink/internal/connector"
	"github.com/mcdatalink/datalink/internal/db"
	"github.com/mcdatalink/datalink/internal/events"
)

type fakeLink struct {
	syncs  atomic.Int32
	err    error
	status connector.LinkStatus
}

func (l *fakeLink) RequestSendAllStats(context.Context) error {
	l.syncs.Add(1)
	return l.err
}

func (l *fakeLink) Status() connector.LinkStatus { return l.status }

func openRegistry(t *testing.T) *db.PlayersDatabase {
	t.Helper()
	registry, err := db.NewPlayersDatabase(filepath.Join(t.TempDir(), "players.db"))
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })
	return registry
}

func TestReportStatus(t *testing.T) {
	ctx := context.Background()
	registry := openRegistry(t)
	require.NoError(t, registry.SetOnline(ctx, uuid.New(), true))
	require.NoError(t, registry.SetOnline(ctx, uuid.New(), true))

	bus := events.NewEventBus()
	defer bus.Stop()
	got := make(chan events.LinkStatusPayload, 1)
	bus.Subscribe(events.EventLinkStatus, "test", func(_ context.Context, e events.Event) error {
		got <- e.Payload.(events.LinkStatusPayload)
		return nil
	})

	link := &fakeLink{status: connector.LinkStatus{
		State:      connector.StateActive,
		Remote:     "127.0.0.1:9991",
		Reconnects: 4,
	}}
	s := NewScheduler(config.TimerConfig{}, bus, link, registry)
	s.reportStatus(ctx)

	select {
	case p := <-got:
		assert.Equal(t, "active", p.State)
		assert.Equal(t, "127.0.0.1:9991", p.Remote)
		assert.Equal(t, int64(4), p.Reconnects)
		assert.Equal(t, 2, p.OnlinePlayers)
	case <-time.After(2 * time.Second):
		t.Fatal("status not reported")
	}
}

func TestSyncStatsToleratesLinkDown(t *testing.T) {
	link := &fakeLink{err: connector.ErrNotConnected}
	s := NewScheduler(config.TimerConfig{}, events.NewEventBus(), link, openRegistry(t))

	s.syncStats(context.Background())
	assert.Equal(t, int32(1), link.syncs.Load())
}

func TestPruneMessages(t *testing.T) {
	ctx := context.Background()
	registry := openRegistry(t)
	id := uuid.New()
	_, err := registry.EnqueueMessage(ctx, id, "old")
	require.NoError(t, err)
	_, err = registry.TakeMessages(ctx, id)
	require.NoError(t, err)

	s := NewScheduler(config.TimerConfig{MessageRetentionHours: 0}, events.NewEventBus(), &fakeLink{}, registry)
	s.pruneMessages(ctx)

	n, err := registry.PruneMessages(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "already pruned")
}

func TestRunEveryStopsOnCancel(t *testing.T) {
	s := NewScheduler(config.TimerConfig{}, events.NewEventBus(), &fakeLink{}, openRegistry(t))

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.runEvery(ctx, "test", 10*time.Millisecond, func(context.Context) { calls.Add(1) })
		close(done)
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not stop")
	}
}

func TestStartSkipsDisabledJobs(t *testing.T) {
	link := &fakeLink{}
	s := NewScheduler(config.TimerConfig{}, events.NewEventBus(), link, openRegistry(t))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Start(ctx)
	assert.Zero(t, link.syncs.Load())
}
