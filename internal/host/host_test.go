package host

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdatalink/datalink/internal/connector"
	"github.com/mcdatalink/datalink/internal/db"
	"github.com/mcdatalink/datalink/internal/events"
)

func openRegistry(t *testing.T) *db.PlayersDatabase {
	t.Helper()
	registry, err := db.NewPlayersDatabase(filepath.Join(t.TempDir(), "players.db"))
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })
	return registry
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

type recordingLink struct {
	mu     sync.Mutex
	joined []uuid.UUID
	quit   []uuid.UUID
	stats  []uuid.UUID
	err    error
}

func (l *recordingLink) NotifyPlayerJoined(id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.joined = append(l.joined, id)
	return l.err
}

func (l *recordingLink) NotifyPlayerQuit(id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quit = append(l.quit, id)
	return l.err
}

func (l *recordingLink) RequestSendStats(_ context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats = append(l.stats, id)
	return l.err
}

func (l *recordingLink) snapshot() (joined, quit, stats []uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uuid.UUID(nil), l.joined...),
		append([]uuid.UUID(nil), l.quit...),
		append([]uuid.UUID(nil), l.stats...)
}

func TestStatsSnapshot(t *testing.T) {
	world := t.TempDir()
	id := uuid.New()
	writeFile(t, filepath.Join(world, "stats", id.String()+".json"), "{\n  \"stats\": { \"minecraft:custom\": {\"minecraft:jump\": 4} }\n}\n")

	store := NewStatsStore(world)

	data, ok, err := store.Snapshot(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"stats":{"minecraft:custom":{"minecraft:jump":4}}}`, string(data))

	_, ok, err = store.Snapshot(uuid.New())
	require.NoError(t, err)
	assert.False(t, ok, "missing file is absent, not an error")
}

func TestStatsSnapshotInvalidJSON(t *testing.T) {
	world := t.TempDir()
	id := uuid.New()
	writeFile(t, filepath.Join(world, "stats", id.String()+".json"), "{not json")

	_, ok, err := NewStatsStore(world).Snapshot(id)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestStatsPlayerIDs(t *testing.T) {
	world := t.TempDir()
	a, b := uuid.New(), uuid.New()
	writeFile(t, filepath.Join(world, "stats", a.String()+".json"), "{}")
	writeFile(t, filepath.Join(world, "stats", b.String()+".json"), "{}")
	writeFile(t, filepath.Join(world, "stats", "notes.json"), "{}")
	writeFile(t, filepath.Join(world, "stats", uuid.NewString()+".json_old"), "{}")

	ids, err := NewStatsStore(world).PlayerIDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, ids)

	ids, err = NewStatsStore(filepath.Join(world, "missing")).PlayerIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestListKnownPlayerIDsIsUnion(t *testing.T) {
	ctx := context.Background()
	world := t.TempDir()
	registry := openRegistry(t)

	registered, withStats, withData, shared := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, registry.UpsertPlayer(ctx, registered, "Reg"))
	require.NoError(t, registry.UpsertPlayer(ctx, shared, "Shared"))
	writeFile(t, filepath.Join(world, "stats", withStats.String()+".json"), "{}")
	writeFile(t, filepath.Join(world, "stats", shared.String()+".json"), "{}")
	writeFile(t, filepath.Join(world, "playerdata", withData.String()+".dat"), "")
	writeFile(t, filepath.Join(world, "playerdata", shared.String()+".dat"), "")

	ids, err := NewPlayers(registry, world, nil).ListKnownPlayerIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{registered, withStats, withData, shared}, ids)
}

func TestDeliverToPlayer(t *testing.T) {
	ctx := context.Background()
	registry := openRegistry(t)
	bus := events.NewEventBus()
	defer bus.Stop()

	got := make(chan events.PlayerMessagePayload, 1)
	bus.Subscribe(events.EventPlayerMessage, "test", func(_ context.Context, e events.Event) error {
		got <- e.Payload.(events.PlayerMessagePayload)
		return nil
	})

	players := NewPlayers(registry, t.TempDir(), bus)
	online, offline := uuid.New(), uuid.New()
	require.NoError(t, registry.SetOnline(ctx, online, true))

	require.NoError(t, players.DeliverToPlayer(ctx, offline, "nobody home"))
	msgs, err := registry.TakeMessages(ctx, offline)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, players.DeliverToPlayer(ctx, online, "PIN 1234"))
	select {
	case p := <-got:
		assert.Equal(t, online, p.ID)
		assert.Equal(t, "PIN 1234", p.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("message event not emitted")
	}

	msgs, err = registry.TakeMessages(ctx, online)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "PIN 1234", msgs[0].Text)
}

func TestBridgeForwardsJoinAndQuit(t *testing.T) {
	ctx := context.Background()
	registry := openRegistry(t)
	bus := events.NewEventBus()
	defer bus.Stop()
	link := &recordingLink{}

	bridge := NewBridge(link, registry, bus)
	bridge.Start()
	defer bridge.Stop()

	id := uuid.New()
	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type:    events.EventPlayerJoined,
		Payload: events.PlayerPayload{ID: id, Name: "Alex"},
	}))

	online, err := registry.IsOnline(ctx, id)
	require.NoError(t, err)
	assert.True(t, online)
	found, ok, err := registry.FindByName(ctx, "Alex")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, found)

	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type:    events.EventPlayerQuit,
		Payload: events.PlayerPayload{ID: id, Name: "Alex"},
	}))

	online, err = registry.IsOnline(ctx, id)
	require.NoError(t, err)
	assert.False(t, online)

	joined, quit, _ := link.snapshot()
	assert.Equal(t, []uuid.UUID{id}, joined)
	assert.Equal(t, []uuid.UUID{id}, quit)
}

func TestBridgeWorldSaveSendsOnlineStats(t *testing.T) {
	ctx := context.Background()
	registry := openRegistry(t)
	bus := events.NewEventBus()
	defer bus.Stop()
	link := &recordingLink{}

	NewBridge(link, registry, bus).Start()

	on, off := uuid.New(), uuid.New()
	require.NoError(t, registry.SetOnline(ctx, on, true))
	require.NoError(t, registry.UpsertPlayer(ctx, off, "Offline"))

	require.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventWorldSaved}))

	_, _, stats := link.snapshot()
	assert.Equal(t, []uuid.UUID{on}, stats)
}

func TestBridgeToleratesLinkDown(t *testing.T) {
	ctx := context.Background()
	registry := openRegistry(t)
	bus := events.NewEventBus()
	defer bus.Stop()
	link := &recordingLink{err: connector.ErrNotConnected}

	NewBridge(link, registry, bus).Start()

	id := uuid.New()
	assert.NoError(t, bus.EmitSync(ctx, events.Event{
		Type:    events.EventPlayerJoined,
		Payload: events.PlayerPayload{ID: id, Name: "Alex"},
	}))

	online, err := registry.IsOnline(ctx, id)
	require.NoError(t, err)
	assert.True(t, online, "registry is updated even when the link is down")

	assert.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventWorldSaved}))
}

func TestBridgeRejectsBadPayload(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	NewBridge(&recordingLink{}, openRegistry(t), bus).Start()

	err := bus.EmitSync(context.Background(), events.Event{Type: events.EventPlayerJoined, Payload: "Alex"})
	assert.Error(t, err)
}
