package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *PlayersDatabase {
	t.Helper()
	pdb, err := NewPlayersDatabase(filepath.Join(t.TempDir(), "players.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pdb.Close() })
	return pdb
}

func TestUpsertAndList(t *testing.T) {
	ctx := context.Background()
	pdb := openTestDB(t)
	a, b := uuid.New(), uuid.New()

	require.NoError(t, pdb.UpsertPlayer(ctx, a, "Alex"))
	require.NoError(t, pdb.UpsertPlayer(ctx, b, ""))
	require.NoError(t, pdb.UpsertPlayer(ctx, a, "")) // keeps the name

	ids, err := pdb.ListPlayerIDs(ctx, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, ids)

	players, err := pdb.ListPlayers(ctx)
	require.NoError(t, err)
	require.Len(t, players, 2)
	names := map[uuid.UUID]string{}
	for _, p := range players {
		names[p.ID] = p.Name
		assert.False(t, p.FirstSeen.IsZero())
	}
	assert.Equal(t, "Alex", names[a])

	id, ok, err := pdb.FindByName(ctx, "Alex")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, a, id)

	_, ok, err = pdb.FindByName(ctx, "Nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOnlineTracking(t *testing.T) {
	ctx := context.Background()
	pdb := openTestDB(t)
	a, b := uuid.New(), uuid.New()

	online, err := pdb.IsOnline(ctx, a)
	require.NoError(t, err)
	assert.False(t, online, "unknown player")

	require.NoError(t, pdb.SetOnline(ctx, a, true))
	require.NoError(t, pdb.SetOnline(ctx, b, true))
	require.NoError(t, pdb.SetOnline(ctx, b, false))

	online, err = pdb.IsOnline(ctx, a)
	require.NoError(t, err)
	assert.True(t, online)

	ids, err := pdb.ListPlayerIDs(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a}, ids)

	require.NoError(t, pdb.MarkAllOffline(ctx))
	ids, err = pdb.ListPlayerIDs(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMessageQueue(t *testing.T) {
	ctx := context.Background()
	pdb := openTestDB(t)
	a, b := uuid.New(), uuid.New()

	_, err := pdb.EnqueueMessage(ctx, a, "first")
	require.NoError(t, err)
	_, err = pdb.EnqueueMessage(ctx, b, "other")
	require.NoError(t, err)
	_, err = pdb.EnqueueMessage(ctx, a, "second")
	require.NoError(t, err)

	msgs, err := pdb.TakeMessages(ctx, a)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "second", msgs[1].Text)
	assert.NotNil(t, msgs[0].DeliveredAt)

	msgs, err = pdb.TakeMessages(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = pdb.TakeMessages(ctx, b)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestPruneMessages(t *testing.T) {
	ctx := context.Background()
	pdb := openTestDB(t)
	a := uuid.New()

	_, err := pdb.EnqueueMessage(ctx, a, "delivered")
	require.NoError(t, err)
	_, err = pdb.TakeMessages(ctx, a)
	require.NoError(t, err)
	_, err = pdb.EnqueueMessage(ctx, a, "pending")
	require.NoError(t, err)

	n, err := pdb.PruneMessages(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = pdb.PruneMessages(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	msgs, err := pdb.TakeMessages(ctx, a)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "pending", msgs[0].Text)
}
