package host

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mcdatalink/datalink/internal/db"
	"github.com/mcdatalink/datalink/internal/events"
	"github.com/mcdatalink/datalink/internal/util"
)

// Players answers the link's questions about the game server. It implements
// connector.Host.
type Players struct {
	registry *db.PlayersDatabase
	stats    *StatsStore
	worldDir string
	bus      *events.EventBus
	logger   zerolog.Logger
}

// NewPlayers creates the host adapter for the world at worldDir.
func NewPlayers(registry *db.PlayersDatabase, worldDir string, bus *events.EventBus) *Players {
	return &Players{
		registry: registry,
		stats:    NewStatsStore(worldDir),
		worldDir: worldDir,
		bus:      bus,
		logger:   util.ComponentLogger("players"),
	}
}

// FetchStatsSnapshot reads the player's stats file.
func (p *Players) FetchStatsSnapshot(_ context.Context, id uuid.UUID) (json.RawMessage, bool, error) {
	return p.stats.Snapshot(id)
}

// ListKnownPlayerIDs returns everyone the server has seen: registry rows,
// stats files and player data files, without duplicates.
func (p *Players) ListKnownPlayerIDs(ctx context.Context) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{})

	registered, err := p.registry.ListPlayerIDs(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list registered players: %w", err)
	}
	withStats, err := p.stats.PlayerIDs()
	if err != nil {
		return nil, err
	}
	withData, err := idsInDir(filepath.Join(p.worldDir, "playerdata"), ".dat")
	if err != nil {
		return nil, err
	}

	for _, list := range [][]uuid.UUID{registered, withStats, withData} {
		for _, id := range list {
			seen[id] = struct{}{}
		}
	}

	ids := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

// OnlinePlayerIDs returns the players currently marked online.
func (p *Players) OnlinePlayerIDs(ctx context.Context) ([]uuid.UUID, error) {
	return p.registry.ListPlayerIDs(ctx, true)
}

// DeliverToPlayer queues text for an online player and announces it on the
// bus. Offline players are skipped.
func (p *Players) DeliverToPlayer(ctx context.Context, id uuid.UUID, text string) error {
	online, err := p.registry.IsOnline(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to check whether %s is online: %w", id, err)
	}
	if !online {
		p.logger.Debug().Str("player", id.String()).Msg("player offline, message dropped")
		return nil
	}

	if _, err := p.registry.EnqueueMessage(ctx, id, text); err != nil {
		return err
	}
	if p.bus != nil {
		p.bus.Emit(ctx, events.Event{
			Type:    events.EventPlayerMessage,
			Source:  "players",
			Payload: events.PlayerMessagePayload{ID: id, Text: text},
		})
	}
	return nil
}
