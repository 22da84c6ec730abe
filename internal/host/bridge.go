package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mcdatalink/datalink/internal/connector"
	"github.com/mcdatalink/datalink/internal/db"
	"github.com/mcdatalink/datalink/internal/events"
	"github.com/mcdatalink/datalink/internal/util"
)

// Link is the part of the supervisor the bridge drives.
type Link interface {
	NotifyPlayerJoined(id uuid.UUID) error
	NotifyPlayerQuit(id uuid.UUID) error
	RequestSendStats(ctx context.Context, id uuid.UUID) error
}

const bridgeHandler = "host_bridge"

// Bridge forwards game server events to the link and keeps the registry's
// online flags current.
type Bridge struct {
	link     Link
	registry *db.PlayersDatabase
	bus      *events.EventBus
	logger   zerolog.Logger
}

// NewBridge creates a bridge. Call Start to subscribe.
func NewBridge(link Link, registry *db.PlayersDatabase, bus *events.EventBus) *Bridge {
	return &Bridge{
		link:     link,
		registry: registry,
		bus:      bus,
		logger:   util.ComponentLogger("bridge"),
	}
}

// Start subscribes to player and world events.
func (b *Bridge) Start() {
	b.bus.Subscribe(events.EventPlayerJoined, bridgeHandler, b.handleJoined)
	b.bus.Subscribe(events.EventPlayerQuit, bridgeHandler, b.handleQuit)
	b.bus.Subscribe(events.EventWorldSaved, bridgeHandler, b.handleWorldSaved)
}

// Stop removes the subscriptions.
func (b *Bridge) Stop() {
	b.bus.Unsubscribe(events.EventPlayerJoined, bridgeHandler)
	b.bus.Unsubscribe(events.EventPlayerQuit, bridgeHandler)
	b.bus.Unsubscribe(events.EventWorldSaved, bridgeHandler)
}

func (b *Bridge) handleJoined(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.PlayerPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Type)
	}

	if err := b.registry.UpsertPlayer(ctx, p.ID, p.Name); err != nil {
		return err
	}
	if err := b.registry.SetOnline(ctx, p.ID, true); err != nil {
		return err
	}

	b.logger.Info().Str("player", p.ID.String()).Str("name", p.Name).Msg("player joined")
	b.forward(b.link.NotifyPlayerJoined(p.ID), "join", p.ID)
	return nil
}

func (b *Bridge) handleQuit(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.PlayerPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Type)
	}

	if err := b.registry.SetOnline(ctx, p.ID, false); err != nil {
		return err
	}

	b.logger.Info().Str("player", p.ID.String()).Str("name", p.Name).Msg("player left")
	b.forward(b.link.NotifyPlayerQuit(p.ID), "quit", p.ID)
	return nil
}

// handleWorldSaved pushes fresh stats of everyone online; the save is when
// the game server flushes its stats files.
func (b *Bridge) handleWorldSaved(ctx context.Context, _ events.Event) error {
	ids, err := b.registry.ListPlayerIDs(ctx, true)
	if err != nil {
		return err
	}

	for _, id := range ids {
		err := b.link.RequestSendStats(ctx, id)
		if errors.Is(err, connector.ErrNotConnected) {
			b.logger.Debug().Msg("link down, skipping stats after world save")
			return nil
		}
		b.forward(err, "stats", id)
	}
	return nil
}

// forward logs the outcome of a link call. Events that happen while the
// link is down are dropped.
func (b *Bridge) forward(err error, what string, id uuid.UUID) {
	switch {
	case err == nil:
	case errors.Is(err, connector.ErrNotConnected):
		b.logger.Debug().Str("player", id.String()).Str("event", what).Msg("link down, event not forwarded")
	case errors.Is(err, connector.ErrNoStats):
		b.logger.Debug().Str("player", id.String()).Msg("player has no stats yet")
	default:
		b.logger.Warn().Err(err).Str("player", id.String()).Str("event", what).Msg("failed to forward event")
	}
}
