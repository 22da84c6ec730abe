// Package events defines event types and payloads for the DataLink event bus.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Link lifecycle events
	EventLinkState    EventType = "link_state"
	EventLinkTerminal EventType = "link_terminal"
	EventLinkStatus   EventType = "link_status"

	// Game server events
	EventPlayerJoined  EventType = "player_joined"
	EventPlayerQuit    EventType = "player_quit"
	EventWorldSaved    EventType = "world_saved"
	EventPlayerMessage EventType = "player_message"

	// System events
	EventShutdown EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// LinkStatePayload is carried by EventLinkState and EventLinkTerminal.
type LinkStatePayload struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
	Remote   string `json:"remote"`
	Reason   string `json:"reason,omitempty"`
}

// LinkStatusPayload is a periodic snapshot of the link.
type LinkStatusPayload struct {
	State          string    `json:"state"`
	Remote         string    `json:"remote"`
	ConnectedSince time.Time `json:"connected_since,omitempty"`
	LastInbound    time.Time `json:"last_inbound,omitempty"`
	Reconnects     int64     `json:"reconnects"`
	LastError      string    `json:"last_error,omitempty"`
	OnlinePlayers  int       `json:"online_players"`
}

// PlayerPayload identifies a player. Name may be empty.
type PlayerPayload struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name,omitempty"`
}

// PlayerMessagePayload is text queued for an online player.
type PlayerMessagePayload struct {
	ID   uuid.UUID `json:"id"`
	Text string    `json:"text"`
}
