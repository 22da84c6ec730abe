// Package connector maintains the persistent, authenticated link between the
// game server and the control server.
package connector

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mcdatalink/datalink/internal/config"
)

// Host is what the link needs from the game server. Implementations are thin
// I/O wrappers and must be safe for concurrent use.
type Host interface {
	// FetchStatsSnapshot returns the player's stats document. ok is false
	// when the player has no stats yet.
	FetchStatsSnapshot(ctx context.Context, id uuid.UUID) (stats json.RawMessage, ok bool, err error)

	// ListKnownPlayerIDs returns every player the server knows, online or not.
	ListKnownPlayerIDs(ctx context.Context) ([]uuid.UUID, error)

	// DeliverToPlayer shows text to an online player. It is a no-op for
	// offline players.
	DeliverToPlayer(ctx context.Context, id uuid.UUID, text string) error
}

// Options configures a DataLink.
type Options struct {
	Host       string
	Port       int
	LicenseKey string

	ConnectTimeout    time.Duration
	RetryInterval     time.Duration
	AuthTimeout       time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	WriteTimeout      time.Duration

	// StatsRate caps STATS frames per second during a bulk push. Zero or
	// less means unlimited.
	StatsRate int

	// PinMessage is sent to a player on loginPin; "{pin}" is replaced.
	PinMessage string
}

// DefaultOptions returns the stock timers and endpoint. LicenseKey is empty.
func DefaultOptions() Options {
	return Options{
		Host:              config.DefaultServerHost,
		Port:              config.DefaultServerPort,
		ConnectTimeout:    10 * time.Second,
		RetryInterval:     5 * time.Second,
		AuthTimeout:       5 * time.Second,
		HeartbeatInterval: 7 * time.Second,
		HeartbeatTimeout:  20 * time.Second,
		WriteTimeout:      10 * time.Second,
		StatsRate:         20,
		PinMessage:        config.DefaultPinMessage,
	}
}

// OptionsFromConfig converts the link section of the config file.
func OptionsFromConfig(l config.LinkData) Options {
	return Options{
		Host:              l.ServerHost,
		Port:              l.ServerPort,
		LicenseKey:        l.LicenseKey,
		ConnectTimeout:    config.Seconds(l.ConnectTimeout),
		RetryInterval:     config.Seconds(l.RetryInterval),
		AuthTimeout:       config.Seconds(l.AuthTimeout),
		HeartbeatInterval: config.Seconds(l.HeartbeatInterval),
		HeartbeatTimeout:  config.Seconds(l.HeartbeatTimeout),
		WriteTimeout:      config.Seconds(l.WriteTimeout),
		StatsRate:         l.StatsRate,
		PinMessage:        l.PinMessage,
	}
}

// Addr returns the control server endpoint as host:port.
func (o Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// withDefaults fills zero values from DefaultOptions.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Host == "" {
		o.Host = def.Host
	}
	if o.Port == 0 {
		o.Port = def.Port
	}
	durations := []struct{ v, d *time.Duration }{
		{&o.ConnectTimeout, &def.ConnectTimeout},
		{&o.RetryInterval, &def.RetryInterval},
		{&o.AuthTimeout, &def.AuthTimeout},
		{&o.HeartbeatInterval, &def.HeartbeatInterval},
		{&o.HeartbeatTimeout, &def.HeartbeatTimeout},
		{&o.WriteTimeout, &def.WriteTimeout},
	}
	for _, p := range durations {
		if *p.v <= 0 {
			*p.v = *p.d
		}
	}
	if o.PinMessage == "" {
		o.PinMessage = def.PinMessage
	}
	return o
}

// credentialConfigured reports whether key is a real license key rather
// than empty or the "<enter key here>" placeholder.
func credentialConfigured(key string) bool {
	key = strings.TrimSpace(key)
	return key != "" && !strings.Contains(key, "<")
}
