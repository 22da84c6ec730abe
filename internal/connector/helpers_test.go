package connector

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mcdatalink/datalink/internal/protocol"
)

type delivery struct {
	ID   uuid.UUID
	Text string
}

// fakeHost is an in-memory game server.
type fakeHost struct {
	mu        sync.Mutex
	stats     map[uuid.UUID]json.RawMessage
	known     []uuid.UUID
	fetches   map[uuid.UUID]int
	delivered []delivery
	fetchErr  error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		stats:   make(map[uuid.UUID]json.RawMessage),
		fetches: make(map[uuid.UUID]int),
	}
}

func (h *fakeHost) addPlayer(id uuid.UUID, stats string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.known = append(h.known, id)
	if stats != "" {
		h.stats[id] = json.RawMessage(stats)
	}
}

func (h *fakeHost) FetchStatsSnapshot(_ context.Context, id uuid.UUID) (json.RawMessage, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetches[id]++
	if h.fetchErr != nil {
		return nil, false, h.fetchErr
	}
	data, ok := h.stats[id]
	return data, ok, nil
}

func (h *fakeHost) ListKnownPlayerIDs(context.Context) ([]uuid.UUID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uuid.UUID(nil), h.known...), nil
}

func (h *fakeHost) DeliverToPlayer(_ context.Context, id uuid.UUID, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delivered = append(h.delivered, delivery{ID: id, Text: text})
	return nil
}

func (h *fakeHost) fetchCount(id uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fetches[id]
}

func (h *fakeHost) deliveries() []delivery {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]delivery(nil), h.delivered...)
}

// controlServer is a loopback stand-in for the remote control server.
type controlServer struct {
	ln    net.Listener
	conns chan net.Conn
}

func newControlServer(t *testing.T) *controlServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cs := &controlServer{ln: ln, conns: make(chan net.Conn, 16)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				close(cs.conns)
				return
			}
			cs.conns <- conn
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return cs
}

func (cs *controlServer) port() int {
	return cs.ln.Addr().(*net.TCPAddr).Port
}

// accept waits for the next client connection.
func (cs *controlServer) accept(t *testing.T, timeout time.Duration) *peer {
	t.Helper()
	select {
	case conn, ok := <-cs.conns:
		require.True(t, ok, "listener closed")
		t.Cleanup(func() { conn.Close() })
		return &peer{conn: conn}
	case <-time.After(timeout):
		t.Fatal("no connection from client")
		return nil
	}
}

// peer is the server side of one connection.
type peer struct {
	conn net.Conn
}

func (p *peer) write(t *testing.T, payload string) {
	t.Helper()
	require.NoError(t, protocol.WriteFrame(p.conn, []byte(payload)))
}

func (p *peer) read(t *testing.T) string {
	t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	payload, err := protocol.ReadFrame(p.conn)
	require.NoError(t, err)
	return string(payload)
}

// authenticate completes the handshake from the server side.
func (p *peer) authenticate(t *testing.T, key string) {
	t.Helper()
	require.Equal(t, protocol.AuthMessage(key), p.read(t))
	p.write(t, "Authenticated|100")
}

func testOptions(port int) Options {
	return Options{
		Host:              "127.0.0.1",
		Port:              port,
		LicenseKey:        "test-key",
		ConnectTimeout:    time.Second,
		RetryInterval:     20 * time.Millisecond,
		AuthTimeout:       time.Second,
		HeartbeatInterval: time.Hour,
		HeartbeatTimeout:  2 * time.Hour,
		WriteTimeout:      time.Second,
	}
}
