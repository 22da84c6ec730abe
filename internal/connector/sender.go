package connector

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcdatalink/datalink/internal/protocol"
	"github.com/mcdatalink/datalink/internal/telemetry"
)

// Sender writes frames to the control server. Encode, write and flush of a
// frame happen under one lock so concurrent callers never interleave bytes.
type Sender struct {
	mu           sync.Mutex
	conn         net.Conn
	w            *bufio.Writer
	codec        protocol.FrameCodec
	writeTimeout time.Duration
	metrics      *telemetry.Metrics

	closed atomic.Bool
}

// NewSender wraps conn. A zero writeTimeout disables write deadlines.
func NewSender(conn net.Conn, writeTimeout time.Duration, metrics *telemetry.Metrics) *Sender {
	return &Sender{
		conn:         conn,
		w:            bufio.NewWriter(conn),
		codec:        protocol.DefaultCodec,
		writeTimeout: writeTimeout,
		metrics:      metrics,
	}
}

// Send writes one frame. After Close it returns ErrNotConnected without
// touching the connection.
func (s *Sender) Send(payload string) error {
	if s.closed.Load() {
		return ErrNotConnected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrNotConnected
	}

	frame, err := s.codec.Encode([]byte(payload))
	if err != nil {
		return err
	}

	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if _, err := s.w.Write(frame); err != nil {
		return s.writeError(err)
	}
	if err := s.w.Flush(); err != nil {
		return s.writeError(err)
	}

	s.metrics.FrameSent()
	return nil
}

func (s *Sender) writeError(err error) error {
	// A failed bufio.Writer keeps returning the same error; drop what is left.
	s.w.Reset(s.conn)
	if s.closed.Load() {
		return ErrNotConnected
	}
	return fmt.Errorf("failed to write frame: %w", err)
}

// Close marks the sender unusable. It does not close the connection and
// does not wait for an in-flight Send.
func (s *Sender) Close() {
	s.closed.Store(true)
}
