package connector

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcdatalink/datalink/internal/protocol"
	"github.com/mcdatalink/datalink/internal/telemetry"
)

// session is one established connection, from dial to close. Its goroutines
// share ctx; the first failure cancels it.
type session struct {
	conn    net.Conn
	reader  *bufio.Reader
	sender  *Sender
	metrics *telemetry.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	failOnce sync.Once
	errMu    sync.Mutex
	err      error

	// closing is set under mu before wg.Wait so no task is added after.
	mu        sync.Mutex
	closing   bool
	wg        sync.WaitGroup
	closeOnce sync.Once

	bulk        atomic.Bool
	connectedAt time.Time
}

func newSession(parent context.Context, conn net.Conn, writeTimeout time.Duration, metrics *telemetry.Metrics) *session {
	ctx, cancel := context.WithCancel(parent)
	s := &session{
		conn:        conn,
		reader:      bufio.NewReader(conn),
		sender:      NewSender(conn, writeTimeout, metrics),
		metrics:     metrics,
		ctx:         ctx,
		cancel:      cancel,
		connectedAt: time.Now(),
	}

	// A blocked read only notices cancellation through its deadline.
	s.goTask(func() {
		<-ctx.Done()
		conn.SetReadDeadline(time.Now())
	})
	return s
}

// send writes one frame. A write failure fails the session; an oversized
// payload only fails the call.
func (s *session) send(payload string) error {
	err := s.sender.Send(payload)
	if err != nil && !errors.Is(err, protocol.ErrFraming) {
		s.fail(err)
	}
	return err
}

// readFrame blocks for the next frame.
func (s *session) readFrame() (string, error) {
	payload, err := protocol.ReadFrame(s.reader)
	if err != nil {
		return "", err
	}
	s.metrics.FrameReceived()
	return string(payload), nil
}

// fail records the first failure and cancels the session. Later calls are
// ignored.
func (s *session) fail(err error) {
	s.failOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		s.cancel()
	})
}

// failure returns the error passed to the first fail, or nil.
func (s *session) failure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// goTask starts fn as a session goroutine. It reports false once the
// session is closing.
func (s *session) goTask(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// startBulk runs fn in the background unless a bulk push is already
// running on this session.
func (s *session) startBulk(fn func(ctx context.Context)) error {
	if !s.bulk.CompareAndSwap(false, true) {
		return ErrBulkInProgress
	}
	started := s.goTask(func() {
		defer s.bulk.Store(false)
		fn(s.ctx)
	})
	if !started {
		s.bulk.Store(false)
		return ErrNotConnected
	}
	return nil
}

// shutdown cancels every task, closes the socket and waits for the tasks.
// Only the first call does anything.
func (s *session) shutdown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		s.cancel()
		s.sender.Close()
		s.conn.Close()
		s.wg.Wait()
	})
}
