package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdatalink/datalink/internal/events"
	"github.com/mcdatalink/datalink/internal/protocol"
	"github.com/mcdatalink/datalink/internal/telemetry"
)

// DataLink supervises the connection to the control server. Run drives the
// state machine; the remaining methods are safe to call from any goroutine.
type DataLink struct {
	opts    Options
	host    Host
	bus     *events.EventBus
	metrics *telemetry.Metrics
	logger  zerolog.Logger

	dialer    net.Dialer
	heartbeat *Heartbeat
	stats     *statsPusher
	router    *router

	running    atomic.Bool
	state      atomic.Int32
	reconnects atomic.Int64

	mu      sync.Mutex
	current *session
	lastErr error
}

// New creates a supervisor. It fails with ErrNoCredential when the license
// key is empty or still the placeholder. bus and metrics may be nil.
func New(opts Options, host Host, bus *events.EventBus, metrics *telemetry.Metrics) (*DataLink, error) {
	if !credentialConfigured(opts.LicenseKey) {
		return nil, ErrNoCredential
	}
	if host == nil {
		return nil, errors.New("datalink: host is required")
	}
	opts = opts.withDefaults()

	logger := log.With().
		Str("component", "datalink").
		Str("remote", opts.Addr()).
		Logger()

	d := &DataLink{
		opts:      opts,
		host:      host,
		bus:       bus,
		metrics:   metrics,
		logger:    logger,
		dialer:    net.Dialer{Timeout: opts.ConnectTimeout},
		heartbeat: NewHeartbeat(opts.HeartbeatInterval, opts.HeartbeatTimeout),
	}
	d.stats = newStatsPusher(host, opts.StatsRate, metrics, logger)
	d.router = &router{
		host:       host,
		stats:      d.stats,
		pinMessage: opts.PinMessage,
		onStatus:   d.handleStatus,
		logger:     logger,
	}
	return d, nil
}

// Run connects, authenticates and serves until ctx is cancelled or a
// terminal failure occurs. It returns nil on cancellation and an error
// matching ErrTerminal otherwise. Transient failures are retried forever.
func (d *DataLink) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	d.logger.Info().Msg("datalink starting")

	for {
		if ctx.Err() != nil {
			return d.stop()
		}

		d.setState(StateConnecting, "")
		conn, err := d.dialer.DialContext(ctx, "tcp", d.opts.Addr())
		if err != nil {
			if ctx.Err() != nil {
				return d.stop()
			}
			if !d.retry(ctx, fmt.Errorf("failed to connect: %w", err)) {
				return d.stop()
			}
			continue
		}

		failedIn, err := d.runSession(ctx, conn)
		if ctx.Err() != nil {
			return d.stop()
		}

		if IsTerminal(err) {
			d.setLastErr(err)
			d.logger.Error().Err(err).Msg("terminal failure, datalink stopped")
			d.emit(events.EventLinkTerminal, events.LinkStatePayload{
				Previous: failedIn.String(),
				Current:  StateStopped.String(),
				Remote:   d.opts.Addr(),
				Reason:   err.Error(),
			})
			d.setState(StateStopped, err.Error())
			return err
		}

		if errors.Is(err, ErrReconnectRequested) {
			d.setLastErr(err)
			d.reconnects.Add(1)
			d.metrics.Reconnect()
			d.logger.Info().Msg("reconnecting on request")
			continue
		}
		if !d.retry(ctx, err) {
			return d.stop()
		}
	}
}

// retry records a transient failure and waits out the retry interval. It
// reports false if ctx ended while waiting.
func (d *DataLink) retry(ctx context.Context, err error) bool {
	d.setLastErr(err)
	d.reconnects.Add(1)
	d.metrics.Reconnect()
	d.logger.Warn().Err(err).Dur("retry_in", d.opts.RetryInterval).Msg("link down, retrying")

	t := time.NewTimer(d.opts.RetryInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (d *DataLink) stop() error {
	d.setState(StateStopped, "shutdown")
	d.logger.Info().Msg("datalink stopped")
	return nil
}

// runSession owns conn until it returns; the socket is closed exactly once
// on every path. failedIn is the state the session ended in, before Closing.
func (d *DataLink) runSession(ctx context.Context, conn net.Conn) (LinkState, error) {
	s := newSession(ctx, conn, d.opts.WriteTimeout, d.metrics)
	defer func() {
		d.setState(StateClosing, "")
		d.detach(s)
		s.shutdown()
	}()

	d.setState(StateAuthenticating, "")
	res := authenticate(s.ctx, s, d.opts.LicenseKey, d.opts.AuthTimeout, d.heartbeat, d.logger)
	if err := authError(res); err != nil {
		if ctx.Err() == nil {
			d.metrics.AuthFailure(authFailureLabel(res))
		}
		return StateAuthenticating, err
	}

	d.logger.Info().Msg("authenticated with control server")
	d.heartbeat.Reset()
	d.attach(s)
	d.setState(StateActive, "")

	return StateActive, d.serve(s)
}

func authFailureLabel(res AuthResult) string {
	switch {
	case res.Code != "":
		return res.Code
	case res.Outcome == AuthTimedOut:
		return "timeout"
	default:
		return "transient"
	}
}

// serve runs the active session until its first failure.
func (d *DataLink) serve(s *session) error {
	s.goTask(func() {
		if err := d.heartbeat.Run(s.ctx, s.send); err != nil {
			s.fail(fmt.Errorf("failed to send heartbeat: %w", err))
		}
	})
	s.goTask(func() {
		d.heartbeat.Watch(s.ctx, func() {
			d.metrics.HeartbeatTimeout()
			s.fail(fmt.Errorf("%w: nothing received for %s", ErrHeartbeatTimeout, d.opts.HeartbeatTimeout))
		})
	})
	s.goTask(func() { d.readLoop(s) })

	<-s.ctx.Done()
	return s.failure()
}

func (d *DataLink) readLoop(s *session) {
	for {
		payload, err := s.readFrame()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			switch {
			case errors.Is(err, protocol.ErrEndOfStream):
				s.fail(fmt.Errorf("control server closed the connection: %w", err))
			case errors.Is(err, protocol.ErrFraming):
				s.fail(fmt.Errorf("unreadable frame: %w", err))
			default:
				s.fail(err)
			}
			return
		}

		d.heartbeat.OnInboundActivity()
		d.router.dispatch(s.ctx, s, payload)
	}
}

// handleStatus acts on a status report received while active.
func (d *DataLink) handleStatus(ls linkSession, st protocol.Status) {
	switch {
	case st.IsTerminal():
		ls.fail(&StatusError{Code: st.Code, Text: st.Text})
	case st.IsSuccess():
		d.logger.Info().Msg("control server confirmed authentication again")
	default:
		d.logger.Info().
			Str("code", st.Code).
			Str("meaning", st.Description()).
			Str("text", st.Text).
			Msg("status from control server")
	}
}

func (d *DataLink) attach(s *session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = s
}

func (d *DataLink) detach(s *session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == s {
		d.current = nil
	}
}

// active returns the authenticated session or ErrNotConnected.
func (d *DataLink) active() (*session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return nil, ErrNotConnected
	}
	return d.current, nil
}

func (d *DataLink) setState(next LinkState, reason string) {
	prev := LinkState(d.state.Swap(int32(next)))
	if prev == next {
		return
	}
	d.metrics.SetLinkState(int(next))
	d.logger.Debug().Stringer("from", prev).Stringer("to", next).Msg("link state changed")
	d.emit(events.EventLinkState, events.LinkStatePayload{
		Previous: prev.String(),
		Current:  next.String(),
		Remote:   d.opts.Addr(),
		Reason:   reason,
	})
}

func (d *DataLink) setLastErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastErr = err
}

// emit delivers link events synchronously so subscribers see transitions in
// order. It is only called from the Run goroutine, without locks held.
func (d *DataLink) emit(t events.EventType, payload interface{}) {
	if d.bus == nil {
		return
	}
	d.bus.EmitSync(context.Background(), events.Event{Type: t, Source: "datalink", Payload: payload})
}

// State returns the current state.
func (d *DataLink) State() LinkState {
	return LinkState(d.state.Load())
}

// Status returns a snapshot for reporting.
func (d *DataLink) Status() LinkStatus {
	st := LinkStatus{
		State:       d.State(),
		Remote:      d.opts.Addr(),
		LastInbound: d.heartbeat.LastInbound(),
		Reconnects:  d.reconnects.Load(),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil {
		st.ConnectedSince = d.current.connectedAt
	}
	if d.lastErr != nil {
		st.LastError = d.lastErr.Error()
	}
	return st
}

// Remote returns the configured control server endpoint.
func (d *DataLink) Remote() string {
	return d.opts.Addr()
}

// Reconnect drops the active session; Run reconnects immediately.
func (d *DataLink) Reconnect() error {
	s, err := d.active()
	if err != nil {
		return err
	}
	s.fail(ErrReconnectRequested)
	return nil
}

// NotifyPlayerJoined sends JOIN for id.
func (d *DataLink) NotifyPlayerJoined(id uuid.UUID) error {
	s, err := d.active()
	if err != nil {
		return err
	}
	return s.send(protocol.JoinMessage(id))
}

// NotifyPlayerQuit sends QUIT for id.
func (d *DataLink) NotifyPlayerQuit(id uuid.UUID) error {
	s, err := d.active()
	if err != nil {
		return err
	}
	return s.send(protocol.QuitMessage(id))
}

// RequestSendStats sends one STATS frame for id. It returns ErrNoStats when
// the player has no stats.
func (d *DataLink) RequestSendStats(ctx context.Context, id uuid.UUID) error {
	s, err := d.active()
	if err != nil {
		return err
	}
	return d.stats.sendOne(ctx, s.send, id)
}

// RequestSendAllStats starts a background push of every known player's
// stats on the active session. ctx only bounds the call; the push ends with
// the session. ErrBulkInProgress is returned while a push is running.
func (d *DataLink) RequestSendAllStats(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := d.active()
	if err != nil {
		return err
	}
	return d.router.startSendAll(s)
}
