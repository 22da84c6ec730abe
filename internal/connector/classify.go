package connector

import (
	"errors"
	"fmt"

	"github.com/mcdatalink/datalink/internal/protocol"
)

// ErrTerminal is matched by every failure after which Run stops instead of
// reconnecting.
var ErrTerminal = errors.New("terminal failure")

var (
	ErrNotConnected       = errors.New("datalink: not connected")
	ErrHeartbeatTimeout   = errors.New("datalink: heartbeat timeout")
	ErrReconnectRequested = errors.New("datalink: reconnect requested")
	ErrBulkInProgress     = errors.New("datalink: bulk stats push already running")
	ErrNoStats            = errors.New("datalink: player has no stats")
	ErrAlreadyRunning     = errors.New("datalink: already running")

	ErrNoCredential = fmt.Errorf("%w: license key is not configured", ErrTerminal)
	ErrAuthTimeout  = fmt.Errorf("%w: no authentication reply from control server", ErrTerminal)
)

// StatusError is a status report that ended a session. Codes 000, 001 and
// 002 match ErrTerminal.
type StatusError struct {
	Code string
	Text string
}

func (e *StatusError) Error() string {
	st := protocol.Status{Code: e.Code, Text: e.Text}
	if e.Text != "" {
		return fmt.Sprintf("control server status %s (%s): %s", e.Code, st.Description(), e.Text)
	}
	return fmt.Sprintf("control server status %s (%s)", e.Code, st.Description())
}

// Is makes terminal status codes match ErrTerminal.
func (e *StatusError) Is(target error) bool {
	return target == ErrTerminal && protocol.Status{Code: e.Code}.IsTerminal()
}

// IsTerminal reports whether err stops the supervisor.
//
//	failure                               class
//	connect refused / unreachable / DNS   transient
//	end of stream, read or write error    transient
//	framing error                         transient
//	heartbeat timeout                     transient
//	manual reconnect                      transient
//	authentication timeout                terminal
//	status 000 / 001 / 002                terminal
//	license key not configured            terminal
func IsTerminal(err error) bool {
	return errors.Is(err, ErrTerminal)
}

// authError maps a handshake result to the error the supervisor acts on.
// It returns nil for a successful handshake.
func authError(res AuthResult) error {
	switch res.Outcome {
	case AuthAuthenticated:
		return nil
	case AuthTimedOut:
		return ErrAuthTimeout
	}
	if res.Code != "" {
		return &StatusError{Code: res.Code, Text: res.Text}
	}
	if res.Err == nil {
		return errors.New("authentication failed")
	}
	return fmt.Errorf("authentication failed: %w", res.Err)
}
