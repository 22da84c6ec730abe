package connector

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcdatalink/datalink/internal/protocol"
)

// AuthOutcome is the conclusion of a handshake.
type AuthOutcome int

const (
	AuthAuthenticated AuthOutcome = iota
	AuthRejected
	AuthTimedOut
)

func (o AuthOutcome) String() string {
	switch o {
	case AuthAuthenticated:
		return "authenticated"
	case AuthRejected:
		return "rejected"
	case AuthTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// AuthResult reports how a handshake ended. Code is set for a rejection by
// status report; Err is set when the stream failed instead.
type AuthResult struct {
	Outcome AuthOutcome
	Code    string
	Text    string
	Err     error
}

// authenticate sends the license key and waits up to timeout for a
// conclusive reply. Keepalives are answered while waiting. The read
// deadline is cleared before it returns.
func authenticate(ctx context.Context, s *session, key string, timeout time.Duration, hb *Heartbeat, logger zerolog.Logger) AuthResult {
	if err := s.send(protocol.AuthMessage(key)); err != nil {
		return AuthResult{Outcome: AuthRejected, Err: err}
	}

	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return AuthResult{Outcome: AuthRejected, Err: err}
	}
	res := awaitAuthReply(ctx, s, hb, logger)

	// Deadline first, then ctx: a cancellation racing with the reset still
	// leaves the canceller's deadline in place.
	s.conn.SetReadDeadline(time.Time{})
	if err := ctx.Err(); err != nil && res.Outcome == AuthAuthenticated {
		return AuthResult{Outcome: AuthRejected, Err: err}
	}
	return res
}

func awaitAuthReply(ctx context.Context, s *session, hb *Heartbeat, logger zerolog.Logger) AuthResult {
	for {
		if err := ctx.Err(); err != nil {
			return AuthResult{Outcome: AuthRejected, Err: err}
		}

		payload, err := s.readFrame()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return AuthResult{Outcome: AuthRejected, Err: ctxErr}
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return AuthResult{Outcome: AuthTimedOut, Err: err}
			}
			return AuthResult{Outcome: AuthRejected, Err: err}
		}
		hb.OnInboundActivity()

		switch protocol.Classify(payload) {
		case protocol.KindKeepalive:
			if err := s.send(protocol.BeatMessage); err != nil {
				return AuthResult{Outcome: AuthRejected, Err: err}
			}

		case protocol.KindStatus:
			st, err := protocol.ParseStatus(payload)
			if err != nil {
				logger.Debug().Str("payload", payload).Msg("ignoring status without code during handshake")
				continue
			}
			if st.IsSuccess() {
				return AuthResult{Outcome: AuthAuthenticated, Code: st.Code}
			}
			if st.IsTerminal() {
				return AuthResult{Outcome: AuthRejected, Code: st.Code, Text: st.Text}
			}
			logger.Info().
				Str("code", st.Code).
				Str("meaning", st.Description()).
				Msg("ignoring status during handshake")

		default:
			logger.Debug().Str("payload", payload).Msg("ignoring message during handshake")
		}
	}
}
