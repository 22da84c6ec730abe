package connector

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mcdatalink/datalink/internal/protocol"
)

// linkSession is the part of a session the router needs.
type linkSession interface {
	send(payload string) error
	fail(err error)
	startBulk(fn func(ctx context.Context)) error
}

// router dispatches inbound payloads. Nothing it does can stop the read
// loop; collaborator errors are logged.
type router struct {
	host       Host
	stats      *statsPusher
	pinMessage string
	onStatus   func(ls linkSession, st protocol.Status)
	logger     zerolog.Logger
}

func (r *router) dispatch(ctx context.Context, ls linkSession, payload string) {
	switch protocol.Classify(payload) {
	case protocol.KindKeepalive:
		if err := ls.send(protocol.BeatMessage); err != nil {
			r.logger.Debug().Err(err).Msg("failed to answer keepalive")
		}

	case protocol.KindStatus:
		st, err := protocol.ParseStatus(payload)
		if err != nil {
			r.logger.Info().Str("payload", payload).Msg("unrecognized status report")
			return
		}
		if r.onStatus != nil {
			r.onStatus(ls, st)
		}

	case protocol.KindCommand:
		cmd, err := protocol.ParseCommand(payload)
		if err != nil {
			r.logger.Info().Str("payload", payload).Msg("unrecognized command")
			return
		}
		r.handleCommand(ctx, ls, cmd)

	default:
		r.logger.Info().Str("payload", payload).Msg("unhandled message from control server")
	}
}

func (r *router) handleCommand(ctx context.Context, ls linkSession, cmd protocol.Command) {
	switch cmd.Name {
	case protocol.CmdSendAllPlayerStats:
		if err := r.startSendAll(ls); err != nil {
			r.logger.Info().Err(err).Msg("bulk stats request not started")
		}

	case protocol.CmdSendPlayerStats:
		id, ok := playerArg(cmd, 0)
		if !ok {
			r.logger.Warn().Strs("args", cmd.Args).Msg("sendPlayerStats without a valid player id")
			return
		}
		if err := r.stats.sendOne(ctx, ls.send, id); err != nil {
			ev := r.logger.Warn()
			if isSkippable(err) {
				ev = r.logger.Debug()
			}
			ev.Err(err).Str("player", id.String()).Msg("stats not sent")
		}

	case protocol.CmdLoginPin:
		id, ok := playerArg(cmd, 0)
		pin, hasPin := cmd.Arg(1)
		if !ok || !hasPin {
			r.logger.Warn().Strs("args", cmd.Args).Msg("loginPin without player id or pin")
			return
		}
		text := strings.ReplaceAll(r.pinMessage, "{pin}", pin)
		if err := r.host.DeliverToPlayer(ctx, id, text); err != nil {
			r.logger.Warn().Err(err).Str("player", id.String()).Msg("failed to deliver login pin")
		}

	default:
		r.logger.Info().Str("command", cmd.Name).Msg("unknown command from control server")
	}
}

// startSendAll starts a bulk push on ls. At most one runs per session.
func (r *router) startSendAll(ls linkSession) error {
	return ls.startBulk(func(ctx context.Context) {
		sent, err := r.stats.sendAll(ctx, ls.send)
		switch {
		case err == nil:
			r.logger.Info().Int("players", sent).Msg("bulk stats push finished")
		case ctx.Err() != nil || errors.Is(err, ErrNotConnected):
			r.logger.Debug().Int("players", sent).Msg("bulk stats push interrupted")
		default:
			r.logger.Warn().Err(err).Int("players", sent).Msg("bulk stats push failed")
		}
	})
}

func playerArg(cmd protocol.Command, i int) (uuid.UUID, bool) {
	raw, ok := cmd.Arg(i)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
