package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mcdatalink/datalink/internal/protocol"
	"github.com/mcdatalink/datalink/internal/telemetry"
)

// statsPusher turns stats snapshots into STATS frames. Bulk pushes are paced
// by a limiter shared across sessions.
type statsPusher struct {
	host    Host
	limiter *rate.Limiter
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

func newStatsPusher(host Host, perSecond int, metrics *telemetry.Metrics, logger zerolog.Logger) *statsPusher {
	limit, burst := rate.Inf, 1
	if perSecond > 0 {
		limit, burst = rate.Limit(perSecond), perSecond
	}
	return &statsPusher{
		host:    host,
		limiter: rate.NewLimiter(limit, burst),
		metrics: metrics,
		logger:  logger,
	}
}

// sendOne fetches and sends one player's stats. It returns ErrNoStats when
// the player has none.
func (p *statsPusher) sendOne(ctx context.Context, send func(string) error, id uuid.UUID) error {
	data, ok, err := p.host.FetchStatsSnapshot(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to fetch stats for %s: %w", id, err)
	}
	if !ok {
		return ErrNoStats
	}
	if err := send(protocol.StatsMessage(id, data)); err != nil {
		return err
	}
	p.metrics.StatsSent()
	return nil
}

// sendAll pushes stats for every known player. Players without stats, fetch
// errors and oversized stats are skipped; any other send error or
// cancellation stops the push.
func (p *statsPusher) sendAll(ctx context.Context, send func(string) error) (int, error) {
	ids, err := p.host.ListKnownPlayerIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list players: %w", err)
	}

	sent := 0
	for _, id := range ids {
		if err := p.limiter.Wait(ctx); err != nil {
			return sent, err
		}

		data, ok, err := p.host.FetchStatsSnapshot(ctx, id)
		if err != nil {
			p.logger.Warn().Err(err).Str("player", id.String()).Msg("skipping player, stats unreadable")
			continue
		}
		if !ok {
			continue
		}
		if err := send(protocol.StatsMessage(id, data)); err != nil {
			// An unencodable frame never reached the wire.
			if errors.Is(err, protocol.ErrFraming) {
				p.logger.Warn().Err(err).Str("player", id.String()).Msg("skipping player, stats too large")
				continue
			}
			return sent, err
		}
		p.metrics.StatsSent()
		sent++
	}
	return sent, nil
}

// isSkippable reports errors from sendOne that are not worth a warning.
func isSkippable(err error) bool {
	return errors.Is(err, ErrNoStats)
}
