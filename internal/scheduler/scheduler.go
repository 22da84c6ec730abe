// Package scheduler runs the periodic background jobs of DataLink: full
// stats syncs, link status reports and message queue pruning.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcdatalink/datalink/internal/config"
	"github.com/mcdatalink/datalink/internal/connector"
	"github.com/mcdatalink/datalink/internal/db"
	"github.com/mcdatalink/datalink/internal/events"
	"github.com/mcdatalink/datalink/internal/util"
)

// Link is the part of the supervisor the scheduler drives.
type Link interface {
	RequestSendAllStats(ctx context.Context) error
	Status() connector.LinkStatus
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	timers   config.TimerConfig
	eventBus *events.EventBus
	link     Link
	registry *db.PlayersDatabase
	logger   zerolog.Logger
}

// NewScheduler creates a new task scheduler.
func NewScheduler(timers config.TimerConfig, eventBus *events.EventBus, link Link, registry *db.PlayersDatabase) *Scheduler {
	return &Scheduler{
		timers:   timers,
		eventBus: eventBus,
		link:     link,
		registry: registry,
		logger:   util.ComponentLogger("scheduler"),
	}
}

// Start runs the enabled jobs and blocks until ctx is cancelled. A zero
// interval disables a job.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().
		Int("stats_sync_sec", s.timers.StatsSyncInterval).
		Int("status_report_sec", s.timers.StatusReportInterval).
		Int("prune_sec", s.timers.MessagePruneInterval).
		Msg("scheduler started")

	var wg sync.WaitGroup
	jobs := []struct {
		name     string
		interval int
		run      func(context.Context)
	}{
		{"stats_sync", s.timers.StatsSyncInterval, s.syncStats},
		{"status_report", s.timers.StatusReportInterval, s.reportStatus},
		{"message_prune", s.timers.MessagePruneInterval, s.pruneMessages},
	}
	for _, job := range jobs {
		job := job
		if job.interval <= 0 {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runEvery(ctx, job.name, config.Seconds(job.interval), job.run)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runEvery(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Debug().Str("job", name).Dur("interval", interval).Msg("job scheduled")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// syncStats pushes the stats of every known player.
func (s *Scheduler) syncStats(ctx context.Context) {
	err := s.link.RequestSendAllStats(ctx)
	switch {
	case err == nil:
		s.logger.Debug().Msg("scheduled stats sync started")
	case errors.Is(err, connector.ErrNotConnected):
		s.logger.Debug().Msg("link down, stats sync skipped")
	case errors.Is(err, connector.ErrBulkInProgress):
		s.logger.Debug().Msg("stats sync already running")
	default:
		s.logger.Warn().Err(err).Msg("scheduled stats sync failed")
	}
}

// reportStatus emits a link_status snapshot.
func (s *Scheduler) reportStatus(ctx context.Context) {
	st := s.link.Status()
	payload := events.LinkStatusPayload{
		State:          st.State.String(),
		Remote:         st.Remote,
		ConnectedSince: st.ConnectedSince,
		LastInbound:    st.LastInbound,
		Reconnects:     st.Reconnects,
		LastError:      st.LastError,
	}

	if online, err := s.registry.ListPlayerIDs(ctx, true); err == nil {
		payload.OnlinePlayers = len(online)
	} else {
		s.logger.Warn().Err(err).Msg("failed to count online players")
	}

	s.eventBus.Emit(ctx, events.Event{
		Type:    events.EventLinkStatus,
		Source:  "scheduler",
		Payload: payload,
	})
}

// pruneMessages deletes delivered messages older than the retention.
func (s *Scheduler) pruneMessages(ctx context.Context) {
	retention := time.Duration(s.timers.MessageRetentionHours) * time.Hour
	n, err := s.registry.PruneMessages(ctx, retention)
	if err != nil {
		s.logger.Warn().Err(err).Msg("message pruning failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Dur("retention", retention).Msg("pruned delivered messages")
	}
}
