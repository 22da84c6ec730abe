// Package health runs periodic checks over the pieces DataLink depends on:
// the world directory, the server log, free disk, the player registry and
// the link itself.
package health

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcdatalink/datalink/internal/config"
	"github.com/mcdatalink/datalink/internal/connector"
	"github.com/mcdatalink/datalink/internal/db"
	"github.com/mcdatalink/datalink/internal/util"
)

// Level grades a check result.
type Level string

const (
	LevelOK       Level = "ok"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Disk thresholds in percent used.
const (
	diskWarnPercent     = 90
	diskCriticalPercent = 95
)

const linkDownCritical = 5 * time.Minute

// Link is the part of the supervisor the checker observes.
type Link interface {
	Status() connector.LinkStatus
}

// Result is the outcome of one check.
type Result struct {
	Name      string    `json:"name"`
	Level     Level     `json:"level"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Report is the latest result of every check.
type Report struct {
	Healthy bool     `json:"healthy"`
	Checks  []Result `json:"checks"`
}

// Manager runs the checks on a fixed interval and keeps the latest results.
type Manager struct {
	cfg      *config.Config
	link     Link
	registry *db.PlayersDatabase
	logger   zerolog.Logger

	usage func(path string) util.ResourceUsage
	now   func() time.Time

	mu             sync.RWMutex
	results        map[string]Result
	notActiveSince time.Time
}

// NewManager creates a health check manager.
func NewManager(cfg *config.Config, link Link, registry *db.PlayersDatabase) *Manager {
	return &Manager{
		cfg:      cfg,
		link:     link,
		registry: registry,
		logger:   util.ComponentLogger("health"),
		usage:    util.GetResourceUsage,
		now:      time.Now,
		results:  make(map[string]Result),
	}
}

// Start runs every check immediately and then on each tick until ctx is
// cancelled. A non-positive interval disables the periodic run.
func (m *Manager) Start(ctx context.Context) {
	interval := m.cfg.GetApplicationData().Timers.HealthCheckInterval
	m.RunChecks(ctx)
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()

	m.logger.Info().Int("interval_sec", interval).Msg("health check manager started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health check manager stopped")
			return
		case <-ticker.C:
			m.RunChecks(ctx)
		}
	}
}

// RunChecks runs every check once and returns the fresh report.
func (m *Manager) RunChecks(ctx context.Context) Report {
	checks := []struct {
		name string
		fn   func(context.Context) (Level, string)
	}{
		{"world_directory", m.checkWorldDirectory},
		{"server_log", m.checkServerLog},
		{"disk", m.checkDisk},
		{"registry", m.checkRegistry},
		{"link", m.checkLink},
	}

	for _, check := range checks {
		level, msg := check.fn(ctx)
		if level == "" {
			continue
		}
		result := Result{Name: check.name, Level: level, Message: msg, CheckedAt: m.now()}

		m.mu.Lock()
		prev, seen := m.results[check.name]
		m.results[check.name] = result
		m.mu.Unlock()

		if level != LevelOK && (!seen || prev.Level != level) {
			m.logger.Warn().Str("check", check.name).Str("level", string(level)).Msg(msg)
		} else if level == LevelOK && seen && prev.Level != LevelOK {
			m.logger.Info().Str("check", check.name).Msg("check recovered")
		}
	}

	return m.Snapshot()
}

// Snapshot returns the latest results sorted by name.
func (m *Manager) Snapshot() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := Report{Healthy: true, Checks: make([]Result, 0, len(m.results))}
	for _, r := range m.results {
		if r.Level == LevelCritical {
			report.Healthy = false
		}
		report.Checks = append(report.Checks, r)
	}
	sort.Slice(report.Checks, func(i, j int) bool {
		return report.Checks[i].Name < report.Checks[j].Name
	})
	return report
}

func (m *Manager) checkWorldDirectory(context.Context) (Level, string) {
	world := m.cfg.GetServerData().WorldDirectory()
	if !util.FileExists(world) {
		return LevelCritical, fmt.Sprintf("world directory %s not found", world)
	}
	if !util.FileExists(filepath.Join(world, "stats")) {
		return LevelWarning, "world has no stats directory yet"
	}
	return LevelOK, ""
}

// checkServerLog is skipped unless the log watcher is enabled.
func (m *Manager) checkServerLog(context.Context) (Level, string) {
	serverData := m.cfg.GetServerData()
	if !serverData.WatchLogs {
		return "", ""
	}
	path := filepath.Join(serverData.ServerDirectory, "logs", "latest.log")
	if !util.FileExists(path) {
		return LevelWarning, fmt.Sprintf("server log %s not found", path)
	}
	return LevelOK, ""
}

func (m *Manager) checkDisk(context.Context) (Level, string) {
	usage := m.usage(m.cfg.GetServerData().ServerDirectory)
	msg := fmt.Sprintf("disk usage at %.1f%% (%d GB free)", usage.DiskUsedPercent, usage.DiskFreeGB)
	switch {
	case usage.DiskUsedPercent >= diskCriticalPercent:
		return LevelCritical, msg
	case usage.DiskUsedPercent >= diskWarnPercent:
		return LevelWarning, msg
	default:
		return LevelOK, msg
	}
}

func (m *Manager) checkRegistry(ctx context.Context) (Level, string) {
	if m.registry == nil {
		return "", ""
	}
	if _, err := m.registry.ListPlayerIDs(ctx, true); err != nil {
		return LevelCritical, fmt.Sprintf("player registry unavailable: %v", err)
	}
	return LevelOK, ""
}

// checkLink warns while the link is down and goes critical once it has been
// down for linkDownCritical, or has stopped for good.
func (m *Manager) checkLink(context.Context) (Level, string) {
	status := m.link.Status()
	now := m.now()

	m.mu.Lock()
	if status.State == connector.StateActive {
		m.notActiveSince = time.Time{}
	} else if m.notActiveSince.IsZero() {
		m.notActiveSince = now
	}
	since := m.notActiveSince
	m.mu.Unlock()

	switch status.State {
	case connector.StateActive:
		return LevelOK, fmt.Sprintf("connected to %s", status.Remote)
	case connector.StateStopped:
		return LevelCritical, describeLink("link stopped", status)
	}

	down := now.Sub(since)
	if down >= linkDownCritical {
		return LevelCritical, describeLink(fmt.Sprintf("link %s for %s", status.State, down.Round(time.Second)), status)
	}
	return LevelWarning, describeLink(fmt.Sprintf("link %s", status.State), status)
}

func describeLink(msg string, status connector.LinkStatus) string {
	if status.LastError != "" {
		return msg + ": " + status.LastError
	}
	return msg
}
