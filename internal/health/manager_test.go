package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdatalink/datalink/internal/config"
	"github.com/mcdatalink/datalink/internal/connector"
	"github.com/mcdatalink/datalink/internal/db"
	"github.com/mcdatalink/datalink/internal/util"
)

type stubLink struct {
	status connector.LinkStatus
}

func (l *stubLink) Status() connector.LinkStatus { return l.status }

func newManager(t *testing.T, link *stubLink, disk float64) (*Manager, string) {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	serverData := cfg.GetServerData()
	serverData.ServerDirectory = dir
	serverData.WorldName = "world"
	serverData.WatchLogs = true
	cfg.SetServerData(serverData)

	registry, err := db.NewPlayersDatabase(filepath.Join(dir, "players.db"))
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	m := NewManager(cfg, link, registry)
	m.usage = func(string) util.ResourceUsage {
		return util.ResourceUsage{DiskUsedPercent: disk, DiskFreeGB: 10}
	}
	return m, dir
}

func levels(r Report) map[string]Level {
	out := make(map[string]Level, len(r.Checks))
	for _, c := range r.Checks {
		out[c.Name] = c.Level
	}
	return out
}

func TestRunChecksHealthyServer(t *testing.T) {
	link := &stubLink{status: connector.LinkStatus{State: connector.StateActive, Remote: "127.0.0.1:9991"}}
	m, dir := newManager(t, link, 40)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "world", "stats"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "logs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logs", "latest.log"), nil, 0o644))

	report := m.RunChecks(context.Background())
	assert.True(t, report.Healthy)
	assert.Equal(t, map[string]Level{
		"disk":            LevelOK,
		"link":            LevelOK,
		"registry":        LevelOK,
		"server_log":      LevelOK,
		"world_directory": LevelOK,
	}, levels(report))
}

func TestRunChecksMissingWorld(t *testing.T) {
	link := &stubLink{status: connector.LinkStatus{State: connector.StateActive}}
	m, _ := newManager(t, link, 40)

	report := m.RunChecks(context.Background())
	assert.False(t, report.Healthy)
	got := levels(report)
	assert.Equal(t, LevelCritical, got["world_directory"])
	assert.Equal(t, LevelWarning, got["server_log"])
}

func TestDiskThresholds(t *testing.T) {
	tests := []struct {
		used float64
		want Level
	}{
		{50, LevelOK},
		{90, LevelWarning},
		{97.5, LevelCritical},
	}
	for _, tt := range tests {
		m, _ := newManager(t, &stubLink{}, tt.used)
		level, msg := m.checkDisk(context.Background())
		assert.Equal(t, tt.want, level, "used %.1f", tt.used)
		assert.Contains(t, msg, "GB free")
	}
}

func TestLinkDownEscalates(t *testing.T) {
	link := &stubLink{status: connector.LinkStatus{State: connector.StateConnecting, LastError: "connection refused"}}
	m, _ := newManager(t, link, 40)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	level, msg := m.checkLink(context.Background())
	assert.Equal(t, LevelWarning, level)
	assert.Equal(t, "link connecting: connection refused", msg)

	now = now.Add(linkDownCritical)
	level, _ = m.checkLink(context.Background())
	assert.Equal(t, LevelCritical, level)

	link.status = connector.LinkStatus{State: connector.StateActive, Remote: "10.0.0.1:9991"}
	level, msg = m.checkLink(context.Background())
	assert.Equal(t, LevelOK, level)
	assert.Equal(t, "connected to 10.0.0.1:9991", msg)

	// Down again restarts the clock.
	link.status = connector.LinkStatus{State: connector.StateConnecting}
	level, _ = m.checkLink(context.Background())
	assert.Equal(t, LevelWarning, level)
}

func TestLinkStoppedIsCritical(t *testing.T) {
	m, _ := newManager(t, &stubLink{status: connector.LinkStatus{State: connector.StateStopped}}, 40)
	level, msg := m.checkLink(context.Background())
	assert.Equal(t, LevelCritical, level)
	assert.Equal(t, "link stopped", msg)
}

func TestRegistryClosed(t *testing.T) {
	m, _ := newManager(t, &stubLink{}, 40)
	require.NoError(t, m.registry.Close())

	level, _ := m.checkRegistry(context.Background())
	assert.Equal(t, LevelCritical, level)
}

func TestServerLogSkippedWhenNotWatching(t *testing.T) {
	m, _ := newManager(t, &stubLink{}, 40)
	serverData := m.cfg.GetServerData()
	serverData.WatchLogs = false
	m.cfg.SetServerData(serverData)

	report := m.RunChecks(context.Background())
	assert.NotContains(t, levels(report), "server_log")
}

func TestStartStopsOnCancel(t *testing.T) {
	m, _ := newManager(t, &stubLink{status: connector.LinkStatus{State: connector.StateActive}}, 40)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(m.Snapshot().Checks) > 0 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
