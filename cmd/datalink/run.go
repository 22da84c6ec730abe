package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/mcdatalink/datalink/internal/api"
	"github.com/mcdatalink/datalink/internal/cli"
	"github.com/mcdatalink/datalink/internal/config"
	"github.com/mcdatalink/datalink/internal/connector"
	"github.com/mcdatalink/datalink/internal/db"
	"github.com/mcdatalink/datalink/internal/events"
	"github.com/mcdatalink/datalink/internal/health"
	"github.com/mcdatalink/datalink/internal/host"
	"github.com/mcdatalink/datalink/internal/scheduler"
	"github.com/mcdatalink/datalink/internal/telemetry"
	"github.com/mcdatalink/datalink/internal/util"
)

func run(parent context.Context, flags *rootFlags) error {
	fmt.Printf(banner, version)
	fmt.Println()

	logCfg := util.DefaultLogConfig()
	if flags.logLevel != "" {
		logCfg.Level = flags.logLevel
	}
	if err := util.InitLogger(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info().
		Str("version", version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting DataLink")

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := cfg.GetApplicationData()
	serverData := cfg.GetServerData()

	eventBus := events.NewEventBus()

	if err := util.EnsureDir(filepath.Dir(app.Database.Path)); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	registry, err := db.NewPlayersDatabase(app.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open player registry: %w", err)
	}
	defer registry.Close()
	// Handlers still running may touch the registry.
	defer eventBus.Stop()

	// Nobody is online until the server log says so.
	if err := registry.MarkAllOffline(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to reset online players")
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(promRegistry)

	players := host.NewPlayers(registry, serverData.WorldDirectory(), eventBus)

	linkOpts := connector.OptionsFromConfig(cfg.GetLinkData())
	link, err := connector.New(linkOpts, players, eventBus, metrics)
	if err != nil {
		log.Error().Err(err).Str("remote", linkOpts.Addr()).Msg("cannot start datalink")
		return err
	}

	bridge := host.NewBridge(link, registry, eventBus)
	bridge.Start()
	defer bridge.Stop()

	eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		cancel()
		return nil
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msgf("starting %s", name)
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msgf("%s stopped", name)
			}
		}()
	}

	// The link is the only task whose failure ends the process.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := link.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	if serverData.WatchLogs {
		watcher := host.NewLogWatcher(serverData.ServerDirectory, eventBus, registry)
		start("server log watcher", watcher.Run)
	}

	healthMgr := health.NewManager(cfg, link, registry)
	start("health check manager", func(ctx context.Context) error {
		healthMgr.Start(ctx)
		return nil
	})

	if app.Security.APIEnabled {
		apiServer := api.NewServer(cfg, version, eventBus, link, registry, promRegistry)
		apiServer.SetHealth(healthMgr)
		start("REST API server", apiServer.Start)
	}

	if app.MQTT.Enabled {
		publisher, err := telemetry.NewMQTTPublisher(app.MQTT, eventBus, version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			start("MQTT telemetry", publisher.Start)
		}
	}

	sched := scheduler.NewScheduler(app.Timers, eventBus, link, registry)
	start("task scheduler", func(ctx context.Context) error {
		sched.Start(ctx)
		return nil
	})

	if !flags.noConsole && interactive() {
		console := cli.NewCLI(link, registry, eventBus, os.Stdin, os.Stdout)
		start("interactive console", func(ctx context.Context) error {
			console.Start(ctx)
			return nil
		})
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case runErr = <-errCh:
		// The link already logged the failure with its remote.
		log.Info().Msg("link stopped, shutting down")
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	log.Info().Msg("DataLink stopped")
	return runErr
}

// loadConfig loads, reconfigures logging from and validates the
// configuration, running the setup wizard when the key is missing and a
// terminal is attached.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logging := cfg.GetApplicationData().Logging
	logCfg := util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxBackups: logging.MaxBackups,
		Console:    true,
	}
	if flags.logLevel != "" {
		logCfg.Level = flags.logLevel
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if validation.IsValid() {
		return cfg, nil
	}

	for _, e := range validation.Errors {
		log.Error().Str("field", e.Field).Msg(e.Message)
	}
	if !cfg.GetLinkData().HasLicenseKey() && interactive() {
		log.Info().Msg("license key not configured, launching setup wizard")
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			return nil, fmt.Errorf("setup wizard failed: %w", err)
		}
		if result := config.Validate(cfg); result.IsValid() {
			return cfg, nil
		}
	}
	return nil, fmt.Errorf("configuration validation failed, fix the errors above or run 'datalink setup'")
}
