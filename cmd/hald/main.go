// hald is the hardware abstraction layer daemon: a privileged process
// that maintains a live, queryable database of every device attached to
// the machine and publishes hotplug, media-change and property events on
// the system bus.
//
// Everything that matters runs on one cooperative event loop; OS backends
// feed devices in, the FDI rule cache decorates them, and the bus adapter
// tells the desktop about it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/nerrad567/hal-core/internal/daemon"
	"github.com/nerrad567/hal-core/internal/device"
	"github.com/nerrad567/hal-core/internal/fdi/compiler"
	"github.com/nerrad567/hal-core/internal/fdi/monitor"
	"github.com/nerrad567/hal-core/internal/infrastructure/config"
	"github.com/nerrad567/hal-core/internal/infrastructure/database"
	"github.com/nerrad567/hal-core/internal/infrastructure/dbus"
	"github.com/nerrad567/hal-core/internal/infrastructure/logging"
	"github.com/nerrad567/hal-core/internal/journal"
	"github.com/nerrad567/hal-core/internal/mounts"
	"github.com/nerrad567/hal-core/internal/process"
)

// Version information - set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "hald",
		Usage:   "hardware abstraction layer daemon",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the daemon configuration file",
			},
		},
		Action: func(c *cli.Context) error {
			// Cancel on Ctrl+C / SIGTERM for graceful shutdown.
			ctx, cancel := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, c.String("config"))
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual daemon logic, separated from main for testability.
func run(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("hald starting", "version", version, "commit", commit)

	// Event loop and device store. The loop doubles as the store's timer
	// scheduler so async-find timeouts fire on the loop. It starts
	// draining immediately: wiring below already posts tasks.
	loop := daemon.NewLoop()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()

	store := device.NewStore(loop)
	store.SetLogger(logger.With("component", "device-store"))

	// Rule cache coherency: stale or missing caches are rebuilt by the
	// compiler tool in a subprocess so a compiler crash cannot take the
	// daemon down.
	sources := compiler.Sources{
		Preprobe:    []string{cfg.FDI.PreprobeDir},
		Information: []string{cfg.FDI.InformationDir},
		Policy:      []string{cfg.FDI.PolicyDir},
	}
	runner := process.NewRunner(logger.With("component", "process"))
	regen := monitor.NewSubprocessRegenerator(runner, cfg.FDI.CompilerBinary,
		logger.With("component", "coherency"))
	coherency := monitor.New(sources, cfg.FDI.CachePath, regen)
	coherency.SetLogger(logger.With("component", "coherency"))
	defer coherency.Close()

	d := daemon.New(loop, store, coherency, logger.With("component", "daemon"))
	d.SetEvaluatorLogger(logger.With("component", "evaluator"))

	// Device event journal (optional).
	if cfg.Journal.Enabled {
		db, err := database.Open(database.Config{
			Path:        cfg.Journal.Path,
			WALMode:     cfg.Journal.WALMode,
			BusyTimeout: cfg.Journal.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening journal database: %w", err)
		}
		defer db.Close()

		j, err := journal.Open(db)
		if err != nil {
			return err
		}
		j.SetLogger(logger.With("component", "journal"))
		d.AddNotifier(j)
		logger.Info("device event journal enabled", "path", cfg.Journal.Path)
	}

	// IPC surface.
	bus, err := dbus.Connect(cfg.Bus, loop, store, logger.With("component", "dbus"))
	if err != nil {
		return err
	}
	defer bus.Close()
	d.AddNotifier(bus)

	// Build or validate the cache before any device shows up, and watch
	// the source tree so later edits invalidate it.
	if err := loop.Call(func() error {
		_, err := coherency.EnsureFresh(ctx)
		return err
	}); err != nil {
		// The daemon can limp along without rules; devices just stay
		// undecorated until the tree is fixed.
		logger.Error("initial rule cache build failed", "error", err)
	}
	if cfg.FDI.Watch {
		if err := coherency.WatchSources(); err != nil {
			logger.Warn("cannot watch fdi sources", "error", err)
		}
	}

	// Mount-state tracking.
	if cfg.Mounts.Watch {
		syncer := mounts.NewSyncer(d, cfg.Mounts.MtabPath, cfg.Mounts.LockPath)
		syncer.SetLogger(logger.With("component", "mounts"))
		if err := syncer.Watch(); err != nil {
			logger.Warn("cannot watch mount table", "error", err)
		} else {
			defer syncer.Close()
			loop.Post(func() {
				if err := syncer.Resync(); err != nil {
					logger.Warn("initial mount resync failed", "error", err)
				}
			})
		}
	}

	logger.Info("hald ready",
		"bus", cfg.Bus.Name,
		"cache", cfg.FDI.CachePath,
	)

	// Everything from here on happens as loop tasks; the loop exits when
	// the shutdown signal cancels ctx.
	<-loopDone

	logger.Info("hald stopped")
	return nil
}

// loadConfig reads the config file, or falls back to defaults (plus env
// overrides) when no file was given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	config.ApplyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Join(errors.New("default configuration invalid"), err)
	}
	return cfg, nil
}
