package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/marmos91/zest/internal/logger"
	"github.com/marmos91/zest/internal/pidfile"
	"github.com/marmos91/zest/internal/watch"
	"github.com/marmos91/zest/pkg/cache"
	"github.com/marmos91/zest/pkg/config"
	"github.com/marmos91/zest/pkg/pipeline"
	"github.com/marmos91/zest/pkg/reload"
	"github.com/marmos91/zest/pkg/server"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := pflag.StringP("config", "c", "", "Path to the configuration file (default $XDG_CONFIG_HOME/zest/config.yaml)")
	root := pflag.StringP("root", "r", "", "Document root, overrides server.root")
	port := pflag.IntP("port", "p", 0, "Listening port, overrides bind.listen")
	logLevel := pflag.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR), overrides logging.level")
	initConfig := pflag.Bool("init-config", false, "Write a sample configuration file and exit")
	force := pflag.Bool("force", false, "Overwrite an existing file with --init-config")
	showVersion := pflag.Bool("version", false, "Print the version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("zest %s\n", pipeline.Version)
		return 0
	}

	if *initConfig {
		return writeSampleConfig(*configPath, *force)
	}

	loader := config.Loader{
		Path:      *configPath,
		Overrides: config.Overrides{Root: *root, Port: *port},
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	if err := configureLogging(cfg, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		return 1
	}

	if err := os.Chdir(cfg.Server.Root); err != nil {
		logger.Error("Failed to change directory to %s: %v", cfg.Server.Root, err)
		return 1
	}

	pid, err := pidfile.Create(cfg.Server.PidDir)
	if err != nil {
		logger.Error("%v", err)
		return 1
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Warn("%v", err)
		}
	}()

	logger.Info("%s starting (pid file %s)", pipeline.Banner(cfg.Server.Info), pid.Path())
	logger.Info("Serving %s", cfg.Server.Root)

	m := config.InitializeMetrics(cfg)

	contentCache, err := cache.New(
		cfg.Server.Cache.IndexCapacity,
		cfg.Server.Cache.FileCapacity,
		cfg.Server.Cache.FileMaxSize,
		m.CacheMetrics,
	)
	if err != nil {
		logger.Error("Failed to create cache: %v", err)
		return 1
	}

	holder := config.NewHolder(cfg)

	var coordinator *reload.Coordinator
	srv := server.New(server.Options{
		Holder:  holder,
		Handler: pipeline.New(holder, contentCache, nil),
		Metrics: m.ServerMetrics,
		OnRestore: func(failed, restored *config.Config) {
			coordinator.Apply(failed, restored)
		},
	})

	coordinator = reload.New(reload.Options{
		Loader:    loader,
		Holder:    holder,
		Cache:     contentCache,
		Restarter: srv,
		Metrics:   m.ServerMetrics,
		Hooks: []reload.Hook{
			func(_, next *config.Config) error {
				return configureLogging(next, *logLevel)
			},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go coordinator.Run(ctx)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, reload.Signals...)
	defer signal.Stop(sigs)
	go reload.ForwardSignals(ctx, coordinator, sigs)

	if cfg.Server.WatchConfig {
		startWatcher(ctx, *configPath, coordinator)
	}

	if m.Server != nil {
		go func() {
			if err := m.Server.Start(ctx); err != nil {
				logger.Error("%v", err)
			}
		}()
	}

	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(serveCtx) }()

	select {
	case <-coordinator.Terminated():
		stopServing()
		if err := <-errc; err != nil {
			logger.Error("Server error: %v", err)
			return 1
		}
		logger.Info("Shutdown complete")
		return 0

	case err := <-errc:
		if err != nil {
			logger.Error("Server error: %v", err)
			return 1
		}
		return 0
	}
}

// configureLogging applies the logging section of cfg. A non-empty
// levelOverride wins over logging.level.
func configureLogging(cfg *config.Config, levelOverride string) error {
	level := cfg.Logging.Level
	if levelOverride != "" {
		level = levelOverride
	}

	return logger.Configure(logger.Options{
		Level:     level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		AccessLog: cfg.Logging.AccessLog,
		ErrorLog:  cfg.Logging.ErrorLog,
	})
}

func startWatcher(ctx context.Context, configPath string, coordinator *reload.Coordinator) {
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}
	if _, err := os.Stat(configPath); err != nil {
		logger.Warn("Not watching %s: %v", configPath, err)
		return
	}

	w, err := watch.New(configPath, func() {
		if err := coordinator.Trigger(reload.EventReload); errors.Is(err, reload.ErrReloadInProgress) {
			logger.Debug("Reload already in progress")
		}
	})
	if err != nil {
		logger.Warn("Configuration watching disabled: %v", err)
		return
	}

	logger.Info("Watching %s for changes", configPath)
	go w.Run(ctx)
}

func writeSampleConfig(path string, force bool) int {
	if path == "" {
		written, err := config.InitConfig(force)
		if err != nil {
			return initConfigFailed(err)
		}
		path = written
	} else if err := config.InitConfigToPath(path, force); err != nil {
		return initConfigFailed(err)
	}

	fmt.Printf("Configuration file written to %s\n", path)
	return 0
}

func initConfigFailed(err error) int {
	if errors.Is(err, config.ErrConfigExists) {
		fmt.Fprintf(os.Stderr, "%v (use --force to overwrite)\n", err)
	} else {
		fmt.Fprintf(os.Stderr, "Failed to write configuration: %v\n", err)
	}
	return 1
}
