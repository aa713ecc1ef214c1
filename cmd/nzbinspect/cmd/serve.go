package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/javi11/nzbinspect/internal/api"
	"github.com/javi11/nzbinspect/internal/config"
	"github.com/javi11/nzbinspect/internal/inspector"
	"github.com/javi11/nzbinspect/internal/pool"
	"github.com/javi11/nzbinspect/internal/slogutil"
)

const shutdownTimeout = 10 * time.Second

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the diagnostic HTTP API",
		Long:  `Start the inspection HTTP API backed by a pooled NNTP connection, using configuration from a YAML file.`,
		RunE:  runServe,
	}

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration first (using default logger for config loading errors)
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		slog.Default().Error("failed to load config", "err", err)
		return err
	}

	level := new(slog.LevelVar)
	logger := slogutil.SetupLogRotation(cfg.Log, level)
	slog.SetDefault(logger)

	configManager := config.NewManager(cfg, config.GetConfigFilePath())
	config.NewLoggingUpdater(level, cfg.Log.Level).Register(configManager)

	logger.Info("Starting nzbinspect server with log rotation configured",
		"log_file", cfg.Log.File,
		"log_level", cfg.Log.Level,
		"max_size_mb", cfg.Log.MaxSize,
		"max_age_days", cfg.Log.MaxAge,
		"max_backups", cfg.Log.MaxBackups,
		"compress", cfg.Log.Compress)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Keep-alives only run while inspections happened recently
	activity := inspector.NewActivity(cfg.GetActivityWindow())

	poolManager := pool.NewManager(ctx, activity.Active)
	pool.RegisterConfigHandlers(ctx, configManager, poolManager)

	if cfg.Provider.Host != "" {
		if err := poolManager.SetProvider(cfg); err != nil {
			logger.Error("failed to create initial NNTP pool", "err", err)
			return err
		}
		logger.Info("NNTP connection pool initialized",
			"host", cfg.Provider.Host,
			"max_connections", cfg.Provider.MaxConnections)
	} else {
		logger.Info("Starting server without NNTP provider - set provider.host and reload to enable inspections")
	}
	defer func() {
		_ = poolManager.Close()
	}()

	insp, err := inspector.New(inspector.ManagerSource(poolManager), inspector.OptionsFromConfig(cfg, activity))
	if err != nil {
		logger.Error("failed to create inspector", "err", err)
		return err
	}

	apiServer := api.NewServer(&api.Config{
		Prefix:    cfg.GetAPIPrefix(),
		BodyLimit: api.DefaultConfig().BodyLimit,
	}, insp, poolManager, configManager)
	app := apiServer.NewApp()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "listen", cfg.API.Listen, "prefix", cfg.GetAPIPrefix())
		errCh <- app.Listen(cfg.API.Listen)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("API server error", "err", err)
			return err
		}
	}

	cancel()
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("Failed to shut down API server", "err", err)
	}

	logger.Info("nzbinspect server shutting down gracefully")
	return nil
}
