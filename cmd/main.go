package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"immichhub/internal/api"
	"immichhub/internal/config"
	"immichhub/internal/entity"
	"immichhub/internal/integration"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options are the command line flags
type Options struct {
	ConfigDir string `short:"c" long:"config-dir" env:"IMMICH_CONFIG_DIR" default:"." description:"Directory holding immich_config.yaml."`
	LogLevel  string `short:"l" long:"log-level" env:"LOG_LEVEL" default:"info" description:"Log level (debug, info, warn, error)."`
	Port      int    `short:"p" long:"port" env:"LISTEN_PORT" description:"HTTP port. Overrides listen_port from the config file."`
}

func main() {
	// Load environment variables before flags so env defaults see them
	envErr := godotenv.Load()

	opts := &Options{}
	if _, err := flags.Parse(opts); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	logger, err := newLogger(opts.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.NewLoader(opts.ConfigDir, logger).Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if opts.Port > 0 {
		cfg.ListenPort = opts.Port
	}

	entry, err := integration.EntryFromConfig(cfg)
	if err != nil {
		logger.Fatal("Invalid host", zap.Error(err))
	}

	hubFactory := integration.DefaultHubFactory(logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout*2)
	flow, err := integration.ValidateInput(ctx, hubFactory, entry.Host, entry.APIKey)
	cancel()
	if err != nil {
		logger.Fatal("Failed to validate Immich credentials",
			zap.String("host", entry.Host),
			zap.String("reason", integration.FlowErrorCode(err)),
			zap.Error(err))
	}
	entry.Title = flow.Title

	logger.Info("Starting Immich job integration",
		zap.String("entry", entry.Title),
		zap.Duration("scan_interval", entry.Options.ScanInterval))

	scheduler := integration.NewCronScheduler()
	defer scheduler.Stop()

	ctx, cancel = context.WithTimeout(context.Background(), cfg.Timeout*2)
	rt, err := integration.Setup(ctx, entry, integration.Deps{
		HubFactory: hubFactory,
		Registry:   entity.NewDefaultRegistry(logger),
		Scheduler:  scheduler,
		Logger:     logger,
	})
	cancel()
	if err != nil {
		logger.Fatal("Failed to set up integration", zap.Error(err))
	}

	server := api.NewServer(rt, logger, cfg.ListenPort)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Application running. Press Ctrl+C to exit.")
	sig := <-sigChan
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	if err := server.Stop(); err != nil {
		logger.Error("Failed to stop API server", zap.Error(err))
	}
	if err := rt.Unload(); err != nil {
		logger.Error("Errors while unloading", zap.Error(err))
	}

	// Give in-flight refreshes a moment to observe cancellation
	time.Sleep(100 * time.Millisecond)
	logger.Info("Shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
