package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stridehq/stride/internal/config"
	"github.com/stridehq/stride/internal/db"
	"github.com/stridehq/stride/internal/engine"
	"github.com/stridehq/stride/internal/notify"
	"github.com/stridehq/stride/internal/queue"
	"github.com/stridehq/stride/internal/scheduler"
	"github.com/stridehq/stride/internal/worker"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stride",
		Short: "Habit and challenge progress engine",
		RunE:  run,
	}

	f := rootCmd.Flags()
	f.String("state-dir", "/state", "directory for persistent state")
	f.Int("tick-interval", 60, "seconds between scheduler passes")
	f.Int("poll-interval", 1, "seconds between queue polls")
	f.String("log-level", "info", "log level (debug, info, warn, error)")

	// Bind flags to viper. Viper keys use underscores (tick_interval) so
	// they match the env var suffix after stripping the STRIDE_ prefix.
	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("state_dir", "state-dir")
	bindFlag("tick_interval", "tick-interval")
	bindFlag("poll_interval", "poll-interval")
	bindFlag("log_level", "log-level")

	// STRIDE_TICK_INTERVAL -> "tick_interval", etc.
	viper.SetEnvPrefix("STRIDE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("stride starting",
		zap.String("version", config.Version),
		zap.String("state_dir", cfg.StateDir),
		zap.Int("tick_interval", cfg.TickInterval),
		zap.Int("poll_interval", cfg.PollInterval))

	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	database, err := db.Open(filepath.Join(cfg.StateDir, "stride.db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close() //nolint:errcheck

	q := queue.New(database, logger, time.Duration(cfg.PollInterval)*time.Second)
	eng := engine.New(database, q, logger)

	hub := notify.NewHub()
	notifier := notify.NewHubNotifier(hub, logger)

	worker.New(eng, notifier, logger).Register(q)

	sched := scheduler.New(database, eng, notifier, engine.SystemClock(), logger,
		time.Duration(cfg.TickInterval)*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- q.Run(ctx) }()
	go func() { errCh <- sched.Run(ctx) }()

	err = <-errCh
	cancel()
	<-errCh

	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
