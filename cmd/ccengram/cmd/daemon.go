package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ccengram/ccengram/internal/config"
	"github.com/ccengram/ccengram/internal/daemon"
	"github.com/ccengram/ccengram/internal/embed"
	"github.com/ccengram/ccengram/internal/logging"
	"github.com/ccengram/ccengram/internal/registry"
	"github.com/ccengram/ccengram/internal/scheduler"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the ccengram daemon in the foreground",
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	// .env is optional; provider API keys often live there.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	dataRoot := config.DataRoot()
	if err := os.MkdirAll(dataRoot, 0o755); err != nil {
		return fmt.Errorf("create data root: %w", err)
	}

	cleanup, err := logging.SetupDefault(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      logging.LogPath(dataRoot),
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: true,
	})
	if err != nil {
		return err
	}
	defer cleanup()
	logger := slog.Default()

	pidFile := daemon.NewPidFile(dataRoot)
	if err := pidFile.Acquire(); err != nil {
		return err
	}
	defer pidFile.Release()

	provider := embed.NewFromConfig(cfg.Embedding)
	reg, err := registry.New(dataRoot, cfg, provider, logger)
	if err != nil {
		return err
	}
	defer reg.CloseAll()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router := daemon.NewRouter(cfg, reg, nil, logger, cancel)

	sched := scheduler.New(reg, cfg.Scheduler, dataRoot, router.SchedulerMetrics(), logger)
	go sched.Run(ctx)
	defer sched.Stop()

	var socketPath string
	if cfg.Server.UnixSocket {
		socketPath = config.SocketPath(dataRoot)
	}
	server := daemon.NewServer(router, socketPath, cfg.Server.Port, logger)

	// SIGINT/SIGTERM drain the server, watchers, and scheduler.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Info("shutting down", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("ccengram daemon starting",
		slog.String("data_root", dataRoot),
		slog.Int("port", cfg.Server.Port),
		slog.String("embedding_model", provider.ModelID()))

	err = server.ListenAndServe(ctx)
	reg.StopAllWatchers()
	if err == context.Canceled {
		return nil
	}
	return err
}
