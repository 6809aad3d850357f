// Command mapfusiond runs the submap-fusion service.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mapfusion/internal/config"
	"mapfusion/internal/logging"
	"mapfusion/internal/notifier"
	"mapfusion/internal/server"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "mapfusiond",
		Short: "Submap fusion service",
	}

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the fusion service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, watchDirs, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			watchPattern, _ := cmd.Flags().GetString("watch-pattern")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, logger, cfg, watchDirs, watchPattern)
		},
	}
	addServerFlags(serverCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serverCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addServerFlags(cmd *cobra.Command) {
	cmd.Flags().String("checkpoint-path", "", "path to the merged-map checkpoint file (required)")
	cmd.Flags().Duration("checkpoint-interval", 5*time.Minute, "minimum spacing between checkpoints")
	cmd.Flags().Duration("status-interval", 30*time.Second, "period of the status snapshot report")
	cmd.Flags().Int("ingest-parallelism", config.DefaultIngestParallelism, "number of submaps loaded and processed concurrently")
	cmd.Flags().StringSlice("submap-command", nil, "named command applied to each submap as it loads (repeatable, in order)")
	cmd.Flags().StringSlice("global-command", nil, "named command applied to the merged map every merge iteration (repeatable, in order)")
	cmd.Flags().StringSlice("lookup-sensor-whitelist", nil, "sensor types mapLookup is allowed to resolve (default: any)")
	cmd.Flags().Int64("lookup-tolerance-ns", 0, "slack, in nanoseconds, applied to mapLookup's pose-availability window")
	cmd.Flags().Bool("ingest-fail-fast", false, "blacklist a submap's mission if a submap command fails, instead of merging it anyway")
	cmd.Flags().StringArray("watch", nil, "robot_name=directory pair to watch for new submap files (repeatable)")
	cmd.Flags().String("watch-pattern", "*.submap", "glob matched against new file names inside each --watch directory")
}

func loadConfig(cmd *cobra.Command) (config.Config, map[string]string, error) {
	checkpointPath, _ := cmd.Flags().GetString("checkpoint-path")
	checkpointInterval, _ := cmd.Flags().GetDuration("checkpoint-interval")
	statusInterval, _ := cmd.Flags().GetDuration("status-interval")
	ingestParallelism, _ := cmd.Flags().GetInt("ingest-parallelism")
	submapCommands, _ := cmd.Flags().GetStringSlice("submap-command")
	globalCommands, _ := cmd.Flags().GetStringSlice("global-command")
	sensorWhitelist, _ := cmd.Flags().GetStringSlice("lookup-sensor-whitelist")
	toleranceNS, _ := cmd.Flags().GetInt64("lookup-tolerance-ns")
	failFast, _ := cmd.Flags().GetBool("ingest-fail-fast")
	watch, _ := cmd.Flags().GetStringArray("watch")

	cfg := config.Config{
		SubmapCommands:        submapCommands,
		GlobalCommands:        globalCommands,
		IngestParallelism:     ingestParallelism,
		CheckpointInterval:    checkpointInterval,
		CheckpointPath:        checkpointPath,
		StatusInterval:        statusInterval,
		LookupSensorWhitelist: sensorWhitelist,
		LookupToleranceNS:     toleranceNS,
		IngestFailFast:        failFast,
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}

	watchDirs, err := parseWatchDirs(watch)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, watchDirs, nil
}

func parseWatchDirs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	dirs := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		robotName, dir, ok := strings.Cut(pair, "=")
		if !ok || robotName == "" || dir == "" {
			return nil, fmt.Errorf("invalid --watch value %q: expected robot_name=directory", pair)
		}
		dirs[robotName] = dir
	}
	return dirs, nil
}

func run(ctx context.Context, logger *slog.Logger, cfg config.Config, watchDirs map[string]string, watchPattern string) error {
	var deps server.Deps
	deps.Logger = logger
	if len(watchDirs) > 0 {
		deps.Notifier = notifier.NewFSNotifier(watchDirs, watchPattern, logger)
	}

	srv, err := server.New(cfg, deps)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	logger.Info("mapfusiond started",
		"checkpoint_path", cfg.CheckpointPath,
		"ingest_parallelism", strconv.Itoa(cfg.Parallelism()),
		"watched_robots", len(watchDirs),
	)

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
