package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"weather-alert-bridge/logger"
	"weather-alert-bridge/service/apperr"
	"weather-alert-bridge/service/clock"
	"weather-alert-bridge/service/config"
	"weather-alert-bridge/service/runtime"
	"weather-alert-bridge/service/state"
)

// Exit codes (spec §6): 0 success, 1 operational failure, 2 configuration
// error (the process never reached a running state).
const (
	exitOK         = 0
	exitFailure    = 1
	exitConfigFail = 2
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "weather-alert-bridge",
		Short: "Bridges government weather-warning alerts into a chat webhook",
		RunE:  runService,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML config overlay")

	root.AddCommand(newRunCmd(), newCleanupStateCmd(), newMigrateStateCmd(), newVerifyStateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(exitFailure)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.LogLevel)
	return cfg, nil
}

func exitFor(err error) int {
	if err == nil {
		return exitOK
	}
	if apperr.Fatal(err) {
		return exitConfigFail
	}
	return exitFailure
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the service loop (default command)",
		RunE:  runService,
	}
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		logger.EventAt(slog.LevelError, "startup.invalid_config", "error", err.Error())
		os.Exit(exitConfigFail)
	}

	clk := clock.NewReal()
	app, err := runtime.NewApp(cfg, clk)
	if err != nil {
		logger.EventAt(slog.LevelError, "startup.invalid_config", "error", err.Error())
		os.Exit(exitConfigFail)
	}

	loop := runtime.NewServiceLoop(app, cfg)
	runErr := loop.Run(context.Background())
	os.Exit(exitFor(runErr))
	return nil
}

func newCleanupStateCmd() *cobra.Command {
	var days int
	var includeUnsent bool
	var dryRun bool
	var backend string

	cmd := &cobra.Command{
		Use:   "cleanup-state",
		Short: "One-shot removal of state-store rows older than --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				os.Exit(exitConfigFail)
			}
			if backend != "" {
				cfg.StateBackend = backend
			}

			store, err := openStoreByBackend(cfg)
			if err != nil {
				logger.EventAt(slog.LevelError, "state.cleanup.failed", "error", err.Error())
				os.Exit(exitFailure)
			}
			defer store.Close()

			cutoff := time.Now().AddDate(0, 0, -days)
			if dryRun {
				pending, _ := store.ListAll()
				stale := 0
				for _, r := range pending {
					if r.UpdatedAt.Before(cutoff) && (includeUnsent || r.Sent) {
						stale++
					}
				}
				logger.Event("state.cleanup.complete", "removed", 0, "would_remove", stale, "dry_run", true)
				os.Exit(exitOK)
			}

			removed, err := store.CleanupStale(cutoff, includeUnsent)
			if err != nil {
				logger.EventAt(slog.LevelError, "state.cleanup.failed", "error", err.Error())
				os.Exit(exitFailure)
			}
			logger.Event("state.cleanup.complete", "removed", removed)
			os.Exit(exitOK)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "retention window in days")
	cmd.Flags().BoolVar(&includeUnsent, "include-unsent", false, "also remove rows that were never sent")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without deleting")
	cmd.Flags().StringVar(&backend, "state-repository-type", "", "override STATE_REPOSITORY_TYPE (file|sqlite)")
	return cmd
}

func newMigrateStateCmd() *cobra.Command {
	var jsonStateFile, sqliteStateFile string

	cmd := &cobra.Command{
		Use:   "migrate-state",
		Short: "Copy every row from the JSON state file into the SQLite backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				os.Exit(exitConfigFail)
			}
			if jsonStateFile == "" {
				jsonStateFile = cfg.StateFilePath
			}
			if sqliteStateFile == "" {
				sqliteStateFile = cfg.StateDBPath
			}

			from, err := state.OpenFileStore(jsonStateFile)
			if err != nil {
				logger.EventAt(slog.LevelError, "state.migration.failed", "error", err.Error())
				os.Exit(exitFailure)
			}
			defer from.Close()

			to, err := state.OpenSQLiteStore(sqliteStateFile)
			if err != nil {
				logger.EventAt(slog.LevelError, "state.migration.failed", "error", err.Error())
				os.Exit(exitFailure)
			}
			defer to.Close()

			if _, err := state.Migrate(from, to); err != nil {
				os.Exit(exitFailure)
			}
			os.Exit(exitOK)
			return nil
		},
	}
	cmd.Flags().StringVar(&jsonStateFile, "json-state-file", "", "source JSON state file (default: SENT_MESSAGES_FILE)")
	cmd.Flags().StringVar(&sqliteStateFile, "sqlite-state-file", "", "destination SQLite file (default: STATE_SQLITE_FILE)")
	return cmd
}

func newVerifyStateCmd() *cobra.Command {
	var strict bool
	var jsonStateFile, sqliteStateFile string

	cmd := &cobra.Command{
		Use:   "verify-state",
		Short: "Compare the JSON and SQLite state backends for drift",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				os.Exit(exitConfigFail)
			}
			if jsonStateFile == "" {
				jsonStateFile = cfg.StateFilePath
			}
			if sqliteStateFile == "" {
				sqliteStateFile = cfg.StateDBPath
			}

			file, err := state.OpenFileStore(jsonStateFile)
			if err != nil {
				os.Exit(exitFailure)
			}
			defer file.Close()

			sqlite, err := state.OpenSQLiteStore(sqliteStateFile)
			if err != nil {
				os.Exit(exitFailure)
			}
			defer sqlite.Close()

			report, err := state.Verify(file, sqlite, strict)
			if err != nil {
				os.Exit(exitFailure)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "file_rows=%d sqlite_rows=%d mismatches=%d drift=%d\n",
				report.FileRowCount, report.SQLiteRowCount, len(report.Mismatches), len(report.Drift))
			if !report.OK(strict) {
				os.Exit(exitFailure)
			}
			os.Exit(exitOK)
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "treat timestamp drift as failure too")
	cmd.Flags().StringVar(&jsonStateFile, "json-state-file", "", "JSON state file (default: SENT_MESSAGES_FILE)")
	cmd.Flags().StringVar(&sqliteStateFile, "sqlite-state-file", "", "SQLite state file (default: STATE_SQLITE_FILE)")
	return cmd
}

func openStoreByBackend(cfg *config.Config) (state.Store, error) {
	if cfg.StateBackend == "sqlite" {
		return state.OpenSQLiteStore(cfg.StateDBPath)
	}
	return state.OpenFileStore(cfg.StateFilePath)
}
