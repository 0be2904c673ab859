package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/harishkarthiktk/dupFinder/internal/config"
	"github.com/harishkarthiktk/dupFinder/internal/db"
	"github.com/harishkarthiktk/dupFinder/internal/scan"
	"github.com/harishkarthiktk/dupFinder/internal/store"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// app carries the persistent flags and the lazily loaded configuration
// shared by all subcommands.
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "dupfinder",
		Short: "Incremental duplicate file finder",
		Long: `dupfinder walks configured directories, hashes files in two tiers
(a 64 KiB prefix digest first, full digests only for size+prefix
collisions) and keeps the results in a local SQLite database so repeat
scans only touch what changed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(a.logLevel, "")
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to the config file (default dupfinder.yaml)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(
		newScanCmd(a),
		newReportCmd(a),
		newDupesCmd(a),
		newServeCmd(a),
		newMoveCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// ensureConfig loads the config file once and re-points logging at the
// configured level and file.
func (a *app) ensureConfig() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	setupLogging(cfg.LogLevel, cfg.LogFile)
	a.cfg = cfg
	return nil
}

// openStore opens the configured database, runs pending migrations and
// returns the record store plus a close func.
func (a *app) openStore() (*store.Store, func(), error) {
	database, err := db.Open(a.cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.RunMigrations(database); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	return store.New(database, a.cfg.BatchSize), func() { database.Close() }, nil
}

// scanConfig maps the file config onto the scanner's config.
func (a *app) scanConfig() scan.Config {
	return scan.Config{
		Roots:        a.cfg.ScanPaths,
		ExcludePaths: a.cfg.ExcludePaths,
		ExcludeNames: a.cfg.ExcludeNames,
		ExcludeExts:  a.cfg.ExcludeExts,
		Algorithm:    a.cfg.Algorithm,
		ChunkSize:    a.cfg.ChunkSize,
		BatchSize:    a.cfg.BatchSize,
		Workers:      a.cfg.Workers,
	}
}

// setupLogging points slog at stderr, plus a size-rotated file when one
// is configured.
func setupLogging(level, file string) {
	var out io.Writer = os.Stderr
	if file != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    50, // MiB
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	})))
}

// parseLogLevel converts a config string ("debug", "info", "warn",
// "error") to its slog.Level equivalent. Unknown values default to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dupfinder version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dupfinder %s\n", version)
		},
	}
}
