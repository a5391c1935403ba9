package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schaermu/treesyncd/internal/config"
	"github.com/schaermu/treesyncd/internal/hostfs"
	"github.com/schaermu/treesyncd/internal/sync"
	"github.com/schaermu/treesyncd/internal/trigger"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Sync command flags
	dryRun         bool
	recursive      bool
	ignoreNames    []string
	ignorePatterns []string
	itemize        bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "treesyncd",
	Short: "Keep a destination directory tree identical to a source tree",
	Long: `treesyncd makes a destination directory mirror a source directory: missing
entries are copied, existing files are overwritten and entries that no longer
exist in the source are removed.

It can run as a oneshot sync (via systemd timer) or as a long-running daemon
that syncs on signed HTTP triggers.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync [SOURCE] [DESTINATION]",
	Short: "Perform a one-time sync from source to destination",
	Long: `Sync compares the source and destination trees and applies the difference to
the destination.

SOURCE and DESTINATION override the paths from the configuration file. When
both are given the configuration file is optional.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runSync,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the trigger server",
	Long: `Serve performs an initial sync and then starts a long-running HTTP server that
syncs again whenever a POST to /sync carries a valid X-Treesyncd-Signature
header. Bursts of triggers are debounced and at most one sync runs at a time.

The server listens on systemd-activated sockets when present, otherwise on
serve.listen_addr. Prometheus metrics are exposed on /metrics.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "treesyncd %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/treesyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Sync command flags
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	syncCmd.Flags().BoolVar(&recursive, "recursive", true, "descend into subdirectories")
	syncCmd.Flags().StringArrayVar(&ignoreNames, "ignore", nil, "entry name to leave out of the sync (repeatable)")
	syncCmd.Flags().StringArrayVar(&ignorePatterns, "ignore-pattern", nil, "glob matched against entry names to leave out (repeatable)")
	syncCmd.Flags().BoolVar(&itemize, "itemize", false, "print one line per changed entry")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := syncConfig(cmd, args, logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	opts, err := cfg.SyncOptions()
	if err != nil {
		return err
	}
	if itemize {
		opts.Hooks = itemizeHooks(cmd.OutOrStdout())
	}

	engine := sync.NewEngine(hostfs.New(), logger)
	res, err := engine.Sync(cfg.Source, cfg.Destination, &opts)
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	if res.Changes() == 0 {
		logger.Info("destination already up to date")
	}
	return nil
}

// syncConfig merges the optional configuration file with positional
// arguments and flags.
func syncConfig(cmd *cobra.Command, args []string, logger *slog.Logger) (*config.Config, error) {
	cfg := &config.Config{}
	if cfgFile != "" || len(args) < 2 {
		loaded, err := loadConfig(logger)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if len(args) > 0 {
		cfg.Source = args[0]
	}
	if len(args) > 1 {
		cfg.Destination = args[1]
	}

	flags := cmd.Flags()
	if flags.Changed("recursive") {
		cfg.Sync.Recursive = &recursive
	}
	if flags.Changed("dry-run") {
		cfg.Sync.DryRun = dryRun
	}
	cfg.Ignore.Names = append(cfg.Ignore.Names, ignoreNames...)
	cfg.Ignore.Patterns = append(cfg.Ignore.Patterns, ignorePatterns...)

	if err := sync.Validate(cfg.Source, cfg.Destination); err != nil {
		return nil, err
	}
	if err := config.CheckOverlap(cfg.Source, cfg.Destination); err != nil {
		return nil, err
	}
	return cfg, nil
}

// itemizeHooks prints one line per mutation after it has been applied
func itemizeHooks(w io.Writer) sync.Hooks {
	line := func(mark, path string) error {
		_, err := fmt.Fprintf(w, "%s %s\n", mark, path)
		return err
	}
	return sync.Hooks{
		AddFile:    func(_, dst string) error { return line("+", dst) },
		UpdateFile: func(_, dst string) error { return line("~", dst) },
		DeleteFile: func(_, dst string) error { return line("-", dst) },
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Serve.Enabled {
		return fmt.Errorf("serve.enabled is false in %s", configPath())
	}

	server, err := trigger.NewServer(cfg, sync.NewEngine(hostfs.New(), logger), logger)
	if err != nil {
		return err
	}

	return server.Start(ctx)
}

func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "treesyncd", "config.yaml")
	}
	return filepath.Join(home, ".config", "treesyncd", "config.yaml")
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	path := configPath()

	logger.Info("loading configuration", "path", path)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded", cfg.Summary()...)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
