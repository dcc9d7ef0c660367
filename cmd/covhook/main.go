package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/schaermu/covhook/internal/config"
	"github.com/schaermu/covhook/internal/ui"
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

	// geteuid is swapped in tests
	geteuid = os.Geteuid
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		ui.NewPrinter(os.Stderr).Error("%v", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "covhook",
	Short: "Install and report on machine-wide coverage collection",
	Long: `covhook installs a coverage hook into the Python site directory so that every
process of the covered services measures coverage, patches the service entry
files that bypass the site hook, and turns the collected data into reports.

It is meant to be run as root, one invocation at a time.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: preRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("covhook %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(newInstallCmd())
	rootCmd.AddCommand(newUninstallCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(versionCmd)
}

// initConfig lets COVHOOK_* environment variables stand in for global flags.
func initConfig() {
	viper.SetEnvPrefix("COVHOOK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	for _, name := range []string{"config", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	cfgFile = viper.GetString("config")
	logLevel = viper.GetString("log-level")
	logFormat = viper.GetString("log-format")
}

// preRun warns when the effective user cannot write system locations.
func preRun(cmd *cobra.Command, args []string) error {
	if cmd.Name() == versionCmd.Name() {
		return nil
	}
	if geteuid() != 0 {
		ui.NewPrinter(cmd.ErrOrStderr()).Warn("not running as root; writing the site directory or entry files may fail")
	}
	return nil
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

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	cfg, fromFile, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, err
	}

	if fromFile {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath
		}
		logger.Info("loaded configuration", "path", path)
	} else {
		logger.Info("no configuration file found, using built-in defaults", "path", config.DefaultPath)
	}

	logger.Debug("configuration",
		"hook_module", cfg.Hook.Module,
		"interpreter", cfg.Python.Interpreter,
		"site_dir", cfg.Python.SiteDir,
		"coverage_root", cfg.Coverage.Root,
		"entry_points", len(cfg.EntryPoints.Targets))

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
