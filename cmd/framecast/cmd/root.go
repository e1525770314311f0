// Package cmd implements the CLI commands for framecast.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/framecast/internal/config"
	"github.com/jmylchreest/framecast/internal/observability"
	"github.com/jmylchreest/framecast/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// Populated by PersistentPreRunE for every subcommand.
var (
	appConfig *config.Config
	appLogger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "framecast",
	Short:   "Stereo camera frame recorder",
	Version: version.Short(),
	Long: `framecast receives raw frames from a stereo camera stream, queues them per
channel and fans every frame out to a set of sinks: ffmpeg encoders, an ffplay
preview window, per-frame CSV metadata logs, TIFF snapshots and raw dumps.

Configuration is read from framecast.yaml (current directory, ./configs or
$HOME/.framecast) and FRAMECAST_* environment variables.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return initConfig(cmd)
	}

	// These flags are not bound to viper: they only override config and env
	// values when set explicitly.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./framecast.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

// initConfig loads configuration and configures the default logger.
//
// Priority order (highest to lowest):
//  1. CLI flags, only if explicitly provided
//  2. Environment variables (FRAMECAST_LOGGING_LEVEL, ...)
//  3. Config file values
//  4. Built-in defaults
func initConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	overrideString(cmd.Flags(), "log-level", &cfg.Logging.Level)
	overrideString(cmd.Flags(), "log-format", &cfg.Logging.Format)
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)

	logger := observability.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	logger = observability.WithApp(logger, version.ApplicationName, version.Version)
	observability.SetDefault(logger)
	observability.SetRequestLogging(cfg.Logging.RequestLogging)

	appConfig = cfg
	appLogger = logger
	return nil
}
