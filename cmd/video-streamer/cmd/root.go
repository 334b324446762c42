// Package cmd implements the CLI commands for video-streamer.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/EnvelopeHack/video-streamer/internal/config"
	"github.com/EnvelopeHack/video-streamer/internal/observability"
	"github.com/EnvelopeHack/video-streamer/internal/version"
)

var (
	// cfgFile holds the config file path from the CLI flag.
	cfgFile string

	// v collects flag bindings; explicitly set flags win over env and file.
	v = viper.New()

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:     version.ApplicationName,
	Short:   "Serve a video over HTTP ranges and paced WebSocket chunks",
	Version: version.Short(),
	Long: `video-streamer delivers a single media file two ways: byte-range HTTP
requests on /video, and a paced push over WebSocket where a large priming
chunk is followed by fixed-size chunks and an END marker.

It also ships a headless consumer (play) that exercises the full
reconnection and buffering policy against a running server.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initConfig()
	}

	// Logging flags are not bound to viper; they only apply when Changed.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml, /etc/video-streamer/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

func initConfig() error {
	loaded, err := config.LoadWith(v, cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	logCfg := cfg.Logging
	if rootCmd.PersistentFlags().Changed("log-level") {
		logCfg.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		logCfg.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}
	logCfg.Level = strings.ToLower(logCfg.Level)
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	slog.SetDefault(logger)

	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("using config file", slog.String("path", used))
	}
	return nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
