package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/EnvelopeHack/video-streamer/internal/media"
	"github.com/EnvelopeHack/video-streamer/internal/observability"
	"github.com/EnvelopeHack/video-streamer/internal/player"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Consume a chunk stream headlessly",
	Long: `Connect to a running server's WebSocket stream and play it through a
simulated decoder, applying the same policy as the browser player: one append
in flight at a time, trimming behind the playhead, a first-chunk timeout and
linear-backoff reconnects.

Exits 0 once the END marker arrives and every chunk has been appended.`,
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().String("url", "ws://localhost:8000/socket-video", "WebSocket stream URL")
	playCmd.Flags().Int("max-retries", 3, "Reconnect attempts before giving up")
	playCmd.Flags().String("byte-rate", "0", "Media bytes per second of playback (0 = probe local media)")
	playCmd.Flags().Float64("playback-rate", 1.0, "Simulated playback speed")

	mustBindPFlag("player.url", playCmd.Flags().Lookup("url"))
	mustBindPFlag("player.max_retries", playCmd.Flags().Lookup("max-retries"))
	mustBindPFlag("player.byte_rate", playCmd.Flags().Lookup("byte-rate"))
	mustBindPFlag("player.playback_rate", playCmd.Flags().Lookup("playback-rate"))
}

func runPlay(cmd *cobra.Command, _ []string) error {
	logger := observability.WithComponent(slog.Default(), "player")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	byteRate := resolveByteRate(logger)
	playerCfg := player.Config{
		MaxRetries:  cfg.Player.MaxRetries,
		RetryDelay:  cfg.Player.RetryDelay,
		InitTimeout: cfg.Player.InitTimeout,
		HighWater:   cfg.Player.HighWater,
		LowWater:    cfg.Player.LowWater,
	}
	p := player.New(playerCfg,
		player.WebSocketDialer(cfg.Player.URL, cfg.Player.InitTimeout),
		player.SimulatedDecoders(byteRate, cfg.Player.PlaybackRate),
		logger,
	)

	logger.Info("playing stream",
		slog.String("url", cfg.Player.URL),
		slog.String("byte_rate", humanize.IBytes(uint64(byteRate))+"/s"),
		slog.Float64("playback_rate", cfg.Player.PlaybackRate),
	)

	var err error
	done := observability.TimedOperationWithError(ctx, logger, "play stream", &err)
	err = p.Run(ctx)
	done()

	out, jsonErr := json.MarshalIndent(p.Stats(), "", "  ")
	if jsonErr != nil {
		return fmt.Errorf("encoding stats: %w", jsonErr)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// resolveByteRate prefers the configured rate, then the local media's
// average rate, then player.DefaultByteRate.
func resolveByteRate(logger *slog.Logger) int64 {
	if rate := cfg.Player.ByteRate.Int64(); rate > 0 {
		return rate
	}
	if file, err := media.NewFile(cfg.Media.Path); err == nil {
		if info, err := media.Probe(file); err == nil && info.ByteRate > 0 {
			return info.ByteRate
		}
	}
	logger.Debug("no media byte rate available, using default", slog.Int64("byte_rate", player.DefaultByteRate))
	return player.DefaultByteRate
}
