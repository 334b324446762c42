package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/EnvelopeHack/video-streamer/internal/database"
	"github.com/EnvelopeHack/video-streamer/internal/history"
	internalhttp "github.com/EnvelopeHack/video-streamer/internal/http"
	"github.com/EnvelopeHack/video-streamer/internal/http/handlers"
	"github.com/EnvelopeHack/video-streamer/internal/media"
	"github.com/EnvelopeHack/video-streamer/internal/observability"
	"github.com/EnvelopeHack/video-streamer/internal/stream"
	"github.com/EnvelopeHack/video-streamer/internal/transport"
	"github.com/EnvelopeHack/video-streamer/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the video server",
	Long: `Start the video-streamer HTTP server.

The server provides:
- GET /video with single byte-range support
- paced WebSocket chunk streaming on the stream path (default /socket-video)
- the browser player page at /
- REST API for health, live sessions, media info and session history
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8000, "Port to listen on")
	serveCmd.Flags().String("media", "videos/mock.mp4", "Path of the video file to serve")
	serveCmd.Flags().Int("max-sessions", 0, "Maximum concurrent stream sessions (0 = unlimited)")
	serveCmd.Flags().Bool("history", true, "Record finished stream sessions in the database")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("media.path", serveCmd.Flags().Lookup("media"))
	mustBindPFlag("stream.max_sessions", serveCmd.Flags().Lookup("max-sessions"))
	mustBindPFlag("history.enabled", serveCmd.Flags().Lookup("history"))
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	file, err := media.NewFile(cfg.Media.Path)
	if err != nil {
		return fmt.Errorf("opening media: %w", err)
	}

	info, err := media.Probe(file)
	if err != nil {
		observability.WithError(logger, err).Warn("media probe failed, using default codecs",
			slog.String("path", file.Path()),
		)
		if size, _, statErr := file.Stat(); statErr == nil {
			info.Size = size
		}
	}
	codecs := media.ResolveCodecs(cfg.Media.Codecs, info)
	info.Codecs = codecs
	logger.Info("media ready",
		slog.String("path", file.Path()),
		slog.String("size", humanize.IBytes(uint64(info.Size))),
		slog.String("codecs", codecs),
		slog.Bool("fast_start", info.FastStart),
	)

	streamCfg := stream.Config{
		PrimeSize:  cfg.Stream.PrimeSize.Int(),
		PrimeDelay: cfg.Stream.PrimeDelay,
		ChunkSize:  cfg.Stream.ChunkSize.Int(),
		ChunkDelay: cfg.Stream.ChunkDelay,
	}
	if err := streamCfg.Validate(); err != nil {
		return fmt.Errorf("invalid stream config: %w", err)
	}

	registry := stream.NewRegistry(cfg.Stream.MaxSessions, logger)
	health := handlers.NewHealthHandler(version.Version, registry)

	var (
		historyRepo *history.Repository
		pruner      *history.Pruner
	)
	if cfg.History.Enabled {
		db, err := database.Open(cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error("failed to close database", slog.String("error", err.Error()))
			}
		}()

		historyRepo = history.NewRepository(db.DB)
		if err := historyRepo.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating history: %w", err)
		}
		registry.OnFinish(history.Recorder(historyRepo, logger))
		pruner = history.NewPruner(historyRepo, cfg.History.Retention, cfg.History.PruneSchedule, logger)
		health.WithDB(db)
	}

	g, gctx := errgroup.WithContext(ctx)

	mimeCodec := info.MIMEType(cfg.Media.ContentType)
	page, err := handlers.NewPageHandler(handlers.PageData{
		Title:     "video-streamer",
		VideoPath: "/video",
		MediaSize: humanize.IBytes(uint64(info.Size)),
		Version:   version.Short(),
		Player: handlers.PlayerSettings{
			StreamPath:    cfg.Stream.Path,
			MIMECodec:     mimeCodec,
			MaxRetries:    cfg.Player.MaxRetries,
			RetryDelayMS:  cfg.Player.RetryDelay.Milliseconds(),
			InitTimeoutMS: cfg.Player.InitTimeout.Milliseconds(),
			HighWater:     cfg.Player.HighWater.Seconds(),
			LowWater:      cfg.Player.LowWater.Seconds(),
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("loading player page: %w", err)
	}
	static, err := handlers.NewStaticHandler()
	if err != nil {
		return fmt.Errorf("loading static assets: %w", err)
	}

	srv := internalhttp.NewServer(cfg.Server, internalhttp.Routes{
		Page:   page,
		Static: static,
		Video:  handlers.NewVideoHandler(file, cfg.Media.ContentType),
		Stream: handlers.NewStreamHandler(
			gctx,
			streamCfg,
			file,
			registry,
			transport.NewUpgrader(cfg.Server.CORSOrigins),
			cfg.Stream.WriteTimeout,
		),
		StreamPath: cfg.Stream.Path,
	}, logger, version.Version)

	api := srv.API()
	health.Register(api)
	handlers.NewSessionsHandler(registry).Register(api)
	handlers.NewMediaHandler(file, info, cfg.Media.ContentType, codecs).Register(api)
	if historyRepo != nil {
		handlers.NewHistoryHandler(historyRepo).Register(api)
	}

	logger.Info("starting video-streamer",
		slog.String("version", version.Version),
		slog.String("address", cfg.Server.Address()),
		slog.String("stream_path", cfg.Stream.Path),
		slog.String("prime_size", cfg.Stream.PrimeSize.Human()),
		slog.String("chunk_size", cfg.Stream.ChunkSize.Human()),
		slog.Duration("chunk_delay", cfg.Stream.ChunkDelay),
	)

	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	if pruner != nil {
		g.Go(func() error {
			return pruner.Run(gctx)
		})
	}

	runErr := g.Wait()

	// cancelled sessions still record their history before the database closes
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelDrain()
	if err := registry.Wait(drainCtx); err != nil {
		observability.WithError(logger, err).Warn("stream sessions still running at exit",
			slog.Int("active_sessions", registry.Count()),
		)
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("video-streamer stopped")
	return nil
}
