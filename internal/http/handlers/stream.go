package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/EnvelopeHack/video-streamer/internal/observability"
	"github.com/EnvelopeHack/video-streamer/internal/stream"
	"github.com/EnvelopeHack/video-streamer/internal/transport"
)

// StreamHandler upgrades requests to WebSocket and runs one chunk streaming
// session per connection.
type StreamHandler struct {
	ctx          context.Context
	cfg          stream.Config
	src          stream.Source
	registry     *stream.Registry
	upgrader     *websocket.Upgrader
	writeTimeout time.Duration
}

// NewStreamHandler creates a stream handler. Sessions are cancelled when ctx
// is done, since hijacked connections outlive http.Server.Shutdown. Session
// logs carry the upgrade request's context logger.
func NewStreamHandler(
	ctx context.Context,
	cfg stream.Config,
	src stream.Source,
	registry *stream.Registry,
	upgrader *websocket.Upgrader,
	writeTimeout time.Duration,
) *StreamHandler {
	return &StreamHandler{
		ctx:          ctx,
		cfg:          cfg,
		src:          src,
		registry:     registry,
		upgrader:     upgrader,
		writeTimeout: writeTimeout,
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.registry.Full() {
		w.Header().Set("Retry-After", "5")
		http.Error(w, stream.ErrSessionLimit.Error(), http.StatusServiceUnavailable)
		return
	}

	logger := observability.WithComponent(observability.LoggerFromContext(r.Context()), "stream")

	conn, err := transport.Upgrade(h.upgrader, w, r, h.writeTimeout)
	if err != nil {
		// the upgrader has already replied
		observability.WithError(logger, err).DebugContext(r.Context(), "websocket upgrade failed")
		return
	}

	s := stream.NewSession(h.cfg, h.src, conn, r.RemoteAddr, logger)
	err = h.registry.Serve(h.ctx, s)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, stream.ErrSessionLimit):
		logger.WarnContext(r.Context(), "stream session rejected", slog.String("remote_addr", r.RemoteAddr))
	default:
		observability.WithError(logger, err).WarnContext(r.Context(), "stream session aborted",
			slog.String("session_id", s.ID()),
		)
	}
}
