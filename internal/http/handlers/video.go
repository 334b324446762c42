package handlers

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/EnvelopeHack/video-streamer/internal/byterange"
	"github.com/EnvelopeHack/video-streamer/internal/media"
	"github.com/EnvelopeHack/video-streamer/internal/observability"
)

// VideoHandler byte-serves the media file. It answers one satisfiable range
// per request with 206, or the whole file with 200.
type VideoHandler struct {
	file        *media.File
	contentType string
}

// NewVideoHandler creates a handler serving file with the given Content-Type.
// It logs through the request's context logger.
func NewVideoHandler(file *media.File, contentType string) *VideoHandler {
	return &VideoHandler{file: file, contentType: contentType}
}

func (h *VideoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	logger := observability.WithComponent(observability.LoggerFromContext(r.Context()), "video")

	f, err := h.file.OpenFile()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		observability.WithError(logger, err).ErrorContext(r.Context(), "opening media")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		observability.WithError(logger, err).ErrorContext(r.Context(), "stat media")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	size := fi.Size()

	hdr := w.Header()
	hdr.Set("Accept-Ranges", "bytes")
	hdr.Set("Content-Type", h.contentType)
	hdr.Set("Last-Modified", fi.ModTime().UTC().Format(http.TimeFormat))

	var (
		body   io.Reader = f
		length           = size
		status           = http.StatusOK
	)

	if spec := r.Header.Get("Range"); spec != "" {
		rng, err := byterange.Parse(spec, size)
		switch {
		case errors.Is(err, byterange.ErrUnsatisfiable):
			hdr.Set("Content-Range", byterange.UnsatisfiedContentRange(size))
			http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
			return
		case err != nil:
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body = io.NewSectionReader(f, rng.Start, rng.Length())
		length = rng.Length()
		status = http.StatusPartialContent
		hdr.Set("Content-Range", rng.ContentRange(size))
	}

	hdr.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}

	n, err := io.CopyN(w, body, length)
	if err != nil {
		// usually the client seeking away and dropping the connection
		observability.WithError(logger, err).DebugContext(r.Context(), "video response cut short",
			slog.Int64("written", n),
			slog.Int64("expected", length),
		)
	}
}
