package handlers

import (
	"net/http"
	"path"
	"strings"

	"github.com/EnvelopeHack/video-streamer/internal/assets"
)

// StaticHandler serves the embedded player script under /static/.
type StaticHandler struct {
	fileServer http.Handler
}

// NewStaticHandler creates a handler over the embedded static files.
func NewStaticHandler() (*StaticHandler, error) {
	staticFS, err := assets.StaticFS()
	if err != nil {
		return nil, err
	}
	return &StaticHandler{
		fileServer: http.StripPrefix("/static", http.FileServer(http.FS(staticFS))),
	}, nil
}

func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := path.Clean(r.URL.Path)
	if strings.HasSuffix(r.URL.Path, "/") {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", assets.GetContentType(name))
	w.Header().Set("Cache-Control", "public, max-age=300")
	h.fileServer.ServeHTTP(w, r)
}
