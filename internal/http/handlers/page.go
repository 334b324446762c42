package handlers

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/EnvelopeHack/video-streamer/internal/assets"
	"github.com/EnvelopeHack/video-streamer/internal/observability"
)

// PlayerSettings is handed to the browser player as JSON.
type PlayerSettings struct {
	StreamPath    string  `json:"streamPath"`
	MIMECodec     string  `json:"mimeCodec"`
	MaxRetries    int     `json:"maxRetries"`
	RetryDelayMS  int64   `json:"retryDelayMs"`
	InitTimeoutMS int64   `json:"initTimeoutMs"`
	HighWater     float64 `json:"highWater"`
	LowWater      float64 `json:"lowWater"`
}

// PageData fills the player page template.
type PageData struct {
	Title     string
	VideoPath string
	MediaSize string
	Version   string
	Player    PlayerSettings
}

// PageHandler renders the player page.
type PageHandler struct {
	tmpl   *template.Template
	data   PageData
	logger *slog.Logger
}

// NewPageHandler parses the embedded template.
func NewPageHandler(data PageData, logger *slog.Logger) (*PageHandler, error) {
	tmpl, err := assets.PageTemplate()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &PageHandler{tmpl: tmpl, data: data, logger: logger}, nil
}

func (h *PageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.tmpl.Execute(&buf, h.data); err != nil {
		h.logger.ErrorContext(r.Context(), "rendering player page", slog.String("error", err.Error()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(buf.Bytes())
}
