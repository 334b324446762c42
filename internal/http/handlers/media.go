package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dustin/go-humanize"

	"github.com/EnvelopeHack/video-streamer/internal/media"
)

// MediaHandler describes the served media file.
type MediaHandler struct {
	file        *media.File
	info        media.Info
	contentType string
}

// NewMediaHandler creates a media handler. info is the startup probe result
// and codecs the resolved codec string.
func NewMediaHandler(file *media.File, info media.Info, contentType, codecs string) *MediaHandler {
	info.Codecs = codecs
	return &MediaHandler{file: file, info: info, contentType: contentType}
}

// GetMediaInput is the input for media info.
type GetMediaInput struct{}

// MediaResponse describes the media file.
type MediaResponse struct {
	Path            string    `json:"path"`
	Size            int64     `json:"size"`
	SizeHuman       string    `json:"size_human"`
	ModifiedAt      time.Time `json:"modified_at"`
	ContentType     string    `json:"content_type"`
	MIMECodec       string    `json:"mime_codec"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	VideoCodec      string    `json:"video_codec,omitempty"`
	AudioCodec      string    `json:"audio_codec,omitempty"`
	Width           int       `json:"width,omitempty"`
	Height          int       `json:"height,omitempty"`
	FastStart       bool      `json:"fast_start"`
}

// GetMediaOutput is the output for media info.
type GetMediaOutput struct {
	Body MediaResponse
}

// Register registers the media routes.
func (h *MediaHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getMedia",
		Method:      "GET",
		Path:        "/api/v1/media",
		Summary:     "Describe the served media file",
		Tags:        []string{"Media"},
	}, h.Get)
}

// Get returns the current size and the probed stream details.
func (h *MediaHandler) Get(_ context.Context, _ *GetMediaInput) (*GetMediaOutput, error) {
	size, modTime, err := h.file.Stat()
	if err != nil {
		return nil, huma.Error503ServiceUnavailable("media file unavailable", err)
	}
	return &GetMediaOutput{
		Body: MediaResponse{
			Path:            h.file.Path(),
			Size:            size,
			SizeHuman:       humanize.IBytes(uint64(size)),
			ModifiedAt:      modTime.UTC(),
			ContentType:     h.contentType,
			MIMECodec:       h.info.MIMEType(h.contentType),
			DurationSeconds: h.info.Duration.Seconds(),
			VideoCodec:      h.info.VideoCodec,
			AudioCodec:      h.info.AudioCodec,
			Width:           h.info.Width,
			Height:          h.info.Height,
			FastStart:       h.info.FastStart,
		},
	}, nil
}
