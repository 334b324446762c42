package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EnvelopeHack/video-streamer/internal/media"
)

func writeMedia(t *testing.T, size int) (*media.File, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}
	path := filepath.Join(t.TempDir(), "mock.mp4")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	f, err := media.NewFile(path)
	require.NoError(t, err)
	return f, data
}

func serveVideo(h http.Handler, method, rangeHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/video", nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestVideoHandler_Ranges(t *testing.T) {
	const size = 1000
	f, data := writeMedia(t, size)
	h := NewVideoHandler(f, "video/mp4")

	tests := []struct {
		name        string
		rangeHeader string
		wantStatus  int
		wantRange   string
		wantFrom    int
		wantTo      int // exclusive
	}{
		{"no range", "", http.StatusOK, "", 0, size},
		{"first hundred", "bytes=0-99", http.StatusPartialContent, "bytes 0-99/1000", 0, 100},
		{"open ended", "bytes=100-", http.StatusPartialContent, "bytes 100-999/1000", 100, size},
		{"end clamped", "bytes=900-5000", http.StatusPartialContent, "bytes 900-999/1000", 900, size},
		{"suffix", "bytes=-10", http.StatusPartialContent, "bytes 990-999/1000", 990, size},
		{"single byte", "bytes=999-999", http.StatusPartialContent, "bytes 999-999/1000", 999, size},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serveVideo(h, http.MethodGet, tt.rangeHeader)
			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
			assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantRange, rec.Header().Get("Content-Range"))
			assert.Equal(t, strconv.Itoa(tt.wantTo-tt.wantFrom), rec.Header().Get("Content-Length"))
			assert.Equal(t, data[tt.wantFrom:tt.wantTo], rec.Body.Bytes())
		})
	}
}

func TestVideoHandler_Errors(t *testing.T) {
	f, _ := writeMedia(t, 1000)
	h := NewVideoHandler(f, "video/mp4")

	t.Run("start past end is 416", func(t *testing.T) {
		rec := serveVideo(h, http.MethodGet, "bytes=1000-")
		assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
		assert.Equal(t, "bytes */1000", rec.Header().Get("Content-Range"))
	})

	for _, bad := range []string{"bytes=abc-", "items=0-10", "bytes=10-5", "bytes=0-1,5-9", "bytes=-"} {
		t.Run("malformed "+bad, func(t *testing.T) {
			rec := serveVideo(h, http.MethodGet, bad)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	t.Run("method not allowed", func(t *testing.T) {
		rec := serveVideo(h, http.MethodPost, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
	})
}

func TestVideoHandler_Head(t *testing.T) {
	f, _ := writeMedia(t, 1000)
	h := NewVideoHandler(f, "video/mp4")

	rec := serveVideo(h, http.MethodHead, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1000", rec.Header().Get("Content-Length"))
	assert.NotEmpty(t, rec.Header().Get("Last-Modified"))
	assert.Zero(t, rec.Body.Len())

	rec = serveVideo(h, http.MethodHead, "bytes=0-9")
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Content-Length"))
	assert.Zero(t, rec.Body.Len())
}

func TestVideoHandler_MissingFile(t *testing.T) {
	f, _ := writeMedia(t, 10)
	require.NoError(t, os.Remove(f.Path()))

	rec := serveVideo(NewVideoHandler(f, "video/mp4"), http.MethodGet, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
