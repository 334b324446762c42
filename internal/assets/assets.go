// Package assets embeds the player page template and its script.
package assets

import (
	"embed"
	"html/template"
	"io/fs"
	"mime"
	"path/filepath"
	"strings"
)

//go:embed templates static
var embedded embed.FS

// PageTemplate parses the player page template.
func PageTemplate() (*template.Template, error) {
	return template.ParseFS(embedded, "templates/player.html")
}

// StaticFS returns the embedded static files rooted at static/.
func StaticFS() (fs.FS, error) {
	return fs.Sub(embedded, "static")
}

// GetContentType returns the MIME type for a path based on its extension.
func GetContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case "":
		return "application/octet-stream"
	case ".js", ".mjs":
		return "text/javascript; charset=utf-8"
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".mp4", ".m4s":
		return "video/mp4"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
