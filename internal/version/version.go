// Package version exposes build information for video-streamer.
//
// Values are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/EnvelopeHack/video-streamer/internal/version.Version=x.y.z \
//	                   -X github.com/EnvelopeHack/video-streamer/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/EnvelopeHack/video-streamer/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags.
var (
	// Version is the semantic version, "dev" for local builds.
	Version = "dev"

	// Commit is the full git commit SHA.
	Commit = "unknown"

	// Date is the build timestamp in RFC3339 format.
	Date = "unknown"

	// TreeState is "clean" or "dirty" depending on uncommitted changes at build time.
	TreeState = "unknown"
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "video-streamer"

// Info contains structured version information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	TreeState string `json:"tree_state"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo returns all version information as a structured type.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		TreeState: TreeState,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// shortCommit returns the first 8 characters of the commit, with a "*"
// suffix for dirty trees. Empty when the commit is unknown.
func shortCommit() string {
	if Commit == "unknown" || len(Commit) < 8 {
		return ""
	}
	c := Commit[:8]
	if TreeState == "dirty" {
		c += "*"
	}
	return c
}

// String returns a human-readable version string.
func String() string {
	info := GetInfo()
	if c := shortCommit(); c != "" {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			ApplicationName, info.Version, c, info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, info.Version, info.GoVersion, info.Platform)
}

// Short returns a short version string for cobra's --version output.
func Short() string {
	if c := shortCommit(); c != "" {
		return fmt.Sprintf("%s (%s)", Version, c)
	}
	return Version
}

// JSON returns the version information as an indented JSON document.
func JSON() string {
	data, err := json.MarshalIndent(GetInfo(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// UserAgent returns a User-Agent string for outbound connections.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", ApplicationName, Version)
}
