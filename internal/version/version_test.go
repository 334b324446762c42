package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stamp overrides the ldflags variables for one test.
func stamp(t *testing.T, version, commit, treeState string) {
	t.Helper()
	v, c, ts := Version, Commit, TreeState
	t.Cleanup(func() { Version, Commit, TreeState = v, c, ts })
	Version, Commit, TreeState = version, commit, treeState
}

func TestShort(t *testing.T) {
	tests := []struct {
		name      string
		commit    string
		treeState string
		want      string
	}{
		{name: "local build", commit: "unknown", treeState: "unknown", want: "0.4.0"},
		{name: "commit too short", commit: "abc12", treeState: "clean", want: "0.4.0"},
		{name: "clean tree", commit: "0123456789abcdef", treeState: "clean", want: "0.4.0 (01234567)"},
		{name: "dirty tree", commit: "0123456789abcdef", treeState: "dirty", want: "0.4.0 (01234567*)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stamp(t, "0.4.0", tt.commit, tt.treeState)
			assert.Equal(t, tt.want, Short())
		})
	}
}

func TestString_ReleaseBuild(t *testing.T) {
	stamp(t, "0.4.0", "0123456789abcdef", "clean")
	date := Date
	t.Cleanup(func() { Date = date })
	Date = "2026-01-02T03:04:05Z"

	s := String()
	assert.Contains(t, s, "video-streamer version 0.4.0")
	assert.Contains(t, s, "commit: 01234567,")
	assert.Contains(t, s, "built: 2026-01-02T03:04:05Z")
	assert.Contains(t, s, runtime.GOOS+"/"+runtime.GOARCH)
}

func TestString_LocalBuildOmitsCommit(t *testing.T) {
	stamp(t, "dev", "unknown", "unknown")

	s := String()
	assert.Equal(t, "video-streamer version dev ("+runtime.Version()+", "+runtime.GOOS+"/"+runtime.GOARCH+")", s)
	assert.NotContains(t, s, "commit")
}

func TestJSON_CarriesFullCommit(t *testing.T) {
	stamp(t, "0.4.0", "0123456789abcdef", "dirty")

	var info Info
	require.NoError(t, json.Unmarshal([]byte(JSON()), &info))
	assert.Equal(t, GetInfo(), info)
	assert.Equal(t, "0123456789abcdef", info.Commit)
	assert.Equal(t, "dirty", info.TreeState)
}

func TestUserAgent(t *testing.T) {
	stamp(t, "0.4.0", "unknown", "unknown")
	assert.Equal(t, "video-streamer/0.4.0", UserAgent())
}
