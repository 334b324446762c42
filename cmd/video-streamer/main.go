// Package main is the entry point for video-streamer.
package main

import (
	"os"

	"github.com/EnvelopeHack/video-streamer/cmd/video-streamer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
