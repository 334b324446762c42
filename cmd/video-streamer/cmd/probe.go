package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/EnvelopeHack/video-streamer/internal/media"
)

var probeJSON bool

var probeCmd = &cobra.Command{
	Use:   "probe [path]",
	Short: "Inspect a video file",
	Long: `Read the MP4 box structure of a file and print its size, duration,
codecs, dimensions and whether the moov box precedes the media data.

Without a path the configured media.path is probed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(probeCmd)
}

// probeOutput adds the derived MIME type to media.Info.
type probeOutput struct {
	Path      string `json:"path" yaml:"path"`
	MIMECodec string `json:"mime_codec" yaml:"mime_codec"`
	Size      int64  `json:"size" yaml:"size"`
	Duration  string `json:"duration" yaml:"duration"`
	Codecs    string `json:"codecs" yaml:"codecs"`
	Video     string `json:"video_codec,omitempty" yaml:"video_codec,omitempty"`
	Audio     string `json:"audio_codec,omitempty" yaml:"audio_codec,omitempty"`
	Width     int    `json:"width,omitempty" yaml:"width,omitempty"`
	Height    int    `json:"height,omitempty" yaml:"height,omitempty"`
	FastStart bool   `json:"fast_start" yaml:"fast_start"`
	ByteRate  int64  `json:"byte_rate" yaml:"byte_rate"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	path := cfg.Media.Path
	if len(args) == 1 {
		path = args[0]
	}

	file, err := media.NewFile(path)
	if err != nil {
		return err
	}
	info, err := media.Probe(file)
	if err != nil {
		return fmt.Errorf("probing %s: %w", path, err)
	}
	info.Codecs = media.ResolveCodecs(cfg.Media.Codecs, info)

	out := probeOutput{
		Path:      file.Path(),
		MIMECodec: info.MIMEType(cfg.Media.ContentType),
		Size:      info.Size,
		Duration:  info.Duration.String(),
		Codecs:    info.Codecs,
		Video:     info.VideoCodec,
		Audio:     info.AudioCodec,
		Width:     info.Width,
		Height:    info.Height,
		FastStart: info.FastStart,
		ByteRate:  info.ByteRate,
	}

	var data []byte
	if probeJSON {
		data, err = json.MarshalIndent(out, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(out)
	}
	if err != nil {
		return fmt.Errorf("encoding probe result: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
