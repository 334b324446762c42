package media

import (
	"fmt"
	"strings"
	"time"

	"github.com/abema/go-mp4"
	"github.com/sunfish-shogi/bufseekio"
)

// DefaultCodecs is the MSE codec string used when probing yields nothing:
// H.264 Baseline 3.0 video with AAC-LC audio.
const DefaultCodecs = "avc1.42E01E,mp4a.40.2"

const probeBufferSize = 64 * 1024

// Info describes the media file as reported by /api/v1/media and the probe command.
type Info struct {
	Size       int64         `json:"size"`
	Duration   time.Duration `json:"duration"`
	Codecs     string        `json:"codecs"`
	VideoCodec string        `json:"video_codec,omitempty"`
	AudioCodec string        `json:"audio_codec,omitempty"`
	Width      int           `json:"width,omitempty"`
	Height     int           `json:"height,omitempty"`
	FastStart  bool          `json:"fast_start"`
	// ByteRate is the average number of bytes per second of playback,
	// zero when the duration is unknown.
	ByteRate int64 `json:"byte_rate"`
}

// MIMEType returns contentType with the codecs parameter appended, suitable
// for MediaSource.isTypeSupported.
func (i Info) MIMEType(contentType string) string {
	if i.Codecs == "" {
		return contentType
	}
	return fmt.Sprintf(`%s; codecs="%s"`, contentType, i.Codecs)
}

// Probe reads the MP4 box structure of f. Files that are not parseable MP4
// return an error; callers fall back to DefaultCodecs.
func Probe(f *File) (Info, error) {
	fh, err := f.OpenFile()
	if err != nil {
		return Info{}, err
	}
	defer fh.Close()

	fi, err := fh.Stat()
	if err != nil {
		return Info{}, fmt.Errorf("stat media file: %w", err)
	}

	info := Info{Size: fi.Size()}
	if info.Size == 0 {
		return info, fmt.Errorf("probing %s: empty file", f.Path())
	}

	pi, err := mp4.Probe(bufseekio.NewReadSeeker(fh, probeBufferSize, 4))
	if err != nil {
		return info, fmt.Errorf("probing %s: %w", f.Path(), err)
	}
	if len(pi.Tracks) == 0 {
		return info, fmt.Errorf("probing %s: no tracks found", f.Path())
	}

	info.FastStart = pi.FastStart
	if pi.Timescale > 0 {
		info.Duration = time.Duration(float64(pi.Duration) / float64(pi.Timescale) * float64(time.Second))
	}
	if secs := info.Duration.Seconds(); secs > 0 {
		info.ByteRate = int64(float64(info.Size) / secs)
	}

	var codecs []string
	for _, t := range pi.Tracks {
		switch t.Codec {
		case mp4.CodecAVC1:
			if t.AVC == nil || info.VideoCodec != "" {
				continue
			}
			info.VideoCodec = fmt.Sprintf("avc1.%02X%02X%02X", t.AVC.Profile, t.AVC.ProfileCompatibility, t.AVC.Level)
			info.Width = int(t.AVC.Width)
			info.Height = int(t.AVC.Height)
			codecs = append(codecs, info.VideoCodec)
		case mp4.CodecMP4A:
			if t.MP4A == nil || info.AudioCodec != "" {
				continue
			}
			info.AudioCodec = mp4aCodec(t.MP4A.OTI, t.MP4A.AudOTI)
			codecs = append(codecs, info.AudioCodec)
		}
	}
	info.Codecs = strings.Join(codecs, ",")
	return info, nil
}

// mp4aCodec formats an RFC 6381 mp4a codec string. The audio object type is
// only meaningful for MPEG-4 audio (OTI 0x40).
func mp4aCodec(oti, audOTI uint8) string {
	if oti == 0x40 && audOTI != 0 {
		return fmt.Sprintf("mp4a.%X.%d", oti, audOTI)
	}
	return fmt.Sprintf("mp4a.%X", oti)
}

// ResolveCodecs picks the codec string for the player page: an explicit
// override wins, then the probed value, then DefaultCodecs.
func ResolveCodecs(override string, info Info) string {
	if override != "" {
		return override
	}
	if info.Codecs != "" {
		return info.Codecs
	}
	return DefaultCodecs
}
