package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// ByteSize is a size value that supports human-readable parsing.
//
// IEC suffixes are binary and SI suffixes are decimal:
//   - "4MiB" = 4 * 1024 * 1024 bytes
//   - "256KiB" = 256 * 1024 bytes
//   - "5MB" = 5 * 1000 * 1000 bytes
//   - "262144" = 262144 bytes
//
// This type implements encoding.TextUnmarshaler for Viper/YAML support
// and json.Unmarshaler for JSON configuration files.
type ByteSize int64

// ParseByteSize parses a human-readable byte size string.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size")
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parsing byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper support.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	return b.UnmarshalText([]byte(s))
}

// MarshalJSON implements json.Marshaler.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// Int returns the size as an int, for buffer allocation.
func (b ByteSize) Int() int {
	return int(b)
}

// Int64 returns the size in bytes.
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// iecUnits lists binary suffixes from largest to smallest.
var iecUnits = []struct {
	suffix string
	size   int64
}{
	{"EiB", humanize.EiByte},
	{"PiB", humanize.PiByte},
	{"TiB", humanize.TiByte},
	{"GiB", humanize.GiByte},
	{"MiB", humanize.MiByte},
	{"KiB", humanize.KiByte},
}

// String returns the size in the largest IEC unit that divides it exactly,
// or as a plain byte count, so that parsing the result gives back b.
func (b ByteSize) String() string {
	n := int64(b)
	if n > 0 {
		for _, u := range iecUnits {
			if n%u.size == 0 {
				return fmt.Sprintf("%d%s", n/u.size, u.suffix)
			}
		}
	}
	return fmt.Sprintf("%d", n)
}

// Human returns a rounded IEC representation for log lines.
func (b ByteSize) Human() string {
	if b < 0 {
		return fmt.Sprintf("%d B", int64(b))
	}
	return humanize.IBytes(uint64(b))
}
