// Package stream implements the producer side of chunked video delivery.
//
// A Session reads the media file sequentially and pushes it over a Transport
// as one large priming unit followed by fixed-size units, each separated by
// a pacing delay, and finishes with an end marker. Every session owns its own
// file handle and read cursor; sessions share nothing but the Registry.
package stream

import (
	"errors"
	"fmt"
	"time"
)

// Default pacing parameters.
const (
	// DefaultPrimeSize is large enough to hold the moov box plus a few
	// seconds of media for typical web MP4s.
	DefaultPrimeSize = 4 * 1024 * 1024

	// DefaultPrimeDelay gives the consumer time to initialise its decoder.
	DefaultPrimeDelay = time.Second

	// DefaultChunkSize is the size of every regular unit.
	DefaultChunkSize = 256 * 1024

	// DefaultChunkDelay is the pause between regular units.
	DefaultChunkDelay = 50 * time.Millisecond
)

// Control message actions sent by the consumer.
const (
	// ActionStart begins delivery of an idle session.
	ActionStart = "start_stream"

	// ActionRestart discards the current delivery and starts again from byte 0.
	ActionRestart = "restart_stream"
)

// Config holds the sizing and pacing of one session.
type Config struct {
	PrimeSize  int
	PrimeDelay time.Duration
	ChunkSize  int
	ChunkDelay time.Duration
}

// DefaultConfig returns the standard pacing configuration.
func DefaultConfig() Config {
	return Config{
		PrimeSize:  DefaultPrimeSize,
		PrimeDelay: DefaultPrimeDelay,
		ChunkSize:  DefaultChunkSize,
		ChunkDelay: DefaultChunkDelay,
	}
}

// Validate checks that sizes are positive and delays are not negative.
func (c Config) Validate() error {
	if c.PrimeSize <= 0 {
		return fmt.Errorf("prime size must be positive, got %d", c.PrimeSize)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.PrimeDelay < 0 || c.ChunkDelay < 0 {
		return errors.New("delays must not be negative")
	}
	return nil
}

// Control is a consumer to producer message.
type Control struct {
	Action string `json:"action"`
}

// ErrBadControl is wrapped by transports when a control message cannot be
// decoded or names an unknown action. The session logs it and keeps reading.
var ErrBadControl = errors.New("invalid control message")
