// Package player implements a headless stream consumer.
//
// A Player dials a stream endpoint, sends the start action, and feeds every
// delivery unit into a Buffer backed by a Decoder. The Buffer appends one
// unit at a time in arrival order and trims old media from the front. Any
// failure tears the attempt down and reconnects with a linear backoff until
// the retry ceiling is reached.
package player

import (
	"errors"
	"time"
)

// Default consumer parameters.
const (
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = time.Second
	DefaultInitTimeout = 5 * time.Second
	DefaultHighWater   = 10 * time.Second
	DefaultLowWater    = 5 * time.Second
)

var (
	// ErrRetriesExhausted is returned by Run when the retry ceiling is hit.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrInitTimeout is returned when no unit arrives within InitTimeout of start.
	ErrInitTimeout = errors.New("timed out waiting for first unit")
	// ErrDecoderNotReady is returned by Buffer.Push when no decoder is attached.
	ErrDecoderNotReady = errors.New("decoder not ready")
	// ErrEnded is returned by Buffer.Push after the end marker.
	ErrEnded = errors.New("stream already ended")
)

// Config holds the consumer's retry, timeout and trimming policy.
type Config struct {
	MaxRetries  int
	RetryDelay  time.Duration
	InitTimeout time.Duration
	HighWater   time.Duration
	LowWater    time.Duration
}

// DefaultConfig returns the standard consumer policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  DefaultMaxRetries,
		RetryDelay:  DefaultRetryDelay,
		InitTimeout: DefaultInitTimeout,
		HighWater:   DefaultHighWater,
		LowWater:    DefaultLowWater,
	}
}

// State is the consumer's lifecycle stage.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateBuffering
	StatePlaying
	StateEnded
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	case StateEnded:
		return "ended"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
