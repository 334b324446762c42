package player

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Decoder is the media sink a Buffer appends to. Append blocks until the
// data is accepted. Calls are never overlapped by the Buffer.
type Decoder interface {
	Append(data []byte) error
	// Buffered returns the buffered time range; ok is false when empty.
	Buffered() (start, end time.Duration, ok bool)
	CurrentTime() time.Duration
	Remove(start, end time.Duration) error
	EndOfStream() error
	Close() error
}

// DecoderFactory creates a fresh decoder for each connection attempt.
type DecoderFactory func() (Decoder, error)

// DefaultByteRate is the simulated media byte rate used when none is known.
const DefaultByteRate = 256 * 1024

var (
	errDecoderClosed  = errors.New("decoder closed")
	errAppendAfterEnd = errors.New("append after end of stream")
)

// SimulatedDecoder stands in for a media decoder. Each appended byte adds
// 1/byteRate seconds of buffered media, and the playhead advances in real
// time from the first append, scaled by rate and capped at the buffered end.
type SimulatedDecoder struct {
	byteRate float64
	rate     float64
	now      func() time.Time

	mu        sync.Mutex
	start     time.Duration
	end       time.Duration
	playStart time.Time
	appended  int64
	ended     bool
	closed    bool
}

// NewSimulatedDecoder returns a decoder consuming byteRate bytes per second
// of media at the given playback rate.
func NewSimulatedDecoder(byteRate int64, rate float64) *SimulatedDecoder {
	if byteRate <= 0 {
		byteRate = DefaultByteRate
	}
	if rate <= 0 {
		rate = 1
	}
	return &SimulatedDecoder{byteRate: float64(byteRate), rate: rate, now: time.Now}
}

// SimulatedDecoders returns a factory of SimulatedDecoder.
func SimulatedDecoders(byteRate int64, rate float64) DecoderFactory {
	return func() (Decoder, error) {
		return NewSimulatedDecoder(byteRate, rate), nil
	}
}

func (d *SimulatedDecoder) Append(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDecoderClosed
	}
	if d.ended {
		return errAppendAfterEnd
	}
	if d.playStart.IsZero() {
		d.playStart = d.now()
	}
	d.appended += int64(len(data))
	d.end += time.Duration(float64(len(data)) / d.byteRate * float64(time.Second))
	return nil
}

func (d *SimulatedDecoder) Buffered() (time.Duration, time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.start, d.end, d.end > d.start
}

func (d *SimulatedDecoder) CurrentTime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentTime()
}

func (d *SimulatedDecoder) currentTime() time.Duration {
	if d.playStart.IsZero() {
		return 0
	}
	t := time.Duration(float64(d.now().Sub(d.playStart)) * d.rate)
	return min(t, d.end)
}

// Remove drops buffered media from the front. Removing at or past the
// playhead is refused.
func (d *SimulatedDecoder) Remove(start, end time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDecoderClosed
	}
	if end > d.currentTime() {
		return fmt.Errorf("remove %s-%s crosses playhead %s", start, end, d.currentTime())
	}
	if start <= d.start && end > d.start {
		d.start = end
	}
	return nil
}

func (d *SimulatedDecoder) EndOfStream() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDecoderClosed
	}
	d.ended = true
	return nil
}

func (d *SimulatedDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Appended returns the total bytes accepted.
func (d *SimulatedDecoder) Appended() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.appended
}

// Ended reports whether EndOfStream was called.
func (d *SimulatedDecoder) Ended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ended
}
