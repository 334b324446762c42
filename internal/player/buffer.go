package player

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EnvelopeHack/video-streamer/internal/observability"
)

// Buffer serialises appends into a Decoder. Units are queued in arrival
// order and a single drain goroutine appends them one at a time, trimming
// the decoder's buffered range before each append.
type Buffer struct {
	high, low time.Duration
	onError   func(error)
	logger    *slog.Logger

	mu         sync.Mutex
	dec        Decoder
	queue      [][]byte
	appending  bool
	endPending bool
	ended      bool
	err        error
	drained    chan struct{}

	appended atomic.Int64
	dropped  atomic.Int64
	trims    atomic.Int64
}

// NewBuffer attaches dec. onError is called at most once per failure, from
// the drain goroutine, when an append or end-of-stream fails.
func NewBuffer(dec Decoder, high, low time.Duration, onError func(error), logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = observability.Discard()
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Buffer{
		high:    high,
		low:     low,
		onError: onError,
		logger:  logger,
		dec:     dec,
	}
}

// Push queues a unit for appending. Units arriving with no decoder attached
// or after the end marker are dropped with a warning.
func (b *Buffer) Push(unit []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.dec == nil:
		b.dropped.Add(1)
		b.logger.Warn("decoder not ready, dropping unit", slog.Int("bytes", len(unit)))
		return ErrDecoderNotReady
	case b.endPending:
		b.dropped.Add(1)
		b.logger.Warn("stream ended, dropping unit", slog.Int("bytes", len(unit)))
		return ErrEnded
	}

	b.queue = append(b.queue, unit)
	b.startDrainLocked()
	return nil
}

// MarkEnd records the end marker. Queued units are still appended, then the
// decoder is told the stream is complete.
func (b *Buffer) MarkEnd() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.endPending || b.dec == nil {
		return
	}
	b.endPending = true
	b.startDrainLocked()
}

// Wait blocks until the queue is empty and no append is in flight. It
// returns the decoder error that stopped draining, if any.
func (b *Buffer) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		if !b.appending {
			err := b.err
			b.mu.Unlock()
			return err
		}
		ch := b.drained
		b.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Detach drops queued units and closes the decoder. Later pushes are dropped.
func (b *Buffer) Detach() {
	b.mu.Lock()
	dec := b.dec
	b.dec = nil
	b.queue = nil
	b.mu.Unlock()

	if dec != nil {
		if err := dec.Close(); err != nil {
			b.logger.Debug("closing decoder", slog.String("error", err.Error()))
		}
	}
}

// Len returns the number of queued units.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Buffer) startDrainLocked() {
	if b.appending {
		return
	}
	b.appending = true
	b.drained = make(chan struct{})
	go b.drain(b.drained)
}

func (b *Buffer) drain(done chan struct{}) {
	defer close(done)
	for {
		b.mu.Lock()
		dec := b.dec
		if dec == nil {
			b.appending = false
			b.mu.Unlock()
			return
		}
		if len(b.queue) == 0 {
			var err error
			if b.endPending && !b.ended {
				b.ended = true
				err = dec.EndOfStream()
			}
			b.mu.Unlock()
			if err != nil {
				b.fail(err)
				return
			}
			b.mu.Lock()
			b.appending = false
			b.mu.Unlock()
			return
		}
		unit := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.trim(dec)
		if err := dec.Append(unit); err != nil {
			b.fail(err)
			return
		}
		b.appended.Add(1)
	}
}

func (b *Buffer) fail(err error) {
	b.mu.Lock()
	b.queue = nil
	b.err = err
	b.appending = false
	b.mu.Unlock()

	b.logger.Warn("decoder append failed", slog.String("error", err.Error()))
	b.onError(err)
}

func (b *Buffer) trim(dec Decoder) {
	start, end, ok := dec.Buffered()
	if !ok {
		return
	}
	from, to, ok := TrimRange(start, end, dec.CurrentTime(), b.high, b.low)
	if !ok {
		return
	}
	if err := dec.Remove(from, to); err != nil {
		b.logger.Warn("trimming buffer", slog.String("error", err.Error()))
		return
	}
	b.trims.Add(1)
	b.logger.Debug("buffer trimmed", slog.Duration("from", from), slog.Duration("to", to))
}

// TrimRange decides what to remove from a buffered range [start, end] with
// the playhead at now. Nothing is removed until more than high is buffered;
// then everything older than low behind the buffered end is removed, but
// never past the playhead.
func TrimRange(start, end, now, high, low time.Duration) (from, to time.Duration, ok bool) {
	if end-start <= high {
		return 0, 0, false
	}
	cut := min(end-low, now)
	if cut <= start {
		return 0, 0, false
	}
	return start, cut, true
}

// BufferStats counts what a Buffer did with the units it was given.
type BufferStats struct {
	Appended int64 `json:"appended"`
	Dropped  int64 `json:"dropped"`
	Trims    int64 `json:"trims"`
}

// Stats returns the buffer's counters.
func (b *Buffer) Stats() BufferStats {
	return BufferStats{
		Appended: b.appended.Load(),
		Dropped:  b.dropped.Load(),
		Trims:    b.trims.Load(),
	}
}
