package stream

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/EnvelopeHack/video-streamer/internal/observability"
)

// Transport carries one session's messages to a consumer.
//
// ReadControl is only called from the session's reader goroutine. SendUnit,
// SendEnd and Abort are only called from the delivery loop, so at most one
// send is in flight. Close may be called concurrently with a send and must
// make it fail promptly.
type Transport interface {
	// ReadControl blocks for the next control message. Errors wrapping
	// ErrBadControl are recoverable; any other error means the consumer is gone.
	ReadControl() (Control, error)
	// SendUnit sends one delivery unit. Implementations must not retain data.
	SendUnit(data []byte) error
	// SendEnd sends the end-of-stream marker.
	SendEnd() error
	// Abort closes the transport in a way the consumer can tell apart from a
	// normal close.
	Abort(reason error) error
	// Close closes the transport normally.
	Close() error
}

// Source opens independent sequential readers over the media.
type Source interface {
	Open() (io.ReadCloser, error)
}

// Session is one consumer connection's delivery state machine.
type Session struct {
	id         string
	remoteAddr string
	startedAt  time.Time

	cfg    Config
	src    Source
	tr     Transport
	logger *slog.Logger

	state     atomic.Int32
	unitsSent atomic.Int64
	bytesSent atomic.Int64
	restarts  atomic.Int32

	mu      sync.Mutex
	outcome Outcome
	err     error
	endedAt time.Time
}

// NewSession creates an idle session. Nothing is read until the consumer
// sends ActionStart.
func NewSession(cfg Config, src Source, tr Transport, remoteAddr string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = observability.Discard()
	}
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	return &Session{
		id:         id,
		remoteAddr: remoteAddr,
		startedAt:  time.Now(),
		cfg:        cfg,
		src:        src,
		tr:         tr,
		logger:     observability.WithSession(logger, id, remoteAddr),
	}
}

// ID returns the session's ULID.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle stage.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Run drives the session until it completes, fails, the consumer
// disconnects, or ctx is cancelled. The transport is closed on return.
// The returned error is non-nil only when delivery itself failed.
func (s *Session) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)

	controls := make(chan Control)
	readErr := make(chan error, 1)
	go s.readControls(controls, readErr, done)

	var (
		loopCancel context.CancelFunc
		loopDone   chan error
	)
	startLoop := func() {
		lctx, cancel := context.WithCancel(ctx)
		loopCancel = cancel
		loopDone = make(chan error, 1)
		go func(result chan<- error) {
			result <- s.deliver(lctx)
		}(loopDone)
	}
	// stopLoop cancels the running delivery and returns the failure it had
	// already hit, if any. Its own cancellation is not a failure.
	stopLoop := func() error {
		if loopCancel == nil {
			return nil
		}
		loopCancel()
		err := <-loopDone
		loopCancel, loopDone = nil, nil
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	s.logger.Info("stream session opened")

	for {
		select {
		case <-ctx.Done():
			s.closeTransport()
			stopLoop()
			s.finish(OutcomeCancelled, nil)
			return nil

		case c := <-controls:
			switch c.Action {
			case ActionStart:
				if loopDone != nil || s.State() != StateIdle {
					s.logger.Debug("ignoring start, session already started", slog.String("state", s.State().String()))
					continue
				}
				startLoop()
			case ActionRestart:
				if err := stopLoop(); err != nil {
					return s.abort(err)
				}
				if ctx.Err() != nil {
					continue
				}
				s.logger.Info("restarting stream", slog.Int64("bytes_sent", s.bytesSent.Load()))
				s.restarts.Add(1)
				s.setState(StateIdle)
				startLoop()
			}

		case err := <-readErr:
			s.closeTransport()
			stopLoop()
			s.logger.Info("consumer disconnected", slog.String("reason", err.Error()))
			s.finish(OutcomeDisconnected, nil)
			return nil

		case err := <-loopDone:
			loopCancel()
			loopCancel, loopDone = nil, nil
			if err != nil && ctx.Err() != nil {
				s.closeTransport()
				s.finish(OutcomeCancelled, nil)
				return nil
			}
			if err != nil {
				return s.abort(err)
			}
			s.closeTransport()
			s.logger.Info("stream completed",
				slog.Int64("units_sent", s.unitsSent.Load()),
				slog.Int64("bytes_sent", s.bytesSent.Load()),
			)
			s.finish(OutcomeCompleted, nil)
			return nil
		}
	}
}

func (s *Session) readControls(controls chan<- Control, readErr chan<- error, done <-chan struct{}) {
	for {
		c, err := s.tr.ReadControl()
		if err != nil {
			if errors.Is(err, ErrBadControl) {
				s.logger.Warn("ignoring control message", slog.String("error", err.Error()))
				continue
			}
			readErr <- err
			return
		}
		select {
		case controls <- c:
		case <-done:
			return
		}
	}
}

func (s *Session) closeTransport() {
	if err := s.tr.Close(); err != nil {
		s.logger.Debug("closing transport", slog.String("error", err.Error()))
	}
}

// abort closes the transport with an error status after a failed delivery.
func (s *Session) abort(err error) error {
	observability.WithError(s.logger, err).Warn("stream aborted")
	if abortErr := s.tr.Abort(err); abortErr != nil {
		observability.WithError(s.logger, abortErr).Debug("closing aborted transport")
	}
	s.finish(OutcomeAborted, err)
	return err
}

func (s *Session) finish(outcome Outcome, err error) {
	s.setState(StateClosed)
	s.mu.Lock()
	s.outcome = outcome
	s.err = err
	s.endedAt = time.Now()
	s.mu.Unlock()
}

// deliver runs one pass over the source: priming unit, paced regular units,
// end marker. It owns the file handle for its whole duration.
func (s *Session) deliver(ctx context.Context) error {
	r, err := s.src.Open()
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer r.Close()

	s.setState(StatePriming)
	prime := make([]byte, s.cfg.PrimeSize)
	n, err := readUnit(r, prime)
	if err != nil {
		return fmt.Errorf("reading priming unit: %w", err)
	}
	if n > 0 {
		if err := s.send(ctx, prime[:n]); err != nil {
			return err
		}
		s.logger.Info("priming unit sent", slog.Int("bytes", n))
		if err := pause(ctx, s.cfg.PrimeDelay); err != nil {
			return err
		}
	}

	s.setState(StateStreaming)
	chunk := make([]byte, s.cfg.ChunkSize)
	for {
		n, err := readUnit(r, chunk)
		if err != nil {
			return fmt.Errorf("reading unit at offset %d: %w", s.bytesSent.Load(), err)
		}
		if n == 0 {
			break
		}
		if err := s.send(ctx, chunk[:n]); err != nil {
			return err
		}
		if err := pause(ctx, s.cfg.ChunkDelay); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	s.setState(StateDraining)
	if err := s.tr.SendEnd(); err != nil {
		return fmt.Errorf("sending end marker: %w", err)
	}
	return nil
}

func (s *Session) send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.tr.SendUnit(data); err != nil {
		return fmt.Errorf("sending unit %d: %w", s.unitsSent.Load(), err)
	}
	units := s.unitsSent.Add(1)
	s.bytesSent.Add(int64(len(data)))
	s.logger.Debug("unit sent", slog.Int64("unit", units), slog.Int("bytes", len(data)))
	return nil
}

// readUnit fills buf from r. A short read at end of file is not an error;
// n == 0 means the source is exhausted.
func readUnit(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return n, nil
	default:
		return n, err
	}
}

// pause suspends for d, returning early with ctx's error on cancellation.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Stats is a point-in-time view of a live session.
type Stats struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	State      string    `json:"state"`
	UnitsSent  int64     `json:"units_sent"`
	BytesSent  int64     `json:"bytes_sent"`
	Restarts   int       `json:"restarts"`
	StartedAt  time.Time `json:"started_at"`
}

// Stats returns the session's current counters.
func (s *Session) Stats() Stats {
	return Stats{
		ID:         s.id,
		RemoteAddr: s.remoteAddr,
		State:      s.State().String(),
		UnitsSent:  s.unitsSent.Load(),
		BytesSent:  s.bytesSent.Load(),
		Restarts:   int(s.restarts.Load()),
		StartedAt:  s.startedAt,
	}
}

// Summary describes a finished session.
type Summary struct {
	Stats
	Outcome Outcome   `json:"outcome"`
	Error   string    `json:"error,omitempty"`
	EndedAt time.Time `json:"ended_at"`
}

// Summary returns the final record of the session. It is only meaningful
// after Run has returned.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{
		Stats:   s.Stats(),
		Outcome: s.outcome,
		EndedAt: s.endedAt,
	}
	if s.err != nil {
		sum.Error = s.err.Error()
	}
	return sum
}
