package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/EnvelopeHack/video-streamer/internal/observability"
	"github.com/EnvelopeHack/video-streamer/internal/transport"
)

// Conn is one connection to a stream producer.
type Conn interface {
	Start() error
	Receive() (transport.Message, error)
	Close() error
}

// DialFunc opens a connection. A nil error means the handshake completed.
type DialFunc func(ctx context.Context) (Conn, error)

// WebSocketDialer returns a DialFunc connecting to url over WebSocket.
func WebSocketDialer(url string, handshakeTimeout time.Duration) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		c, err := transport.Dial(ctx, url, handshakeTimeout)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Player is a stream consumer with reconnection.
type Player struct {
	cfg        Config
	dial       DialFunc
	newDecoder DecoderFactory
	logger     *slog.Logger

	state atomic.Int32

	// retries is only touched by the Run goroutine.
	retries int

	attempts      atomic.Int64
	unitsReceived atomic.Int64
	bytesReceived atomic.Int64
	unitsDropped  atomic.Int64
	trims         atomic.Int64
}

// New creates a player. Nothing happens until Run.
func New(cfg Config, dial DialFunc, newDecoder DecoderFactory, logger *slog.Logger) *Player {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Player{
		cfg:        cfg,
		dial:       dial,
		newDecoder: newDecoder,
		logger:     logger,
	}
}

// State returns the current lifecycle stage.
func (p *Player) State() State { return State(p.state.Load()) }

func (p *Player) setState(s State) { p.state.Store(int32(s)) }

// Run plays the stream to completion. It returns nil once the end marker has
// been received and every unit appended, ErrRetriesExhausted (wrapping the
// last failure) when the retry ceiling is reached, or ctx's error.
func (p *Player) Run(ctx context.Context) error {
	for {
		err := p.attempt(ctx)
		if err == nil {
			p.setState(StateEnded)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			p.setState(StateStopped)
			return ctxErr
		}
		if p.retries >= p.cfg.MaxRetries {
			p.setState(StateStopped)
			p.logger.Error("giving up on stream",
				slog.Int("max_retries", p.cfg.MaxRetries),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		}

		p.retries++
		delay := time.Duration(p.retries) * p.cfg.RetryDelay
		p.logger.Warn("stream attempt failed, reconnecting",
			slog.Int("retry", p.retries),
			slog.Int("max_retries", p.cfg.MaxRetries),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
		p.setState(StateIdle)
		if err := sleep(ctx, delay); err != nil {
			p.setState(StateStopped)
			return err
		}
	}
}

// attempt runs one session: fresh decoder, fresh connection, start, receive
// until the end marker or the first failure. All session state is torn down
// before it returns.
func (p *Player) attempt(ctx context.Context) error {
	p.attempts.Add(1)
	p.setState(StateConnecting)

	dec, err := p.newDecoder()
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}

	decErr := make(chan error, 1)
	buf := NewBuffer(dec, p.cfg.HighWater, p.cfg.LowWater, func(err error) {
		select {
		case decErr <- err:
		default:
		}
	}, p.logger)
	defer func() {
		st := buf.Stats()
		p.unitsDropped.Add(st.Dropped)
		p.trims.Add(st.Trims)
		buf.Detach()
	}()

	conn, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("dialing: %w", err)
	}
	defer conn.Close()

	// a completed handshake counts as success
	p.retries = 0
	p.setState(StateBuffering)

	if err := conn.Start(); err != nil {
		return err
	}

	msgs := make(chan transport.Message)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			m, err := conn.Receive()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- m:
			case <-done:
				return
			}
		}
	}()

	initTimer := time.NewTimer(p.cfg.InitTimeout)
	defer initTimer.Stop()
	initC := initTimer.C

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-initC:
			return ErrInitTimeout

		case err := <-decErr:
			return fmt.Errorf("decoder: %w", err)

		case err := <-readErr:
			return fmt.Errorf("receiving: %w", err)

		case m := <-msgs:
			if m.End {
				buf.MarkEnd()
				if err := buf.Wait(ctx); err != nil {
					return fmt.Errorf("finishing stream: %w", err)
				}
				p.logger.Info("stream ended",
					slog.Int64("units", p.unitsReceived.Load()),
					slog.Int64("bytes", p.bytesReceived.Load()),
				)
				return nil
			}
			if initC != nil {
				initTimer.Stop()
				initC = nil
				p.setState(StatePlaying)
			}
			p.unitsReceived.Add(1)
			p.bytesReceived.Add(int64(len(m.Data)))
			_ = buf.Push(m.Data)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
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

// Stats summarises a player's activity across all attempts.
type Stats struct {
	State         string `json:"state"`
	Attempts      int64  `json:"attempts"`
	UnitsReceived int64  `json:"units_received"`
	BytesReceived int64  `json:"bytes_received"`
	UnitsDropped  int64  `json:"units_dropped"`
	Trims         int64  `json:"trims"`
}

// Stats returns the player's counters. Buffer counters are folded in when
// each attempt ends.
func (p *Player) Stats() Stats {
	return Stats{
		State:         p.State().String(),
		Attempts:      p.attempts.Load(),
		UnitsReceived: p.unitsReceived.Load(),
		BytesReceived: p.bytesReceived.Load(),
		UnitsDropped:  p.unitsDropped.Load(),
		Trims:         p.trims.Load(),
	}
}
