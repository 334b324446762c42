package player

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EnvelopeHack/video-streamer/internal/stream"
	"github.com/EnvelopeHack/video-streamer/internal/transport"
)

var errRefused = errors.New("connection refused")

// scriptedConn replays a fixed list of frames. When the list does not end
// with the end marker, Receive fails with recvErr after the last frame.
type scriptedConn struct {
	msgs    chan transport.Message
	recvErr error

	started   atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
}

func newScriptedConn(units [][]byte, end bool, recvErr error) *scriptedConn {
	c := &scriptedConn{
		msgs:    make(chan transport.Message, len(units)+1),
		recvErr: recvErr,
		closed:  make(chan struct{}),
	}
	for _, u := range units {
		c.msgs <- transport.Message{Data: u}
	}
	if end {
		c.msgs <- transport.Message{End: true}
	} else if recvErr != nil {
		close(c.msgs)
	}
	return c
}

func (c *scriptedConn) Start() error {
	c.started.Store(true)
	return nil
}

func (c *scriptedConn) Receive() (transport.Message, error) {
	if !c.started.Load() {
		return transport.Message{}, errors.New("receive before start")
	}
	select {
	case m, ok := <-c.msgs:
		if !ok {
			return transport.Message{}, c.recvErr
		}
		return m, nil
	case <-c.closed:
		return transport.Message{}, io.EOF
	}
}

func (c *scriptedConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// scriptedDialer returns one outcome per attempt and records dial times.
type scriptedDialer struct {
	mu      sync.Mutex
	steps   []func() (Conn, error)
	dialAt  []time.Time
	dialled int
}

func (d *scriptedDialer) Dial(context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialAt = append(d.dialAt, time.Now())
	i := d.dialled
	d.dialled++
	if i >= len(d.steps) {
		return nil, errRefused
	}
	return d.steps[i]()
}

func refuse() (Conn, error) { return nil, errRefused }

func serve(units [][]byte, end bool, recvErr error) func() (Conn, error) {
	return func() (Conn, error) { return newScriptedConn(units, end, recvErr), nil }
}

func fastConfig() Config {
	return Config{
		MaxRetries:  3,
		RetryDelay:  time.Millisecond,
		InitTimeout: time.Second,
		HighWater:   DefaultHighWater,
		LowWater:    DefaultLowWater,
	}
}

func TestPlayer_PlaysToEnd(t *testing.T) {
	units := [][]byte{bytes.Repeat([]byte{1}, 100), bytes.Repeat([]byte{2}, 50), bytes.Repeat([]byte{3}, 50)}
	dialer := &scriptedDialer{steps: []func() (Conn, error){serve(units, true, nil)}}

	var dec *SimulatedDecoder
	factory := func() (Decoder, error) {
		dec = NewSimulatedDecoder(100, 1)
		return dec, nil
	}

	p := New(fastConfig(), dialer.Dial, factory, nil)
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, StateEnded, p.State())
	assert.Equal(t, int64(200), dec.Appended())
	assert.True(t, dec.Ended())

	st := p.Stats()
	assert.Equal(t, "ended", st.State)
	assert.Equal(t, int64(1), st.Attempts)
	assert.Equal(t, int64(3), st.UnitsReceived)
	assert.Equal(t, int64(200), st.BytesReceived)
	assert.Zero(t, st.UnitsDropped)
}

func TestPlayer_RetriesExhausted(t *testing.T) {
	dialer := &scriptedDialer{}
	p := New(fastConfig(), dialer.Dial, SimulatedDecoders(0, 1), nil)

	err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, errRefused)
	assert.Equal(t, StateStopped, p.State())
	// initial attempt plus three retries
	assert.Equal(t, int64(4), p.Stats().Attempts)
}

func TestPlayer_HandshakeResetsRetries(t *testing.T) {
	dialer := &scriptedDialer{steps: []func() (Conn, error){
		refuse,
		refuse,
		serve([][]byte{{1}}, false, errors.New("connection reset")),
		refuse,
		refuse,
		refuse,
	}}
	p := New(fastConfig(), dialer.Dial, SimulatedDecoders(0, 1), nil)

	err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrRetriesExhausted)
	// two failures, a handshake that resets the counter and then fails,
	// then three more failures before giving up
	assert.Equal(t, int64(6), p.Stats().Attempts)
}

func TestPlayer_RecoversAfterFailure(t *testing.T) {
	units := [][]byte{{1, 2, 3}}
	dialer := &scriptedDialer{steps: []func() (Conn, error){
		refuse,
		serve(units, false, errors.New("abnormal closure")),
		serve(units, true, nil),
	}}
	p := New(fastConfig(), dialer.Dial, SimulatedDecoders(0, 1), nil)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, StateEnded, p.State())
	assert.Equal(t, int64(3), p.Stats().Attempts)
}

func TestPlayer_BackoffGrowsLinearly(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryDelay = 20 * time.Millisecond
	dialer := &scriptedDialer{}
	p := New(cfg, dialer.Dial, SimulatedDecoders(0, 1), nil)

	require.ErrorIs(t, p.Run(context.Background()), ErrRetriesExhausted)

	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	require.Len(t, dialer.dialAt, 4)
	for i := 1; i < len(dialer.dialAt); i++ {
		gap := dialer.dialAt[i].Sub(dialer.dialAt[i-1])
		assert.GreaterOrEqual(t, gap, time.Duration(i)*cfg.RetryDelay, "retry %d backoff", i)
	}
}

func TestPlayer_InitTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 0
	cfg.InitTimeout = 20 * time.Millisecond
	dialer := &scriptedDialer{steps: []func() (Conn, error){serve(nil, false, nil)}}
	p := New(cfg, dialer.Dial, SimulatedDecoders(0, 1), nil)

	err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrInitTimeout)
}

func TestPlayer_DecoderErrorTriggersRetry(t *testing.T) {
	units := [][]byte{{1}, {2}, {3}}
	dialer := &scriptedDialer{steps: []func() (Conn, error){
		serve(units, true, nil),
		serve(units, true, nil),
	}}

	var made atomic.Int32
	factory := func() (Decoder, error) {
		if made.Add(1) == 1 {
			return &recordingDecoder{failAt: 2}, nil
		}
		return NewSimulatedDecoder(0, 1), nil
	}
	p := New(fastConfig(), dialer.Dial, factory, nil)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, int64(2), p.Stats().Attempts)
}

func TestPlayer_ContextCancel(t *testing.T) {
	dialer := &scriptedDialer{steps: []func() (Conn, error){serve(nil, false, nil)}}
	cfg := fastConfig()
	cfg.InitTimeout = time.Minute
	p := New(cfg, dialer.Dial, SimulatedDecoders(0, 1), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.State() == StateBuffering }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("player did not stop")
	}
	assert.Equal(t, StateStopped, p.State())
}

func TestPlayer_WebSocketEndToEnd(t *testing.T) {
	data := make([]byte, 3000)
	for i := range data {
		data[i] = byte(i)
	}
	upgrader := transport.NewUpgrader(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := transport.Upgrade(upgrader, w, r, time.Second)
		if err != nil {
			return
		}
		s := stream.NewSession(stream.Config{PrimeSize: 1000, ChunkSize: 256}, byteSource(data), conn, r.RemoteAddr, nil)
		_ = s.Run(context.Background())
	}))
	defer srv.Close()

	var dec *SimulatedDecoder
	factory := func() (Decoder, error) {
		dec = NewSimulatedDecoder(1000, 1)
		return dec, nil
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	p := New(fastConfig(), WebSocketDialer(url, time.Second), factory, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx))
	assert.Equal(t, int64(len(data)), dec.Appended())
	assert.Equal(t, int64(len(data)), p.Stats().BytesReceived)
}

type byteSource []byte

func (b byteSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

func TestState_String(t *testing.T) {
	names := map[State]string{
		StateIdle:       "idle",
		StateConnecting: "connecting",
		StateBuffering:  "buffering",
		StatePlaying:    "playing",
		StateEnded:      "ended",
		StateStopped:    "stopped",
		State(99):       "unknown",
	}
	for st, want := range names {
		assert.Equal(t, want, st.String())
	}
}
