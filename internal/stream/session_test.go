package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPeerGone = errors.New("peer gone")

type controlMsg struct {
	c   Control
	err error
}

// fakeTransport records everything a session sends.
type fakeTransport struct {
	controls chan controlMsg
	sent     chan int

	failAt int // 1-based unit index whose send fails; 0 = never

	mu      sync.Mutex
	events  []string
	units   [][]byte
	aborted error
	closed  bool

	closeOnce sync.Once
	closedCh  chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		controls: make(chan controlMsg, 8),
		sent:     make(chan int, 4096),
		closedCh: make(chan struct{}),
	}
}

func (f *fakeTransport) send(action string) {
	f.controls <- controlMsg{c: Control{Action: action}}
}

func (f *fakeTransport) ReadControl() (Control, error) {
	select {
	case m, ok := <-f.controls:
		if !ok {
			return Control{}, io.EOF
		}
		return m.c, m.err
	case <-f.closedCh:
		return Control{}, errors.New("transport closed")
	}
}

func (f *fakeTransport) SendUnit(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("send on closed transport")
	}
	if f.failAt > 0 && len(f.units)+1 == f.failAt {
		return errPeerGone
	}
	f.units = append(f.units, bytes.Clone(data))
	f.events = append(f.events, "unit")
	f.sent <- len(f.units)
	return nil
}

func (f *fakeTransport) SendEnd() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("send on closed transport")
	}
	f.events = append(f.events, "end")
	return nil
}

func (f *fakeTransport) Abort(reason error) error {
	f.mu.Lock()
	f.aborted = reason
	f.mu.Unlock()
	return f.Close()
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.closedCh)
	})
	return nil
}

func (f *fakeTransport) snapshot() (units [][]byte, events []string, aborted error, closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.units...), append([]string(nil), f.events...), f.aborted, f.closed
}

func (f *fakeTransport) waitUnits(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-f.sent:
			if got >= n {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %d units", n)
		}
	}
}

// fakeSource serves data and tracks handle lifecycle.
type fakeSource struct {
	data    []byte
	failAt  int // byte offset at which reads fail; 0 = never
	openErr error

	opens       atomic.Int32
	closes      atomic.Int32
	readsClosed atomic.Int32
}

var errDisk = errors.New("disk read failed")

func (s *fakeSource) Open() (io.ReadCloser, error) {
	s.opens.Add(1)
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &trackingReader{src: s, r: bytes.NewReader(s.data)}, nil
}

type trackingReader struct {
	src    *fakeSource
	r      *bytes.Reader
	pos    int
	closed atomic.Bool
}

func (t *trackingReader) Read(p []byte) (int, error) {
	if t.closed.Load() {
		t.src.readsClosed.Add(1)
		return 0, errors.New("read after close")
	}
	if t.src.failAt > 0 {
		remaining := t.src.failAt - t.pos
		if remaining <= 0 {
			return 0, errDisk
		}
		if len(p) > remaining {
			p = p[:remaining]
		}
	}
	n, err := t.r.Read(p)
	t.pos += n
	return n, err
}

func (t *trackingReader) Close() error {
	if t.closed.CompareAndSwap(false, true) {
		t.src.closes.Add(1)
	}
	return nil
}

func testConfig() Config {
	return Config{PrimeSize: 64, ChunkSize: 16}
}

func patterned(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func runSession(t *testing.T, ctx context.Context, s *Session) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func TestSession_DeliversWholeFile(t *testing.T) {
	cfg := testConfig()
	sizes := []int{0, 1, 15, 63, 64, 65, 80, 81, 1000}

	for _, size := range sizes {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			data := patterned(size)
			src := &fakeSource{data: data}
			tr := newFakeTransport()
			s := NewSession(cfg, src, tr, "127.0.0.1:1", nil)

			done := runSession(t, context.Background(), s)
			tr.send(ActionStart)
			require.NoError(t, waitRun(t, done))

			units, events, aborted, closed := tr.snapshot()
			assert.NoError(t, aborted)
			assert.True(t, closed)

			assert.Equal(t, data, bytes.Join(units, nil), "units must reassemble to the file")
			if size > 0 {
				assert.Len(t, units[0], min(cfg.PrimeSize, size))
			} else {
				assert.Empty(t, units, "empty file sends no units")
			}
			for i, u := range units {
				assert.NotEmpty(t, u, "unit %d is empty", i)
				if i > 0 && i < len(units)-1 {
					assert.Len(t, u, cfg.ChunkSize, "regular unit %d", i)
				}
			}

			require.NotEmpty(t, events)
			assert.Equal(t, "end", events[len(events)-1])
			endCount := 0
			for _, e := range events {
				if e == "end" {
					endCount++
				}
			}
			assert.Equal(t, 1, endCount)

			assert.Equal(t, int32(1), src.opens.Load())
			assert.Equal(t, int32(1), src.closes.Load())

			sum := s.Summary()
			assert.Equal(t, OutcomeCompleted, sum.Outcome)
			assert.Equal(t, "closed", sum.State)
			assert.Equal(t, int64(size), sum.BytesSent)
			assert.Equal(t, int64(len(units)), sum.UnitsSent)
		})
	}
}

func TestSession_WaitsForStart(t *testing.T) {
	src := &fakeSource{data: patterned(100)}
	tr := newFakeTransport()
	s := NewSession(testConfig(), src, tr, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runSession(t, ctx, s)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateIdle, s.State())
	cancel()
	require.NoError(t, waitRun(t, done))

	units, _, _, closed := tr.snapshot()
	assert.Empty(t, units)
	assert.True(t, closed)
	assert.Zero(t, src.opens.Load())
	assert.Equal(t, OutcomeCancelled, s.Summary().Outcome)
}

func TestSession_SecondStartIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkDelay = time.Millisecond
	data := patterned(400)
	src := &fakeSource{data: data}
	tr := newFakeTransport()
	s := NewSession(cfg, src, tr, "", nil)

	done := runSession(t, context.Background(), s)
	tr.send(ActionStart)
	tr.send(ActionStart)
	require.NoError(t, waitRun(t, done))

	units, _, _, _ := tr.snapshot()
	assert.Equal(t, data, bytes.Join(units, nil))
	assert.Equal(t, int32(1), src.opens.Load())
}

func TestSession_Restart(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkDelay = 2 * time.Millisecond
	data := patterned(600)
	src := &fakeSource{data: data}
	tr := newFakeTransport()
	s := NewSession(cfg, src, tr, "", nil)

	done := runSession(t, context.Background(), s)
	tr.send(ActionStart)
	tr.waitUnits(t, 3)
	tr.send(ActionRestart)
	require.NoError(t, waitRun(t, done))

	units, events, _, _ := tr.snapshot()
	all := bytes.Join(units, nil)
	assert.True(t, bytes.HasSuffix(all, data), "restarted pass must deliver the whole file")
	assert.Greater(t, len(all), len(data))
	assert.Equal(t, "end", events[len(events)-1])

	assert.Equal(t, int32(2), src.opens.Load())
	assert.Equal(t, int32(2), src.closes.Load())
	assert.Zero(t, src.readsClosed.Load())

	sum := s.Summary()
	assert.Equal(t, OutcomeCompleted, sum.Outcome)
	assert.Equal(t, 1, sum.Restarts)
}

func TestSession_ReadErrorAborts(t *testing.T) {
	src := &fakeSource{data: patterned(500), failAt: 100}
	tr := newFakeTransport()
	s := NewSession(testConfig(), src, tr, "", nil)

	done := runSession(t, context.Background(), s)
	tr.send(ActionStart)
	err := waitRun(t, done)
	require.ErrorIs(t, err, errDisk)

	_, events, aborted, closed := tr.snapshot()
	assert.ErrorIs(t, aborted, errDisk)
	assert.True(t, closed)
	assert.NotContains(t, events, "end")
	assert.Equal(t, int32(1), src.closes.Load())

	sum := s.Summary()
	assert.Equal(t, OutcomeAborted, sum.Outcome)
	assert.Contains(t, sum.Error, "disk read failed")
}

func TestSession_RestartAfterFailureStillAborts(t *testing.T) {
	src := &fakeSource{openErr: errDisk}
	tr := newFakeTransport()
	s := NewSession(testConfig(), src, tr, "", nil)

	done := runSession(t, context.Background(), s)
	tr.send(ActionStart)
	require.Eventually(t, func() bool { return src.opens.Load() == 1 }, time.Second, time.Millisecond)
	tr.send(ActionRestart)

	err := waitRun(t, done)
	require.ErrorIs(t, err, errDisk)

	_, _, aborted, closed := tr.snapshot()
	assert.ErrorIs(t, aborted, errDisk)
	assert.True(t, closed)
	assert.Equal(t, int32(1), src.opens.Load(), "failed delivery must not be restarted")

	sum := s.Summary()
	assert.Equal(t, OutcomeAborted, sum.Outcome)
	assert.Zero(t, sum.Restarts)
}

func TestSession_SendErrorAborts(t *testing.T) {
	src := &fakeSource{data: patterned(500)}
	tr := newFakeTransport()
	tr.failAt = 3
	s := NewSession(testConfig(), src, tr, "", nil)

	done := runSession(t, context.Background(), s)
	tr.send(ActionStart)
	err := waitRun(t, done)
	require.ErrorIs(t, err, errPeerGone)

	units, events, aborted, _ := tr.snapshot()
	assert.Len(t, units, 2)
	assert.ErrorIs(t, aborted, errPeerGone)
	assert.NotContains(t, events, "end")
	assert.Equal(t, int32(1), src.closes.Load())
}

func TestSession_DisconnectReleasesFile(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkDelay = 5 * time.Millisecond
	src := &fakeSource{data: patterned(100_000)}
	tr := newFakeTransport()
	s := NewSession(cfg, src, tr, "", nil)

	done := runSession(t, context.Background(), s)
	tr.send(ActionStart)
	tr.waitUnits(t, 3)
	close(tr.controls)
	require.NoError(t, waitRun(t, done))

	_, events, aborted, closed := tr.snapshot()
	assert.NoError(t, aborted)
	assert.True(t, closed)
	assert.NotContains(t, events, "end")
	assert.Equal(t, int32(1), src.closes.Load())

	sentAtClose := s.Stats().UnitsSent
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, sentAtClose, s.Stats().UnitsSent, "no sends after disconnect")
	assert.Zero(t, src.readsClosed.Load(), "no reads after disconnect")
	assert.Equal(t, OutcomeDisconnected, s.Summary().Outcome)
}

func TestSession_BadControlIgnored(t *testing.T) {
	data := patterned(100)
	src := &fakeSource{data: data}
	tr := newFakeTransport()
	s := NewSession(testConfig(), src, tr, "", nil)

	done := runSession(t, context.Background(), s)
	tr.controls <- controlMsg{err: fmt.Errorf("%w: unknown action %q", ErrBadControl, "pause")}
	tr.send(ActionStart)
	require.NoError(t, waitRun(t, done))

	units, _, _, _ := tr.snapshot()
	assert.Equal(t, data, bytes.Join(units, nil))
}

func TestSession_PacingDelays(t *testing.T) {
	cfg := Config{PrimeSize: 10, PrimeDelay: 30 * time.Millisecond, ChunkSize: 10, ChunkDelay: 10 * time.Millisecond}
	src := &fakeSource{data: patterned(40)}
	tr := newFakeTransport()
	s := NewSession(cfg, src, tr, "", nil)

	start := time.Now()
	done := runSession(t, context.Background(), s)
	tr.send(ActionStart)
	require.NoError(t, waitRun(t, done))

	// prime delay plus one delay after each of the three regular units
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestReadUnit(t *testing.T) {
	buf := make([]byte, 4)

	n, err := readUnit(bytes.NewReader([]byte("abcdef")), buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = readUnit(bytes.NewReader([]byte("ab")), buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = readUnit(bytes.NewReader(nil), buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = readUnit(io.MultiReader(bytes.NewReader([]byte("a")), errReader{}), buf)
	assert.ErrorIs(t, err, errDisk)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errDisk }

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{PrimeSize: 0, ChunkSize: 1}.Validate())
	assert.Error(t, Config{PrimeSize: 1, ChunkSize: 0}.Validate())
	assert.Error(t, Config{PrimeSize: 1, ChunkSize: 1, ChunkDelay: -1}.Validate())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "priming", StatePriming.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}
