// Package transport carries stream sessions over WebSocket.
//
// Delivery units travel as binary frames. The end marker travels as the text
// frame "END", so it can never be confused with media bytes. Control messages
// from the consumer are JSON text frames such as {"action":"start_stream"}.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/EnvelopeHack/video-streamer/internal/stream"
)

// EndMarker is the payload of the end-of-stream text frame.
const EndMarker = "END"

const (
	defaultWriteTimeout = 10 * time.Second
	closeGracePeriod    = time.Second
	maxCloseReasonLen   = 123
	maxControlSize      = 4096
)

// ErrUnknownAction is returned by ReadControl for well-formed messages that
// name an action the producer does not implement.
var ErrUnknownAction = fmt.Errorf("%w: unknown action", stream.ErrBadControl)

// NewUpgrader returns an upgrader accepting the given origins. "*" or an
// empty list accepts any origin.
func NewUpgrader(origins []string) *websocket.Upgrader {
	u := &websocket.Upgrader{
		ReadBufferSize:  maxControlSize,
		WriteBufferSize: 64 * 1024,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		u.CheckOrigin = func(*http.Request) bool { return true }
		return u
	}
	u.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
	return u
}

// ServerConn is the producer side of a WebSocket stream. It implements
// stream.Transport.
type ServerConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

var _ stream.Transport = (*ServerConn)(nil)

// Upgrade switches the HTTP request to a WebSocket. On failure the upgrader
// has already written an HTTP error response.
func Upgrade(u *websocket.Upgrader, w http.ResponseWriter, r *http.Request, writeTimeout time.Duration) (*ServerConn, error) {
	conn, err := u.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrading connection: %w", err)
	}
	conn.SetReadLimit(maxControlSize)
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &ServerConn{conn: conn, writeTimeout: writeTimeout}, nil
}

// ReadControl reads the next control message.
func (c *ServerConn) ReadControl() (stream.Control, error) {
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		return stream.Control{}, err
	}
	if mt != websocket.TextMessage {
		return stream.Control{}, fmt.Errorf("%w: expected text frame", stream.ErrBadControl)
	}

	var ctl stream.Control
	if err := json.Unmarshal(data, &ctl); err != nil {
		return stream.Control{}, fmt.Errorf("%w: %w", stream.ErrBadControl, err)
	}
	switch ctl.Action {
	case stream.ActionStart, stream.ActionRestart:
		return ctl, nil
	default:
		return stream.Control{}, fmt.Errorf("%w %q", ErrUnknownAction, ctl.Action)
	}
}

// SendUnit writes data as one binary frame.
func (c *ServerConn) SendUnit(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// SendEnd writes the end marker text frame.
func (c *ServerConn) SendEnd() error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(EndMarker))
}

// Abort closes the connection with an internal error status carrying reason.
func (c *ServerConn) Abort(reason error) error {
	text := "stream aborted"
	if reason != nil {
		text = reason.Error()
	}
	return c.closeWith(websocket.CloseInternalServerErr, text)
}

// Close closes the connection normally.
func (c *ServerConn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *ServerConn) closeWith(code int, text string) error {
	c.closeOnce.Do(func() {
		c.closeErr = closeConn(c.conn, code, text)
	})
	return c.closeErr
}

// closeConn sends a close frame and then drops the connection. A failed
// close frame is expected when the peer is already gone.
func closeConn(conn *websocket.Conn, code int, text string) error {
	if len(text) > maxCloseReasonLen {
		text = text[:maxCloseReasonLen]
	}
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
