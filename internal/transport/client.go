package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/EnvelopeHack/video-streamer/internal/stream"
	"github.com/EnvelopeHack/video-streamer/internal/version"
)

// ErrUnexpectedFrame is returned by Receive for text frames other than the end marker.
var ErrUnexpectedFrame = errors.New("unexpected text frame")

// Message is one frame received by a consumer: either a delivery unit or
// the end marker.
type Message struct {
	Data []byte
	End  bool
}

// ClientConn is the consumer side of a WebSocket stream. Receive must be
// called from a single goroutine; Start, Restart and Close may be called
// from another.
type ClientConn struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to a stream endpoint. The completed handshake is the
// producer's acknowledgment that it is ready for ActionStart.
func Dial(ctx context.Context, url string, handshakeTimeout time.Duration) (*ClientConn, error) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		ReadBufferSize:   64 * 1024,
	}
	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	conn, resp, err := d.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect: %v: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("connect: %v: %w", url, err)
	}
	return &ClientConn{conn: conn}, nil
}

// Start asks the producer to begin delivery.
func (c *ClientConn) Start() error {
	return c.sendControl(stream.ActionStart)
}

// Restart asks the producer to start over from the first byte.
func (c *ClientConn) Restart() error {
	return c.sendControl(stream.ActionRestart)
}

func (c *ClientConn) sendControl(action string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(stream.Control{Action: action}); err != nil {
		return fmt.Errorf("sending %s: %w", action, err)
	}
	return nil
}

// Receive blocks for the next frame. A close frame from the producer,
// normal or not, is returned as an error since only the end marker
// finishes a stream.
func (c *ClientConn) Receive() (Message, error) {
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		return Message{}, err
	}
	switch mt {
	case websocket.BinaryMessage:
		return Message{Data: data}, nil
	case websocket.TextMessage:
		if string(data) == EndMarker {
			return Message{End: true}, nil
		}
		return Message{}, fmt.Errorf("%w: %q", ErrUnexpectedFrame, data)
	default:
		return Message{}, fmt.Errorf("%w: type %d", ErrUnexpectedFrame, mt)
	}
}

// Close closes the connection normally.
func (c *ClientConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = closeConn(c.conn, websocket.CloseNormalClosure, "")
	})
	return c.closeErr
}

// IsAbnormalClose reports whether err is a close frame whose code marks a
// producer-side failure.
func IsAbnormalClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code != websocket.CloseNormalClosure && ce.Code != websocket.CloseGoingAway
}
