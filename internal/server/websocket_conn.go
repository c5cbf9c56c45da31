package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/logger"
)

const closeGracePeriod = time.Second

// Conn exposes a websocket as a byte stream for reading and one binary frame
// per write. Reads are not safe for concurrent use, nor are writes; Close may
// be called from anywhere.
type Conn struct {
	ws        *websocket.Conn
	reader    io.Reader
	closeOnce sync.Once
	closeErr  error
}

var _ connection.Conn = (*Conn)(nil)

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Read returns bytes from consecutive binary messages as one stream, so a
// control packet may span several frames. Text messages are skipped.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			messageType, reader, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if messageType != websocket.BinaryMessage {
				logger.DebugF("[%s] Skip non-binary websocket message", c.ws.RemoteAddr())
				continue
			}
			c.reader = reader
		}

		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *Conn) WriteFrame(data []byte) error {
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *Conn) Subprotocol() string {
	return c.ws.Subprotocol()
}

// Close sends a normal closure frame and closes the socket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeGracePeriod))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// Dial opens a client connection to a broker URL, offering the MQTT
// subprotocol.
func Dial(ctx context.Context, url string) (*Conn, error) {
	dialer := websocket.Dialer{
		Subprotocols:     Subprotocols[:1],
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewConn(ws), nil
}
