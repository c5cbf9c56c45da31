// Package testutil holds an in-memory connection for session tests.
package testutil

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// FakeConn is an in-memory connection. Bytes passed to Feed are returned by
// Read; every written frame is captured and returned by NextFrame.
type FakeConn struct {
	pr        *io.PipeReader
	pw        *io.PipeWriter
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	writeErr  atomic.Value
	addr      net.Addr
}

func NewFakeConn() *FakeConn {
	pr, pw := io.Pipe()
	return &FakeConn{
		pr:     pr,
		pw:     pw,
		frames: make(chan []byte, 1024),
		closed: make(chan struct{}),
		addr:   &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000},
	}
}

func (c *FakeConn) Read(p []byte) (int, error) {
	return c.pr.Read(p)
}

// Feed makes data readable. It blocks until the reader has consumed it.
func (c *FakeConn) Feed(data []byte) error {
	_, err := c.pw.Write(data)
	return err
}

// FailWrites makes every later WriteFrame return err.
func (c *FakeConn) FailWrites(err error) {
	c.writeErr.Store(err)
}

func (c *FakeConn) WriteFrame(data []byte) error {
	if err, ok := c.writeErr.Load().(error); ok && err != nil {
		return err
	}
	frame := append([]byte(nil), data...)
	select {
	case <-c.closed:
		return net.ErrClosed
	case c.frames <- frame:
		return nil
	}
}

// NextFrame waits up to timeout for the next written frame.
func (c *FakeConn) NextFrame(timeout time.Duration) ([]byte, bool) {
	select {
	case frame := <-c.frames:
		return frame, true
	case <-time.After(timeout):
		return nil, false
	}
}

func (c *FakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *FakeConn) RemoteAddr() net.Addr { return c.addr }

func (c *FakeConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.pr.CloseWithError(net.ErrClosed)
		_ = c.pw.CloseWithError(net.ErrClosed)
	})
	return nil
}

func (c *FakeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Closed is closed once Close has been called.
func (c *FakeConn) Closed() <-chan struct{} { return c.closed }
