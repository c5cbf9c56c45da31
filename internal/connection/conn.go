// Package connection holds the per-client Session and the Manager that owns
// session teardown.
package connection

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Conn is an accepted duplex stream. Reads see the client's bytes as one
// continuous stream; each WriteFrame sends data as a single transport frame.
type Conn interface {
	io.Reader
	WriteFrame(data []byte) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

var (
	ErrManagerClosed = errors.New("connection manager is closed")
	ErrSessionClosed = errors.New("session is closed")
)

// ConnectionError is a transport fault on one session.
type ConnectionError struct {
	SessionID string
	Op        string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.SessionID, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func IsNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	ok := errors.As(err, &opErr)
	return ok && opErr.Timeout()
}
