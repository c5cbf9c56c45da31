package server

import (
	"errors"
	"fmt"
	"io"

	"github.com/gorilla/websocket"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/connection"
)

// ListenError means the listening socket could not be bound. It is not
// recoverable; the process is expected to exit.
type ListenError struct {
	Address string
	Err     error
}

func (e *ListenError) Error() string {
	return fmt.Sprintf("listen on %s: %v", e.Address, e.Err)
}

func (e *ListenError) Unwrap() error {
	return e.Err
}

// IsNormalClose reports whether err is an orderly end of the stream rather
// than a transport fault.
func IsNormalClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || connection.IsNetClosedError(err) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
